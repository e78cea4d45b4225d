package trainer

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"gradbench/internal/metrics"
)

// Comparison holds both variants run on identical weights, data and
// iteration counts.
type Comparison struct {
	Inference      *Result
	Differentiable *Result
	// Overhead is differentiable elapsed time over inference elapsed time.
	Overhead float64
}

// Compare runs the inference variant and then the differentiable one.
// cfg.Differentiate is ignored. A non-empty cfg.RunID is suffixed with the
// variant name so each run keeps a distinct id.
func Compare(ctx context.Context, cfg RunConfig) (*Comparison, error) {
	inf := cfg
	inf.Differentiate = false
	inf.RunID = subRunID(cfg.RunID, Inference)
	infRes, err := Run(ctx, inf)
	if err != nil {
		return nil, errors.Wrap(err, "inference run")
	}

	diff := cfg
	diff.Differentiate = true
	diff.RunID = subRunID(cfg.RunID, Differentiable)
	diffRes, err := Run(ctx, diff)
	if err != nil {
		return nil, errors.Wrap(err, "differentiable run")
	}

	cmp := &Comparison{
		Inference:      infRes,
		Differentiable: diffRes,
		Overhead:       metrics.Overhead(infRes.Elapsed, diffRes.Elapsed),
	}
	log.Printf("compare inference_run=%s differentiable_run=%s inference=%s differentiable=%s overhead=%.2fx",
		infRes.RunID, diffRes.RunID, infRes.Elapsed, diffRes.Elapsed, cmp.Overhead)
	return cmp, nil
}

func subRunID(id string, v Variant) string {
	if id == "" {
		return ""
	}
	return id + "-" + string(v)
}
