package metrics

import "time"

// Window accumulates per-iteration timings between progress reports.
type Window struct {
	iters    int
	elapsed  time.Duration
	lastLoss float64
	hasLoss  bool
}

// Record adds one iteration to the window. loss may be NaN when the caller
// did not read it.
func (w *Window) Record(elapsed time.Duration, loss float64, hasLoss bool) {
	w.iters++
	w.elapsed += elapsed
	if hasLoss {
		w.lastLoss = loss
		w.hasLoss = true
	}
}

// Snapshot returns aggregated metrics and resets the window. The last loss
// carries over so a window without loss reads still reports one.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Iters: w.iters}
	if w.elapsed > 0 {
		snap.ItersPerSec = float64(w.iters) / w.elapsed.Seconds()
	}
	if w.iters > 0 {
		snap.AvgIterUS = float64(w.elapsed.Microseconds()) / float64(w.iters)
	}
	snap.LastLoss = w.lastLoss
	snap.HasLoss = w.hasLoss

	w.iters = 0
	w.elapsed = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Iters       int
	ItersPerSec float64
	AvgIterUS   float64
	LastLoss    float64
	HasLoss     bool
}

// Overhead returns how many times slower measured is than baseline.
func Overhead(baseline, measured time.Duration) float64 {
	if baseline <= 0 {
		return 0
	}
	return float64(measured) / float64(baseline)
}
