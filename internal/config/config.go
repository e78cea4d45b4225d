package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Variants accepted by Config.Variant.
const (
	VariantInference      = "inference"
	VariantDifferentiable = "differentiable"
	VariantCompare        = "compare"
)

// Config captures the runtime knobs for a benchmark run. A LogEvery of 0
// leaves the progress interval to the trainer.
type Config struct {
	Variant      string  `yaml:"variant"`
	Iterations   int     `yaml:"iterations"`
	Seed         uint64  `yaml:"seed"`
	LearningRate float64 `yaml:"learning_rate"`
	LogEvery     int     `yaml:"log_every"`
	CheckFinite  bool    `yaml:"check_finite"`
	ResultsDB    string  `yaml:"results_db"`
}

// Overrides captures CLI supplied values. Nil fields are left alone.
type Overrides struct {
	Variant      string
	Iterations   *int
	Seed         *uint64
	LearningRate float64
	LogEvery     int
	ResultsDB    string
}

// Default returns the reference benchmark configuration.
func Default() *Config {
	return &Config{
		Variant:      VariantDifferentiable,
		Iterations:   100000,
		Seed:         1,
		LearningRate: 5e-5,
		CheckFinite:  true,
	}
}

// Load reads a YAML file over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any set override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Variant != "" {
		c.Variant = o.Variant
	}
	if o.Iterations != nil {
		c.Iterations = *o.Iterations
	}
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.ResultsDB != "" {
		c.ResultsDB = o.ResultsDB
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	switch c.Variant {
	case VariantInference, VariantDifferentiable, VariantCompare:
	default:
		return errors.Errorf("variant must be one of %s, %s, %s (got %q)",
			VariantInference, VariantDifferentiable, VariantCompare, c.Variant)
	}
	if c.Iterations < 0 {
		return errors.Errorf("iterations must be >= 0 (got %d)", c.Iterations)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %v)", c.LearningRate)
	}
	if c.LogEvery < 0 {
		return errors.Errorf("log_every must be >= 0 (got %d)", c.LogEvery)
	}
	return nil
}
