// Package config loads the YAML pipeline descriptor that tells a driver
// which transforms to run and with what per-loop thresholds. It exists so
// the core can be configured without a pass-pipeline CLI driver proper
// (out of scope for this repository); cmd/spirvopt and test harnesses
// build a Pipeline value directly or load one from a small YAML file.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"spirvopt/internal/irctx"
	"spirvopt/internal/transform"
)

// Pipeline names which transforms to run, in order, and the thresholds
// that bound the more speculative ones. Struct tags follow the same
// field-per-line discipline as the teacher's grammar struct tags
// (grammar/grammar.go), applied to gopkg.in/yaml.v3 instead of
// participle.
type Pipeline struct {
	Passes []string `yaml:"passes"`

	// MaxFullUnrollTripCount bounds transform.Unroll's full-unroll path;
	// loops with a larger constant trip count fall back to partial
	// unrolling or peeling.
	MaxFullUnrollTripCount int `yaml:"maxFullUnrollTripCount"`

	// UnrollFactor is the default transform.Unroll partial-unroll factor
	// used when a pass entry doesn't override it.
	UnrollFactor int `yaml:"unrollFactor"`

	// PeelCount is the default transform.Peel iteration count.
	PeelCount int `yaml:"peelCount"`

	// FissionPressureBudget is transform.Fission's register-pressure
	// threshold, generalized from register_pressure.h/.cpp's simulated
	// register budget: a loop is split only while its measured
	// UsedRegisters exceeds it, and both halves of a split are measured
	// again. Zero or less splits every eligible loop once, regardless of
	// pressure.
	FissionPressureBudget int `yaml:"fissionPressureBudget"`

	// Strict is decoded from the descriptor, but Build does not read it;
	// cmd/spirvopt and the introspection handler set irctx.Context.Strict
	// themselves.
	Strict bool `yaml:"strict"`

	// ExtensionAllowList is decoded from the descriptor, but Build does not
	// apply it: the transforms check only the fixed allow-list behind
	// ir.Module.ExtensionsAccepted.
	ExtensionAllowList []string `yaml:"extensionAllowList"`
}

// DefaultPipeline mirrors the order transform's own package doc presents
// its passes in: LICM first (cheapest, most broadly applicable), then
// unswitching and unrolling (both can expose further LICM opportunities),
// then fission last (narrowest precondition, most disruptive to the CFG).
func DefaultPipeline() Pipeline {
	return Pipeline{
		Passes:                 []string{"licm", "unswitch", "unroll", "fission"},
		MaxFullUnrollTripCount: 64,
		UnrollFactor:           4,
		PeelCount:              1,
		FissionPressureBudget:  4,
		Strict:                 true,
	}
}

// Load parses a YAML pipeline descriptor, starting from DefaultPipeline so
// a partial document only overrides the fields it mentions.
func Load(data []byte) (Pipeline, error) {
	p := DefaultPipeline()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Pipeline{}, fmt.Errorf("config: parsing pipeline descriptor: %w", err)
	}
	return p, nil
}

// Build resolves the descriptor's pass names into irctx.Pass values in
// the order given, applying this Pipeline's thresholds to each.
func (p Pipeline) Build() ([]irctx.Pass, error) {
	passes := make([]irctx.Pass, 0, len(p.Passes))
	for _, name := range p.Passes {
		pass, err := p.buildOne(name)
		if err != nil {
			return nil, err
		}
		passes = append(passes, pass)
	}
	return passes, nil
}

func (p Pipeline) buildOne(name string) (irctx.Pass, error) {
	switch name {
	case "licm":
		return transform.LICM{}, nil
	case "unswitch":
		return transform.Unswitch{}, nil
	case "unroll":
		return transform.Unroll{
			MaxFullUnrollTripCount: p.MaxFullUnrollTripCount,
			Factor:                 p.UnrollFactor,
		}, nil
	case "peel":
		return transform.Peel{Count: p.PeelCount}, nil
	case "fission":
		return transform.Fission{Budget: p.FissionPressureBudget}, nil
	default:
		return nil, fmt.Errorf("config: unknown pass %q", name)
	}
}
