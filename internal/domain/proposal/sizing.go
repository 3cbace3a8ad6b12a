package proposal

import (
	"github.com/shopspring/decimal"

	"ideaflow/pkg/errors"
)

// SizingMode tags how a proposal's input value is interpreted
type SizingMode string

const (
	ModeAbsoluteWeight SizingMode = "absolute_weight"
	ModeDeltaWeight    SizingMode = "delta_weight"
	ModeActiveWeight   SizingMode = "active_weight"
	ModeDeltaBenchmark SizingMode = "delta_benchmark"
)

func (m SizingMode) Valid() bool {
	switch m {
	case ModeAbsoluteWeight, ModeDeltaWeight, ModeActiveWeight, ModeDeltaBenchmark:
		return true
	}
	return false
}

// Weights are the portfolio facts a sizing resolves against.
// Benchmark is nil when the portfolio has no benchmark weight for the asset.
type Weights struct {
	Current   decimal.Decimal
	Benchmark *decimal.Decimal
}

// ActiveWeight is current minus benchmark
func (w Weights) ActiveWeight() (decimal.Decimal, error) {
	if w.Benchmark == nil {
		return decimal.Zero, errors.ErrBenchmarkUnavailable
	}
	return w.Current.Sub(*w.Benchmark), nil
}

// Sizing is a tagged sizing variant with its own resolver
type Sizing interface {
	Mode() SizingMode
	Input() decimal.Decimal
	// NeedsWeights is false when the resolver ignores portfolio holdings
	NeedsWeights() bool
	Resolve(w Weights) (decimal.Decimal, error)
}

// NewSizing builds the variant for a mode
func NewSizing(mode SizingMode, input decimal.Decimal) (Sizing, error) {
	switch mode {
	case ModeAbsoluteWeight:
		return AbsoluteWeight{Value: input}, nil
	case ModeDeltaWeight:
		return DeltaWeight{Delta: input}, nil
	case ModeActiveWeight:
		return ActiveWeight{Active: input}, nil
	case ModeDeltaBenchmark:
		return DeltaBenchmark{Delta: input}, nil
	default:
		return nil, errors.NewValidationError("sizing_mode", "unknown sizing mode", mode)
	}
}

// AbsoluteWeight targets a portfolio weight directly
type AbsoluteWeight struct{ Value decimal.Decimal }

func (s AbsoluteWeight) Mode() SizingMode       { return ModeAbsoluteWeight }
func (s AbsoluteWeight) Input() decimal.Decimal { return s.Value }
func (s AbsoluteWeight) NeedsWeights() bool     { return false }

func (s AbsoluteWeight) Resolve(Weights) (decimal.Decimal, error) {
	return s.Value, nil
}

// DeltaWeight changes the current weight by Delta
type DeltaWeight struct{ Delta decimal.Decimal }

func (s DeltaWeight) Mode() SizingMode       { return ModeDeltaWeight }
func (s DeltaWeight) Input() decimal.Decimal { return s.Delta }
func (s DeltaWeight) NeedsWeights() bool     { return true }

func (s DeltaWeight) Resolve(w Weights) (decimal.Decimal, error) {
	return w.Current.Add(s.Delta), nil
}

// ActiveWeight targets an over/underweight relative to the benchmark
type ActiveWeight struct{ Active decimal.Decimal }

func (s ActiveWeight) Mode() SizingMode       { return ModeActiveWeight }
func (s ActiveWeight) Input() decimal.Decimal { return s.Active }
func (s ActiveWeight) NeedsWeights() bool     { return true }

func (s ActiveWeight) Resolve(w Weights) (decimal.Decimal, error) {
	if w.Benchmark == nil {
		return decimal.Zero, errors.ErrBenchmarkUnavailable
	}
	return w.Benchmark.Add(s.Active), nil
}

// DeltaBenchmark changes the current active weight by Delta
type DeltaBenchmark struct{ Delta decimal.Decimal }

func (s DeltaBenchmark) Mode() SizingMode       { return ModeDeltaBenchmark }
func (s DeltaBenchmark) Input() decimal.Decimal { return s.Delta }
func (s DeltaBenchmark) NeedsWeights() bool     { return true }

func (s DeltaBenchmark) Resolve(w Weights) (decimal.Decimal, error) {
	active, err := w.ActiveWeight()
	if err != nil {
		return decimal.Zero, err
	}
	return w.Benchmark.Add(active.Add(s.Delta)), nil
}
