package proposal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaflow/pkg/errors"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSizing_Resolve(t *testing.T) {
	bench := d("2.0")
	withBenchmark := Weights{Current: d("3.0"), Benchmark: &bench}
	noBenchmark := Weights{Current: d("3.0")}

	tests := []struct {
		name    string
		mode    SizingMode
		input   string
		weights Weights
		want    string
		wantErr error
	}{
		{"absolute ignores holdings", ModeAbsoluteWeight, "4.25", noBenchmark, "4.25", nil},
		{"delta adds to current", ModeDeltaWeight, "0.5", withBenchmark, "3.5", nil},
		{"negative delta trims", ModeDeltaWeight, "-1.25", noBenchmark, "1.75", nil},
		{"active over benchmark", ModeActiveWeight, "1.0", withBenchmark, "3.0", nil},
		{"active without benchmark", ModeActiveWeight, "1.0", noBenchmark, "", errors.ErrBenchmarkUnavailable},
		{"delta benchmark", ModeDeltaBenchmark, "0.5", withBenchmark, "3.5", nil},
		{"delta benchmark without benchmark", ModeDeltaBenchmark, "0.5", noBenchmark, "", errors.ErrBenchmarkUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSizing(tt.mode, d(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.mode, s.Mode())

			got, err := s.Resolve(tt.weights)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, d(tt.want).Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestNewSizing_UnknownMode(t *testing.T) {
	_, err := NewSizing("percent_of_nav", d("1"))
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestSizing_NeedsWeights(t *testing.T) {
	abs, _ := NewSizing(ModeAbsoluteWeight, d("1"))
	delta, _ := NewSizing(ModeDeltaWeight, d("1"))
	assert.False(t, abs.NeedsWeights())
	assert.True(t, delta.NeedsWeights())
}
