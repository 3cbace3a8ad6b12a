package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "ok"},
		{"wrapped transition", Wrap(ErrInvalidTransition, "move idea"), "invalid_transition"},
		{"paired leg reports invalid pair", ErrPairedLeg, "invalid_pair"},
		{"validation error", NewValidationError("asset_id", "required", ""), "invalid_input"},
		{"conflict", Wrapf(ErrConflict, "upsert proposal %d", 1), "conflict"},
		{"unknown", New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestPairedLegIsInvalidPair(t *testing.T) {
	err := Wrap(ErrPairedLeg, "decide proposal")
	assert.True(t, Is(err, ErrInvalidPair))
	assert.True(t, Is(err, ErrPairedLeg))
	assert.False(t, Is(err, ErrInvalidTransition))
}
