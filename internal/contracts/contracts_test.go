package contracts

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturnsFromCloses(t *testing.T) {
	rets := ReturnsFromCloses([]float64{100, 110, 99})
	require.Len(t, rets, 3)
	assert.Equal(t, 0.0, rets[0])
	assert.InDelta(t, 0.10, rets[1], 1e-12)
	assert.InDelta(t, -0.10, rets[2], 1e-12)

	assert.Nil(t, ReturnsFromCloses(nil))

	zero := ReturnsFromCloses([]float64{0, 1})
	assert.True(t, math.IsNaN(zero[1]))
}

func TestWeightMatrix_Helpers(t *testing.T) {
	m := &WeightMatrix{
		Entities: []string{"TECH", "FMCG"},
		Rows: []WeightRow{
			{Day: 0, Weights: []float64{0, 0}},
			{Day: 1, Weights: []float64{0.5, -0.5}, Fallback: true},
			{Day: 2, Weights: []float64{1, 0}},
		},
	}

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 1, m.FlatDays())
	assert.Equal(t, 1, m.FallbackDays())
	assert.InDelta(t, 1.0, m.Gross(1), 1e-12)
	assert.Equal(t, map[string]float64{"TECH": 0.5, "FMCG": -0.5}, m.Row(1))

	tail := m.Trailing(2)
	require.Equal(t, 2, tail.Len())
	assert.Equal(t, 0, tail.Rows[0].Day)
	assert.Equal(t, []float64{0.5, -0.5}, tail.Rows[0].Weights)

	// clone must not share backing arrays
	c := m.Clone()
	c.Rows[2].Weights[0] = 0.25
	assert.Equal(t, 1.0, m.Rows[2].Weights[0])
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"insufficient", &InsufficientDataError{Entity: "TECH", Day: -1, Reason: "empty"}, ErrInsufficientData},
		{"misaligned", &MisalignedError{Entity: "BANK", Day: 3, Reason: "signal value 2"}, ErrMisaligned},
		{"optimization", &OptimizationFailure{Day: 7, Reason: "singular"}, ErrOptimization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("run: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.target))
		})
	}

	inner := errors.New("cholesky failed")
	f := &OptimizationFailure{Day: 1, Reason: "singular", Err: inner}
	assert.ErrorIs(t, f, inner)
	assert.Contains(t, f.Error(), "day=1")
}

func TestNewNumericAnomaly(t *testing.T) {
	assert.Equal(t, "nan", NewNumericAnomaly(StageAlign, "TECH", 0, math.NaN()).Kind)
	assert.Equal(t, "+inf", NewNumericAnomaly(StageAlign, "TECH", 0, math.Inf(1)).Kind)
	assert.Equal(t, "-inf", NewNumericAnomaly(StageSimulate, "", 2, math.Inf(-1)).Kind)
}

func TestStages(t *testing.T) {
	assert.Len(t, AllStages(), 7)
	assert.True(t, IsValidStage("S2_ALLOCATE"))
	assert.False(t, IsValidStage("S7_AUDIT"))
	assert.Equal(t, "S4", StageSimulate.ShortName())
}
