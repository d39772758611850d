package align

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-rotator/internal/contracts"
)

func entity(key string, signals []int, returns []float64) contracts.EntitySeries {
	return contracts.EntitySeries{
		Entity:  contracts.Entity{Key: key},
		Signals: signals,
		Returns: returns,
	}
}

func TestAlign_TrailingTruncation(t *testing.T) {
	series := []contracts.EntitySeries{
		entity("TECH", []int{1, 0, 1, 1}, []float64{0, 0.01, 0.02, 0.03, 0.04}),
		entity("FMCG", []int{0, 1, -1}, []float64{0, 0.1, 0.2, 0.3}),
	}

	panel, err := Align(series)
	require.NoError(t, err)

	assert.Equal(t, []string{"TECH", "FMCG"}, panel.Entities)
	assert.Equal(t, 3, panel.Len())

	// 최근 3개만 유지
	assert.Equal(t, [][]int{{0, 0}, {1, 1}, {1, -1}}, panel.Signals)
	assert.Equal(t, [][]float64{{0.02, 0.1}, {0.03, 0.2}, {0.04, 0.3}}, panel.Returns)
	assert.Empty(t, panel.Anomalies)
}

func TestAlign_Errors(t *testing.T) {
	tests := []struct {
		name   string
		series []contracts.EntitySeries
		target error
	}{
		{"no entities", nil, contracts.ErrInsufficientData},
		{"empty signals", []contracts.EntitySeries{entity("TECH", nil, []float64{0})}, contracts.ErrInsufficientData},
		{"empty returns", []contracts.EntitySeries{entity("TECH", []int{1}, nil)}, contracts.ErrInsufficientData},
		{"bad signal value", []contracts.EntitySeries{entity("TECH", []int{1, 2}, []float64{0, 0})}, contracts.ErrMisaligned},
		{"signal longer than returns", []contracts.EntitySeries{entity("TECH", []int{1, 1, 1}, []float64{0, 0})}, contracts.ErrMisaligned},
		{"duplicate key", []contracts.EntitySeries{
			entity("TECH", []int{1}, []float64{0}),
			entity("TECH", []int{1}, []float64{0}),
		}, contracts.ErrMisaligned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			panel, err := Align(tt.series)
			assert.Nil(t, panel)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestAlign_BadSignalNamesEntityAndDay(t *testing.T) {
	_, err := Align([]contracts.EntitySeries{
		entity("TECH", []int{1, 0}, []float64{0, 0}),
		entity("BANK", []int{0, 0, 5}, []float64{0, 0, 0}),
	})

	var mis *contracts.MisalignedError
	require.True(t, errors.As(err, &mis))
	assert.Equal(t, "BANK", mis.Entity)
	assert.Equal(t, 2, mis.Day)
}

func TestAlign_NaNReturnsBecomeZero(t *testing.T) {
	panel, err := Align([]contracts.EntitySeries{
		entity("TECH", []int{1, 1, 1}, []float64{0, math.NaN(), math.Inf(1)}),
	})
	require.NoError(t, err)

	assert.Equal(t, 0.0, panel.Returns[1][0])
	assert.Equal(t, 0.0, panel.Returns[2][0])
	require.Len(t, panel.Anomalies, 2)
	assert.Equal(t, contracts.StageAlign, panel.Anomalies[0].Stage)
	assert.Equal(t, "nan", panel.Anomalies[0].Kind)
	assert.Equal(t, "+inf", panel.Anomalies[1].Kind)
}

func TestAlign_DatesFromFirstDatedEntity(t *testing.T) {
	d0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := []time.Time{d0, d0.AddDate(0, 0, 1), d0.AddDate(0, 0, 2)}

	undated := entity("TECH", []int{1, 1}, []float64{0, 0.01})
	dated := entity("FMCG", []int{1, 1, 1}, []float64{0, 0.01, 0.02})
	dated.Dates = dates

	panel, err := Align([]contracts.EntitySeries{undated, dated})
	require.NoError(t, err)
	assert.Equal(t, dates[1:], panel.Dates)
	assert.Equal(t, dates[2], panel.DateAt(1))
	assert.True(t, panel.DateAt(5).IsZero())
}

func TestAlign_LastDateMismatch(t *testing.T) {
	d0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	days := func(from, n int) []time.Time {
		out := make([]time.Time, n)
		for i := range out {
			out[i] = d0.AddDate(0, 0, from+i)
		}
		return out
	}

	tests := []struct {
		name      string
		fmcgDates []time.Time
		wantErr   bool
	}{
		{"same last date, longer history", days(-2, 5), false},
		{"stale by one day", days(-1, 3), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tech := entity("TECH", []int{1, 1, 1}, []float64{0, 0.01, 0.02})
			tech.Dates = days(0, 3)
			fmcg := entity("FMCG", make([]int, len(tt.fmcgDates)), make([]float64, len(tt.fmcgDates)))
			fmcg.Dates = tt.fmcgDates

			panel, err := Align([]contracts.EntitySeries{tech, fmcg})
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, days(0, 3), panel.Dates)
				return
			}

			assert.Nil(t, panel)
			var mis *contracts.MisalignedError
			require.True(t, errors.As(err, &mis))
			assert.Equal(t, "FMCG", mis.Entity)
			assert.Equal(t, 2, mis.Day)
			assert.Contains(t, mis.Reason, "2024-01-02")
		})
	}
}

func TestTrailing(t *testing.T) {
	xs := []int{1, 2, 3, 4}
	assert.Equal(t, []int{3, 4}, Trailing(xs, 2))
	assert.Equal(t, xs, Trailing(xs, 10))
	assert.Empty(t, Trailing(xs, 0))
}
