package contracts

import (
	"math"
	"time"
)

// GrossTolerance is the tolerance for the Σ|w| ∈ {0,1} invariant
const GrossTolerance = 1e-9

// FallbackNonFinite marks a day whose weights held NaN/Inf and were replaced by 1/|A|
const FallbackNonFinite = "non_finite_weight"

// WeightRow is the immutable per-day allocation record
// ⭐ SSOT: Allocator → PostProcessor → Simulator 전달 단위
type WeightRow struct {
	Day            int       `json:"day"`
	Date           time.Time `json:"date,omitempty"`
	Weights        []float64 `json:"weights"` // WeightMatrix.Entities 순서
	Active         []string  `json:"active,omitempty"`
	Augmented      string    `json:"augmented,omitempty"`
	Fallback       bool      `json:"fallback"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
}

// Gross returns Σ|w|
func (r WeightRow) Gross() float64 {
	total := 0.0
	for _, w := range r.Weights {
		total += math.Abs(w)
	}
	return total
}

// IsFlat reports whether the row holds no exposure
func (r WeightRow) IsFlat() bool {
	for _, w := range r.Weights {
		if w != 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so stages never share backing arrays
func (r WeightRow) Clone() WeightRow {
	c := r
	c.Weights = append([]float64(nil), r.Weights...)
	c.Active = append([]string(nil), r.Active...)
	return c
}

// WeightMatrix is the ordered weight history with a stable column order
type WeightMatrix struct {
	Entities []string    `json:"entities"`
	Rows     []WeightRow `json:"rows"`
}

// Len returns the number of days
func (m *WeightMatrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Rows)
}

// Gross returns Σ|w| of day t
func (m *WeightMatrix) Gross(t int) float64 {
	return m.Rows[t].Gross()
}

// FlatDays counts rows with zero exposure
func (m *WeightMatrix) FlatDays() int {
	n := 0
	for _, r := range m.Rows {
		if r.IsFlat() {
			n++
		}
	}
	return n
}

// FallbackDays counts rows resolved by equal-weight fallback
func (m *WeightMatrix) FallbackDays() int {
	n := 0
	for _, r := range m.Rows {
		if r.Fallback {
			n++
		}
	}
	return n
}

// Row returns day t as entity → weight
func (m *WeightMatrix) Row(t int) map[string]float64 {
	out := make(map[string]float64, len(m.Entities))
	for i, key := range m.Entities {
		out[key] = m.Rows[t].Weights[i]
	}
	return out
}

// Clone deep-copies the matrix
func (m *WeightMatrix) Clone() *WeightMatrix {
	c := &WeightMatrix{
		Entities: append([]string(nil), m.Entities...),
		Rows:     make([]WeightRow, len(m.Rows)),
	}
	for i, r := range m.Rows {
		c.Rows[i] = r.Clone()
	}
	return c
}

// Trailing keeps only the most recent n rows (re-indexing Day from 0)
func (m *WeightMatrix) Trailing(n int) *WeightMatrix {
	if n >= len(m.Rows) {
		return m.Clone()
	}
	c := &WeightMatrix{
		Entities: append([]string(nil), m.Entities...),
		Rows:     make([]WeightRow, n),
	}
	offset := len(m.Rows) - n
	for i := 0; i < n; i++ {
		row := m.Rows[offset+i].Clone()
		row.Day = i
		c.Rows[i] = row
	}
	return c
}
