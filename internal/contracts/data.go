package contracts

import (
	"math"
	"time"
)

// Entity is an allocatable sector with its instrument
// ⭐ SSOT: Key는 weight matrix의 컬럼 이름으로 그대로 사용
type Entity struct {
	Key    string `json:"key" yaml:"key"`       // TECH, FMCG, BANK
	Symbol string `json:"symbol" yaml:"symbol"` // INFY.NS
}

// EntitySeries is the raw per-entity input handed to the aligner.
// Signals and Returns may have different lengths; Dates (optional) follows Returns.
type EntitySeries struct {
	Entity  Entity
	Signals []int
	Returns []float64
	Dates   []time.Time
}

// Panel is the aligned view: every column shares the same day index
type Panel struct {
	Entities []string    `json:"entities"`
	Signals  [][]int     `json:"signals"` // [day][column]
	Returns  [][]float64 `json:"returns"` // [day][column]
	Dates    []time.Time `json:"dates,omitempty"`

	Anomalies []NumericAnomaly `json:"anomalies,omitempty"`
}

// Len returns the number of aligned days
func (p *Panel) Len() int {
	return len(p.Returns)
}

// Width returns the number of entity columns
func (p *Panel) Width() int {
	return len(p.Entities)
}

// Column returns the index of an entity key, -1 if absent
func (p *Panel) Column(key string) int {
	for i, k := range p.Entities {
		if k == key {
			return i
		}
	}
	return -1
}

// ReturnColumn copies one column of returns over [from, to)
func (p *Panel) ReturnColumn(col, from, to int) []float64 {
	out := make([]float64, 0, to-from)
	for t := from; t < to; t++ {
		out = append(out, p.Returns[t][col])
	}
	return out
}

// DateAt returns the date for a day, zero time when the panel has no dates
func (p *Panel) DateAt(day int) time.Time {
	if day < 0 || day >= len(p.Dates) {
		return time.Time{}
	}
	return p.Dates[day]
}

// ReturnsFromCloses converts closes into simple daily returns.
// 첫 값은 전일 기준이 없으므로 0
func ReturnsFromCloses(closes []float64) []float64 {
	if len(closes) == 0 {
		return nil
	}
	rets := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			rets[i] = math.NaN()
			continue
		}
		rets[i] = closes[i]/prev - 1
	}
	return rets
}

// IsFinite reports whether v is neither NaN nor ±Inf
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
