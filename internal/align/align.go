package align

import (
	"fmt"
	"math"

	"github.com/wonny/aegis-rotator/internal/contracts"
)

// Align truncates every entity's signals and returns to the common trailing window.
// ⭐ SSOT: L = min(모든 signal/return 길이), 항상 최근 L개만 유지 (앞에서 자르지 않음)
//
// Structural problems abort before anything is produced:
//   - no entities, empty series, L == 0      → InsufficientDataError
//   - signal value ∉ {-1,0,1}, signal longer → MisalignedError
//   - dated entities ending on different days → MisalignedError
//
// NaN/Inf returns are replaced by 0 and reported as anomalies.
func Align(series []contracts.EntitySeries) (*contracts.Panel, error) {
	if len(series) == 0 {
		return nil, &contracts.InsufficientDataError{Day: -1, Reason: "no entities"}
	}

	seen := make(map[string]bool, len(series))
	L := math.MaxInt
	for _, s := range series {
		key := s.Entity.Key
		if seen[key] {
			return nil, &contracts.MisalignedError{Entity: key, Day: -1, Reason: "duplicate entity key"}
		}
		seen[key] = true

		if err := validateSeries(s); err != nil {
			return nil, err
		}

		L = min(L, len(s.Signals), len(s.Returns))
	}

	if L == 0 {
		return nil, &contracts.InsufficientDataError{Day: -1, Reason: "zero-length common window"}
	}

	panel := &contracts.Panel{
		Entities: make([]string, len(series)),
		Signals:  make([][]int, L),
		Returns:  make([][]float64, L),
	}
	for t := 0; t < L; t++ {
		panel.Signals[t] = make([]int, len(series))
		panel.Returns[t] = make([]float64, len(series))
	}

	for col, s := range series {
		panel.Entities[col] = s.Entity.Key
		signals := Trailing(s.Signals, L)
		returns := Trailing(s.Returns, L)

		for t := 0; t < L; t++ {
			panel.Signals[t][col] = signals[t]

			r := returns[t]
			if !contracts.IsFinite(r) {
				panel.Anomalies = append(panel.Anomalies,
					contracts.NewNumericAnomaly(contracts.StageAlign, s.Entity.Key, t, r))
				r = 0
			}
			panel.Returns[t][col] = r
		}

		if len(s.Dates) == 0 {
			continue
		}
		if panel.Dates == nil {
			panel.Dates = append(panel.Dates, Trailing(s.Dates, L)...)
			continue
		}
		// trailing windows must end on the same day
		last, want := s.Dates[len(s.Dates)-1], panel.Dates[L-1]
		if !last.Equal(want) {
			return nil, &contracts.MisalignedError{
				Entity: s.Entity.Key,
				Day:    L - 1,
				Reason: fmt.Sprintf("last date %s != panel last date %s", last.Format("2006-01-02"), want.Format("2006-01-02")),
			}
		}
	}

	return panel, nil
}

// validateSeries checks one entity's raw inputs
func validateSeries(s contracts.EntitySeries) error {
	key := s.Entity.Key
	if key == "" {
		return &contracts.MisalignedError{Day: -1, Reason: "empty entity key"}
	}
	if len(s.Signals) == 0 {
		return &contracts.InsufficientDataError{Entity: key, Day: -1, Reason: "empty signal series"}
	}
	if len(s.Returns) == 0 {
		return &contracts.InsufficientDataError{Entity: key, Day: -1, Reason: "empty return series"}
	}
	if len(s.Signals) > len(s.Returns) {
		return &contracts.MisalignedError{
			Entity: key,
			Day:    len(s.Returns),
			Reason: fmt.Sprintf("signal length %d exceeds return length %d", len(s.Signals), len(s.Returns)),
		}
	}
	if len(s.Dates) > 0 && len(s.Dates) != len(s.Returns) {
		return &contracts.MisalignedError{
			Entity: key,
			Day:    -1,
			Reason: fmt.Sprintf("date length %d != return length %d", len(s.Dates), len(s.Returns)),
		}
	}

	for i, v := range s.Signals {
		if v < -1 || v > 1 {
			return &contracts.MisalignedError{
				Entity: key,
				Day:    i,
				Reason: fmt.Sprintf("signal value %d not in {-1,0,1}", v),
			}
		}
	}
	return nil
}

// Trailing returns the most recent n elements of xs (all of xs when shorter)
func Trailing[T any](xs []T, n int) []T {
	if n <= 0 {
		return xs[:0]
	}
	if n >= len(xs) {
		return xs
	}
	return xs[len(xs)-n:]
}
