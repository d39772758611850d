package contracts

import (
	"errors"
	"fmt"
)

// Sentinel errors
// ⭐ SSOT: 구조적 실패(run 중단)와 일별 복구 가능한 실패를 여기서 구분
var (
	// ErrInsufficientData aborts the run: empty series, zero-length common window
	ErrInsufficientData = errors.New("insufficient data")

	// ErrMisaligned aborts the run: invalid signal values, mismatched columns
	ErrMisaligned = errors.New("misaligned input")

	// ErrOptimization is recovered per day via equal-weight fallback
	ErrOptimization = errors.New("optimization failure")
)

// InsufficientDataError identifies the entity/day that made the window unusable.
// Day is -1 when the failure is not tied to a specific day.
type InsufficientDataError struct {
	Entity string
	Day    int
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: entity=%q day=%d: %s", e.Entity, e.Day, e.Reason)
}

// Is makes errors.Is(err, ErrInsufficientData) work
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// MisalignedError is a structural input failure
type MisalignedError struct {
	Entity string
	Day    int
	Reason string
}

func (e *MisalignedError) Error() string {
	return fmt.Sprintf("misaligned input: entity=%q day=%d: %s", e.Entity, e.Day, e.Reason)
}

func (e *MisalignedError) Is(target error) bool {
	return target == ErrMisaligned
}

// OptimizationFailure is local to one day and never leaves the allocator
type OptimizationFailure struct {
	Day    int
	Reason string
	Err    error
}

func (e *OptimizationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("optimization failure: day=%d reason=%s: %v", e.Day, e.Reason, e.Err)
	}
	return fmt.Sprintf("optimization failure: day=%d reason=%s", e.Day, e.Reason)
}

func (e *OptimizationFailure) Unwrap() error {
	return e.Err
}

func (e *OptimizationFailure) Is(target error) bool {
	return target == ErrOptimization
}

// NumericAnomaly records a NaN/Inf that was replaced
// 반환(return) → 0, 비중(weight) → fallback. 조용히 무시하지 않고 항상 기록
type NumericAnomaly struct {
	Stage  Stage   `json:"stage"`
	Entity string  `json:"entity,omitempty"`
	Day    int     `json:"day"`
	Value  float64 `json:"-"`
	Kind   string  `json:"kind"` // "nan", "+inf", "-inf"
}

// NewNumericAnomaly classifies v and builds the record
func NewNumericAnomaly(stage Stage, entity string, day int, v float64) NumericAnomaly {
	kind := "nan"
	switch {
	case v > 0:
		kind = "+inf"
	case v < 0:
		kind = "-inf"
	}
	return NumericAnomaly{Stage: stage, Entity: entity, Day: day, Value: v, Kind: kind}
}
