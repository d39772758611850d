package contracts

// Pipeline Stage 정의 (SSOT)
// 모든 로그, 이상치 기록, DB row에서 이 상수를 사용해야 함
//
// 파이프라인 흐름:
//   S0 → S1 → S2 → S3 → S4 → S5 → S6
//   Load  Align  Allocate  PostProcess  Simulate  Summarize  Persist

// Stage represents a pipeline stage
type Stage string

const (
	// StageLoad S0: 시그널/가격 시계열 로딩
	// 위치: internal/series/
	StageLoad Stage = "S0_LOAD"

	// StageAlign S1: 공통 윈도우 정렬 (trailing truncation)
	// 위치: internal/align/
	StageAlign Stage = "S1_ALIGN"

	// StageAllocate S2: 일별 mean-variance 최적화
	// 위치: internal/allocation/, internal/optimizer/
	StageAllocate Stage = "S2_ALLOCATE"

	// StagePostProcess S3: 비중 cap + gross 정규화
	// 위치: internal/portfolio/
	StagePostProcess Stage = "S3_POST_PROCESS"

	// StageSimulate S4: 자산곡선 + trailing stop overlay
	// 위치: internal/backtest/
	StageSimulate Stage = "S4_SIMULATE"

	// StageSummarize S5: 성과 지표, rolling/interval 리포트
	// 위치: internal/backtest/report.go
	StageSummarize Stage = "S5_SUMMARIZE"

	// StagePersist S6: weight/equity 저장 (all-or-nothing)
	// 위치: internal/portfolio/repository.go, internal/backtest/repository.go
	StagePersist Stage = "S6_PERSIST"
)

// String returns the stage name
func (s Stage) String() string {
	return string(s)
}

// ShortName returns abbreviated stage name (e.g., "S0", "S1")
func (s Stage) ShortName() string {
	switch s {
	case StageLoad:
		return "S0"
	case StageAlign:
		return "S1"
	case StageAllocate:
		return "S2"
	case StagePostProcess:
		return "S3"
	case StageSimulate:
		return "S4"
	case StageSummarize:
		return "S5"
	case StagePersist:
		return "S6"
	default:
		return "UNKNOWN"
	}
}

// Description returns Korean description of the stage
func (s Stage) Description() string {
	switch s {
	case StageLoad:
		return "시계열 로딩"
	case StageAlign:
		return "공통 윈도우 정렬"
	case StageAllocate:
		return "일별 비중 최적화"
	case StagePostProcess:
		return "비중 후처리"
	case StageSimulate:
		return "자산곡선 시뮬레이션"
	case StageSummarize:
		return "성과 요약"
	case StagePersist:
		return "결과 저장"
	default:
		return "알 수 없음"
	}
}

// AllStages returns all pipeline stages in order
func AllStages() []Stage {
	return []Stage{
		StageLoad,
		StageAlign,
		StageAllocate,
		StagePostProcess,
		StageSimulate,
		StageSummarize,
		StagePersist,
	}
}

// IsValidStage checks if a stage string is valid
func IsValidStage(s string) bool {
	for _, stage := range AllStages() {
		if string(stage) == s {
			return true
		}
	}
	return false
}

// StageResult represents the result of a pipeline stage execution
type StageResult struct {
	Stage       Stage                  `json:"stage"`
	Success     bool                   `json:"success"`
	InputCount  int                    `json:"input_count"`
	OutputCount int                    `json:"output_count"`
	Duration    int64                  `json:"duration_ms"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}
