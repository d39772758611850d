package portfolio

import (
	"fmt"
	"math"
	"sort"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/strategyconfig"
	"github.com/wonny/aegis-rotator/pkg/logger"
	"github.com/wonny/aegis-rotator/pkg/metrics"
)

// Post-processing methods
const (
	MethodClipNormalize = "clip_normalize" // clip → Σ|w|로 나눔
	MethodCapped        = "capped"         // 정규화 후에도 cap 유지
)

// DefaultCap is the per-entity exposure cap
const DefaultCap = 0.5

// PostProcessor implements S3: gross-exposure normalization
// ⭐ SSOT: S3 후처리 로직은 여기서만 (행 단위 독립)
type PostProcessor struct {
	limit   float64
	method  string
	logger  *logger.Logger
	metrics *metrics.Recorder
}

// NewPostProcessor creates a post-processor. log and rec may be nil.
func NewPostProcessor(limit float64, method string, log *logger.Logger, rec *metrics.Recorder) *PostProcessor {
	if !(limit > 0) {
		limit = DefaultCap
	}
	if method == "" {
		method = MethodClipNormalize
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PostProcessor{
		limit:   limit,
		method:  method,
		logger:  log.WithStage(contracts.StagePostProcess.String()),
		metrics: rec,
	}
}

// NewPostProcessorFromConfig maps the strategy YAML onto a PostProcessor
func NewPostProcessorFromConfig(cfg *strategyconfig.Config, log *logger.Logger, rec *metrics.Recorder) *PostProcessor {
	return NewPostProcessor(cfg.PostProcess.Cap, cfg.PostProcess.Method, log, rec)
}

// Process normalizes every row. The input matrix is not modified.
func (p *PostProcessor) Process(m *contracts.WeightMatrix) (*contracts.WeightMatrix, []contracts.NumericAnomaly) {
	out := m.Clone()
	var anomalies []contracts.NumericAnomaly

	fallbacks := 0
	for t := range out.Rows {
		row := &out.Rows[t]
		nonFinite := false
		for i, w := range row.Weights {
			if !contracts.IsFinite(w) {
				anomalies = append(anomalies,
					contracts.NewNumericAnomaly(contracts.StagePostProcess, out.Entities[i], row.Day, w))
				p.metrics.RecordAnomaly(contracts.StagePostProcess.String())
				nonFinite = true
			}
		}
		if nonFinite {
			equalWeight(row, out.Entities)
			p.metrics.RecordFallback(contracts.FallbackNonFinite)
			fallbacks++
		}

		switch p.method {
		case MethodCapped:
			row.Weights = CappedScale(row.Weights, p.limit)
		default:
			row.Weights = ClipNormalize(row.Weights, p.limit)
		}
	}

	if len(anomalies) > 0 {
		p.logger.WithFields(map[string]interface{}{
			"anomalies": len(anomalies),
			"days":      fallbacks,
		}).Warn("non-finite weights replaced by equal-weight fallback")
	}
	return out, anomalies
}

// equalWeight rebuilds a row as 1/|A| over its active set; no active set → flat
func equalWeight(row *contracts.WeightRow, entities []string) {
	for i := range row.Weights {
		row.Weights[i] = 0
	}
	col := make(map[string]int, len(entities))
	for i, key := range entities {
		col[key] = i
	}
	var idx []int
	for _, key := range row.Active {
		if i, ok := col[key]; ok {
			idx = append(idx, i)
		}
	}
	for _, i := range idx {
		row.Weights[i] = 1 / float64(len(idx))
	}
	row.Fallback = true
	row.FallbackReason = contracts.FallbackNonFinite
}

// ClipNormalize clips to [−limit, limit] and divides by Σ|w|; an all-zero row stays flat
func ClipNormalize(weights []float64, limit float64) []float64 {
	out := make([]float64, len(weights))
	gross := 0.0
	for i, w := range weights {
		out[i] = math.Max(-limit, math.Min(limit, w))
		gross += math.Abs(out[i])
	}
	if gross == 0 {
		return out
	}
	for i := range out {
		out[i] /= gross
	}
	return out
}

// CappedScale returns sign(w)·min(limit, α|w|) with α chosen so that Σ|w| = 1.
// When k·limit < 1 (k nonzero entries) the limit cannot hold and every nonzero
// entry becomes ±1/k.
func CappedScale(weights []float64, limit float64) []float64 {
	out := make([]float64, len(weights))

	var idx []int
	for i, w := range weights {
		if w != 0 {
			idx = append(idx, i)
		}
	}
	k := len(idx)
	if k == 0 {
		return out
	}

	if float64(k)*limit < 1 {
		for _, i := range idx {
			out[i] = math.Copysign(1/float64(k), weights[i])
		}
		return out
	}

	// |w| 내림차순: 앞에서부터 j개를 cap에 고정
	sort.SliceStable(idx, func(a, b int) bool {
		return math.Abs(weights[idx[a]]) > math.Abs(weights[idx[b]])
	})
	rest := 0.0
	for _, i := range idx {
		rest += math.Abs(weights[i])
	}

	for j := 0; j <= k; j++ {
		if j == k {
			for _, i := range idx {
				out[i] = math.Copysign(limit, weights[i])
			}
			return out
		}
		alpha := (1 - float64(j)*limit) / rest
		if alpha*math.Abs(weights[idx[j]]) <= limit+contracts.GrossTolerance {
			for n, i := range idx {
				mag := limit
				if n >= j {
					mag = math.Min(limit, alpha*math.Abs(weights[i]))
				}
				out[i] = math.Copysign(mag, weights[i])
			}
			return out
		}
		rest -= math.Abs(weights[idx[j]])
	}
	return out
}

// Validate checks Σ|w| ∈ {0, 1} for every row
func Validate(m *contracts.WeightMatrix, tol float64) error {
	for t, row := range m.Rows {
		for _, w := range row.Weights {
			if !contracts.IsFinite(w) {
				return fmt.Errorf("day %d: non-finite weight", t)
			}
		}
		gross := row.Gross()
		if math.Abs(gross) > tol && math.Abs(gross-1) > tol {
			return fmt.Errorf("day %d: gross exposure %.12f not in {0, 1}", t, gross)
		}
	}
	return nil
}
