package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis-rotator/internal/align"
	"github.com/wonny/aegis-rotator/internal/backtest"
	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/portfolio"
	"github.com/wonny/aegis-rotator/pkg/logger"
	"github.com/wonny/aegis-rotator/pkg/metrics"
)

// grossTolerance bounds |Σ|w| − 1| for a non-flat row after post-processing
const grossTolerance = 1e-9

// Orchestrator coordinates the S0-S6 pipeline
// ⭐ SSOT: 파이프라인 조율은 여기서만
type Orchestrator struct {
	// Stage components
	loader    contracts.SeriesLoader
	allocator contracts.WeightAllocator
	processor contracts.WeightProcessor
	simulator contracts.EquitySimulator
	report    backtest.ReportConfig

	// Result sinks (S6), all-or-nothing per store
	stores []Store

	strategyID string
	configHash string

	metrics *metrics.Recorder
	logger  *logger.Logger
}

// RunConfig holds configuration for a pipeline run
type RunConfig struct {
	RunID    string             // empty → new uuid
	Entities []contracts.Entity // column order of the weight matrix
	DryRun   bool               // If true, skip S6 persist
}

// RunResult holds the results of a complete pipeline run
type RunResult struct {
	RunID           string                      `json:"run_id"`
	StrategyID      string                      `json:"strategy_id"`
	ConfigHash      string                      `json:"config_hash"`
	Success         bool                        `json:"success"`
	Error           error                       `json:"-"`
	CompletedStages []string                    `json:"completed_stages"`
	Stages          []contracts.StageResult     `json:"stages"`
	Panel           *contracts.Panel            `json:"-"`
	RawWeights      *contracts.WeightMatrix     `json:"-"`
	Weights         *contracts.WeightMatrix     `json:"weights"`
	Allocation      *contracts.AllocationReport `json:"allocation"`
	Simulation      *contracts.SimulationResult `json:"simulation"`
	Summary         *backtest.Summary           `json:"summary"`
	Anomalies       []contracts.NumericAnomaly  `json:"anomalies,omitempty"`
	Persisted       bool                        `json:"persisted"`
	Duration        time.Duration               `json:"duration"`
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	loader contracts.SeriesLoader,
	allocator contracts.WeightAllocator,
	processor contracts.WeightProcessor,
	simulator contracts.EquitySimulator,
	report backtest.ReportConfig,
	stores []Store,
	strategyID string,
	configHash string,
	rec *metrics.Recorder,
	log *logger.Logger,
) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		loader:     loader,
		allocator:  allocator,
		processor:  processor,
		simulator:  simulator,
		report:     report,
		stores:     stores,
		strategyID: strategyID,
		configHash: configHash,
		metrics:    rec,
		logger:     log,
	}
}

// Run executes the complete pipeline
// S0 → S1 → S2 → S3 → S4 → S5 → S6
func (o *Orchestrator) Run(ctx context.Context, config RunConfig) (*RunResult, error) {
	startTime := time.Now()

	runID := config.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	result := &RunResult{
		RunID:           runID,
		StrategyID:      o.strategyID,
		ConfigHash:      o.configHash,
		CompletedStages: make([]string, 0, 7),
	}
	log := o.logger.WithRun(runID)

	log.WithFields(map[string]interface{}{
		"strategy":    o.strategyID,
		"config_hash": o.configHash,
		"entities":    len(config.Entities),
		"dry_run":     config.DryRun,
	}).Info("Starting pipeline run")

	err := o.run(ctx, config, result)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Error = err
		o.metrics.RecordRun(o.strategyID, "failed", 0, 0)
		log.WithError(err).WithField("stages", result.CompletedStages).Error("Pipeline run failed")
		return result, err
	}

	result.Success = true
	o.metrics.RecordRun(o.strategyID, "success", result.Simulation.SuppressedDays, result.Simulation.FinalEquity())

	log.WithFields(map[string]interface{}{
		"duration":        result.Duration.Seconds(),
		"stages":          len(result.CompletedStages),
		"final_equity":    result.Simulation.FinalEquity(),
		"suppressed_days": result.Simulation.SuppressedDays,
		"fallback_days":   result.Allocation.TotalFallbacks(),
		"anomalies":       len(result.Anomalies),
	}).Info("Pipeline run completed successfully")

	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, config RunConfig, result *RunResult) error {
	// S0: Load
	var series []contracts.EntitySeries
	err := o.stage(result, contracts.StageLoad, func() (int, int, error) {
		var err error
		series, err = o.loader.Load(ctx, config.Entities)
		return len(config.Entities), len(series), err
	})
	if err != nil {
		return err
	}

	// S1: Align
	err = o.stage(result, contracts.StageAlign, func() (int, int, error) {
		panel, err := align.Align(series)
		if err != nil {
			return len(series), 0, err
		}
		result.Panel = panel
		o.recordAnomalies(contracts.StageAlign, panel.Anomalies)
		return len(series), panel.Len(), nil
	})
	if err != nil {
		return err
	}

	// S2: Allocate
	err = o.stage(result, contracts.StageAllocate, func() (int, int, error) {
		m, report, err := o.allocator.Allocate(ctx, result.Panel)
		if err != nil {
			return result.Panel.Len(), 0, err
		}
		result.RawWeights = m
		result.Allocation = report
		return result.Panel.Len(), m.Len(), nil
	})
	if err != nil {
		return err
	}

	// S3: Post-process + invariant check
	var postAnomalies []contracts.NumericAnomaly
	err = o.stage(result, contracts.StagePostProcess, func() (int, int, error) {
		m, anomalies := o.processor.Process(result.RawWeights)
		if err := portfolio.Validate(m, grossTolerance); err != nil {
			return result.RawWeights.Len(), 0, fmt.Errorf("post-processed weights: %w", err)
		}
		result.Weights = m
		postAnomalies = anomalies
		return result.RawWeights.Len(), m.Len(), nil
	})
	if err != nil {
		return err
	}

	// S4: Simulate
	err = o.stage(result, contracts.StageSimulate, func() (int, int, error) {
		sim, err := o.simulator.Run(result.Weights, result.Panel)
		if err != nil {
			return result.Weights.Len(), 0, err
		}
		result.Simulation = sim
		o.recordAnomalies(contracts.StageSimulate, sim.Anomalies)
		return result.Weights.Len(), len(sim.Equity), nil
	})
	if err != nil {
		return err
	}

	// S5: Summarize
	_ = o.stage(result, contracts.StageSummarize, func() (int, int, error) {
		result.Summary = backtest.Summarize(result.Simulation, result.Weights, o.report)
		result.Summary.Attribution = backtest.Attribute(result.Weights, result.Panel, result.Simulation)
		return len(result.Simulation.Equity), 1, nil
	})

	result.Anomalies = collectAnomalies(result, postAnomalies)

	// S6: Persist (skip if dry run)
	if config.DryRun || len(o.stores) == 0 {
		o.logger.WithRun(result.RunID).Info("Skipping S6:Persist")
		return nil
	}
	err = o.stage(result, contracts.StagePersist, func() (int, int, error) {
		var saved []Store
		for _, s := range o.stores {
			err := s.Save(ctx, result)
			if err == nil {
				saved = append(saved, s)
				continue
			}
			if be, ok := s.(bestEffort); ok && be.BestEffort() {
				o.logger.WithRun(result.RunID).WithError(err).WithField("store", s.Name()).Warn("store skipped")
				continue
			}
			o.discard(result.RunID, saved)
			return len(o.stores), 0, fmt.Errorf("%s: %w", s.Name(), err)
		}
		return len(o.stores), len(saved), nil
	})
	if err != nil {
		return err
	}
	result.Persisted = true
	return nil
}

// discard withdraws what earlier stores already wrote, newest first
// ⭐ S6는 all-or-nothing: 필수 store 하나라도 실패하면 먼저 쓴 결과를 회수
func (o *Orchestrator) discard(runID string, saved []Store) {
	// run ctx may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := len(saved) - 1; i >= 0; i-- {
		d, ok := saved[i].(discarder)
		if !ok {
			continue
		}
		if err := d.Discard(ctx, runID); err != nil {
			o.logger.WithRun(runID).WithError(err).WithField("store", saved[i].Name()).Error("failed to discard partial output")
		}
	}
}

// stage times fn, records its StageResult and wraps its error with the stage name
func (o *Orchestrator) stage(result *RunResult, stage contracts.Stage, fn func() (int, int, error)) error {
	start := time.Now()
	in, out, err := fn()
	elapsed := time.Since(start)

	sr := contracts.StageResult{
		Stage:       stage,
		Success:     err == nil,
		InputCount:  in,
		OutputCount: out,
		Duration:    elapsed.Milliseconds(),
	}
	if err != nil {
		sr.Error = err.Error()
	}
	result.Stages = append(result.Stages, sr)
	o.metrics.RecordStage(stage.String(), elapsed.Seconds())

	if err != nil {
		return fmt.Errorf("%s failed: %w", stage.ShortName(), err)
	}

	result.CompletedStages = append(result.CompletedStages, stage.String())
	o.logger.WithRun(result.RunID).WithStage(stage.String()).WithFields(map[string]interface{}{
		"input":       in,
		"output":      out,
		"duration_ms": sr.Duration,
	}).Debug("stage completed")
	return nil
}

// recordAnomalies counts anomalies of stages that do not report to metrics themselves
func (o *Orchestrator) recordAnomalies(stage contracts.Stage, anomalies []contracts.NumericAnomaly) {
	for range anomalies {
		o.metrics.RecordAnomaly(stage.String())
	}
}

func collectAnomalies(result *RunResult, post []contracts.NumericAnomaly) []contracts.NumericAnomaly {
	var out []contracts.NumericAnomaly
	out = append(out, result.Panel.Anomalies...)
	if result.Allocation != nil {
		out = append(out, result.Allocation.Anomalies...)
	}
	out = append(out, post...)
	out = append(out, result.Simulation.Anomalies...)
	return out
}
