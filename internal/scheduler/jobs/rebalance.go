package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/internal/pipeline"
	"github.com/wonny/aegis-rotator/internal/series"
	"github.com/wonny/aegis-rotator/pkg/logger"
)

// Runner runs one pipeline pass (*pipeline.Orchestrator)
type Runner interface {
	Run(ctx context.Context, config pipeline.RunConfig) (*pipeline.RunResult, error)
}

// RebalanceJob runs the allocation + simulation pipeline after market close
// ⭐ SSOT: 리밸런스 스케줄은 이 Job에서만
type RebalanceJob struct {
	runner   Runner
	entities []contracts.Entity
	schedule string
	logger   *logger.Logger
}

// NewRebalanceJob creates a new rebalance job
func NewRebalanceJob(runner Runner, entities []contracts.Entity, schedule string, log *logger.Logger) *RebalanceJob {
	if log == nil {
		log = logger.Nop()
	}
	return &RebalanceJob{
		runner:   runner,
		entities: entities,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "rebalance_pipeline"
}

// Schedule returns the configured cron schedule
func (j *RebalanceJob) Schedule() string {
	return j.schedule
}

// Run executes one pipeline run with a fresh run id
func (j *RebalanceJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled rebalance")

	res, err := j.runner.Run(ctx, pipeline.RunConfig{Entities: j.entities})
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	fields := map[string]interface{}{"run_id": res.RunID}
	if res.Simulation != nil {
		fields["final_equity"] = res.Simulation.FinalEquity()
	}
	if n := res.Weights.Len(); n > 0 {
		fields["weights"] = res.Weights.Row(n - 1)
	}
	j.logger.WithFields(fields).Info("Scheduled rebalance completed")
	return nil
}

// SeriesImportJob loads the CSV directory into Postgres before the rebalance
type SeriesImportJob struct {
	importer *series.Importer
	entities []contracts.Entity
	schedule string
	logger   *logger.Logger
}

// NewSeriesImportJob creates a new import job
func NewSeriesImportJob(importer *series.Importer, entities []contracts.Entity, schedule string, log *logger.Logger) *SeriesImportJob {
	if log == nil {
		log = logger.Nop()
	}
	return &SeriesImportJob{
		importer: importer,
		entities: entities,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *SeriesImportJob) Name() string {
	return "series_import"
}

// Schedule returns the configured cron schedule
func (j *SeriesImportJob) Schedule() string {
	return j.schedule
}

// Run imports every entity
func (j *SeriesImportJob) Run(ctx context.Context) error {
	stats, err := j.importer.Import(ctx, j.entities)
	if err != nil {
		return fmt.Errorf("import series: %w", err)
	}

	total := 0
	for _, st := range stats {
		total += st.Prices
	}
	j.logger.WithFields(map[string]interface{}{
		"entities": len(stats),
		"prices":   total,
	}).Info("Scheduled series import completed")
	return nil
}
