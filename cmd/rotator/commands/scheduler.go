package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-rotator/internal/scheduler"
	"github.com/wonny/aegis-rotator/internal/scheduler/jobs"
)

// importSchedule runs ahead of the default rebalance (평일 16:30)
const importSchedule = "0 0 16 * * 1-5"

// outputMaxAge is how long run directories under OUTPUT_DIR are kept
const outputMaxAge = 90 * 24 * time.Hour

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `스케줄러를 시작하거나 작업을 즉시 실행합니다.

Subcommands:
  start   - 스케줄러 시작
  list    - 등록된 작업 목록
  run     - 특정 작업 즉시 실행 (완료까지 대기)

Example:
  go run ./cmd/rotator scheduler start
  go run ./cmd/rotator scheduler list
  go run ./cmd/rotator scheduler run rebalance_pipeline`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		Long: `스케줄러를 시작하고 등록된 모든 작업을 스케줄합니다.

등록되는 작업:
- series_import: 평일 오후 4시 (source.kind=db, DB 사용 시)
- rebalance_pipeline: REBALANCE_SCHEDULE (기본 평일 16:30)
- output_retention: 매주 일요일 03:00 (90일 지난 결과 삭제)

스케줄러는 Ctrl+C로 종료할 수 있습니다.`,
		RunE: runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "등록된 작업 목록",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "특정 작업 즉시 실행",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aegis Rotator Scheduler ===")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := initScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	fmt.Println("\nRegistered jobs:")
	for _, stat := range sortedStats(sched) {
		fmt.Printf("  - %-20s %s\n", stat.JobName, stat.Schedule)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")

	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := initScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	fmt.Println("Registered jobs:")
	for _, stat := range sortedStats(sched) {
		fmt.Printf("  - %-20s %s\n", stat.JobName, stat.Schedule)
	}

	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := initScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	fmt.Printf("Running job: %s\n", jobName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := sched.RunJobSync(ctx, jobName)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("job %s failed after %d attempts: %s", jobName, result.Attempts, result.Error)
	}

	PrintSuccess(fmt.Sprintf("Job %s completed in %.2fs", jobName, result.Duration.Seconds()))
	return nil
}

// initScheduler registers every job the current backends support
func initScheduler(a *app) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.log)

	orch, err := a.build(a.strategy)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	if a.db != nil && a.strategy.Source.Kind == "db" {
		dir := a.strategy.Source.Dir
		if dir == "" {
			dir = a.cfg.DataDir
		}
		if err := sched.AddJob(jobs.NewSeriesImportJob(newImporter(a, dir), a.strategy.Entities, importSchedule, a.log)); err != nil {
			return nil, err
		}
	}

	if err := sched.AddJob(jobs.NewRebalanceJob(orch, a.strategy.Entities, a.cfg.RebalanceSchedule, a.log)); err != nil {
		return nil, err
	}

	if a.cfg.OutputDir != "" {
		if err := sched.AddJob(jobs.NewOutputRetentionJob(a.cfg.OutputDir, outputMaxAge, a.log)); err != nil {
			return nil, err
		}
	}

	return sched, nil
}

func sortedStats(sched *scheduler.Scheduler) []scheduler.JobStats {
	stats := sched.GetJobStats()
	out := make([]scheduler.JobStats, 0, len(stats))
	for _, name := range sched.GetAllJobs() {
		out = append(out, stats[name])
	}
	return out
}
