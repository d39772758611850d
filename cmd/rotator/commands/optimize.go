package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-rotator/internal/pipeline"
)

// optimizeCmd represents the optimize command
var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "일별 섹터 비중 계산",
	Long: `strategy YAML 기준으로 전체 파이프라인을 실행하고 비중 행렬을 출력합니다.

출력:
- S2 allocation 통계 (solved / flat / fallback 사유별 일수)
- 최근 N일 post-processed 비중

Example:
  go run ./cmd/rotator optimize
  go run ./cmd/rotator optimize --last 10 --dry-run`,
	RunE: runOptimize,
}

var (
	optimizeLast   int
	optimizeDryRun bool
)

func init() {
	rootCmd.AddCommand(optimizeCmd)

	optimizeCmd.Flags().IntVar(&optimizeLast, "last", 5, "출력할 최근 일수")
	optimizeCmd.Flags().BoolVar(&optimizeDryRun, "dry-run", false, "결과 저장 안 함")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.build(a.strategy)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	PrintHeader("Sector Weight Optimization", [][2]string{
		{"Strategy", a.strategy.Meta.StrategyID},
		{"Mode", a.strategy.Allocation.Mode + " / " + a.strategy.Allocation.Lookback},
		{"Entities", strings.Join(a.strategy.EntityKeys(), ", ")},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := orch.Run(ctx, pipeline.RunConfig{
		Entities: a.strategy.Entities,
		DryRun:   optimizeDryRun,
	})
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	printAllocation(res)
	printWeights(res, optimizeLast)
	printRunFooter(res)
	return nil
}
