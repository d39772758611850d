package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-rotator/internal/pipeline"
	"github.com/wonny/aegis-rotator/internal/strategyconfig"
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "equity 시뮬레이션 + trailing stop 백테스트",
	Long: `비중 행렬로 equity curve를 시뮬레이션하고 성과 지표를 출력합니다.

백테스팅은 다음을 보고합니다:
- 수익률 (Total, CAGR)
- 리스크 지표 (Volatility, Sharpe, Sortino, MDD, VaR)
- trailing stop 억제 일수

Flags는 strategy YAML 값을 덮어씁니다.

Example:
  go run ./cmd/rotator backtest
  go run ./cmd/rotator backtest --from 2020-01-01 --to 2023-12-31
  go run ./cmd/rotator backtest --no-overlay --capital 5000000`,
	RunE: runBacktest,
}

var (
	backtestFrom      string
	backtestTo        string
	backtestCapital   float64
	backtestNoOverlay bool
	backtestK         float64
	backtestRecovery  string
	backtestDryRun    bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVar(&backtestFrom, "from", "", "시작 날짜 (YYYY-MM-DD, db source)")
	backtestCmd.Flags().StringVar(&backtestTo, "to", "", "종료 날짜 (YYYY-MM-DD, db source)")
	backtestCmd.Flags().Float64Var(&backtestCapital, "capital", 0, "초기 자본 (기본: strategy YAML)")
	backtestCmd.Flags().BoolVar(&backtestNoOverlay, "no-overlay", false, "trailing stop 비활성화")
	backtestCmd.Flags().Float64Var(&backtestK, "k", 0, "floor 계수 k (기본: strategy YAML)")
	backtestCmd.Flags().StringVar(&backtestRecovery, "recovery", "", "shadow | exit_level")
	backtestCmd.Flags().BoolVar(&backtestDryRun, "dry-run", false, "결과 저장 안 함")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	strategy := backtestStrategy(a.strategy)
	orch, err := a.build(strategy)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	overlay := "off"
	if strategy.Overlay.Enable {
		overlay = fmt.Sprintf("k=%.3f, vol window=%d, %s", strategy.Overlay.K, strategy.Overlay.VolWindow, strategy.Overlay.RecoveryRule)
	}
	period := "all"
	if strategy.Source.From != "" || strategy.Source.To != "" {
		period = strategy.Source.From + " ~ " + strategy.Source.To
	}
	PrintHeader("Backtest", [][2]string{
		{"Strategy", strategy.Meta.StrategyID},
		{"Period", period},
		{"Capital", formatNumber(int64(strategy.Backtest.InitialCapital))},
		{"Overlay", overlay},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := orch.Run(ctx, pipeline.RunConfig{
		Entities: strategy.Entities,
		DryRun:   backtestDryRun,
	})
	if err != nil {
		return fmt.Errorf("run backtest: %w", err)
	}

	printSummary(res)
	printRunFooter(res)
	return nil
}

// backtestStrategy applies command flags on a copy of the loaded strategy
func backtestStrategy(base *strategyconfig.Config) *strategyconfig.Config {
	cfg := *base
	if backtestFrom != "" {
		cfg.Source.From = backtestFrom
	}
	if backtestTo != "" {
		cfg.Source.To = backtestTo
	}
	if backtestCapital > 0 {
		cfg.Backtest.InitialCapital = backtestCapital
	}
	if backtestNoOverlay {
		cfg.Overlay.Enable = false
	}
	if backtestK > 0 {
		cfg.Overlay.K = backtestK
	}
	if backtestRecovery != "" {
		cfg.Overlay.RecoveryRule = backtestRecovery
	}
	return &cfg
}
