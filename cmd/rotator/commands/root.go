package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	strategyFile string
	verbose      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rotator",
	Short: "Aegis Rotator - 섹터 로테이션 비중 최적화 + 백테스트",
	Long: `Aegis Rotator CLI

섹터 시그널 기반 일별 mean-variance 비중 최적화와
adaptive trailing stop 오버레이 백테스트.

Pipeline: S0 load → S1 align → S2 allocate → S3 post-process
          → S4 simulate → S5 summarize → S6 persist

Usage:
  go run ./cmd/rotator [command]

Examples:
  go run ./cmd/rotator optimize
  go run ./cmd/rotator backtest --from 2020-01-01
  go run ./cmd/rotator import --dir ./data
  go run ./cmd/rotator api
  go run ./cmd/rotator scheduler start`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&strategyFile, "strategy", "", "strategy YAML (default: STRATEGY_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug 로그 출력")
}
