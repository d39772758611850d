package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-rotator/internal/series"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "CSV 시계열 → Postgres 적재",
	Long: `CSV 디렉터리의 종가/시그널을 data.sector_prices, data.sector_signals에 upsert 합니다.

입력 레이아웃:
  <dir>/raw/<SYMBOL>.csv        (date, close)
  <dir>/signals/<KEY>_flag.csv  (flag)

DB_ENABLED=true 필요. 이후 strategy YAML의 source.kind=db로 실행 가능.

Example:
  go run ./cmd/rotator import
  go run ./cmd/rotator import --dir ./data`,
	RunE: runImport,
}

var importDir string

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importDir, "dir", "", "CSV 디렉터리 (기본: source.dir 또는 DATA_DIR)")
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.db == nil {
		return errors.New("import requires a database (DB_ENABLED=true)")
	}

	dir := importDir
	if dir == "" {
		dir = a.strategy.Source.Dir
	}
	if dir == "" {
		dir = a.cfg.DataDir
	}

	PrintHeader("Series Import", [][2]string{
		{"Source", dir},
		{"Entities", strconv.Itoa(len(a.strategy.Entities))},
	})

	importer := newImporter(a, dir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	stats, err := importer.Import(ctx, a.strategy.Entities)

	widths := []int{12, 8, 8, 8}
	fmt.Println()
	PrintTableHeader([]string{"Entity", "Prices", "Signals", "Skipped"}, widths)
	for _, st := range stats {
		PrintTableRow([]string{st.Entity, strconv.Itoa(st.Prices), strconv.Itoa(st.Signals), strconv.Itoa(st.Skipped)}, widths)
	}
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Println()
	PrintSuccess(fmt.Sprintf("Imported %d entities in %.2fs", len(stats), time.Since(start).Seconds()))
	return nil
}

func newImporter(a *app, dir string) *series.Importer {
	return series.NewImporter(
		series.NewCSVLoader(dir, a.log),
		series.NewPriceRepository(a.db.Pool),
		series.NewSignalRepository(a.db.Pool),
		a.log,
	)
}
