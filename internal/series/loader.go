package series

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/pkg/logger"
)

// =============================================================================
// DB Loader
// =============================================================================

// DBLoader loads closes and flags from Postgres
// ⭐ SSOT: S0 DB 로딩. 가격 → 수익률 변환은 여기서만
type DBLoader struct {
	prices  contracts.PriceRepository
	signals contracts.SignalRepository
	from    time.Time
	to      time.Time
	logger  *logger.Logger
}

// NewDBLoader creates a loader over the given repositories; zero from/to are open-ended
func NewDBLoader(prices contracts.PriceRepository, signals contracts.SignalRepository, from, to time.Time, log *logger.Logger) *DBLoader {
	if log == nil {
		log = logger.Nop()
	}
	return &DBLoader{
		prices:  prices,
		signals: signals,
		from:    from,
		to:      to,
		logger:  log.WithStage(contracts.StageLoad.String()),
	}
}

// Load fetches every entity concurrently; output keeps the entity order
func (l *DBLoader) Load(ctx context.Context, entities []contracts.Entity) ([]contracts.EntitySeries, error) {
	out := make([]contracts.EntitySeries, len(entities))

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entities {
		g.Go(func() error {
			prices, err := l.prices.GetByKeyAndDateRange(gctx, e.Key, l.from, l.to)
			if err != nil {
				return fmt.Errorf("load prices %s: %w", e.Key, err)
			}
			flags, err := l.signals.GetByKeyAndDateRange(gctx, e.Key, l.from, l.to)
			if err != nil {
				return fmt.Errorf("load signals %s: %w", e.Key, err)
			}

			s := contracts.EntitySeries{Entity: e}
			closes := make([]float64, len(prices))
			s.Dates = make([]time.Time, len(prices))
			for j, p := range prices {
				closes[j] = p.Close
				s.Dates[j] = p.Date
			}
			s.Returns = contracts.ReturnsFromCloses(closes)
			s.Signals = make([]int, len(flags))
			for j, f := range flags {
				s.Signals[j] = f.Flag
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	l.logger.WithField("entities", len(entities)).Info("series loaded from database")
	return out, nil
}

// =============================================================================
// CSV Loader
// =============================================================================

// CSVLoader reads the on-disk layout produced by the signal/price scripts:
//
//	<dir>/signals/<KEY>_flag.csv   column "flag"
//	<dir>/raw/<SYMBOL>.csv         columns "date", "close" ('.' in symbol → '_')
type CSVLoader struct {
	dir    string
	logger *logger.Logger
}

// NewCSVLoader creates a loader rooted at dir
func NewCSVLoader(dir string, log *logger.Logger) *CSVLoader {
	if log == nil {
		log = logger.Nop()
	}
	return &CSVLoader{dir: dir, logger: log.WithStage(contracts.StageLoad.String())}
}

// FlagPath returns the signal file of an entity
func (l *CSVLoader) FlagPath(e contracts.Entity) string {
	return filepath.Join(l.dir, "signals", e.Key+"_flag.csv")
}

// PricePath returns the price file of an entity (symbol, or key when no symbol)
func (l *CSVLoader) PricePath(e contracts.Entity) string {
	name := e.Symbol
	if name == "" {
		name = e.Key
	}
	return filepath.Join(l.dir, "raw", strings.ReplaceAll(name, ".", "_")+".csv")
}

// Load reads every entity's flag and price file
func (l *CSVLoader) Load(ctx context.Context, entities []contracts.Entity) ([]contracts.EntitySeries, error) {
	out := make([]contracts.EntitySeries, 0, len(entities))
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dates, closes, flags, err := l.ReadEntity(e)
		if err != nil {
			return nil, err
		}

		out = append(out, contracts.EntitySeries{
			Entity:  e,
			Signals: flags,
			Returns: contracts.ReturnsFromCloses(closes),
			Dates:   dates,
		})
	}

	l.logger.WithFields(map[string]interface{}{
		"entities": len(entities),
		"dir":      l.dir,
	}).Info("series loaded from csv")
	return out, nil
}

// ReadEntity reads the raw closes and flags of one entity
func (l *CSVLoader) ReadEntity(e contracts.Entity) ([]time.Time, []float64, []int, error) {
	flags, err := readFlags(l.FlagPath(e))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("entity %s: %w", e.Key, err)
	}
	dates, closes, err := readCloses(l.PricePath(e))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("entity %s: %w", e.Key, err)
	}
	return dates, closes, flags, nil
}

// ErrMissingColumn is returned when a CSV header lacks a required column
var ErrMissingColumn = errors.New("missing column")

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07:00",
	time.RFC3339,
}

func readFlags(path string) ([]int, error) {
	header, records, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	col, err := column(header, "flag", path)
	if err != nil {
		return nil, err
	}

	flags := make([]int, 0, len(records))
	for i, rec := range records {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
		if err != nil || v != math.Trunc(v) {
			return nil, fmt.Errorf("%s row %d: invalid flag %q", path, i+1, rec[col])
		}
		flags = append(flags, int(v))
	}
	return flags, nil
}

func readCloses(path string) ([]time.Time, []float64, error) {
	header, records, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}
	dateCol, err := column(header, "date", path)
	if err != nil {
		return nil, nil, err
	}
	closeCol, err := column(header, "close", path)
	if err != nil {
		return nil, nil, err
	}

	dates := make([]time.Time, 0, len(records))
	closes := make([]float64, 0, len(records))
	for i, rec := range records {
		d, err := parseDate(rec[dateCol])
		if err != nil {
			return nil, nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		c, err := strconv.ParseFloat(strings.TrimSpace(rec[closeCol]), 64)
		if err != nil {
			// 빈 값은 NaN → align 단계에서 0 + anomaly
			c = math.NaN()
		}
		dates = append(dates, d)
		closes = append(closes, c)
	}
	return dates, closes, nil
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%s: empty file", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		if len(rec) < len(header) {
			return nil, nil, fmt.Errorf("%s: short row %d", path, len(records)+1)
		}
		records = append(records, rec)
	}
	return header, records, nil
}

func column(header []string, name, path string) (int, error) {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s: %w %q", path, ErrMissingColumn, name)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
