package series

import (
	"context"
	"fmt"
	"math"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/pkg/logger"
)

// Importer copies a CSV directory into the price/signal tables.
// Flag files carry no dates: flag i is dated with the matching trailing price date.
type Importer struct {
	csv     *CSVLoader
	prices  contracts.PriceRepository
	signals contracts.SignalRepository
	logger  *logger.Logger
}

// ImportStats counts rows written per entity
type ImportStats struct {
	Entity  string `json:"entity"`
	Prices  int    `json:"prices"`
	Signals int    `json:"signals"`
	Skipped int    `json:"skipped"` // empty closes
}

// NewImporter creates an importer
func NewImporter(csv *CSVLoader, prices contracts.PriceRepository, signals contracts.SignalRepository, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.Nop()
	}
	return &Importer{
		csv:     csv,
		prices:  prices,
		signals: signals,
		logger:  log.WithStage(contracts.StageLoad.String()),
	}
}

// Import upserts every entity; the first failure stops the import
func (im *Importer) Import(ctx context.Context, entities []contracts.Entity) ([]ImportStats, error) {
	stats := make([]ImportStats, 0, len(entities))
	for _, e := range entities {
		st, err := im.importEntity(ctx, e)
		if err != nil {
			return stats, err
		}
		stats = append(stats, st)

		im.logger.WithFields(map[string]interface{}{
			"entity":  e.Key,
			"prices":  st.Prices,
			"signals": st.Signals,
			"skipped": st.Skipped,
		}).Info("series imported")
	}
	return stats, nil
}

func (im *Importer) importEntity(ctx context.Context, e contracts.Entity) (ImportStats, error) {
	st := ImportStats{Entity: e.Key}

	dates, closes, flags, err := im.csv.ReadEntity(e)
	if err != nil {
		return st, err
	}
	if len(flags) > len(dates) {
		return st, &contracts.MisalignedError{
			Entity: e.Key,
			Day:    len(dates),
			Reason: fmt.Sprintf("%d flags for %d price dates", len(flags), len(dates)),
		}
	}

	prices := make([]*contracts.Price, 0, len(closes))
	for i, c := range closes {
		if math.IsNaN(c) {
			st.Skipped++
			continue
		}
		prices = append(prices, &contracts.Price{Key: e.Key, Date: dates[i], Close: c})
	}

	offset := len(dates) - len(flags)
	signals := make([]*contracts.SignalFlag, len(flags))
	for i, f := range flags {
		signals[i] = &contracts.SignalFlag{Key: e.Key, Date: dates[offset+i], Flag: f}
	}

	if err := im.prices.SaveBatch(ctx, prices); err != nil {
		return st, fmt.Errorf("save prices %s: %w", e.Key, err)
	}
	if err := im.signals.SaveBatch(ctx, signals); err != nil {
		return st, fmt.Errorf("save signals %s: %w", e.Key, err)
	}

	st.Prices = len(prices)
	st.Signals = len(signals)
	return st, nil
}
