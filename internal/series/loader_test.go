package series

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-rotator/internal/contracts"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCSVLoader_Load(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "signals", "TECH_flag.csv"), "flag\n0\n1\n1.0\n-1\n")
	writeFile(t, filepath.Join(dir, "raw", "INFY_NS.csv"),
		"date,open,Close\n2024-01-01,1,100\n2024-01-02,1,110\n2024-01-03 00:00:00,1,99\n")

	loader := NewCSVLoader(dir, nil)
	entity := contracts.Entity{Key: "TECH", Symbol: "INFY.NS"}
	assert.Equal(t, filepath.Join(dir, "raw", "INFY_NS.csv"), loader.PricePath(entity))

	out, err := loader.Load(context.Background(), []contracts.Entity{entity})
	require.NoError(t, err)
	require.Len(t, out, 1)

	s := out[0]
	assert.Equal(t, []int{0, 1, 1, -1}, s.Signals)
	assert.InDeltaSlice(t, []float64{0, 0.1, -0.1}, s.Returns, 1e-12)
	require.Len(t, s.Dates, 3)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), s.Dates[2])
}

func TestCSVLoader_KeyAsPriceFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "signals", "BANK_flag.csv"), "flag\n1\n")
	writeFile(t, filepath.Join(dir, "raw", "BANK.csv"), "date,close\n2024-01-01,50\n2024-01-02,\n")

	out, err := NewCSVLoader(dir, nil).Load(context.Background(), []contracts.Entity{{Key: "BANK"}})
	require.NoError(t, err)
	// 빈 close → NaN 수익률 (align에서 처리)
	assert.True(t, math.IsNaN(out[0].Returns[1]))
}

func TestCSVLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "signals", "TECH_flag.csv"), "signal\n1\n")
	writeFile(t, filepath.Join(dir, "signals", "FMCG_flag.csv"), "flag\n0.5\n")
	writeFile(t, filepath.Join(dir, "signals", "BANK_flag.csv"), "flag\n1\n")
	writeFile(t, filepath.Join(dir, "raw", "BANK.csv"), "date,close\n01/02/2024,50\n")

	loader := NewCSVLoader(dir, nil)
	ctx := context.Background()

	_, err := loader.Load(ctx, []contracts.Entity{{Key: "TECH"}})
	assert.True(t, errors.Is(err, ErrMissingColumn))

	_, err = loader.Load(ctx, []contracts.Entity{{Key: "FMCG"}})
	assert.ErrorContains(t, err, "invalid flag")

	_, err = loader.Load(ctx, []contracts.Entity{{Key: "BANK"}})
	assert.ErrorContains(t, err, "invalid date")

	_, err = loader.Load(ctx, []contracts.Entity{{Key: "AUTO"}})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// in-memory repositories for DBLoader
type fakePrices map[string][]*contracts.Price

func (f fakePrices) GetByKeyAndDateRange(_ context.Context, key string, _, _ time.Time) ([]*contracts.Price, error) {
	return f[key], nil
}

func (f fakePrices) SaveBatch(context.Context, []*contracts.Price) error { return nil }

type fakeSignals map[string][]*contracts.SignalFlag

func (f fakeSignals) GetByKeyAndDateRange(_ context.Context, key string, _, _ time.Time) ([]*contracts.SignalFlag, error) {
	if _, ok := f[key]; !ok {
		return nil, errors.New("connection reset")
	}
	return f[key], nil
}

func (f fakeSignals) SaveBatch(context.Context, []*contracts.SignalFlag) error { return nil }

func TestDBLoader_Load(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC) }
	prices := fakePrices{
		"TECH": {{Key: "TECH", Date: d(1), Close: 100}, {Key: "TECH", Date: d(2), Close: 105}},
		"FMCG": {{Key: "FMCG", Date: d(2), Close: 40}},
	}
	signals := fakeSignals{
		"TECH": {{Key: "TECH", Date: d(1), Flag: 1}, {Key: "TECH", Date: d(2), Flag: 0}},
		"FMCG": {{Key: "FMCG", Date: d(2), Flag: -1}},
	}

	loader := NewDBLoader(prices, signals, time.Time{}, time.Time{}, nil)
	out, err := loader.Load(context.Background(), []contracts.Entity{{Key: "TECH"}, {Key: "FMCG"}})
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, "TECH", out[0].Entity.Key)
	assert.InDeltaSlice(t, []float64{0, 0.05}, out[0].Returns, 1e-12)
	assert.Equal(t, []int{1, 0}, out[0].Signals)
	assert.Equal(t, []time.Time{d(2)}, out[1].Dates)
	assert.Equal(t, []int{-1}, out[1].Signals)

	_, err = loader.Load(context.Background(), []contracts.Entity{{Key: "BANK"}})
	assert.ErrorContains(t, err, "load signals BANK")
}

type savedSeries struct {
	prices  []*contracts.Price
	signals []*contracts.SignalFlag
}

func (s *savedSeries) GetByKeyAndDateRange(context.Context, string, time.Time, time.Time) ([]*contracts.Price, error) {
	return s.prices, nil
}

func (s *savedSeries) SaveBatch(_ context.Context, prices []*contracts.Price) error {
	s.prices = append(s.prices, prices...)
	return nil
}

type savedSignals struct{ *savedSeries }

func (s savedSignals) GetByKeyAndDateRange(context.Context, string, time.Time, time.Time) ([]*contracts.SignalFlag, error) {
	return s.signals, nil
}

func (s savedSignals) SaveBatch(_ context.Context, flags []*contracts.SignalFlag) error {
	s.signals = append(s.signals, flags...)
	return nil
}

func TestImporter_Import(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "signals", "TECH_flag.csv"), "flag\n1\n-1\n")
	writeFile(t, filepath.Join(dir, "raw", "TECH.csv"), "date,close\n2024-01-01,100\n2024-01-02,\n2024-01-03,102\n")

	store := &savedSeries{}
	im := NewImporter(NewCSVLoader(dir, nil), store, savedSignals{store}, nil)

	stats, err := im.Import(context.Background(), []contracts.Entity{{Key: "TECH"}})
	require.NoError(t, err)
	assert.Equal(t, []ImportStats{{Entity: "TECH", Prices: 2, Signals: 2, Skipped: 1}}, stats)

	// flag는 최근 가격 날짜에 맞춰 기록
	require.Len(t, store.signals, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), store.signals[0].Date)
	assert.Equal(t, -1, store.signals[1].Flag)
	assert.Equal(t, 102.0, store.prices[1].Close)
}

func TestImporter_MoreFlagsThanPrices(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "signals", "TECH_flag.csv"), "flag\n1\n1\n")
	writeFile(t, filepath.Join(dir, "raw", "TECH.csv"), "date,close\n2024-01-01,100\n")

	store := &savedSeries{}
	_, err := NewImporter(NewCSVLoader(dir, nil), store, savedSignals{store}, nil).
		Import(context.Background(), []contracts.Entity{{Key: "TECH"}})
	assert.ErrorIs(t, err, contracts.ErrMisaligned)
	assert.Empty(t, store.prices)
}
