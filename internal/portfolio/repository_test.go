package portfolio

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-rotator/internal/contracts"
	"github.com/wonny/aegis-rotator/pkg/config"
	"github.com/wonny/aegis-rotator/pkg/database"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	db, err := database.New(&config.Config{Database: config.DatabaseConfig{URL: url, Enabled: true, MaxConns: 2, MinConns: 1}})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}

func TestRepository_SaveAndGetWeights(t *testing.T) {
	db := setupDB(t)
	repo := NewRepository(db.Pool)
	ctx := context.Background()

	runID := uuid.NewString()
	m := &contracts.WeightMatrix{
		Entities: []string{"TECH", "FMCG"},
		Rows: []contracts.WeightRow{
			{Day: 0, Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Weights: []float64{0.5, 0.5}, Fallback: true, FallbackReason: "insufficient_sample"},
			{Day: 1, Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Weights: []float64{0.3, 0.7}},
		},
	}

	require.NoError(t, repo.CreateRun(ctx, runID, "hash", m.Entities))
	require.NoError(t, repo.SaveWeights(ctx, runID, m))
	// 같은 run 재저장은 교체
	require.NoError(t, repo.SaveWeights(ctx, runID, m))

	got, err := repo.GetWeights(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, m.Entities, got.Entities)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "insufficient_sample", got.Rows[0].FallbackReason)
	assert.Equal(t, []float64{0.3, 0.7}, got.Rows[1].Weights)
}

func TestRepository_UnknownRun(t *testing.T) {
	db := setupDB(t)
	_, err := NewRepository(db.Pool).GetWeights(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrRunNotFound)
}
