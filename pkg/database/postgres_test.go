package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-rotator/pkg/config"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := New(&config.Config{Database: config.DatabaseConfig{
		URL:             url,
		Enabled:         true,
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	}})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestNew_BadURL(t *testing.T) {
	_, err := New(&config.Config{Database: config.DatabaseConfig{URL: "::not a url::"}})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	db := testDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := db.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Greater(t, status.Stats.MaxConns, int32(0))
}

func TestEnsureSchemaAndRollback(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.EnsureSchema(ctx))

	// fn 에러 시 아무것도 커밋되지 않아야 함
	sentinel := errors.New("abort")
	err := WithTx(ctx, db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rotator.runs (run_id, config_hash, entities) VALUES ($1, $2, $3)`,
			"tx-rollback-test", "hash", []string{"TECH"}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	var n int
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rotator.runs WHERE run_id = 'tx-rollback-test'`).Scan(&n))
	assert.Equal(t, 0, n)
}
