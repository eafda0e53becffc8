//go:build integration

package database_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/database"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "rekko_migrate",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://test:test@%s:%s/rekko_migrate?sslmode=disable", host, port.Port())
}

func TestMigrator_UpDownUp(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	cfg := database.DefaultPoolConfig(dsn)
	db, err := database.OpenSQL(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	migrator, err := database.NewMigrator(db, "rekko_migrate")
	require.NoError(t, err)

	st, err := migrator.Status()
	require.NoError(t, err)
	assert.True(t, st.Pending(), "fresh database is behind")
	assert.Zero(t, st.Current)

	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Up(), "no change is not an error")

	latest, err := migrator.Latest()
	require.NoError(t, err)
	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	for _, table := range []string{
		"tenants", "api_keys", "cache_entries", "rate_limit_counters",
		"liveness_sessions", "liveness_captures", "webhooks", "webhook_queue",
		"plans", "usage_daily",
	} {
		var exists bool
		err := db.QueryRowContext(ctx, `SELECT to_regclass('public.' || $1) IS NOT NULL`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}

	require.NoError(t, migrator.Down())
	version, _, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, latest-1, version)

	st, err = migrator.Status()
	require.NoError(t, err)
	assert.True(t, st.Pending())

	require.NoError(t, migrator.Close())

	// MigrateUp reopens the DSN and brings it back to latest
	require.NoError(t, database.MigrateUp(ctx, dsn, slog.New(slog.NewTextHandler(io.Discard, nil))))

	pool, err := database.NewPool(ctx, cfg)
	require.NoError(t, err)
	defer pool.Close()

	var seeded int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM plans`).Scan(&seeded))
	assert.Positive(t, seeded, "plans are seeded by the usage migration")
}
