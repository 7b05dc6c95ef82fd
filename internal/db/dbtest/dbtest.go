// Package dbtest gives integration tests a migrated Postgres schema of their
// own. Tests are skipped unless TEST_POSTGRES_DSN is set.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/sashanth17/medicare-scheduling/internal/db"
)

const EnvDSN = "TEST_POSTGRES_DSN"

// NewPool creates a throwaway schema, applies the embedded migrations to it
// and returns a pool whose search_path points there. The schema is dropped
// when the test ends.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvDSN)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := db.ConnectPostgres(ctx, dsn)
	require.NoError(t, err)

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.MaxConns = 20
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		if _, err := admin.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		admin.Close()
	})

	_, err = db.NewMigrator(pool).Up(ctx)
	require.NoError(t, err)

	return pool
}

// InsertUser stores a user and returns its id.
func InsertUser(t *testing.T, pool *pgxpool.Pool, username, firstName, lastName, phone string) int64 {
	t.Helper()

	var phoneArg *string
	if phone != "" {
		phoneArg = &phone
	}

	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO users (username, first_name, last_name, phone_number)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, username, firstName, lastName, phoneArg).Scan(&id)
	require.NoError(t, err)
	return id
}

// InsertDoctor stores a user plus a doctor row. Empty start and end leave the
// service window unset; otherwise they are "15:04" clock values.
func InsertDoctor(t *testing.T, pool *pgxpool.Pool, firstName, lastName, start, end string) int64 {
	t.Helper()

	username := fmt.Sprintf("dr.%s.%s", strings.ToLower(lastName), uuid.NewString()[:8])
	userID := InsertUser(t, pool, username, firstName, lastName, "")

	var startArg, endArg *string
	if start != "" && end != "" {
		startArg, endArg = &start, &end
	}

	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO doctors (user_id, service_start, service_end)
		VALUES ($1, $2::time, $3::time)
		RETURNING id
	`, userID, startArg, endArg).Scan(&id)
	require.NoError(t, err)
	return id
}
