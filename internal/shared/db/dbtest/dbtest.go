// Package dbtest gives integration tests a private Postgres schema with the
// migrations applied. Tests skip when DATABASE_URL is not set.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sukirti1329/s3-system/internal/shared/db"
	"github.com/sukirti1329/s3-system/migrations"
)

func Open(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := db.OpenPostgres(ctx, db.PostgresConfig{DatabaseURL: url, MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	schema := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA %s CASCADE", schema))
	})

	pool, err := db.OpenPostgres(ctx, db.PostgresConfig{
		DatabaseURL:     url,
		ApplicationName: "s3-system-test",
		SearchPath:      schema,
	})
	require.NoError(t, err)
	// registered after the schema drop so it runs first
	t.Cleanup(func() { _ = pool.Close() })

	require.NoError(t, migrations.Apply(ctx, pool))
	return pool
}
