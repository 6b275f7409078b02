package main

import (
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukirti1329/s3-system/internal/deadletter"
	"github.com/sukirti1329/s3-system/internal/metadata"
)

func TestOpenStoresUsesPostgresDeadLettersWhenPoolIsOpen(t *testing.T) {
	// sql.Open does not connect; the stores only hold the pool.
	pg, err := sql.Open("pgx", "postgres://nobody@127.0.0.1:1/none?connect_timeout=1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })

	store, dl, err := openStores(pg, "memory")
	require.NoError(t, err)
	assert.IsType(t, &metadata.InMemoryStore{}, store)
	assert.IsType(t, &deadletter.PostgresStore{}, dl)
}

func TestOpenStoresWithoutPostgres(t *testing.T) {
	store, dl, err := openStores(nil, "memory")
	require.NoError(t, err)
	assert.IsType(t, &metadata.InMemoryStore{}, store)
	assert.IsType(t, &deadletter.MemoryStore{}, dl)
}
