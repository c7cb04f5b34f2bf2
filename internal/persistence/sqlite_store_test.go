package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	_ "modernc.org/sqlite"

	"github.com/petrijr/jobledger/pkg/api"
)

func openTestSQLite(t *testing.T, dsn string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func newTestSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()

	store, err := NewSQLiteStore(context.Background(), openTestSQLite(t, ":memory:"))
	require.NoError(t, err)
	return store
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) Store {
		return newTestSQLiteStore(t)
	}})
}

func TestSQLiteStore_SchemaIsReentrant(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	db := openTestSQLite(t, path)
	store, err := NewSQLiteStore(ctx, db)
	require.NoError(t, err)

	id := api.NewJobID()
	require.NoError(t, store.CreateJob(ctx, &api.Job{ID: id, Owner: "alice", Status: api.JobCreated}))
	require.NoError(t, db.Close())

	reopened, err := NewSQLiteStore(ctx, openTestSQLite(t, path))
	require.NoError(t, err)

	job, err := reopened.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", job.Owner)
}

func TestSQLiteStore_RejectsUnknownStatus(t *testing.T) {
	store := newTestSQLiteStore(t)

	err := store.CreateJob(context.Background(), &api.Job{ID: api.NewJobID(), Owner: "x", Status: "PAUSED"})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, api.ErrJobExists)
}

func TestSQLiteStore_ClosedDatabaseIsUnavailable(t *testing.T) {
	db := openTestSQLite(t, ":memory:")
	store, err := NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = store.GetJob(context.Background(), api.NewJobID())
	assert.ErrorIs(t, err, api.ErrStoreUnavailable)
	assert.True(t, api.Retryable(err))
}
