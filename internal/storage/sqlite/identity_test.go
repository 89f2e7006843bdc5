package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rryowa/vidauth/internal/migrations"
	"github.com/rryowa/vidauth/internal/storage"
	"github.com/rryowa/vidauth/internal/storage/storagetest"
	"github.com/rryowa/vidauth/internal/util"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	err = migrations.RunMigrations(context.Background(), db, util.StorageDriverSQLite, zap.NewNop().Sugar())
	require.NoError(t, err)
	return db
}

func TestIdentityRepository(t *testing.T) {
	storagetest.RunIdentityRepositoryTests(t, func(t *testing.T) storage.IdentityRepository {
		return NewIdentityRepository(setupDB(t))
	})
}

func TestIdentityRepository_PersistsTimestamps(t *testing.T) {
	repo := NewIdentityRepository(setupDB(t))
	identity := storagetest.NewIdentity("grace")
	require.NoError(t, repo.CreateIdentity(context.Background(), identity))

	got, err := repo.GetIdentityByID(context.Background(), identity.ID)
	require.NoError(t, err)
	require.True(t, identity.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", identity.CreatedAt, got.CreatedAt)
}
