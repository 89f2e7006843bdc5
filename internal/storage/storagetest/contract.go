// Package storagetest holds the behavioural contract every
// storage.IdentityRepository implementation is tested against.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rryowa/vidauth/internal/models"
	"github.com/rryowa/vidauth/internal/storage"
)

func NewIdentity(handle string) *models.Identity {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Identity{
		ID:           uuid.NewString(),
		Handle:       handle,
		Contact:      handle + "@example.com",
		DisplayName:  "Display " + handle,
		PasswordHash: "hash-" + handle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RunIdentityRepositoryTests runs the contract against repositories produced
// by newRepo; each subtest receives a fresh, empty repository.
func RunIdentityRepositoryTests(t *testing.T, newRepo func(t *testing.T) storage.IdentityRepository) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		identity := NewIdentity("alice")
		require.NoError(t, repo.CreateIdentity(ctx, identity))

		byID, err := repo.GetIdentityByID(ctx, identity.ID)
		require.NoError(t, err)
		assert.Equal(t, identity.Handle, byID.Handle)
		assert.Equal(t, identity.Contact, byID.Contact)
		assert.Equal(t, identity.DisplayName, byID.DisplayName)
		assert.Equal(t, identity.PasswordHash, byID.PasswordHash)
		assert.Empty(t, byID.RefreshToken)

		byHandle, err := repo.GetIdentityByLogin(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, identity.ID, byHandle.ID)

		byContact, err := repo.GetIdentityByLogin(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, identity.ID, byContact.ID)
	})

	t.Run("not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetIdentityByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrIdentityNotFound)

		_, err = repo.GetIdentityByLogin(ctx, "nobody")
		assert.ErrorIs(t, err, storage.ErrIdentityNotFound)

		assert.ErrorIs(t, repo.SetRefreshToken(ctx, uuid.NewString(), "t"), storage.ErrIdentityNotFound)
		assert.ErrorIs(t, repo.UpdatePassword(ctx, uuid.NewString(), "h"), storage.ErrIdentityNotFound)
	})

	t.Run("duplicate handle or contact", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.CreateIdentity(ctx, NewIdentity("bob")))

		sameHandle := NewIdentity("bob")
		sameHandle.Contact = "other@example.com"
		assert.ErrorIs(t, repo.CreateIdentity(ctx, sameHandle), storage.ErrIdentityExists)

		sameContact := NewIdentity("bobby")
		sameContact.Contact = "bob@example.com"
		assert.ErrorIs(t, repo.CreateIdentity(ctx, sameContact), storage.ErrIdentityExists)
	})

	t.Run("update password and profile", func(t *testing.T) {
		repo := newRepo(t)
		identity := NewIdentity("carol")
		require.NoError(t, repo.CreateIdentity(ctx, identity))
		require.NoError(t, repo.CreateIdentity(ctx, NewIdentity("dave")))

		require.NoError(t, repo.UpdatePassword(ctx, identity.ID, "new-hash"))
		updated, err := repo.UpdateProfile(ctx, identity.ID, "Carol C", "carol@new.example.com")
		require.NoError(t, err)
		assert.Equal(t, "Carol C", updated.DisplayName)
		assert.Equal(t, "carol@new.example.com", updated.Contact)
		assert.Equal(t, "new-hash", updated.PasswordHash)

		_, err = repo.UpdateProfile(ctx, identity.ID, "Carol C", "dave@example.com")
		assert.ErrorIs(t, err, storage.ErrIdentityExists)
	})

	t.Run("swap refresh token", func(t *testing.T) {
		repo := newRepo(t)
		identity := NewIdentity("erin")
		require.NoError(t, repo.CreateIdentity(ctx, identity))

		assert.ErrorIs(t, repo.SwapRefreshToken(ctx, identity.ID, "", "first"), storage.ErrRefreshTokenMismatch)

		require.NoError(t, repo.SetRefreshToken(ctx, identity.ID, "first"))
		require.NoError(t, repo.SwapRefreshToken(ctx, identity.ID, "first", "second"))
		assert.ErrorIs(t, repo.SwapRefreshToken(ctx, identity.ID, "first", "third"), storage.ErrRefreshTokenMismatch)

		got, err := repo.GetIdentityByID(ctx, identity.ID)
		require.NoError(t, err)
		assert.Equal(t, "second", got.RefreshToken)

		require.NoError(t, repo.ClearRefreshToken(ctx, identity.ID))
		assert.ErrorIs(t, repo.SwapRefreshToken(ctx, identity.ID, "second", "fourth"), storage.ErrRefreshTokenMismatch)
	})

	t.Run("concurrent swaps have a single winner", func(t *testing.T) {
		repo := newRepo(t)
		identity := NewIdentity("frank")
		require.NoError(t, repo.CreateIdentity(ctx, identity))
		require.NoError(t, repo.SetRefreshToken(ctx, identity.ID, "current"))

		const workers = 16
		start := make(chan struct{})
		results := make(chan error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(next string) {
				defer wg.Done()
				<-start
				results <- repo.SwapRefreshToken(ctx, identity.ID, "current", next)
			}(uuid.NewString())
		}
		close(start)
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrRefreshTokenMismatch):
			default:
				t.Fatalf("unexpected swap error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
	})
}
