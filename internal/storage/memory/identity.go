package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/vidauth/internal/models"
	"github.com/rryowa/vidauth/internal/storage"
)

// InMemoryIdentityManager keeps identities in a map guarded by a single
// mutex, which also serializes refresh-token swaps.
type InMemoryIdentityManager struct {
	mu         sync.RWMutex
	identities map[string]models.Identity
	log        *zap.SugaredLogger
}

func NewIdentityRepository(log *zap.SugaredLogger) *InMemoryIdentityManager {
	return &InMemoryIdentityManager{
		identities: make(map[string]models.Identity),
		log:        log,
	}
}

var _ storage.IdentityRepository = (*InMemoryIdentityManager)(nil)

func (m *InMemoryIdentityManager) CreateIdentity(_ context.Context, identity *models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[identity.ID]; ok {
		return storage.ErrIdentityExists
	}
	for _, existing := range m.identities {
		if existing.Handle == identity.Handle || existing.Contact == identity.Contact {
			return storage.ErrIdentityExists
		}
	}

	m.identities[identity.ID] = *identity
	m.log.Debugw("Identity created", "identityID", identity.ID, "handle", identity.Handle)
	return nil
}

func (m *InMemoryIdentityManager) GetIdentityByID(_ context.Context, id string) (*models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	identity, ok := m.identities[id]
	if !ok {
		return nil, storage.ErrIdentityNotFound
	}
	return &identity, nil
}

func (m *InMemoryIdentityManager) GetIdentityByLogin(_ context.Context, login string) (*models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, identity := range m.identities {
		if identity.Handle == login || identity.Contact == login {
			return &identity, nil
		}
	}
	return nil, storage.ErrIdentityNotFound
}

func (m *InMemoryIdentityManager) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return m.update(id, func(identity *models.Identity) error {
		identity.PasswordHash = passwordHash
		return nil
	})
}

func (m *InMemoryIdentityManager) UpdateProfile(_ context.Context, id, displayName, contact string) (*models.Identity, error) {
	var updated models.Identity
	err := m.update(id, func(identity *models.Identity) error {
		for otherID, other := range m.identities {
			if otherID != id && other.Contact == contact {
				return storage.ErrIdentityExists
			}
		}
		identity.DisplayName = displayName
		identity.Contact = contact
		updated = *identity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (m *InMemoryIdentityManager) SetRefreshToken(_ context.Context, id, token string) error {
	return m.update(id, func(identity *models.Identity) error {
		identity.RefreshToken = token
		return nil
	})
}

func (m *InMemoryIdentityManager) SwapRefreshToken(_ context.Context, id, oldToken, newToken string) error {
	return m.update(id, func(identity *models.Identity) error {
		if oldToken == "" || identity.RefreshToken != oldToken {
			m.log.Debugw("Refresh token swap rejected", "identityID", id)
			return storage.ErrRefreshTokenMismatch
		}
		identity.RefreshToken = newToken
		return nil
	})
}

func (m *InMemoryIdentityManager) ClearRefreshToken(_ context.Context, id string) error {
	return m.update(id, func(identity *models.Identity) error {
		identity.RefreshToken = ""
		return nil
	})
}

// update applies fn to a copy under the write lock and stores it only when fn
// succeeds.
func (m *InMemoryIdentityManager) update(id string, fn func(identity *models.Identity) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[id]
	if !ok {
		return storage.ErrIdentityNotFound
	}
	if err := fn(&identity); err != nil {
		return err
	}
	identity.UpdatedAt = time.Now().UTC()
	m.identities[id] = identity
	return nil
}
