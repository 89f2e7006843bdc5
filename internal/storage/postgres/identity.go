package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/rryowa/vidauth/internal/models"
	"github.com/rryowa/vidauth/internal/storage"
)

type IdentityRepository struct {
	db storage.DBTX
}

func NewIdentityRepository(db storage.DBTX) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	query := `INSERT INTO identities (id, handle, contact, display_name, password_hash, refresh_token, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		identity.ID,
		identity.Handle,
		identity.Contact,
		identity.DisplayName,
		identity.PasswordHash,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrIdentityExists
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

func (r *IdentityRepository) GetIdentityByID(ctx context.Context, id string) (*models.Identity, error) {
	query := `SELECT ` + storage.IdentityColumns + ` FROM identities WHERE id = $1`
	identity, err := storage.ScanIdentity(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get identity by id: %w", err)
	}
	return identity, nil
}

func (r *IdentityRepository) GetIdentityByLogin(ctx context.Context, login string) (*models.Identity, error) {
	query := `SELECT ` + storage.IdentityColumns + ` FROM identities WHERE handle = $1 OR contact = $1 LIMIT 1`
	identity, err := storage.ScanIdentity(r.db.QueryRowContext(ctx, query, login))
	if err != nil {
		return nil, fmt.Errorf("get identity by login: %w", err)
	}
	return identity, nil
}

func (r *IdentityRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, passwordHash, now())
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return storage.ExpectOneRow(result, storage.ErrIdentityNotFound)
}

func (r *IdentityRepository) UpdateProfile(ctx context.Context, id, displayName, contact string) (*models.Identity, error) {
	query := `UPDATE identities SET display_name = $2, contact = $3, updated_at = $4 WHERE id = $1 RETURNING ` + storage.IdentityColumns
	identity, err := storage.ScanIdentity(r.db.QueryRowContext(ctx, query, id, displayName, contact, now()))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrIdentityExists
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return identity, nil
}

func (r *IdentityRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	query := `UPDATE identities SET refresh_token = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, token, now())
	if err != nil {
		return fmt.Errorf("failed to set refresh token: %w", err)
	}
	return storage.ExpectOneRow(result, storage.ErrIdentityNotFound)
}

// SwapRefreshToken relies on the row lock taken by UPDATE: concurrent swaps
// with the same oldToken are serialized and only the first matches.
func (r *IdentityRepository) SwapRefreshToken(ctx context.Context, id, oldToken, newToken string) error {
	if oldToken == "" {
		return storage.ErrRefreshTokenMismatch
	}
	query := `UPDATE identities SET refresh_token = $3, updated_at = $4 WHERE id = $1 AND refresh_token = $2`
	result, err := r.db.ExecContext(ctx, query, id, oldToken, newToken, now())
	if err != nil {
		return fmt.Errorf("failed to swap refresh token: %w", err)
	}
	return storage.ExpectOneRow(result, storage.ErrRefreshTokenMismatch)
}

func (r *IdentityRepository) ClearRefreshToken(ctx context.Context, id string) error {
	query := `UPDATE identities SET refresh_token = NULL, updated_at = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, now())
	if err != nil {
		return fmt.Errorf("failed to clear refresh token: %w", err)
	}
	return storage.ExpectOneRow(result, storage.ErrIdentityNotFound)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

func now() time.Time {
	return time.Now().UTC()
}
