// Package sqlite stores identities in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rryowa/vidauth/internal/models"
	"github.com/rryowa/vidauth/internal/storage"
)

type IdentityRepository struct {
	db storage.DBTX
}

func NewIdentityRepository(db *sql.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

var _ storage.IdentityRepository = (*IdentityRepository)(nil)

func (r *IdentityRepository) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (id, handle, contact, display_name, password_hash, refresh_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?);`,
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
		return fmt.Errorf("couldn't insert identity: %w", err)
	}
	return nil
}

func (r *IdentityRepository) GetIdentityByID(ctx context.Context, id string) (*models.Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+storage.IdentityColumns+`
		FROM identities
		WHERE id = ?;`,
		id,
	)
	identity, err := storage.ScanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("get identity by id: %w", err)
	}
	return identity, nil
}

func (r *IdentityRepository) GetIdentityByLogin(ctx context.Context, login string) (*models.Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+storage.IdentityColumns+`
		FROM identities
		WHERE handle = ?1 OR contact = ?1
		LIMIT 1;`,
		login,
	)
	identity, err := storage.ScanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("get identity by login: %w", err)
	}
	return identity, nil
}

func (r *IdentityRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE identities
		SET password_hash = ?, updated_at = ?
		WHERE id = ?;`,
		passwordHash, now(), id,
	)
	if err != nil {
		return fmt.Errorf("couldn't update password: %w", err)
	}
	return storage.ExpectOneRow(result, storage.ErrIdentityNotFound)
}

func (r *IdentityRepository) UpdateProfile(ctx context.Context, id, displayName, contact string) (*models.Identity, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE identities
		SET display_name = ?, contact = ?, updated_at = ?
		WHERE id = ?;`,
		displayName, contact, now(), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrIdentityExists
		}
		return nil, fmt.Errorf("couldn't update profile: %w", err)
	}
	if err := storage.ExpectOneRow(result, storage.ErrIdentityNotFound); err != nil {
		return nil, err
	}
	return r.GetIdentityByID(ctx, id)
}

func (r *IdentityRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE identities
		SET refresh_token = ?, updated_at = ?
		WHERE id = ?;`,
		token, now(), id,
	)
	if err != nil {
		return fmt.Errorf("couldn't set refresh token: %w", err)
	}
	return storage.ExpectOneRow(result, storage.ErrIdentityNotFound)
}

// SwapRefreshToken is a single conditional UPDATE; SQLite's database-level
// write lock makes the compare and the write atomic.
func (r *IdentityRepository) SwapRefreshToken(ctx context.Context, id, oldToken, newToken string) error {
	if oldToken == "" {
		return storage.ErrRefreshTokenMismatch
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE identities
		SET refresh_token = ?, updated_at = ?
		WHERE id = ? AND refresh_token = ?;`,
		newToken, now(), id, oldToken,
	)
	if err != nil {
		return fmt.Errorf("couldn't swap refresh token: %w", err)
	}
	return storage.ExpectOneRow(result, storage.ErrRefreshTokenMismatch)
}

func (r *IdentityRepository) ClearRefreshToken(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE identities
		SET refresh_token = NULL, updated_at = ?
		WHERE id = ?;`,
		now(), id,
	)
	if err != nil {
		return fmt.Errorf("couldn't clear refresh token: %w", err)
	}
	return storage.ExpectOneRow(result, storage.ErrIdentityNotFound)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func now() time.Time {
	return time.Now().UTC()
}
