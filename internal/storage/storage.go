package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rryowa/vidauth/internal/models"
)

var (
	ErrIdentityNotFound     = errors.New("identity not found")
	ErrIdentityExists       = errors.New("identity already exists")
	ErrRefreshTokenMismatch = errors.New("refresh token does not match stored value")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IdentityRepository persists identities and the pointer to each identity's
// live refresh token.
//
// SwapRefreshToken is the rotation primitive: it replaces the stored token
// only while it still equals oldToken, and reports ErrRefreshTokenMismatch
// otherwise. Implementations must make the compare and the write atomic.
type IdentityRepository interface {
	CreateIdentity(ctx context.Context, identity *models.Identity) error
	GetIdentityByID(ctx context.Context, id string) (*models.Identity, error)
	GetIdentityByLogin(ctx context.Context, login string) (*models.Identity, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateProfile(ctx context.Context, id, displayName, contact string) (*models.Identity, error)
	SetRefreshToken(ctx context.Context, id, token string) error
	SwapRefreshToken(ctx context.Context, id, oldToken, newToken string) error
	ClearRefreshToken(ctx context.Context, id string) error
}

const IdentityColumns = `id, handle, contact, display_name, password_hash, refresh_token, created_at, updated_at`

type Scanner interface {
	Scan(dest ...any) error
}

func ScanIdentity(row Scanner) (*models.Identity, error) {
	var (
		identity models.Identity
		refresh  sql.NullString
	)
	err := row.Scan(
		&identity.ID,
		&identity.Handle,
		&identity.Contact,
		&identity.DisplayName,
		&identity.PasswordHash,
		&refresh,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	identity.RefreshToken = refresh.String
	return &identity, nil
}

// ExpectOneRow turns a zero-row update into notFound.
func ExpectOneRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
