package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rryowa/vidauth/internal/models"
	"github.com/rryowa/vidauth/internal/util"
)

// Token verification failures. Callers outside this package only ever see
// them wrapped in ErrUnauthorized; the kind is kept for logging.
var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenMalformed    = errors.New("token is malformed")
	ErrTokenBadSignature = errors.New("token signature is invalid")
)

// AccessClaims is the payload of an access token. Subject is the identity id.
type AccessClaims struct {
	Handle      string `json:"handle"`
	Contact     string `json:"contact"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// RefreshClaims carries nothing but the registered claims: profile data
// would go stale over the refresh token's lifetime.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

type TokenOption func(*TokenService)

// WithClock replaces time.Now for both signing and verification.
func WithClock(now func() time.Time) TokenOption {
	return func(ts *TokenService) {
		ts.now = now
	}
}

func NewTokenService(cfg *util.TokenConfig, opts ...TokenOption) *TokenService {
	ts := &TokenService{
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

func (ts *TokenService) AccessTTL() time.Duration  { return ts.accessTTL }
func (ts *TokenService) RefreshTTL() time.Duration { return ts.refreshTTL }

// IssueAccessToken signs the identity's public claims with the access secret.
func (ts *TokenService) IssueAccessToken(identity *models.Identity) (string, error) {
	claims := &AccessClaims{
		Handle:           identity.Handle,
		Contact:          identity.Contact,
		DisplayName:      identity.DisplayName,
		RegisteredClaims: ts.registered(identity.ID, ts.accessTTL),
	}
	return sign(claims, ts.accessSecret)
}

// IssueRefreshToken signs only the identity id with the refresh secret. The
// random jti keeps two tokens minted in the same second distinct.
func (ts *TokenService) IssueRefreshToken(identity *models.Identity) (string, error) {
	claims := &RefreshClaims{
		RegisteredClaims: ts.registered(identity.ID, ts.refreshTTL),
	}
	return sign(claims, ts.refreshSecret)
}

func (ts *TokenService) IssuePair(identity *models.Identity) (models.TokenPair, error) {
	access, err := ts.IssueAccessToken(identity)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := ts.IssueRefreshToken(identity)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (ts *TokenService) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ts.verify(token, ts.accessSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (ts *TokenService) VerifyRefreshToken(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := ts.verify(token, ts.refreshSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (ts *TokenService) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := ts.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

// verify checks the signature before any time-based claim, so a token signed
// with another secret is reported as a bad signature even when expired.
func (ts *TokenService) verify(token string, secret []byte, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(util.JWTLeeWay),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(ts.now),
	)

	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return classifyJWTError(err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	return nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrTokenBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
}

func sign(claims jwt.Claims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signed string: %w", err)
	}
	return signedToken, nil
}
