package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rryowa/vidauth/internal/models"
	"github.com/rryowa/vidauth/internal/password"
	"github.com/rryowa/vidauth/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenMismatch      = errors.New("refresh token does not match current token")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
	ErrInvalidInput       = errors.New("invalid input")
)

type AuthService struct {
	tokens     *TokenService
	hasher     PasswordHasher
	identities storage.IdentityRepository
	limiter    LoginLimiter
	log        *zap.SugaredLogger

	decoyOnce sync.Once
	decoyHash string
}

func NewAuthService(
	tokens *TokenService,
	hasher PasswordHasher,
	identities storage.IdentityRepository,
	limiter LoginLimiter,
	log *zap.SugaredLogger,
) *AuthService {
	return &AuthService{
		tokens:     tokens,
		hasher:     hasher,
		identities: identities,
		limiter:    limiter,
		log:        log,
	}
}

func (s *AuthService) Tokens() *TokenService { return s.tokens }

func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.Identity, error) {
	handle := normalizeLogin(req.Handle)
	contact := normalizeLogin(req.Contact)
	displayName := strings.TrimSpace(req.DisplayName)

	if handle == "" || contact == "" || displayName == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: all fields are required", ErrInvalidInput)
	}
	if err := validateContact(contact); err != nil {
		return nil, err
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	identity := &models.Identity{
		ID:           uuid.NewString(),
		Handle:       handle,
		Contact:      contact,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.identities.CreateIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}

	s.log.Infow("Identity registered", "identityID", identity.ID, "handle", identity.Handle)
	return identity, nil
}

// Login authenticates by handle or contact and makes the freshly minted
// refresh token the only live one for the identity.
func (s *AuthService) Login(ctx context.Context, login, password string) (*models.Identity, models.TokenPair, error) {
	login = normalizeLogin(login)
	if login == "" || password == "" {
		return nil, models.TokenPair{}, ErrInvalidCredentials
	}

	if s.blocked(ctx, login) {
		s.log.Warnw("Login blocked by limiter", "login", login)
		return nil, models.TokenPair{}, ErrTooManyAttempts
	}

	identity, err := s.identities.GetIdentityByLogin(ctx, login)
	switch {
	case errors.Is(err, storage.ErrIdentityNotFound):
		// burn a bcrypt comparison so unknown logins cost the same as bad passwords
		s.hasher.Verify(password, s.decoy())
		s.registerFailure(ctx, login)
		return nil, models.TokenPair{}, ErrInvalidCredentials
	case err != nil:
		return nil, models.TokenPair{}, fmt.Errorf("get identity by login: %w", err)
	}

	if !s.hasher.Verify(password, identity.PasswordHash) {
		s.registerFailure(ctx, login)
		s.log.Debugw("Password mismatch", "identityID", identity.ID)
		return nil, models.TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(identity)
	if err != nil {
		return nil, models.TokenPair{}, err
	}
	if err := s.identities.SetRefreshToken(ctx, identity.ID, pair.RefreshToken); err != nil {
		return nil, models.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	s.resetFailures(ctx, login)

	s.log.Infow("Identity logged in", "identityID", identity.ID)
	return identity, pair, nil
}

// RefreshTokens rotates the pair bound to refreshToken. Exactly one of any
// number of concurrent calls presenting the same token succeeds.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*models.Identity, models.TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.log.Debugw("Refresh token rejected", "reason", err)
		return nil, models.TokenPair{}, unauthorized(err)
	}

	identity, err := s.identities.GetIdentityByID(ctx, claims.Subject)
	switch {
	case errors.Is(err, storage.ErrIdentityNotFound):
		s.log.Debugw("Refresh token for unknown identity", "identityID", claims.Subject)
		return nil, models.TokenPair{}, unauthorized(err)
	case err != nil:
		return nil, models.TokenPair{}, fmt.Errorf("get identity: %w", err)
	}

	if identity.RefreshToken == "" ||
		subtle.ConstantTimeCompare([]byte(identity.RefreshToken), []byte(refreshToken)) != 1 {
		s.log.Warnw("Superseded refresh token presented", "identityID", identity.ID)
		return nil, models.TokenPair{}, unauthorized(ErrTokenMismatch)
	}

	pair, err := s.tokens.IssuePair(identity)
	if err != nil {
		return nil, models.TokenPair{}, err
	}

	err = s.identities.SwapRefreshToken(ctx, identity.ID, refreshToken, pair.RefreshToken)
	switch {
	case errors.Is(err, storage.ErrRefreshTokenMismatch):
		s.log.Warnw("Lost refresh token rotation race", "identityID", identity.ID)
		return nil, models.TokenPair{}, unauthorized(ErrTokenMismatch)
	case err != nil:
		return nil, models.TokenPair{}, fmt.Errorf("swap refresh token: %w", err)
	}

	s.log.Debugw("Refresh token rotated", "identityID", identity.ID)
	return identity, pair, nil
}

func (s *AuthService) Logout(ctx context.Context, identityID string) error {
	err := s.identities.ClearRefreshToken(ctx, identityID)
	if errors.Is(err, storage.ErrIdentityNotFound) {
		return unauthorized(err)
	}
	if err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	s.log.Infow("Identity logged out", "identityID", identityID)
	return nil
}

// Authenticate verifies an access token. Every failure is ErrUnauthorized;
// the underlying kind stays in the chain for logging.
func (s *AuthService) Authenticate(accessToken string) (*AccessClaims, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, unauthorized(err)
	}
	return claims, nil
}

func (s *AuthService) CurrentIdentity(ctx context.Context, identityID string) (*models.Identity, error) {
	identity, err := s.identities.GetIdentityByID(ctx, identityID)
	if errors.Is(err, storage.ErrIdentityNotFound) {
		return nil, unauthorized(err)
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, identityID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return fmt.Errorf("%w: old and new password are required", ErrInvalidInput)
	}

	identity, err := s.CurrentIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(oldPassword, identity.PasswordHash) {
		return fmt.Errorf("%w: old password is incorrect", ErrInvalidInput)
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.identities.UpdatePassword(ctx, identityID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.log.Infow("Password changed", "identityID", identityID)
	return nil
}

// UpdateAccount changes display name and contact. Blank fields keep their
// current value; the password hash is never touched.
func (s *AuthService) UpdateAccount(ctx context.Context, identityID string, req models.UpdateAccountRequest) (*models.Identity, error) {
	displayName := strings.TrimSpace(req.DisplayName)
	contact := normalizeLogin(req.Contact)
	if displayName == "" && contact == "" {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}

	current, err := s.CurrentIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = current.DisplayName
	}
	if contact == "" {
		contact = current.Contact
	} else if err := validateContact(contact); err != nil {
		return nil, err
	}

	updated, err := s.identities.UpdateProfile(ctx, identityID, displayName, contact)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return updated, nil
}

func (s *AuthService) blocked(ctx context.Context, login string) bool {
	if s.limiter == nil {
		return false
	}
	blocked, err := s.limiter.Blocked(ctx, login)
	if err != nil {
		s.log.Errorw("Login limiter unavailable", "error", err)
		return false
	}
	return blocked
}

func (s *AuthService) registerFailure(ctx context.Context, login string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.RegisterFailure(ctx, login); err != nil {
		s.log.Errorw("Failed to register login failure", "error", err)
	}
}

func (s *AuthService) resetFailures(ctx context.Context, login string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, login); err != nil {
		s.log.Errorw("Failed to reset login failures", "error", err)
	}
}

// hashPassword reports passwords bcrypt cannot take as ErrInvalidInput.
func (s *AuthService) hashPassword(pw string) (string, error) {
	hash, err := s.hasher.Hash(pw)
	switch {
	case errors.Is(err, password.ErrEmptyPassword), errors.Is(err, password.ErrPasswordTooLong):
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	case err != nil:
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func (s *AuthService) decoy() string {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			s.log.Errorw("Failed to build decoy hash", "error", err)
			return
		}
		s.decoyHash = hash
	})
	return s.decoyHash
}

func unauthorized(err error) error {
	return fmt.Errorf("%w: %w", ErrUnauthorized, err)
}

func normalizeLogin(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func validateContact(contact string) error {
	addr, err := mail.ParseAddress(contact)
	if err != nil || addr.Address != contact {
		return fmt.Errorf("%w: contact must be an email address", ErrInvalidInput)
	}
	return nil
}
