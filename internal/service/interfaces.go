package service

import "context"

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// LoginLimiter counts failed logins per normalized login. AuthService treats
// a nil limiter as "never blocked".
type LoginLimiter interface {
	Blocked(ctx context.Context, login string) (bool, error)
	RegisterFailure(ctx context.Context, login string) error
	Reset(ctx context.Context, login string) error
}
