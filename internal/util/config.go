package util

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

//nolint:gochecknoglobals // here its ok
var once sync.Once

func init() {
	once.Do(func() {
		if err := godotenv.Load(".env"); err != nil {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	})
}

const (
	defaultServerAddr      = "localhost:8080"
	defaultWriteTimeout    = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultGracefulTimeout = 5 * time.Second

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 240 * time.Hour

	defaultBcryptCost = 10

	defaultRateLimit     = 5
	defaultRateInterval  = 15 * time.Minute
	defaultRateBlockTime = 15 * time.Minute

	defaultSQLitePath = "vidauth.db"

	defaultClientServerURL      = "http://localhost:8080/api/v1"
	defaultClientRefreshTimeout = 10 * time.Second
	defaultClientRequestTimeout = 30 * time.Second

	JWTLeeWay = 5 * time.Second
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
	StorageDriverMemory   = "memory"
)

type ServerConfig struct {
	ServerAddr      string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
}

func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:      getEnvOrDefault("SERVER_ADDRESS", defaultServerAddr),
		WriteTimeout:    parseDurationOrDefault("WRITE_TIMEOUT", defaultWriteTimeout),
		ReadTimeout:     parseDurationOrDefault("READ_TIMEOUT", defaultReadTimeout),
		IdleTimeout:     parseDurationOrDefault("IDLE_TIMEOUT", defaultIdleTimeout),
		GracefulTimeout: parseDurationOrDefault("GRACEFUL_TIMEOUT", defaultGracefulTimeout),
	}
}

// TokenConfig holds the signing material for both token kinds. The two
// secrets must differ so a token of one kind never verifies as the other.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

func NewTokenConfig() *TokenConfig {
	return &TokenConfig{
		AccessSecret:  []byte(os.Getenv("ACCESS_TOKEN_SECRET")),
		RefreshSecret: []byte(os.Getenv("REFRESH_TOKEN_SECRET")),
		AccessTTL:     parseDurationOrDefault("ACCESS_TOKEN_TTL", defaultAccessTTL),
		RefreshTTL:    parseDurationOrDefault("REFRESH_TOKEN_TTL", defaultRefreshTTL),
	}
}

func (c *TokenConfig) Validate() error {
	if len(c.AccessSecret) == 0 {
		return errors.New("ACCESS_TOKEN_SECRET is not set")
	}
	if len(c.RefreshSecret) == 0 {
		return errors.New("REFRESH_TOKEN_SECRET is not set")
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL (%s) must be longer than ACCESS_TOKEN_TTL (%s)", c.RefreshTTL, c.AccessTTL)
	}
	return nil
}

type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
}

// NewCookieConfig leaves Secure off unless COOKIE_SECURE=true, matching the
// plain HTTP listener. Turn it on when TLS terminates in front of the server.
func NewCookieConfig() *CookieConfig {
	return &CookieConfig{
		Secure:   parseBoolOrDefault("COOKIE_SECURE", false),
		SameSite: parseSameSite(os.Getenv("COOKIE_SAMESITE")),
	}
}

type PasswordConfig struct {
	BcryptCost int
}

func NewPasswordConfig() *PasswordConfig {
	cost := parseIntOrDefault("BCRYPT_COST", defaultBcryptCost)
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		log.Printf("BCRYPT_COST %d out of range, using default %d", cost, defaultBcryptCost)
		cost = defaultBcryptCost
	}
	return &PasswordConfig{BcryptCost: cost}
}

type StorageConfig struct {
	Driver     string
	DSN        string
	SQLitePath string
}

func NewStorageConfig() *StorageConfig {
	return &StorageConfig{
		Driver:     strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", StorageDriverPostgres)),
		DSN:        os.Getenv("DATABASE_URL"),
		SQLitePath: getEnvOrDefault("SQLITE_PATH", defaultSQLitePath),
	}
}

func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case StorageDriverPostgres:
		if c.DSN == "" {
			return errors.New("DATABASE_URL is not set")
		}
	case StorageDriverSQLite, StorageDriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Driver)
	}
	return nil
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       parseIntOrDefault("REDIS_DB", 0),
	}
}

// Enabled reports whether a Redis address was configured at all.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type RateLimiterConfig struct {
	Limit     int
	Interval  time.Duration
	BlockTime time.Duration
}

func NewRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		Limit:     parseIntOrDefault("RATE_LIMIT_LIMIT", defaultRateLimit),
		Interval:  parseDurationOrDefault("RATE_LIMIT_INTERVAL", defaultRateInterval),
		BlockTime: parseDurationOrDefault("RATE_LIMIT_BLOCK_TIME", defaultRateBlockTime),
	}
}

type ClientConfig struct {
	ServerURL      string
	RefreshTimeout time.Duration
	RequestTimeout time.Duration
}

func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerURL:      strings.TrimRight(getEnvOrDefault("AUTH_SERVER_URL", defaultClientServerURL), "/"),
		RefreshTimeout: parseDurationOrDefault("CLIENT_REFRESH_TIMEOUT", defaultClientRefreshTimeout),
		RequestTimeout: parseDurationOrDefault("CLIENT_REQUEST_TIMEOUT", defaultClientRequestTimeout),
	}
}

func getEnvOrDefault(varName, def string) string {
	if v := os.Getenv(varName); v != "" {
		return v
	}
	return def
}

func parseDurationOrDefault(varName string, def time.Duration) time.Duration {
	if v := os.Getenv(varName); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration in %s: %s, using default %s", varName, v, def)
	}
	return def
}

func parseIntOrDefault(varName string, def int) int {
	if v := os.Getenv(varName); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Invalid integer in %s: %s, using default %d", varName, v, def)
	}
	return def
}

func parseBoolOrDefault(varName string, def bool) bool {
	if v := os.Getenv(varName); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("Invalid boolean in %s: %s, using default %t", varName, v, def)
	}
	return def
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
