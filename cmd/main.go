package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/rryowa/vidauth/internal/api"
	"github.com/rryowa/vidauth/internal/controller"
	"github.com/rryowa/vidauth/internal/migrations"
	"github.com/rryowa/vidauth/internal/password"
	"github.com/rryowa/vidauth/internal/service"
	"github.com/rryowa/vidauth/internal/storage"
	"github.com/rryowa/vidauth/internal/storage/memory"
	"github.com/rryowa/vidauth/internal/storage/postgres"
	"github.com/rryowa/vidauth/internal/storage/redis"
	"github.com/rryowa/vidauth/internal/storage/sqlite"
	"github.com/rryowa/vidauth/internal/util"
)

func main() {
	ctx := context.Background()
	logger := util.NewZapLogger()
	defer func() { _ = logger.Sync() }()

	tokenConfig := util.NewTokenConfig()
	if err := tokenConfig.Validate(); err != nil {
		logger.Fatalw("Invalid token configuration", "error", err)
	}
	storageConfig := util.NewStorageConfig()
	if err := storageConfig.Validate(); err != nil {
		logger.Fatalw("Invalid storage configuration", "error", err)
	}

	var cleanupFuncs []func()
	defer func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}()

	identities, cleanup, err := newIdentityRepository(ctx, logger, storageConfig)
	if err != nil {
		logger.Fatalw("Failed to initialize storage", "driver", storageConfig.Driver, "error", err)
	}
	cleanupFuncs = append(cleanupFuncs, cleanup)

	var limiter service.LoginLimiter
	if redisConfig := util.NewRedisConfig(); redisConfig.Enabled() {
		redisClient, redisCleanup, err := util.NewRedisClient(logger, redisConfig)
		if err != nil {
			logger.Fatalw("Startup failed", "error", err)
		}
		cleanupFuncs = append(cleanupFuncs, redisCleanup)
		limiter = redis.NewLoginLimiter(redisClient, util.NewRateLimiterConfig())
	} else {
		logger.Warn("REDIS_ADDR is not set, failed-login limiter disabled")
	}

	tokenService := service.NewTokenService(tokenConfig)
	hasher := password.NewHasher(util.NewPasswordConfig().BcryptCost)
	authService := service.NewAuthService(tokenService, hasher, identities, limiter, logger)

	ctrl := controller.NewController(logger, authService, util.NewCookieConfig())

	apiServer, err := api.NewAPI(ctrl, authService, logger, util.NewServerConfig())
	if err != nil {
		logger.Fatalw("Startup failed", "error", err)
	}
	apiServer.Run(ctx)
}

func newIdentityRepository(ctx context.Context, logger *zap.SugaredLogger, cfg *util.StorageConfig) (storage.IdentityRepository, func(), error) {
	if cfg.Driver == util.StorageDriverMemory {
		logger.Warn("Using in-memory storage, identities are lost on restart")
		return memory.NewIdentityRepository(logger), func() {}, nil
	}

	db, dbCleanup, err := util.NewDBConnection(logger, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.RunMigrations(ctx, db, cfg.Driver, logger); err != nil {
		dbCleanup()
		return nil, nil, err
	}

	if cfg.Driver == util.StorageDriverSQLite {
		return sqlite.NewIdentityRepository(db), dbCleanup, nil
	}
	return postgres.NewStorage(db), dbCleanup, nil
}
