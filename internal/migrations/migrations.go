package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/rryowa/vidauth/internal/util"
)

//go:embed sql/*.sql
var embedded embed.FS

// RunMigrations applies every pending migration for the given storage driver.
func RunMigrations(ctx context.Context, db *sql.DB, driver string, logger *zap.SugaredLogger) error {
	dialect, err := dialectFor(driver)
	if err != nil {
		return err
	}

	fsys, err := fs.Sub(embedded, "sql")
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	logger.Infow("Database migrations applied successfully!", "applied", len(results))
	return nil
}

func dialectFor(driver string) (goose.Dialect, error) {
	switch driver {
	case util.StorageDriverPostgres:
		return goose.DialectPostgres, nil
	case util.StorageDriverSQLite:
		return goose.DialectSQLite3, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}
