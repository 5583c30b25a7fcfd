package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/skrumble/skrumble-go/internal/db/migrations"
)

// Connect opens the archive database and applies pending migrations.
func Connect(ctx context.Context, dsn string, log *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := Migrate(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db.DB)
	if err == nil {
		log.Info("database migrations applied", "version", version)
	}
	return db, nil
}

// Migrate runs the embedded goose migrations up to the latest version.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}
