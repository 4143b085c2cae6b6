// Package migrations applies the embedded SQL schema with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

const (
	migrationsDir   = "sql"
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

var (
	ErrMissingDatabase = errors.New("migrations: database handle is nil")
	ErrUnknownDialect  = errors.New("migrations: unsupported dialect")
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

type gooseLogger struct {
	logger *zap.SugaredLogger
}

func (adapter gooseLogger) Fatalf(format string, args ...any) {
	adapter.logger.Fatalf(strings.TrimSpace(format), args...)
}

func (adapter gooseLogger) Printf(format string, args ...any) {
	adapter.logger.Infof(strings.TrimSpace(format), args...)
}

// Up applies every pending migration to db. dialect is DialectPostgres or DialectSQLite.
func Up(ctx context.Context, db *sql.DB, dialect string, logger *zap.Logger) error {
	if db == nil {
		return ErrMissingDatabase
	}
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	goose.SetBaseFS(embeddedMigrations)
	goose.SetLogger(gooseLogger{logger: logger.Sugar()})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}
