package database

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrate applies all pending schema migrations. It opens a short-lived
// database/sql connection because goose drives the stdlib interface, not pgx
// native.
func Migrate(ctx context.Context, config *Config, logger logging.Interface) error {
	db, err := sql.Open("pgx", config.DSN())
	if err != nil {
		return errors.Wrap(err, "opening migration connection")
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{logger})

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting migration dialect")
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errors.Wrap(err, "applying migrations")
	}
	return nil
}

// gooseLogger adapts our logger to goose's printf-style interface.
type gooseLogger struct {
	log logging.Interface
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Fatalf(format, v...)
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Infof(format, v...)
}
