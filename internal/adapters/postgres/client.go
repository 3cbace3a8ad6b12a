package postgres

import (
	"context"
	"io/fs"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"ideaflow/internal/adapters/config"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Client wraps sqlx.DB for the workflow store
type Client struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewClient connects with a bounded pool and verifies the connection
func NewClient(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns / 2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	return &Client{db: db, log: logger.Get().With("component", "postgres")}, nil
}

// DB returns the underlying sqlx.DB instance
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Migrate applies every .sql file of the filesystem in lexical order.
// Statements are idempotent, so running it on each start is safe.
func (c *Client) Migrate(ctx context.Context, files fs.FS) error {
	if err := ApplyMigrations(ctx, c.db, files); err != nil {
		return err
	}
	c.log.Infow("Postgres schema up to date")
	return nil
}

// ApplyMigrations runs the .sql files of files against db in lexical order.
// db may be a transaction, which keeps the schema private to it.
func ApplyMigrations(ctx context.Context, db sqlx.ExecerContext, files fs.FS) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return errors.Wrap(err, "list migrations")
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := fs.ReadFile(files, name)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", name)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return errors.Wrapf(err, "apply migration %s", name)
		}
		logger.Get().Debugw("Migration applied", "file", name)
	}
	return nil
}
