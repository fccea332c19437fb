// Package store is the persistence layer: a pgx/v5-backed repository over
// Drug, PriceRecord, DrugAlias, WatchListItem, CrawlTask, MonitorRule, and
// Alert, plus the golang-migrate schema bootstrap that versions them.
//
// The connection setup (pgxpool.ParseConfig + otelpgx tracer) follows the
// discovery-service's main.go; the per-identity transactional write
// pattern follows dictionary_service.go's begin/insert/commit shape.
package store

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a connection pool and exposes the persistence operations the
// acquisition pipeline, scheduler, and analytics layer need.
type Store struct {
	pool *pgxpool.Pool
}

// Open parses databaseURL, attaches OpenTelemetry pgx tracing, and connects.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool builds a Store around an already-configured pool, used by
// tests that stand up their own pgxpool against a test database.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Migrate applies every pending migration under migrations/ using the
// embedded filesystem, so the binary carries its own schema and never
// depends on a migrations directory being present on disk at runtime.
// databaseURL accepts the usual postgres:// scheme; it is rewritten to the
// pgx5 driver scheme golang-migrate expects.
func (s *Store) Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: load migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, pgx5URL(databaseURL))
	if err != nil {
		return fmt.Errorf("store: init migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: apply migrations: %w", err)
	}
	return nil
}

func pgx5URL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}
