// Package postgres stores records as JSONB documents in PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/telhawk-systems/eventsink/internal/models"
	"github.com/telhawk-systems/eventsink/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is wrapped when a replace matches no row.
var ErrNotFound = errors.New("document not found")

// Config holds PostgreSQL settings.
type Config struct {
	DSN        string
	Collection string
	MaxConns   int32
}

// Store is a store.Store backed by the documents table.
type Store struct {
	pool       *pgxpool.Pool
	collection string
}

// New connects the pool and pings the server.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Collection == "" {
		return nil, errors.New("postgres collection is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 5 * time.Minute
	poolCfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, collection: cfg.Collection}, nil
}

// Migrate applies the embedded schema migrations to dsn.
func Migrate(dsn string) (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, err
	}
	return version, nil
}

func (s *Store) Create(ctx context.Context, id string, doc models.Record) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return store.Permanent("create", id, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3)`,
		s.collection, id, body,
	)
	return classify("create", id, err)
}

func (s *Store) Replace(ctx context.Context, id string, doc models.Record) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return store.Permanent("replace", id, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET body = $3, updated_at = now() WHERE collection = $1 AND id = $2`,
		s.collection, id, body,
	)
	if err != nil {
		return classify("replace", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.Permanent("replace", id, ErrNotFound)
	}
	return nil
}

// Get loads a stored document.
func (s *Store) Get(ctx context.Context, id string) (models.Record, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND id = $2`,
		s.collection, id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec models.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// classify maps pgx errors onto store kinds.
func classify(op, id string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return store.Conflict(op, id)
		case transientSQLState(pgErr.Code):
			return store.Transient(op, id, err)
		default:
			return store.Permanent(op, id, err)
		}
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr),
		errors.As(err, &netErr),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded):
		return store.Transient(op, id, err)
	}
	return store.Permanent(op, id, err)
}

// transientSQLState reports SQLSTATEs that usually clear on retry:
// connection exceptions, serialization/deadlock, insufficient resources,
// operator intervention and lock timeouts.
func transientSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"),
		strings.HasPrefix(code, "53"),
		code == "40001", code == "40P01",
		code == "57P01", code == "57P02", code == "57P03",
		code == "55P03":
		return true
	}
	return false
}
