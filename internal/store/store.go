package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/pkg/logger"
)

const (
	poolMinConns    = 2
	poolMaxConns    = 15
	poolMaxLifetime = time.Hour
	acquireTimeout  = 30 * time.Second

	// statementTimeout keeps a stuck query from pinning a pool slot.
	statementTimeout = 30 * time.Second
	// idleInTxTimeout reclaims abandoned claim transactions. The
	// embedding claim sits idle for the full duration of the embedding
	// HTTP call, so this must exceed that client's timeout or Postgres
	// kills legitimate claims mid-call.
	idleInTxTimeout = 150 * time.Second
)

// Store wraps the process-wide connection pool. All SQL in the system
// goes through its methods.
type Store struct {
	pool      *pgxpool.Pool
	log       *zap.Logger
	closeOnce sync.Once
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so row helpers
// can run inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open connects the pool, registers pgvector types on every new
// connection, and ensures the schema. dims is the embedding column
// width for the configured model.
func Open(ctx context.Context, dsn string, dims int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MinConns = poolMinConns
	cfg.MaxConns = poolMaxConns
	cfg.MaxConnLifetime = poolMaxLifetime
	cfg.ConnConfig.ConnectTimeout = acquireTimeout
	cfg.ConnConfig.RuntimeParams["options"] = fmt.Sprintf(
		"-c statement_timeout=%ds -c idle_in_transaction_session_timeout=%ds",
		int(statementTimeout.Seconds()), int(idleInTxTimeout.Seconds()))
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	s := &Store{pool: pool, log: logger.Get()}
	if err := s.ensureSchema(ctx, dims); err != nil {
		pool.Close()
		return nil, err
	}

	s.log.Info("store opened",
		zap.Int32("min_conns", poolMinConns),
		zap.Int32("max_conns", poolMaxConns),
		zap.Int("embedding_dims", dims))
	return s, nil
}

// Close drains the pool. Safe to call more than once.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.pool.Close()
		s.log.Info("store closed")
	})
}

// Ping verifies a connection can be acquired.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// begin opens a transaction with the default isolation level.
func (s *Store) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

// isUniqueViolation reports whether err is a unique-constraint failure,
// optionally narrowed to one constraint name.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
