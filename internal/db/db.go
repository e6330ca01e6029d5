package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	pgxtx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xtrntr/cryptodesk/internal/store"
)

var _ store.Store = (*DB)(nil)

const (
	defaultListLimit = 100
	maxListLimit     = 500

	uniqueViolation = "23505"
)

// Options tunes the connection pool
type Options struct {
	MaxConns       int32
	ConnectTimeout time.Duration
}

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool

	conn       pgxtx.DBGetter
	transactor *pgxtx.Transactor
	builder    sq.StatementBuilderType
}

// NewDB initializes a new database connection pool and verifies it is reachable
func NewDB(ctx context.Context, connString string, opts Options) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newDB(pool), nil
}

func newDB(pool *pgxpool.Pool) *DB {
	transactor, conn := pgxtx.NewTransactor(pool, pgxtx.NestedTransactionsSavepoints)
	return &DB{
		Pool:       pool,
		conn:       conn,
		transactor: transactor,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping checks the pool can reach the server
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// WithinTransaction runs fn in a transaction; queries made with fn's ctx join it
func (db *DB) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.transactor.WithinTransaction(ctx, fn)
}

func (db *DB) query(ctx context.Context, q sq.Sqlizer) (pgx.Rows, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return db.conn(ctx).Query(ctx, sql, args...)
}

func paginate(q sq.SelectBuilder, limit, offset uint64) sq.SelectBuilder {
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	q = q.Limit(limit)
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

// mapErr converts driver errors into store sentinels
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
