// Package postgres implements store.Store on PostgreSQL.
//
// Reads outside a transaction go through dbresolver and may hit a replica.
// Transactions always run on the primary; Lock* methods use SELECT ... FOR
// UPDATE and give up after the configured lock_timeout.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/store"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
	defaultLockTimeout     = 5 * time.Second
)

// Postgres error codes the store translates.
const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgQueryCanceled        = "57014"
)

// Store is a PostgreSQL-backed ledger store.
type Store struct {
	db          dbresolver.DB
	logger      *zap.Logger
	lockTimeout time.Duration
	now         func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithLockTimeout sets the lock_timeout applied to every transaction.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// New wraps an existing resolver.
func New(db dbresolver.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		logger:      zap.NewNop(),
		lockTimeout: defaultLockTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the primary and optional replica, verifies both and
// applies pending migrations when cfg asks for it.
func Open(ctx context.Context, cfg config.StoreConfig, opts ...Option) (*Store, error) {
	if cfg.PrimaryDSN == "" {
		return nil, errors.New("store: primary_dsn is required for the postgres driver")
	}

	primary, err := openDB(ctx, cfg.PrimaryDSN, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening primary: %w", err)
	}

	replica := primary
	if cfg.ReplicaDSN != "" && cfg.ReplicaDSN != cfg.PrimaryDSN {
		if replica, err = openDB(ctx, cfg.ReplicaDSN, cfg); err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("opening replica: %w", err)
		}
	}

	s := New(dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	), opts...)

	if cfg.RunMigrations {
		if err := Migrate(primary, cfg.DatabaseName, s.logger); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	s.logger.Info("connected to postgres", zap.Bool("replica", replica != primary))
	return s, nil
}

func openDB(ctx context.Context, dsn string, cfg config.StoreConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// Close closes every underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a primary transaction and commits when it returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("beginning transaction: %w", err))
	}

	// set_config with is_local=true scopes the timeout to this transaction.
	if _, err := sqlTx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`,
		fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
		_ = sqlTx.Rollback()
		return mapError(fmt.Errorf("setting lock timeout: %w", err))
	}

	if err := fn(ctx, &tx{reader: reader{q: sqlTx}, now: s.now}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("rolling back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// mapError translates driver errors into store and ledger errors. Lock
// waits that expire become LOCK_TIMEOUT so callers can retry.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrConflict)
	case pgLockNotAvailable, pgQueryCanceled:
		return apperr.Wrap(apperr.CodeLockTimeout, err, "row lock not acquired")
	case pgDeadlockDetected, pgSerializationFailure:
		return apperr.Wrap(apperr.CodeLockTimeout, err, "transaction aborted by lock conflict")
	}
	return err
}
