package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/config"
)

const (
	defaultExpiry     = 10 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
)

// RedisOptions tunes the distributed mutex.
type RedisOptions struct {
	Wait       time.Duration // total time spent trying to acquire
	RetryDelay time.Duration
	Expiry     time.Duration // auto-release if the holder dies
}

// Redis is a Manager built on the Redlock algorithm.
type Redis struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *zap.Logger
}

// NewRedisClient opens a go-redis client from config and checks connectivity.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*goredislib.Client, error) {
	client := goredislib.NewClient(&goredislib.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedis builds a Redis manager over client.
func NewRedis(client goredislib.UniversalClient, opts RedisOptions, logger *zap.Logger) *Redis {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Expiry <= 0 {
		opts.Expiry = defaultExpiry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

func (r *Redis) tries() int {
	n := int(r.opts.Wait / r.opts.RetryDelay)
	if n < 1 {
		return 1
	}
	return n
}

func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := r.rs.NewMutex(key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.tries()),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)

	// redsync reports contention as ErrFailed, ErrTaken or a joined node
	// error depending on quorum, so every acquire failure counts as a timeout.
	if err := mutex.LockContext(ctx); err != nil {
		return apperr.Wrap(apperr.CodeLockTimeout, err, "lock %s not acquired within %s", key, r.opts.Wait)
	}

	defer func() {
		// Release on a fresh context so a cancelled caller still frees the key.
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			r.logger.Warn("releasing lock", zap.String("key", key), zap.Bool("ok", ok), zap.Error(err))
		}
	}()

	return fn(ctx)
}
