package importer

import (
	"context"
	"time"

	"xnat-importer/entities"

	"github.com/bsm/redislock"
	"go.uber.org/zap"
)

const lockPrefix = "xnat-importer:"

// ReleaseFunc releases a lock obtained from a Locker.
type ReleaseFunc func(ctx context.Context) error

// Locker keeps two importers from working on the same directory at once.
type Locker interface {
	Obtain(ctx context.Context, key string) (ReleaseFunc, error)
}

type noopLocker struct{}

// NoopLocker is used when no lock backend is configured.
func NoopLocker() Locker {
	return noopLocker{}
}

func (noopLocker) Obtain(ctx context.Context, key string) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}

type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client *redislock.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

// Obtain fails with a LockError when the key is already held. The lock is
// refreshed every half TTL until it is released.
func (l *RedisLocker) Obtain(ctx context.Context, key string) (ReleaseFunc, error) {
	lock, err := l.client.Obtain(ctx, lockPrefix+key, l.ttl, nil)
	if err != nil {
		return nil, &entities.LockError{Key: key, Err: err}
	}
	logger := l.logger.With(zap.String("key", key))
	logger.Debug("lock obtained", zap.Duration("ttl", l.ttl))

	refreshCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(refreshCtx, l.ttl/2, func(ctx context.Context) error {
			return lock.Refresh(ctx, l.ttl, nil)
		}, logger)
	}()

	return func(ctx context.Context) error {
		stop()
		<-done
		if err := lock.Release(ctx); err != nil && err != redislock.ErrLockNotHeld {
			return err
		}
		return nil
	}, nil
}

// keepAlive calls refresh every interval until ctx is done or the lock is
// lost.
func keepAlive(ctx context.Context, interval time.Duration, refresh func(ctx context.Context) error, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			err := refresh(ctx)
			switch {
			case err == nil:
			case err == redislock.ErrNotObtained:
				logger.Error("lock lost", zap.Error(err))
				return
			case ctx.Err() != nil:
				return
			default:
				logger.Warn("lock refresh failed", zap.Error(err))
			}
		}
	}
}
