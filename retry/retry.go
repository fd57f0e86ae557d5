// Package retry wraps fallible steps in bounded retry with linear back-off.
package retry

import (
	"context"
	"errors"
	"time"

	"xnat-importer/entities"

	"github.com/gojektech/heimdall/v6"
	"go.uber.org/zap"
)

// Operation is one attempt of a fallible step. A nil error is success.
type Operation func(ctx context.Context) error

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Driver struct {
	retrier heimdall.Retriable
	sleep   SleepFunc
	logger  *zap.Logger
}

func NewDriver(base time.Duration, logger *zap.Logger) *Driver {
	return NewDriverWithSleep(base, sleepContext, logger)
}

// NewDriverWithSleep is NewDriver with a replaceable sleep, used by tests.
func NewDriverWithSleep(base time.Duration, sleep SleepFunc, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		retrier: heimdall.NewRetrier(NewLinearBackoff(base)),
		sleep:   sleep,
		logger:  logger,
	}
}

// Run calls op until it succeeds, it returns a permanent error or
// maxAttempts attempts have been made. It returns the last error.
func (d *Driver) Run(ctx context.Context, op Operation, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return err
		}

		err = op(ctx)
		if err == nil {
			return nil
		}
		if entities.IsPermanent(err) || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := d.retrier.NextInterval(attempt)
		d.logger.Debug("retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		if sleepErr := d.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}

	d.logger.Debug("giving up", zap.Int("attempts", maxAttempts), zap.Error(err))
	return err
}

// Do is Run reduced to success or failure.
func (d *Driver) Do(ctx context.Context, op Operation, maxAttempts int) bool {
	return d.Run(ctx, op, maxAttempts) == nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
