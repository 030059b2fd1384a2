package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/aqasim81/dbrunner/internal/config"
)

// releaseTimeout bounds lock release, which runs even after the run
// context is cancelled.
const releaseTimeout = 10 * time.Second

// errLockBusy drives the retry loop; it never leaves this package.
var errLockBusy = errors.New("migration lock held by another instance")

// newBackOff returns the polling schedule for lock acquisition.
func (r *Runner) newBackOff() backoff.BackOff {
	if r.cfg.LockRetryStrategy == config.RetryExponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = r.cfg.LockRetryInterval
		b.MaxInterval = r.cfg.LockTimeout
		b.MaxElapsedTime = 0 // the lock timeout context ends the loop
		b.Reset()

		return b
	}

	return backoff.NewConstantBackOff(r.cfg.LockRetryInterval)
}

// acquireLock polls TryLock until it succeeds or the lock timeout elapses.
// Only a busy lock is retried; any other store error aborts immediately.
func (r *Runner) acquireLock(ctx context.Context, log *zap.Logger) (Lock, error) {
	start := time.Now()

	lockCtx, cancel := context.WithTimeout(ctx, r.cfg.LockTimeout)
	defer cancel()

	var (
		held     Lock
		attempts int
	)

	op := func() error {
		attempts++

		lock, acquired, err := r.store.TryLock(lockCtx, r.cfg.LockKey)
		if err != nil {
			if lockCtx.Err() != nil {
				return lockCtx.Err()
			}

			return backoff.Permanent(err)
		}

		if !acquired {
			return errLockBusy
		}

		held = lock

		return nil
	}

	notify := func(_ error, wait time.Duration) {
		log.Info("Migration lock busy, waiting",
			zap.Int64("lock_key", r.cfg.LockKey),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", wait),
			zap.Duration("waited", time.Since(start)),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(r.newBackOff(), lockCtx), notify)
	r.metrics.ObserveLockWait(time.Since(start))

	if err == nil {
		log.Info("Migration lock acquired",
			zap.Int64("lock_key", r.cfg.LockKey),
			zap.Int("attempts", attempts),
			zap.Duration("waited", time.Since(start)),
		)

		return held, nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("acquiring migration lock: %w", ctx.Err())
	}

	if errors.Is(err, errLockBusy) || errors.Is(err, context.DeadlineExceeded) {
		log.Error("Migration lock timeout",
			zap.Int64("lock_key", r.cfg.LockKey),
			zap.Int("attempts", attempts),
			zap.Duration("lock_timeout", r.cfg.LockTimeout),
		)

		return nil, fmt.Errorf("%w: key %d not acquired within %s", ErrLockTimeout, r.cfg.LockKey, r.cfg.LockTimeout)
	}

	return nil, fmt.Errorf("acquiring migration lock: %w", err)
}

// release unlocks on a context detached from the run's cancellation.
func (r *Runner) release(ctx context.Context, log *zap.Logger, lock Lock) error {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := lock.Release(releaseCtx); err != nil {
		log.Warn("Releasing migration lock failed", zap.Int64("lock_key", r.cfg.LockKey), zap.Error(err))

		return fmt.Errorf("releasing migration lock: %w", err)
	}

	log.Info("Migration lock released", zap.Int64("lock_key", r.cfg.LockKey))

	return nil
}
