package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// WithCreditLock serializes decrements of one credit's remaining amount
// across worker instances.
//
// Redis lock is a best-effort optimization. Reliability must not depend on
// Redis: the DB row lock taken by GetCreditForUpdate is authoritative; the
// redis lock only keeps concurrent workers from queueing on the row lock.
func WithCreditLock(ctx context.Context, logger *logrus.Logger, creditNumber string, fn func() error) error {
	locker := config.GetRedisLock()
	if locker == nil {
		return fn()
	}

	lock, err := locker.Obtain(ctx, fmt.Sprintf("lock:credit:%s", creditNumber), 30*time.Second, nil)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"module":        "creditLock.go",
			"credit_number": creditNumber,
		}).Warn("could not obtain redis credit lock; proceeding with row lock only: " + err.Error())
		return fn()
	}
	defer func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil && releaseErr != redislock.ErrLockNotHeld {
			logger.WithFields(logrus.Fields{
				"module":        "creditLock.go",
				"credit_number": creditNumber,
			}).Warn("failed to release redis credit lock: " + releaseErr.Error())
		}
	}()

	return fn()
}
