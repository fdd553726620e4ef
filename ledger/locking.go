package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/sirupsen/logrus"
)

const transitionLockTTL = 10 * time.Second

// LockingStore serializes transitions per payment across instances with a Redis lock.
// The lock is best-effort: correctness rests on the wrapped store's conditional update,
// so a missing or unavailable lock only logs a warning.
type LockingStore struct {
	Store
	locker *redislock.Client
	logger *logrus.Logger
}

func NewLockingStore(inner Store, locker *redislock.Client, logger *logrus.Logger) *LockingStore {
	return &LockingStore{Store: inner, locker: locker, logger: logger}
}

func (s *LockingStore) Transition(ctx context.Context, id string, next models.PaymentStatus, fields TransitionFields) (Transition, error) {
	lock := s.obtain(ctx, id)
	defer func() {
		if lock == nil {
			return
		}
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			s.logger.WithFields(logrus.Fields{
				"field":      "LockingStore.Transition",
				"payment_id": id,
			}).Warn("failed to release redis lock: " + err.Error())
		}
	}()
	return s.Store.Transition(ctx, id, next, fields)
}

func (s *LockingStore) obtain(ctx context.Context, id string) *redislock.Lock {
	if s.locker == nil {
		return nil
	}
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
	}
	lock, err := s.locker.Obtain(ctx, fmt.Sprintf("lock:payment:%s", id), transitionLockTTL, opts)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"field":      "LockingStore.Transition",
			"payment_id": id,
		}).Warn("could not obtain redis lock; proceeding without redis lock: " + err.Error())
		return nil
	}
	return lock
}
