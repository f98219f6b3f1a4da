package service

import (
	"context"
	"strconv"
	"time"

	"github.com/moby/locker"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// keyedLocks serialises work per key on top of a locker.Locker, which drops
// entries once unused.
type keyedLocks struct {
	l *locker.Locker
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{l: locker.New()}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedLocks) Lock(key string) func() {
	k.l.Lock(key)
	return func() {
		// only fails for a key that is not held
		_ = k.l.Unlock(key)
	}
}

func postKey(postID uint) string {
	return "post:" + strconv.FormatUint(uint64(postID), 10)
}

func destinationKey(postID uint, destinationID string) string {
	return "publish:" + strconv.FormatUint(uint64(postID), 10) + ":" + destinationID
}
