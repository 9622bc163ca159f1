package deployment

import (
	"context"

	"redeploy/internal/deployerr"
)

// Lock serialises deployments. Only one holder at a time touches the
// extract root, the bundle store and the release link.
//
// It is a single-slot semaphore rather than a sync.Mutex so waiting
// callers can give up when their context ends.
type Lock struct {
	slot chan struct{}
}

// NewLock creates an unlocked Lock
func NewLock() *Lock {
	return &Lock{slot: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is held or ctx is done. A caller that gives
// up gets a Busy error and does not hold the lock.
func (l *Lock) Acquire(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
		return nil
	default:
	}

	select {
	case l.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return deployerr.Wrap(deployerr.Busy, ctx.Err(), "another deployment is in progress")
	}
}

// TryAcquire takes the lock if it is free and reports whether it did
func (l *Lock) TryAcquire() bool {
	select {
	case l.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the lock. Releasing an unheld lock is a programming error.
func (l *Lock) Release() {
	select {
	case <-l.slot:
	default:
		panic("deployment: Release of unlocked Lock")
	}
}

// Held reports whether a deployment currently holds the lock
func (l *Lock) Held() bool {
	return len(l.slot) == 1
}
