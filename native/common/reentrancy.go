package common

import "errors"

// ErrReentrancy is returned when a nested call tries to re-enter a scope that
// is still executing.
var ErrReentrancy = errors.New("reentrant call rejected")

// ReentrancyLock is an explicit per-transaction lock token. The purchase
// engine acquires it before invoking the external market maker pool and
// releases it on completion, so a callback triggered by the pool deposit
// cannot re-enter the purchase pipeline.
type ReentrancyLock struct {
	locked bool
}

// Enter acquires the lock, rejecting nested re-entry deterministically.
func (l *ReentrancyLock) Enter() error {
	if l == nil {
		return nil
	}
	if l.locked {
		return ErrReentrancy
	}
	l.locked = true
	return nil
}

// Exit releases the lock. Calling Exit on an unlocked token is a no-op.
func (l *ReentrancyLock) Exit() {
	if l == nil {
		return
	}
	l.locked = false
}

// Locked reports whether the lock is currently held.
func (l *ReentrancyLock) Locked() bool {
	return l != nil && l.locked
}
