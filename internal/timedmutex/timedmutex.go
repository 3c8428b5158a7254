// Package timedmutex provides a mutex whose acquisition is bounded by a
// timeout. The registry, the shift-register bank, and the alarm engine all
// guard their state with one of these so a caller is never blocked
// indefinitely: failure to acquire within the bound is reported as
// errcode.Timeout and the caller decides what to do with it.
package timedmutex

import (
	"time"

	"github.com/sweeney/irrigation-io/internal/errcode"
)

// DefaultTimeout is the acquisition bound used when a zero timeout is given.
const DefaultTimeout = 100 * time.Millisecond

// Mutex is a timeout-bounded mutual exclusion lock.
// The zero value is not usable; call New.
type Mutex struct {
	ch chan struct{}
}

// New returns an unlocked Mutex.
func New() *Mutex {
	m := &Mutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// Lock acquires the mutex, waiting at most timeout. A timeout <= 0 means
// DefaultTimeout. Returns errcode.Timeout if the lock could not be acquired
// within the bound.
func (m *Mutex) Lock(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	select {
	case <-m.ch:
		return nil
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-m.ch:
		return nil
	case <-t.C:
		return errcode.Timeout
	}
}

// TryLock acquires the mutex only if it is immediately available.
func (m *Mutex) TryLock() bool {
	select {
	case <-m.ch:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex. Unlocking an unlocked Mutex panics, matching
// sync.Mutex behavior.
func (m *Mutex) Unlock() {
	select {
	case m.ch <- struct{}{}:
	default:
		panic("timedmutex: unlock of unlocked mutex")
	}
}
