package timedmutex

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/irrigation-io/internal/errcode"
)

func TestLockUnlock(t *testing.T) {
	m := New()
	if err := m.Lock(10 * time.Millisecond); err != nil {
		t.Fatalf("lock: %v", err)
	}
	m.Unlock()
	if err := m.Lock(10 * time.Millisecond); err != nil {
		t.Fatalf("relock: %v", err)
	}
	m.Unlock()
}

func TestLockTimeout(t *testing.T) {
	m := New()
	if err := m.Lock(10 * time.Millisecond); err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer m.Unlock()

	start := time.Now()
	err := m.Lock(20 * time.Millisecond)
	if !errors.Is(err, errcode.Timeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned before bound elapsed: %v", elapsed)
	}
}

func TestLockReleasedByHolder(t *testing.T) {
	m := New()
	if err := m.Lock(10 * time.Millisecond); err != nil {
		t.Fatalf("lock: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Unlock()
	}()

	// Generous bound: the holder releases after 10ms.
	if err := m.Lock(time.Second); err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	m.Unlock()
}

func TestTryLock(t *testing.T) {
	m := New()
	if !m.TryLock() {
		t.Fatal("TryLock on free mutex failed")
	}
	if m.TryLock() {
		t.Fatal("TryLock on held mutex succeeded")
	}
	m.Unlock()
	if !m.TryLock() {
		t.Fatal("TryLock after unlock failed")
	}
	m.Unlock()
}

func TestUnlockUnlockedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New().Unlock()
}
