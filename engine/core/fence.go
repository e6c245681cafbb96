package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// Fence is a one-shot host synchronization point. Once set it stays set.
// The zero value is not usable; create fences with NewFence.
type Fence struct {
	once sync.Once
	set  atomic.Bool
	ch   chan struct{}
}

func NewFence() *Fence {
	return &Fence{ch: make(chan struct{})}
}

// Set signals the fence and releases every waiter. Calling Set more than once is harmless.
func (f *Fence) Set() {
	f.once.Do(func() {
		f.set.Store(true)
		close(f.ch)
	})
}

func (f *Fence) IsSet() bool {
	return f.set.Load()
}

// Done returns a channel that is closed once the fence is set.
func (f *Fence) Done() <-chan struct{} {
	return f.ch
}

// Wait blocks until the fence is set or the timeout expires. A negative
// timeout waits forever. It reports whether the fence was set.
func (f *Fence) Wait(timeout time.Duration) bool {
	if f.IsSet() {
		return true
	}
	if timeout < 0 {
		<-f.ch
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.ch:
		return true
	case <-timer.C:
		return f.IsSet()
	}
}

// WaitUntil blocks until the fence is set or the deadline passes. A zero
// deadline waits forever.
func (f *Fence) WaitUntil(deadline time.Time) bool {
	if deadline.IsZero() {
		return f.Wait(-1)
	}
	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	return f.Wait(remaining)
}
