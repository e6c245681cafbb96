package resources

import (
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

/** @brief Load state of a resource. Only ever leaves StatusUndetermined once. */
type Status int32

const (
	/** @brief The resource is still loading or has not been polled since it finished. */
	StatusUndetermined Status = iota
	/** @brief The resource is usable. */
	StatusLoaded
	/** @brief Loading failed; the resource exposes no GPU handles. */
	StatusFailedToLoad
)

func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "LOADED"
	case StatusFailedToLoad:
		return "FAILED_TO_LOAD"
	default:
		return "UNDETERMINED"
	}
}

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s != StatusUndetermined
}

// WaitForever disables the timeout of WaitUntilLoaded.
const WaitForever = driver.WaitForever

type statusCell struct {
	v atomic.Int32
}

func (c *statusCell) load() Status {
	return Status(c.v.Load())
}

// resolve moves the cell out of StatusUndetermined. It reports whether this
// call made the transition.
func (c *statusCell) resolve(to Status) bool {
	return c.v.CompareAndSwap(int32(StatusUndetermined), int32(to))
}

// deadlineFor turns a timeout into a deadline. Only WaitForever maps to the
// zero deadline; a negative timeout is an already expired poll.
func deadlineFor(timeout time.Duration) time.Time {
	switch {
	case timeout == WaitForever:
		return time.Time{}
	case timeout < 0:
		return time.Now()
	}
	return time.Now().Add(timeout)
}

func remaining(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return driver.WaitForever
	}
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}
