//go:build !linux

package jobs

import "sync/atomic"

var syntheticThreadID atomic.Int64

// currentThreadID hands out a process-unique id per call; workers call it
// once after locking their OS thread.
func currentThreadID() int {
	return int(syntheticThreadID.Add(1))
}
