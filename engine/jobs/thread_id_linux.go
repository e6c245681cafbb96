//go:build linux

package jobs

import "golang.org/x/sys/unix"

// currentThreadID must be called from a goroutine locked to its OS thread.
func currentThreadID() int {
	return unix.Gettid()
}
