package headless

import (
	"sync"
	"time"

	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

// semaphore is a binary semaphore. A waiting batch inherits the error of
// the batch that signaled it, so failures propagate down a chain.
type semaphore struct {
	dev       *Device
	mutex     sync.Mutex
	cond      *sync.Cond
	signaled  bool
	err       error
	destroyed bool
}

func (s *semaphore) signal(err error) {
	s.mutex.Lock()
	s.signaled = true
	s.err = err
	s.cond.Broadcast()
	s.mutex.Unlock()
}

func (s *semaphore) wait() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for !s.signaled && !s.dev.lost.Load() {
		s.cond.Wait()
	}
	if !s.signaled {
		return driver.ErrDeviceLost
	}
	s.signaled = false
	err := s.err
	s.err = nil
	return err
}

func (s *semaphore) wake() {
	s.mutex.Lock()
	s.cond.Broadcast()
	s.mutex.Unlock()
}

func (s *semaphore) Destroy() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.dev.semaphores.Delete(s)
	s.dev.semaphoreCount.Add(-1)
}

type fence struct {
	dev       *Device
	mutex     sync.Mutex
	done      chan struct{}
	signaled  bool
	submitted bool
	err       error
	destroyed bool
}

func (f *fence) signal(err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.signaled {
		return
	}
	f.signaled = true
	f.err = err
	close(f.done)
}

func (f *fence) result() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.signaled {
		return driver.ErrNotReady
	}
	return f.err
}

func (f *fence) Status() error {
	if f.dev.lost.Load() {
		return driver.ErrDeviceLost
	}
	return f.result()
}

func (f *fence) Wait(timeout time.Duration) error {
	if f.dev.lost.Load() {
		return driver.ErrDeviceLost
	}
	if timeout <= 0 {
		if err := f.result(); err != driver.ErrNotReady {
			return err
		}
		return driver.ErrTimeout
	}

	var expired <-chan time.Time
	if timeout != driver.WaitForever {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-f.done:
		return f.result()
	case <-f.dev.lostCh:
		return driver.ErrDeviceLost
	case <-expired:
		if err := f.result(); err != driver.ErrNotReady {
			return err
		}
		return driver.ErrTimeout
	}
}

func (f *fence) Destroy() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.dev.fences.Add(-1)
}
