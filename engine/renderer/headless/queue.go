package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

type batch struct {
	wait           []*semaphore
	commandBuffers []*commandBuffer
	signal         []*semaphore
}

type submission struct {
	batches []batch
	fence   *fence
}

type queue struct {
	dev    *Device
	role   driver.QueueRole
	family uint32

	mutex   sync.Mutex
	cond    *sync.Cond
	pending []*submission
	busy    bool
	closed  bool
	done    chan struct{}
}

func newQueue(dev *Device, role driver.QueueRole, family uint32) *queue {
	q := &queue{
		dev:    dev,
		role:   role,
		family: family,
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mutex)
	go q.run()
	return q
}

func (q *queue) Role() driver.QueueRole {
	return q.role
}

func (q *queue) Family() uint32 {
	return q.family
}

func (q *queue) Submit(submits []driver.SubmitInfo, f driver.Fence) error {
	if err := q.dev.check(); err != nil {
		return err
	}

	sub := &submission{}
	for i, info := range submits {
		var b batch
		for _, s := range info.Wait {
			sem, ok := s.(*semaphore)
			if !ok || sem == nil {
				return fmt.Errorf("submit %d: foreign wait semaphore: %w", i, driver.ErrValidation)
			}
			b.wait = append(b.wait, sem)
		}
		for _, c := range info.CommandBuffers {
			cb, ok := c.(*commandBuffer)
			if !ok || cb == nil {
				return fmt.Errorf("submit %d: foreign command buffer: %w", i, driver.ErrValidation)
			}
			if err := cb.submittable(q.family); err != nil {
				return fmt.Errorf("submit %d to %s queue: %w", i, q.role, err)
			}
			b.commandBuffers = append(b.commandBuffers, cb)
		}
		for _, s := range info.Signal {
			sem, ok := s.(*semaphore)
			if !ok || sem == nil {
				return fmt.Errorf("submit %d: foreign signal semaphore: %w", i, driver.ErrValidation)
			}
			b.signal = append(b.signal, sem)
		}
		sub.batches = append(sub.batches, b)
	}

	if f != nil {
		fc, ok := f.(*fence)
		if !ok || fc == nil {
			return fmt.Errorf("submit: foreign fence: %w", driver.ErrValidation)
		}
		fc.mutex.Lock()
		reused := fc.submitted
		fc.submitted = true
		fc.mutex.Unlock()
		if reused {
			return fmt.Errorf("submit: fence already submitted: %w", driver.ErrValidation)
		}
		sub.fence = fc
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return fmt.Errorf("submit to %s queue: %w", q.role, driver.ErrDeviceLost)
	}
	q.pending = append(q.pending, sub)
	q.dev.submissions.Add(1)
	q.cond.Broadcast()
	return nil
}

func (q *queue) run() {
	defer close(q.done)
	q.mutex.Lock()
	for {
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mutex.Unlock()
			return
		}
		sub := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.busy = true
		q.mutex.Unlock()

		q.execute(sub)

		q.mutex.Lock()
		q.busy = false
		q.cond.Broadcast()
	}
}

func (q *queue) execute(sub *submission) {
	var err error
	for _, b := range sub.batches {
		for _, sem := range b.wait {
			if werr := sem.wait(); werr != nil && err == nil {
				err = werr
			}
		}
		q.dev.waitGate()
		if err == nil && q.dev.lost.Load() {
			err = driver.ErrDeviceLost
		}
		if err == nil {
			for _, cb := range b.commandBuffers {
				if cerr := cb.execute(q.family); cerr != nil {
					err = cerr
					break
				}
			}
		}
		for _, sem := range b.signal {
			sem.signal(err)
		}
	}
	if err != nil {
		core.LogWarn("headless %s queue (family %d): %v", q.role, q.family, err)
	}
	if sub.fence != nil {
		sub.fence.signal(err)
	}
}

func (q *queue) waitIdle() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for len(q.pending) > 0 || q.busy {
		q.cond.Wait()
	}
}

func (q *queue) close() {
	q.mutex.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mutex.Unlock()
	<-q.done
}
