package jobs

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima2d/engine/core"
)

type worker struct {
	index    int
	resource ThreadPrivateResource
	signal   ThreadSignal
	threadID atomic.Int64
	executed atomic.Uint64
}

// ThreadPool runs tasks on a fixed set of workers. Each worker goroutine is
// locked to its own OS thread and owns one ThreadPrivateResource.
//
// A worker picks the oldest queued task whose affinity allows it and whose
// dependencies are no longer queued or running. WaitIdle must not be called
// from inside a task.
type ThreadPool struct {
	mutex      sync.Mutex
	taskCond   *sync.Cond
	signalCond *sync.Cond

	queue     []*scheduledTask
	inQueue   map[uint64]struct{}
	nextIndex uint64
	running   int

	shuttingDown bool
	exit         bool
	closed       bool
	good         bool

	workers []*worker
	wg      sync.WaitGroup
}

// NewThreadPool starts one worker per resource, in list order, and returns
// once every worker has finished ThreadBegin. Check IsGood before use.
func NewThreadPool(resources []ThreadPrivateResource) *ThreadPool {
	p := &ThreadPool{
		inQueue:   make(map[uint64]struct{}),
		nextIndex: InvalidTaskIndex + 1,
		workers:   make([]*worker, len(resources)),
	}
	p.taskCond = sync.NewCond(&p.mutex)
	p.signalCond = sync.NewCond(&p.mutex)

	for i, res := range resources {
		res.bindThread(i)
		p.workers[i] = &worker{index: i, resource: res}
	}
	for _, w := range p.workers {
		p.wg.Add(1)
		go p.work(w)
	}

	p.mutex.Lock()
	for !p.allLocked(func(s ThreadSignal) bool { return s.Initialized() }) {
		p.signalCond.Wait()
	}
	p.good = len(p.workers) > 0 && p.allLocked(func(s ThreadSignal) bool { return s.InitSucceeded })
	p.mutex.Unlock()

	if !p.good {
		core.Report(core.SeverityCriticalError, "thread pool: %v", core.ErrThreadPoolInit)
	} else {
		core.LogDebug("thread pool started with %d workers", len(p.workers))
	}
	return p
}

// IsGood is true only when every worker's ThreadBegin succeeded.
func (p *ThreadPool) IsGood() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.good
}

func (p *ThreadPool) ThreadCount() int {
	return len(p.workers)
}

// GetThreadID returns the OS thread id of worker index, or 0 for an unknown index.
func (p *ThreadPool) GetThreadID(index int) int {
	if index < 0 || index >= len(p.workers) {
		return 0
	}
	return int(p.workers[index].threadID.Load())
}

// Signal returns a snapshot of worker index's startup/shutdown flags.
func (p *ThreadPool) Signal(index int) ThreadSignal {
	if index < 0 || index >= len(p.workers) {
		return ThreadSignal{}
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.workers[index].signal
}

// Executed returns how many tasks worker index has completed.
func (p *ThreadPool) Executed(index int) uint64 {
	if index < 0 || index >= len(p.workers) {
		return 0
	}
	return p.workers[index].executed.Load()
}

// Pending returns the number of queued tasks that have not started.
func (p *ThreadPool) Pending() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.queue) - p.running
}

// Running returns the number of tasks currently executing.
func (p *ThreadPool) Running() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.running
}

// Schedule queues task. affinity restricts the workers allowed to run it
// (empty means any) and dependencies lists indices of earlier tasks that
// must complete first. The pool owns task from here on.
//
// It returns InvalidTaskIndex when the pool is shutting down, is not good,
// or no worker matches affinity.
func (p *ThreadPool) Schedule(task Task, affinity []int, dependencies []uint64) uint64 {
	if task == nil {
		return InvalidTaskIndex
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.shuttingDown || !p.good {
		return InvalidTaskIndex
	}

	var threads []int
	for _, a := range affinity {
		if a >= 0 && a < len(p.workers) {
			threads = append(threads, a)
		}
	}
	if len(affinity) > 0 && len(threads) == 0 {
		core.LogError("thread pool: affinity %v matches no worker (have %d)", affinity, len(p.workers))
		return InvalidTaskIndex
	}

	var deps []uint64
	for _, d := range dependencies {
		if d == InvalidTaskIndex || d >= p.nextIndex {
			core.LogWarn("thread pool: ignoring dependency %d, not scheduled before task %d", d, p.nextIndex)
			continue
		}
		deps = append(deps, d)
	}

	t := &scheduledTask{
		index:        p.nextIndex,
		task:         task,
		affinity:     threads,
		dependencies: deps,
	}
	p.nextIndex++
	p.queue = append(p.queue, t)
	p.inQueue[t.index] = struct{}{}
	p.taskCond.Broadcast()
	return t.index
}

// ScheduleOn queues task locked to a single worker.
func (p *ThreadPool) ScheduleOn(task Task, thread int, dependencies ...uint64) uint64 {
	return p.Schedule(task, []int{thread}, dependencies)
}

// WaitIdle blocks until no task is queued or running. It can take a few
// milliseconds; use it at synchronization points only.
func (p *ThreadPool) WaitIdle() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for len(p.queue) > 0 {
		p.taskCond.Wait()
	}
}

// Close stops accepting tasks, waits for the queue to drain, runs ThreadEnd
// on every worker and joins them. Calling Close more than once is harmless.
func (p *ThreadPool) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true
	p.shuttingDown = true
	p.mutex.Unlock()

	p.WaitIdle()

	p.mutex.Lock()
	p.exit = true
	p.taskCond.Broadcast()
	for !p.allLocked(func(s ThreadSignal) bool { return s.ReadyToJoin }) {
		p.signalCond.Wait()
	}
	p.mutex.Unlock()

	p.wg.Wait()
	core.LogDebug("thread pool shut down")
}

func (p *ThreadPool) allLocked(pred func(ThreadSignal) bool) bool {
	for _, w := range p.workers {
		if !pred(w.signal) {
			return false
		}
	}
	return true
}

func (p *ThreadPool) work(w *worker) {
	defer p.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	w.threadID.Store(int64(currentThreadID()))

	ok := p.begin(w)

	p.mutex.Lock()
	if ok {
		w.signal.InitSucceeded = true
	} else {
		w.signal.InitFailed = true
	}
	p.signalCond.Broadcast()
	p.mutex.Unlock()

	if ok {
		p.loop(w)
	} else {
		core.LogError("thread pool: worker %d failed to initialize", w.index)
	}

	w.resource.ThreadEnd()

	p.mutex.Lock()
	w.signal.ReadyToJoin = true
	p.signalCond.Broadcast()
	p.mutex.Unlock()
}

func (p *ThreadPool) begin(w *worker) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			core.LogError("thread pool: worker %d panicked in ThreadBegin: %v", w.index, r)
			ok = false
		}
	}()
	return w.resource.ThreadBegin()
}

func (p *ThreadPool) loop(w *worker) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for {
		if p.exit {
			return
		}
		t := p.nextEligibleLocked(w.index)
		if t == nil {
			p.taskCond.Wait()
			continue
		}

		t.running = true
		p.running++
		p.mutex.Unlock()

		p.execute(w, t)

		p.mutex.Lock()
		t.running = false
		p.running--
		p.removeLocked(t)
		w.executed.Add(1)
		p.taskCond.Broadcast()
	}
}

func (p *ThreadPool) nextEligibleLocked(thread int) *scheduledTask {
	for _, t := range p.queue {
		if t.running || !t.runsOn(thread) {
			continue
		}
		blocked := false
		for _, d := range t.dependencies {
			if _, ok := p.inQueue[d]; ok {
				blocked = true
				break
			}
		}
		if !blocked {
			return t
		}
	}
	return nil
}

func (p *ThreadPool) removeLocked(t *scheduledTask) {
	delete(p.inQueue, t.index)
	for i, q := range p.queue {
		if q == t {
			copy(p.queue[i:], p.queue[i+1:])
			p.queue[len(p.queue)-1] = nil
			p.queue = p.queue[:len(p.queue)-1]
			return
		}
	}
}

func (p *ThreadPool) execute(w *worker, t *scheduledTask) {
	defer func() {
		if r := recover(); r != nil {
			core.LogDebug("%s", debug.Stack())
			core.Report(core.SeverityCriticalError, "%v", fmt.Errorf("task %d panicked on worker %d: %v", t.index, w.index, r))
		}
	}()
	t.task.Run(w.resource)
}
