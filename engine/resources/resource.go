package resources

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima2d/engine/core"
)

// Resource is the contract the Manager drives every resource kind through.
// Status never blocks; WaitUntilLoaded blocks up to the given budget.
type Resource interface {
	Status() Status
	IsLoaded() bool
	WaitUntilLoaded(timeout time.Duration) Status
	// WaitUntilLoadedDeadline waits until deadline. A zero deadline waits forever.
	WaitUntilLoadedDeadline(deadline time.Time) Status
	IsGood() bool
	// LoaderThread is the worker index load and unload run on.
	LoaderThread() int
	Handle() core.Handle
	ID() uuid.UUID
	Parent() Resource

	base() *resourceBase
	mtLoad(thread *LoaderThreadResource) bool
	mtUnload(thread *LoaderThreadResource)
}

// resourceBase is the state shared by every resource kind.
type resourceBase struct {
	manager      *Manager
	id           uuid.UUID
	parent       Resource
	loaderThread int
	good         bool
	scheduledAt  time.Time

	handle  atomic.Uint64
	status  statusCell
	loadRan *core.Fence

	subMutex     sync.Mutex
	subresources []Resource
}

func (b *resourceBase) init(m *Manager, parent Resource, loaderThread int) {
	b.manager = m
	b.id = uuid.New()
	b.parent = parent
	b.loaderThread = loaderThread
	b.good = true
	b.loadRan = core.NewFence()
	b.setHandle(core.InvalidHandle)
}

func (b *resourceBase) base() *resourceBase {
	return b
}

func (b *resourceBase) ID() uuid.UUID {
	return b.id
}

func (b *resourceBase) IsGood() bool {
	return b.good
}

func (b *resourceBase) LoaderThread() int {
	return b.loaderThread
}

func (b *resourceBase) Parent() Resource {
	return b.parent
}

func (b *resourceBase) Handle() core.Handle {
	v := b.handle.Load()
	return core.Handle{Index: uint32(v >> 32), Generation: uint32(v)}
}

func (b *resourceBase) setHandle(h core.Handle) {
	b.handle.Store(uint64(h.Index)<<32 | uint64(h.Generation))
}

// resolve makes the one transition out of StatusUndetermined and accounts
// for it in the manager's metrics.
func (b *resourceBase) resolve(to Status) bool {
	if !b.status.resolve(to) {
		return false
	}
	if b.manager != nil {
		b.manager.resolved(b, to)
	}
	return true
}

func (b *resourceBase) addSubresource(r Resource) {
	b.subMutex.Lock()
	defer b.subMutex.Unlock()
	b.subresources = append(b.subresources, r)
}

func (b *resourceBase) takeSubresources() []Resource {
	b.subMutex.Lock()
	defer b.subMutex.Unlock()
	subs := b.subresources
	b.subresources = nil
	return subs
}

// releaseList runs cleanup functions in reverse order of registration.
// Running it again only runs what was added since.
type releaseList struct {
	fns []func()
}

func (l *releaseList) add(fn func()) {
	l.fns = append(l.fns, fn)
}

func (l *releaseList) run() {
	for i := len(l.fns) - 1; i >= 0; i-- {
		l.fns[i]()
	}
	l.fns = nil
}

func (l *releaseList) empty() bool {
	return len(l.fns) == 0
}
