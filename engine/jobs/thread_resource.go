package jobs

// ThreadPrivateResource is the per-worker bundle handed to every task that
// runs on that worker. Only the owning worker goroutine ever touches it, so
// implementations need no locking.
//
// Implementations embed ThreadBase, which records the worker index.
type ThreadPrivateResource interface {
	// ThreadBegin runs once on the worker before any task. Returning false
	// marks the whole pool as not good.
	ThreadBegin() bool
	// ThreadEnd runs once on the worker after the last task, even when
	// ThreadBegin failed.
	ThreadEnd()
	// ThreadIndex is the worker's position in the pool, usable as an
	// affinity key.
	ThreadIndex() int

	bindThread(index int)
}

// ThreadBase carries the worker index assigned by the pool.
type ThreadBase struct {
	index int
}

func (b *ThreadBase) ThreadIndex() int {
	return b.index
}

func (b *ThreadBase) bindThread(index int) {
	b.index = index
}

// GeneralThreadResource is the thread resource of workers that do no GPU work.
type GeneralThreadResource struct {
	ThreadBase
}

func NewGeneralThreadResource() *GeneralThreadResource {
	return &GeneralThreadResource{}
}

func (g *GeneralThreadResource) ThreadBegin() bool { return true }

func (g *GeneralThreadResource) ThreadEnd() {}
