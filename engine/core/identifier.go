package core

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima2d/engine/containers"
)

// Handle addresses a slot in an IdentifierPool. The generation changes every
// time a slot is reused so stale handles can be detected.
type Handle struct {
	Index      uint32
	Generation uint32
}

// InvalidHandle is never returned by Acquire.
var InvalidHandle = Handle{Index: ^uint32(0)}

func (h Handle) IsValid() bool {
	return h.Index != InvalidHandle.Index && h.Generation != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.Index, h.Generation)
}

type identifierSlot[T any] struct {
	owner      T
	generation uint32
	used       bool
}

// IdentifierPool hands out slot handles for owners. Released slots are reused
// in the order they were freed.
type IdentifierPool[T any] struct {
	mutex sync.Mutex
	slots []identifierSlot[T]
	free  *containers.RingQueue[uint32]
	live  int
}

func NewIdentifierPool[T any](capacity int) *IdentifierPool[T] {
	if capacity < 1 {
		capacity = 100
	}
	return &IdentifierPool[T]{
		slots: make([]identifierSlot[T], 0, capacity),
		free:  containers.NewGrowingRingQueue[uint32](capacity),
	}
}

// Acquire stores owner in a free slot, or a new one, and returns its handle.
func (p *IdentifierPool[T]) Acquire(owner T) Handle {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var index uint32
	if id, err := p.free.Dequeue(); err == nil {
		index = id
	} else {
		// No existing free slots, push a new one.
		p.slots = append(p.slots, identifierSlot[T]{})
		index = uint32(len(p.slots) - 1)
	}

	slot := &p.slots[index]
	slot.generation++
	if slot.generation == 0 {
		slot.generation = 1
	}
	slot.owner = owner
	slot.used = true
	p.live++
	return Handle{Index: index, Generation: slot.generation}
}

// Get returns the owner stored under h, or false if h is stale.
func (p *IdentifierPool[T]) Get(h Handle) (T, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var zero T
	slot, ok := p.slotFor(h)
	if !ok {
		return zero, false
	}
	return slot.owner, true
}

// Replace swaps the owner stored under h, keeping the handle valid.
func (p *IdentifierPool[T]) Replace(h Handle, owner T) (T, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var zero T
	slot, ok := p.slotFor(h)
	if !ok {
		return zero, fmt.Errorf("replace %s: %w", h, ErrInvalidHandle)
	}
	prev := slot.owner
	slot.owner = owner
	return prev, nil
}

// Release frees the slot behind h. Releasing a stale handle is an error and
// does nothing.
func (p *IdentifierPool[T]) Release(h Handle) (T, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var zero T
	slot, ok := p.slotFor(h)
	if !ok {
		return zero, fmt.Errorf("release %s: %w", h, ErrIdentifierReleased)
	}
	owner := slot.owner
	slot.owner = zero
	slot.used = false
	p.live--
	if err := p.free.Enqueue(h.Index); err != nil {
		return owner, err
	}
	return owner, nil
}

// Snapshot returns every live owner, in slot order.
func (p *IdentifierPool[T]) Snapshot() []T {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	owners := make([]T, 0, p.live)
	for i := range p.slots {
		if p.slots[i].used {
			owners = append(owners, p.slots[i].owner)
		}
	}
	return owners
}

func (p *IdentifierPool[T]) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.live
}

func (p *IdentifierPool[T]) slotFor(h Handle) (*identifierSlot[T], bool) {
	if h.Index >= uint32(len(p.slots)) {
		return nil, false
	}
	slot := &p.slots[h.Index]
	if !slot.used || slot.generation != h.Generation {
		return nil, false
	}
	return slot, true
}
