package headless

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

// Options configures a software device.
type Options struct {
	Name string
	// Queue families per role. Equal values share ownership and need no
	// handover barriers.
	PrimaryFamily   uint32
	SecondaryFamily uint32
	TransferFamily  uint32
	Limits          driver.Limits
}

// DefaultOptions returns a device whose three queue roles all live in
// different families, the layout that needs every ownership transfer.
func DefaultOptions() Options {
	return Options{
		Name:            "anima2d headless",
		PrimaryFamily:   0,
		SecondaryFamily: 1,
		TransferFamily:  2,
		Limits: driver.Limits{
			MaxImageDimension2D: 4096,
			MaxImageArrayLayers: 256,
		},
	}
}

// Stats counts live device objects and total submissions.
type Stats struct {
	Buffers        int64
	Images         int64
	Semaphores     int64
	Fences         int64
	CommandBuffers int64
	DescriptorSets int64
	Submissions    int64
}

// Device is a software implementation of driver.Device. Every queue runs
// its submissions in order on its own goroutine and validates image layouts
// and queue family ownership the way a validation layer would.
type Device struct {
	opts   Options
	queues [len(driver.QueueRoles)]*queue

	lost     atomic.Bool
	lostCh   chan struct{}
	lostOnce sync.Once

	failAllocations atomic.Bool

	gateMutex sync.Mutex
	gateCond  *sync.Cond
	paused    bool

	semaphores sync.Map

	nextID         atomic.Uint64
	buffers        atomic.Int64
	images         atomic.Int64
	semaphoreCount atomic.Int64
	fences         atomic.Int64
	commandBuffers atomic.Int64
	descriptorSets atomic.Int64
	submissions    atomic.Int64

	destroyOnce sync.Once
}

// New creates a device and starts its queues.
func New(opts Options) *Device {
	if opts.Limits.MaxImageDimension2D == 0 {
		opts.Limits.MaxImageDimension2D = DefaultOptions().Limits.MaxImageDimension2D
	}
	if opts.Limits.MaxImageArrayLayers == 0 {
		opts.Limits.MaxImageArrayLayers = DefaultOptions().Limits.MaxImageArrayLayers
	}
	if opts.Name == "" {
		opts.Name = DefaultOptions().Name
	}

	d := &Device{
		opts:   opts,
		lostCh: make(chan struct{}),
	}
	d.gateCond = sync.NewCond(&d.gateMutex)

	families := map[driver.QueueRole]uint32{
		driver.QueuePrimaryRender:   opts.PrimaryFamily,
		driver.QueueSecondaryRender: opts.SecondaryFamily,
		driver.QueueTransfer:        opts.TransferFamily,
	}
	for _, role := range driver.QueueRoles {
		d.queues[role] = newQueue(d, role, families[role])
	}
	core.LogDebug("headless device %q created (families primary=%d secondary=%d transfer=%d)",
		opts.Name, opts.PrimaryFamily, opts.SecondaryFamily, opts.TransferFamily)
	return d
}

func (d *Device) Name() string {
	return d.opts.Name
}

func (d *Device) Queue(role driver.QueueRole) driver.Queue {
	return d.queues[role]
}

func (d *Device) Limits() driver.Limits {
	return d.opts.Limits
}

func (d *Device) NewCommandPool(role driver.QueueRole) (driver.CommandPool, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if role < 0 || int(role) >= len(d.queues) {
		return nil, fmt.Errorf("command pool for %s: %w", role, driver.ErrValidation)
	}
	return &commandPool{
		dev:     d,
		role:    role,
		family:  d.queues[role].family,
		buffers: make(map[*commandBuffer]struct{}),
	}, nil
}

func (d *Device) NewMemoryAllocator() (driver.MemoryAllocator, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return &memoryAllocator{
		dev:     d,
		buffers: make(map[*buffer]struct{}),
		images:  make(map[*image]struct{}),
	}, nil
}

func (d *Device) NewDescriptorAllocator() (driver.DescriptorAllocator, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return &descriptorAllocator{
		dev:  d,
		sets: make(map[*descriptorSet]struct{}),
	}, nil
}

func (d *Device) NewSemaphore() (driver.Semaphore, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	s := &semaphore{dev: d}
	s.cond = sync.NewCond(&s.mutex)
	d.semaphores.Store(s, struct{}{})
	d.semaphoreCount.Add(1)
	return s, nil
}

func (d *Device) NewFence() (driver.Fence, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	d.fences.Add(1)
	return &fence{dev: d, done: make(chan struct{})}, nil
}

// WaitIdle blocks until every queue has executed all submissions.
func (d *Device) WaitIdle() error {
	for _, q := range d.queues {
		q.waitIdle()
	}
	if d.lost.Load() {
		return driver.ErrDeviceLost
	}
	return nil
}

// Destroy stops the queues. Pending submissions still execute first.
func (d *Device) Destroy() {
	d.destroyOnce.Do(func() {
		for _, q := range d.queues {
			q.close()
		}
		core.LogDebug("headless device %q destroyed", d.opts.Name)
	})
}

// FailAllocations makes every following buffer, image and descriptor set
// allocation fail with driver.ErrOutOfMemory while enabled.
func (d *Device) FailAllocations(enabled bool) {
	d.failAllocations.Store(enabled)
}

// LoseDevice moves the device to the lost state. Fences report
// driver.ErrDeviceLost from now on and blocked queues are released.
func (d *Device) LoseDevice() {
	d.lostOnce.Do(func() {
		d.lost.Store(true)
		close(d.lostCh)

		d.gateMutex.Lock()
		d.gateCond.Broadcast()
		d.gateMutex.Unlock()

		d.semaphores.Range(func(key, _ any) bool {
			key.(*semaphore).wake()
			return true
		})
		core.LogError("headless device %q lost", d.opts.Name)
	})
}

// Pause holds every queue before its next batch until Resume is called.
func (d *Device) Pause() {
	d.gateMutex.Lock()
	d.paused = true
	d.gateMutex.Unlock()
}

func (d *Device) Resume() {
	d.gateMutex.Lock()
	d.paused = false
	d.gateCond.Broadcast()
	d.gateMutex.Unlock()
}

func (d *Device) Stats() Stats {
	return Stats{
		Buffers:        d.buffers.Load(),
		Images:         d.images.Load(),
		Semaphores:     d.semaphoreCount.Load(),
		Fences:         d.fences.Load(),
		CommandBuffers: d.commandBuffers.Load(),
		DescriptorSets: d.descriptorSets.Load(),
		Submissions:    d.submissions.Load(),
	}
}

func (d *Device) waitGate() {
	d.gateMutex.Lock()
	defer d.gateMutex.Unlock()
	for d.paused && !d.lost.Load() {
		d.gateCond.Wait()
	}
}

func (d *Device) check() error {
	if d.lost.Load() {
		return driver.ErrDeviceLost
	}
	return nil
}

func (d *Device) allocationCheck(what string) error {
	if err := d.check(); err != nil {
		return err
	}
	if d.failAllocations.Load() {
		return fmt.Errorf("allocate %s: %w", what, driver.ErrOutOfMemory)
	}
	return nil
}
