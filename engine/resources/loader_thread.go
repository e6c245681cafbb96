package resources

import (
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/jobs"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
	"github.com/spaghettifunk/anima2d/engine/text"
)

// LoaderThreadResource is the thread resource of resource loading workers:
// one command pool per queue role, a memory allocator, a descriptor
// allocator and a glyph rasterizer, all private to the worker.
type LoaderThreadResource struct {
	jobs.ThreadBase

	device      driver.Device
	pools       [len(driver.QueueRoles)]driver.CommandPool
	allocator   driver.MemoryAllocator
	descriptors driver.DescriptorAllocator
	rasterizer  *text.Rasterizer
}

func NewLoaderThreadResource(device driver.Device) *LoaderThreadResource {
	return &LoaderThreadResource{device: device}
}

func (l *LoaderThreadResource) ThreadBegin() bool {
	for _, role := range driver.QueueRoles {
		pool, err := l.device.NewCommandPool(role)
		if err != nil {
			core.LogError("loader thread %d: create %s command pool: %v", l.ThreadIndex(), role, err)
			return false
		}
		l.pools[role] = pool
	}

	var err error
	if l.allocator, err = l.device.NewMemoryAllocator(); err != nil {
		core.LogError("loader thread %d: create memory allocator: %v", l.ThreadIndex(), err)
		return false
	}
	if l.descriptors, err = l.device.NewDescriptorAllocator(); err != nil {
		core.LogError("loader thread %d: create descriptor allocator: %v", l.ThreadIndex(), err)
		return false
	}
	l.rasterizer = text.NewRasterizer()
	return true
}

// ThreadEnd releases whatever ThreadBegin created. It is safe to call more than once.
func (l *LoaderThreadResource) ThreadEnd() {
	l.rasterizer = nil
	if l.descriptors != nil {
		if live := l.descriptors.Live(); live > 0 {
			core.LogWarn("loader thread %d: %d descriptor sets still allocated", l.ThreadIndex(), live)
		}
		l.descriptors.Destroy()
		l.descriptors = nil
	}
	if l.allocator != nil {
		if live := l.allocator.Live(); live > 0 {
			core.LogWarn("loader thread %d: %d buffers or images still allocated", l.ThreadIndex(), live)
		}
		l.allocator.Destroy()
		l.allocator = nil
	}
	for i := len(l.pools) - 1; i >= 0; i-- {
		if l.pools[i] != nil {
			l.pools[i].Destroy()
			l.pools[i] = nil
		}
	}
}

func (l *LoaderThreadResource) Device() driver.Device {
	return l.device
}

func (l *LoaderThreadResource) CommandPool(role driver.QueueRole) driver.CommandPool {
	return l.pools[role]
}

func (l *LoaderThreadResource) Allocator() driver.MemoryAllocator {
	return l.allocator
}

func (l *LoaderThreadResource) Descriptors() driver.DescriptorAllocator {
	return l.descriptors
}

func (l *LoaderThreadResource) Rasterizer() *text.Rasterizer {
	return l.rasterizer
}
