package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

type memoryAllocator struct {
	dev       *Device
	mutex     sync.Mutex
	buffers   map[*buffer]struct{}
	images    map[*image]struct{}
	destroyed bool
}

func (a *memoryAllocator) NewHostBuffer(size uint64) (driver.Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("allocate zero sized buffer: %w", driver.ErrValidation)
	}
	if err := a.dev.allocationCheck("buffer"); err != nil {
		return nil, err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.destroyed {
		return nil, fmt.Errorf("allocate from destroyed allocator: %w", driver.ErrValidation)
	}
	b := &buffer{id: a.dev.nextID.Add(1), data: make([]byte, size)}
	a.buffers[b] = struct{}{}
	a.dev.buffers.Add(1)
	return b, nil
}

func (a *memoryAllocator) NewImage(desc driver.ImageDesc) (driver.Image, error) {
	if err := a.validateDesc(desc); err != nil {
		return nil, err
	}
	if err := a.dev.allocationCheck("image"); err != nil {
		return nil, err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.destroyed {
		return nil, fmt.Errorf("allocate from destroyed allocator: %w", driver.ErrValidation)
	}
	img := newImage(a.dev.nextID.Add(1), desc)
	a.images[img] = struct{}{}
	a.dev.images.Add(1)
	return img, nil
}

func (a *memoryAllocator) validateDesc(desc driver.ImageDesc) error {
	limits := a.dev.Limits()
	switch {
	case desc.Format != driver.FormatR8G8B8A8Unorm:
		return fmt.Errorf("image format %d: %w", desc.Format, driver.ErrUnsupported)
	case desc.Extent.Width == 0 || desc.Extent.Height == 0:
		return fmt.Errorf("image extent %v: %w", desc.Extent, driver.ErrValidation)
	case desc.Extent.Width > limits.MaxImageDimension2D || desc.Extent.Height > limits.MaxImageDimension2D:
		return fmt.Errorf("image extent %v exceeds %d: %w", desc.Extent, limits.MaxImageDimension2D, driver.ErrValidation)
	case desc.Layers == 0 || desc.Layers > limits.MaxImageArrayLayers:
		return fmt.Errorf("image layers %d: %w", desc.Layers, driver.ErrValidation)
	case desc.MipLevels == 0 || desc.MipLevels > driver.MipLevelCount(desc.Extent):
		return fmt.Errorf("image mip levels %d for %v: %w", desc.MipLevels, desc.Extent, driver.ErrValidation)
	}
	return nil
}

func (a *memoryAllocator) FreeBuffer(b driver.Buffer) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil {
		return
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if _, ok := a.buffers[buf]; !ok {
		core.LogWarn("headless: freeing buffer %d not owned by this allocator", buf.id)
		return
	}
	delete(a.buffers, buf)
	a.dev.buffers.Add(-1)
}

func (a *memoryAllocator) FreeImage(i driver.Image) {
	img, ok := i.(*image)
	if !ok || img == nil {
		return
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if _, ok := a.images[img]; !ok {
		core.LogWarn("headless: freeing image %d not owned by this allocator", img.id)
		return
	}
	delete(a.images, img)
	a.dev.images.Add(-1)
}

func (a *memoryAllocator) Live() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return len(a.buffers) + len(a.images)
}

func (a *memoryAllocator) Destroy() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.destroyed {
		return
	}
	if n := len(a.buffers) + len(a.images); n > 0 {
		core.LogWarn("headless: memory allocator destroyed with %d live allocations", n)
	}
	a.dev.buffers.Add(-int64(len(a.buffers)))
	a.dev.images.Add(-int64(len(a.images)))
	a.buffers = nil
	a.images = nil
	a.destroyed = true
}

type buffer struct {
	id    uint64
	mutex sync.Mutex
	data  []byte
}

func (b *buffer) Size() uint64 {
	return uint64(len(b.data))
}

func (b *buffer) Write(offset uint64, data []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write %d bytes at %d into %d byte buffer: %w", len(data), offset, len(b.data), driver.ErrValidation)
	}
	copy(b.data[offset:], data)
	return nil
}

func (b *buffer) Read(offset uint64, data []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("read %d bytes at %d from %d byte buffer: %w", len(data), offset, len(b.data), driver.ErrValidation)
	}
	copy(data, b.data[offset:])
	return nil
}

type descriptorAllocator struct {
	dev       *Device
	mutex     sync.Mutex
	sets      map[*descriptorSet]struct{}
	destroyed bool
}

type descriptorSet struct {
	view *imageView
}

func (s *descriptorSet) View() driver.ImageView {
	return s.view
}

func (a *descriptorAllocator) Allocate(v driver.ImageView) (driver.DescriptorSet, error) {
	view, ok := v.(*imageView)
	if !ok || view == nil {
		return nil, fmt.Errorf("descriptor set for foreign view: %w", driver.ErrValidation)
	}
	if err := a.dev.allocationCheck("descriptor set"); err != nil {
		return nil, err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.destroyed {
		return nil, fmt.Errorf("allocate from destroyed descriptor allocator: %w", driver.ErrValidation)
	}
	set := &descriptorSet{view: view}
	a.sets[set] = struct{}{}
	a.dev.descriptorSets.Add(1)
	return set, nil
}

func (a *descriptorAllocator) Free(s driver.DescriptorSet) {
	set, ok := s.(*descriptorSet)
	if !ok || set == nil {
		return
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if _, ok := a.sets[set]; !ok {
		return
	}
	delete(a.sets, set)
	a.dev.descriptorSets.Add(-1)
}

func (a *descriptorAllocator) Live() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return len(a.sets)
}

func (a *descriptorAllocator) Destroy() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.destroyed {
		return
	}
	a.dev.descriptorSets.Add(-int64(len(a.sets)))
	a.sets = nil
	a.destroyed = true
}
