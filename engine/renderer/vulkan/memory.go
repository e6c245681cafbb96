package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

// buffer is a persistently mapped host coherent buffer.
type buffer struct {
	handle vk.Buffer
	memory vk.DeviceMemory
	size   uint64
	mapped unsafe.Pointer
}

func (b *buffer) Size() uint64 {
	return b.size
}

func (b *buffer) bytes() []byte {
	return unsafe.Slice((*byte)(b.mapped), b.size)
}

func (b *buffer) Write(offset uint64, data []byte) error {
	if b.mapped == nil {
		return fmt.Errorf("write to freed buffer: %w", driver.ErrValidation)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write of %d bytes at %d to a %d byte buffer: %w", len(data), offset, b.size, driver.ErrValidation)
	}
	copy(b.bytes()[offset:], data)
	return nil
}

func (b *buffer) Read(offset uint64, data []byte) error {
	if b.mapped == nil {
		return fmt.Errorf("read from freed buffer: %w", driver.ErrValidation)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("read of %d bytes at %d from a %d byte buffer: %w", len(data), offset, b.size, driver.ErrValidation)
	}
	copy(data, b.bytes()[offset:])
	return nil
}

type memoryAllocator struct {
	dev     *Device
	buffers map[*buffer]struct{}
	images  map[*image]struct{}
}

func newMemoryAllocator(dev *Device) *memoryAllocator {
	return &memoryAllocator{
		dev:     dev,
		buffers: make(map[*buffer]struct{}),
		images:  make(map[*image]struct{}),
	}
}

// reserve counts n device memory allocations against maxMemoryAllocationCount,
// which is shared by every allocator of the device.
func (a *memoryAllocator) reserve(n int) error {
	return a.dev.context.locks.SafeCall(MemoryManagement, func() error {
		limit := int(a.dev.context.Properties.Limits.MaxMemoryAllocationCount)
		if limit > 0 && a.dev.allocations+n > limit {
			return fmt.Errorf("%d device memory allocations in use: %w", a.dev.allocations, driver.ErrOutOfMemory)
		}
		a.dev.allocations += n
		return nil
	})
}

func (a *memoryAllocator) release(n int) {
	_ = a.dev.context.locks.SafeCall(MemoryManagement, func() error {
		a.dev.allocations -= n
		return nil
	})
}

func (a *memoryAllocator) NewHostBuffer(size uint64) (driver.Buffer, error) {
	if err := a.dev.check(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("empty buffer: %w", driver.ErrValidation)
	}
	if err := a.reserve(1); err != nil {
		return nil, err
	}
	b, err := a.createBuffer(size)
	if err != nil {
		a.release(1)
		return nil, err
	}
	a.buffers[b] = struct{}{}
	return b, nil
}

func (a *memoryAllocator) createBuffer(size uint64) (*buffer, error) {
	dev := a.dev
	logical := dev.context.LogicalDevice
	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit),
		SharingMode: vk.SharingModeExclusive,
	}
	b := &buffer{size: size}
	if err := resultError("vkCreateBuffer", vk.CreateBuffer(logical, &bufferCreateInfo, dev.context.Allocator, &b.handle)); err != nil {
		return nil, dev.observe(err)
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(logical, b.handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := dev.context.FindMemoryIndex(memoryRequirements.MemoryTypeBits,
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if memoryType < 0 {
		a.destroyBuffer(b)
		return nil, fmt.Errorf("no host visible memory type for buffer: %w", driver.ErrOutOfMemory)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	if err := resultError("vkAllocateMemory", vk.AllocateMemory(logical, &allocateInfo, dev.context.Allocator, &b.memory)); err != nil {
		a.destroyBuffer(b)
		return nil, dev.observe(err)
	}
	if err := resultError("vkBindBufferMemory", vk.BindBufferMemory(logical, b.handle, b.memory, 0)); err != nil {
		a.destroyBuffer(b)
		return nil, dev.observe(err)
	}
	var mapped unsafe.Pointer
	if err := resultError("vkMapMemory", vk.MapMemory(logical, b.memory, 0, vk.DeviceSize(size), 0, &mapped)); err != nil {
		a.destroyBuffer(b)
		return nil, dev.observe(err)
	}
	b.mapped = mapped
	return b, nil
}

func (a *memoryAllocator) destroyBuffer(b *buffer) {
	logical := a.dev.context.LogicalDevice
	if b.mapped != nil {
		vk.UnmapMemory(logical, b.memory)
		b.mapped = nil
	}
	if b.handle != nil {
		vk.DestroyBuffer(logical, b.handle, a.dev.context.Allocator)
		b.handle = nil
	}
	if b.memory != nil {
		vk.FreeMemory(logical, b.memory, a.dev.context.Allocator)
		b.memory = nil
	}
}

func (a *memoryAllocator) NewImage(desc driver.ImageDesc) (driver.Image, error) {
	if err := a.dev.check(); err != nil {
		return nil, err
	}
	if err := a.reserve(1); err != nil {
		return nil, err
	}
	img, err := newImage(a.dev, desc)
	if err != nil {
		a.release(1)
		return nil, err
	}
	a.images[img] = struct{}{}
	return img, nil
}

func (a *memoryAllocator) FreeBuffer(buf driver.Buffer) {
	b, ok := buf.(*buffer)
	if !ok {
		return
	}
	if _, live := a.buffers[b]; !live {
		return
	}
	delete(a.buffers, b)
	a.destroyBuffer(b)
	a.release(1)
}

func (a *memoryAllocator) FreeImage(i driver.Image) {
	img, ok := i.(*image)
	if !ok {
		return
	}
	if _, live := a.images[img]; !live {
		return
	}
	delete(a.images, img)
	img.destroy(a.dev)
	a.release(1)
}

func (a *memoryAllocator) Live() int {
	return len(a.buffers) + len(a.images)
}

// Destroy frees every buffer and image still allocated.
func (a *memoryAllocator) Destroy() {
	for b := range a.buffers {
		a.FreeBuffer(b)
	}
	for img := range a.images {
		a.FreeImage(img)
	}
}
