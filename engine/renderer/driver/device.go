package driver

import "time"

// WaitForever disables the timeout of Fence.Wait.
const WaitForever = time.Duration(1<<63 - 1)

// Device is the subset of a GPU device the resource loaders need. Queue and
// Limits are safe for concurrent use; objects created from the device are
// owned by the caller.
type Device interface {
	Name() string
	Queue(role QueueRole) Queue
	Limits() Limits

	NewCommandPool(role QueueRole) (CommandPool, error)
	NewMemoryAllocator() (MemoryAllocator, error)
	NewDescriptorAllocator() (DescriptorAllocator, error)
	NewSemaphore() (Semaphore, error)
	NewFence() (Fence, error)

	WaitIdle() error
	Destroy()
}

// Queue accepts submissions from any goroutine.
type Queue interface {
	Role() QueueRole
	Family() uint32
	// Submit enqueues the batches in order and signals fence, if not nil,
	// when all of them have executed. It does not wait for execution.
	Submit(submits []SubmitInfo, fence Fence) error
}

// CommandPool allocates command buffers for one queue role. A pool and its
// buffers are used by a single goroutine.
type CommandPool interface {
	Role() QueueRole
	Family() uint32
	Allocate() (CommandBuffer, error)
	Free(cb CommandBuffer)
	Destroy()
}

type CommandBuffer interface {
	Begin() error
	End() error
	PipelineBarrier(barriers ...ImageBarrier)
	CopyBufferToImage(src Buffer, dst Image, dstLayout ImageLayout, region BufferImageCopy)
	BlitImage(src Image, srcLayout ImageLayout, dst Image, dstLayout ImageLayout, region ImageBlit, filter Filter)
	CopyImageToBuffer(src Image, srcLayout ImageLayout, dst Buffer, region BufferImageCopy)
}

// Buffer is host-visible memory.
type Buffer interface {
	Size() uint64
	Write(offset uint64, data []byte) error
	Read(offset uint64, data []byte) error
}

// Image is a device image with a 2D array view covering every layer and mip level.
type Image interface {
	Desc() ImageDesc
	View() ImageView
}

type ImageView interface {
	Image() Image
}

// MemoryAllocator hands out buffers and images. It is used by a single goroutine.
type MemoryAllocator interface {
	NewHostBuffer(size uint64) (Buffer, error)
	NewImage(desc ImageDesc) (Image, error)
	FreeBuffer(b Buffer)
	FreeImage(img Image)
	// Live returns the number of buffers and images not yet freed.
	Live() int
	Destroy()
}

type DescriptorSet interface {
	View() ImageView
}

// DescriptorAllocator hands out combined image sampler sets. It is used by a
// single goroutine.
type DescriptorAllocator interface {
	Allocate(view ImageView) (DescriptorSet, error)
	Free(set DescriptorSet)
	Live() int
	Destroy()
}

type Semaphore interface {
	Destroy()
}

type Fence interface {
	// Status returns nil once signaled, ErrNotReady while pending, or the
	// error the device reported for the fenced work.
	Status() error
	// Wait blocks up to timeout. It returns ErrTimeout when the fence is
	// still pending afterwards.
	Wait(timeout time.Duration) error
	Destroy()
}
