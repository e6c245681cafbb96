package headless

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

type fixture struct {
	dev   *Device
	alloc driver.MemoryAllocator
	pools map[driver.QueueRole]driver.CommandPool
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dev := New(opts)
	t.Cleanup(dev.Destroy)

	alloc, err := dev.NewMemoryAllocator()
	if err != nil {
		t.Fatalf("NewMemoryAllocator() error = %v", err)
	}
	f := &fixture{dev: dev, alloc: alloc, pools: map[driver.QueueRole]driver.CommandPool{}}
	for _, role := range driver.QueueRoles {
		p, err := dev.NewCommandPool(role)
		if err != nil {
			t.Fatalf("NewCommandPool(%s) error = %v", role, err)
		}
		f.pools[role] = p
	}
	return f
}

func (f *fixture) record(t *testing.T, role driver.QueueRole, fn func(cb driver.CommandBuffer)) driver.CommandBuffer {
	t.Helper()
	cb, err := f.pools[role].Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	fn(cb)
	if err := cb.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	return cb
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func barrier(img driver.Image, oldL, newL driver.ImageLayout, mip, levels uint32) driver.ImageBarrier {
	return driver.ImageBarrier{
		Image:          img,
		OldLayout:      oldL,
		NewLayout:      newL,
		SrcQueueFamily: driver.QueueFamilyIgnored,
		DstQueueFamily: driver.QueueFamilyIgnored,
		BaseMipLevel:   mip,
		LevelCount:     levels,
		LayerCount:     1,
	}
}

func TestDevice_UploadAndReadback(t *testing.T) {
	f := newFixture(t, Options{})
	ext := driver.Extent{Width: 8, Height: 4}
	texels := pattern(8 * 4 * 4)

	staging, _ := f.alloc.NewHostBuffer(uint64(len(texels)))
	if err := staging.Write(0, texels); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	img, err := f.alloc.NewImage(driver.ImageDesc{Extent: ext, Layers: 1, MipLevels: 1, Format: driver.FormatR8G8B8A8Unorm})
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	readback, _ := f.alloc.NewHostBuffer(uint64(len(texels)))
	region := driver.BufferImageCopy{LayerCount: 1, Extent: ext}

	cb := f.record(t, driver.QueuePrimaryRender, func(cb driver.CommandBuffer) {
		cb.PipelineBarrier(barrier(img, driver.LayoutUndefined, driver.LayoutTransferDst, 0, 1))
		cb.CopyBufferToImage(staging, img, driver.LayoutTransferDst, region)
		cb.PipelineBarrier(barrier(img, driver.LayoutTransferDst, driver.LayoutTransferSrc, 0, 1))
		cb.CopyImageToBuffer(img, driver.LayoutTransferSrc, readback, region)
	})
	fence, _ := f.dev.NewFence()
	if err := fence.Status(); !errors.Is(err, driver.ErrNotReady) {
		t.Errorf("Status() before submit = %v, want %v", err, driver.ErrNotReady)
	}
	if err := f.dev.Queue(driver.QueuePrimaryRender).Submit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{cb}}}, fence); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := fence.Wait(time.Second); err != nil {
		t.Fatalf("fence.Wait() error = %v", err)
	}

	got := make([]byte, len(texels))
	_ = readback.Read(0, got)
	if !bytes.Equal(got, texels) {
		t.Error("readback differs from uploaded texels")
	}
}

func TestDevice_OwnershipTransfer(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ext := driver.Extent{Width: 4, Height: 4}
	img, _ := f.alloc.NewImage(driver.ImageDesc{Extent: ext, Layers: 1, MipLevels: 1, Format: driver.FormatR8G8B8A8Unorm})
	transfer := f.dev.Queue(driver.QueueTransfer).Family()
	secondary := f.dev.Queue(driver.QueueSecondaryRender).Family()

	release := driver.OwnershipBarrier(img, transfer, secondary, driver.LayoutTransferDst, driver.AccessTransferWrite, 0, 1, 1)
	first := f.record(t, driver.QueueTransfer, func(cb driver.CommandBuffer) {
		cb.PipelineBarrier(barrier(img, driver.LayoutUndefined, driver.LayoutTransferDst, 0, 1))
		cb.PipelineBarrier(release)
	})
	second := f.record(t, driver.QueueSecondaryRender, func(cb driver.CommandBuffer) {
		cb.PipelineBarrier(release)
		cb.PipelineBarrier(barrier(img, driver.LayoutTransferDst, driver.LayoutShaderReadOnly, 0, 1))
	})

	sem, _ := f.dev.NewSemaphore()
	fence, _ := f.dev.NewFence()
	if err := f.dev.Queue(driver.QueueTransfer).Submit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{first}, Signal: []driver.Semaphore{sem}}}, nil); err != nil {
		t.Fatalf("Submit(transfer) error = %v", err)
	}
	if err := f.dev.Queue(driver.QueueSecondaryRender).Submit([]driver.SubmitInfo{{Wait: []driver.Semaphore{sem}, CommandBuffers: []driver.CommandBuffer{second}}}, fence); err != nil {
		t.Fatalf("Submit(secondary) error = %v", err)
	}
	if err := fence.Wait(time.Second); err != nil {
		t.Errorf("fence.Wait() error = %v, want nil", err)
	}
}

func TestDevice_AcquireAccessMustMatchRelease(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ext := driver.Extent{Width: 4, Height: 4}
	img, _ := f.alloc.NewImage(driver.ImageDesc{Extent: ext, Layers: 1, MipLevels: 1, Format: driver.FormatR8G8B8A8Unorm})
	transfer := f.dev.Queue(driver.QueueTransfer).Family()
	secondary := f.dev.Queue(driver.QueueSecondaryRender).Family()

	first := f.record(t, driver.QueueTransfer, func(cb driver.CommandBuffer) {
		cb.PipelineBarrier(barrier(img, driver.LayoutUndefined, driver.LayoutTransferDst, 0, 1))
		cb.PipelineBarrier(driver.OwnershipBarrier(img, transfer, secondary, driver.LayoutTransferDst, driver.AccessTransferWrite, 0, 1, 1))
	})
	second := f.record(t, driver.QueueSecondaryRender, func(cb driver.CommandBuffer) {
		cb.PipelineBarrier(driver.OwnershipBarrier(img, transfer, secondary, driver.LayoutTransferDst, driver.AccessNone, 0, 1, 1))
	})

	sem, _ := f.dev.NewSemaphore()
	fence, _ := f.dev.NewFence()
	_ = f.dev.Queue(driver.QueueTransfer).Submit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{first}, Signal: []driver.Semaphore{sem}}}, nil)
	_ = f.dev.Queue(driver.QueueSecondaryRender).Submit([]driver.SubmitInfo{{Wait: []driver.Semaphore{sem}, CommandBuffers: []driver.CommandBuffer{second}}}, fence)

	if err := fence.Wait(time.Second); !errors.Is(err, driver.ErrValidation) {
		t.Errorf("fence.Wait() error = %v, want %v", err, driver.ErrValidation)
	}
}

func TestDevice_MismatchedAcquireFails(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ext := driver.Extent{Width: 4, Height: 4}
	img, _ := f.alloc.NewImage(driver.ImageDesc{Extent: ext, Layers: 1, MipLevels: 1, Format: driver.FormatR8G8B8A8Unorm})
	transfer := f.dev.Queue(driver.QueueTransfer).Family()
	secondary := f.dev.Queue(driver.QueueSecondaryRender).Family()

	first := f.record(t, driver.QueueTransfer, func(cb driver.CommandBuffer) {
		cb.PipelineBarrier(barrier(img, driver.LayoutUndefined, driver.LayoutTransferDst, 0, 1))
		cb.PipelineBarrier(driver.OwnershipBarrier(img, transfer, secondary, driver.LayoutTransferDst, driver.AccessTransferWrite, 0, 1, 1))
	})
	second := f.record(t, driver.QueueSecondaryRender, func(cb driver.CommandBuffer) {
		// Acquire with a different layout than the release.
		cb.PipelineBarrier(driver.OwnershipBarrier(img, transfer, secondary, driver.LayoutTransferSrc, driver.AccessTransferWrite, 0, 1, 1))
	})

	sem, _ := f.dev.NewSemaphore()
	fence, _ := f.dev.NewFence()
	_ = f.dev.Queue(driver.QueueTransfer).Submit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{first}, Signal: []driver.Semaphore{sem}}}, nil)
	_ = f.dev.Queue(driver.QueueSecondaryRender).Submit([]driver.SubmitInfo{{Wait: []driver.Semaphore{sem}, CommandBuffers: []driver.CommandBuffer{second}}}, fence)

	if err := fence.Wait(time.Second); !errors.Is(err, driver.ErrValidation) {
		t.Errorf("fence.Wait() error = %v, want %v", err, driver.ErrValidation)
	}
}

func TestDevice_UseWithoutAcquireFails(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	img, _ := f.alloc.NewImage(driver.ImageDesc{Extent: driver.Extent{Width: 2, Height: 2}, Layers: 1, MipLevels: 1, Format: driver.FormatR8G8B8A8Unorm})

	first := f.record(t, driver.QueueTransfer, func(cb driver.CommandBuffer) {
		cb.PipelineBarrier(barrier(img, driver.LayoutUndefined, driver.LayoutTransferDst, 0, 1))
	})
	second := f.record(t, driver.QueuePrimaryRender, func(cb driver.CommandBuffer) {
		cb.PipelineBarrier(barrier(img, driver.LayoutTransferDst, driver.LayoutShaderReadOnly, 0, 1))
	})
	sem, _ := f.dev.NewSemaphore()
	fence, _ := f.dev.NewFence()
	_ = f.dev.Queue(driver.QueueTransfer).Submit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{first}, Signal: []driver.Semaphore{sem}}}, nil)
	_ = f.dev.Queue(driver.QueuePrimaryRender).Submit([]driver.SubmitInfo{{Wait: []driver.Semaphore{sem}, CommandBuffers: []driver.CommandBuffer{second}}}, fence)

	if err := fence.Wait(time.Second); !errors.Is(err, driver.ErrValidation) {
		t.Errorf("fence.Wait() error = %v, want %v", err, driver.ErrValidation)
	}
}

func TestDevice_BlitHalvesSolidColor(t *testing.T) {
	f := newFixture(t, Options{})
	ext := driver.Extent{Width: 4, Height: 4}
	img, _ := f.alloc.NewImage(driver.ImageDesc{Extent: ext, Layers: 1, MipLevels: 2, Format: driver.FormatR8G8B8A8Unorm})

	solid := bytes.Repeat([]byte{10, 20, 30, 255}, 16)
	staging, _ := f.alloc.NewHostBuffer(uint64(len(solid)))
	_ = staging.Write(0, solid)
	readback, _ := f.alloc.NewHostBuffer(4 * 4)
	half := driver.Extent{Width: 2, Height: 2}

	cb := f.record(t, driver.QueuePrimaryRender, func(cb driver.CommandBuffer) {
		cb.PipelineBarrier(barrier(img, driver.LayoutUndefined, driver.LayoutTransferDst, 0, 2))
		cb.CopyBufferToImage(staging, img, driver.LayoutTransferDst, driver.BufferImageCopy{LayerCount: 1, Extent: ext})
		cb.PipelineBarrier(barrier(img, driver.LayoutTransferDst, driver.LayoutTransferSrc, 0, 1))
		cb.BlitImage(img, driver.LayoutTransferSrc, img, driver.LayoutTransferDst, driver.ImageBlit{
			SrcMipLevel: 0, DstMipLevel: 1, LayerCount: 1, SrcExtent: ext, DstExtent: half,
		}, driver.FilterLinear)
		cb.PipelineBarrier(barrier(img, driver.LayoutTransferDst, driver.LayoutTransferSrc, 1, 1))
		cb.CopyImageToBuffer(img, driver.LayoutTransferSrc, readback, driver.BufferImageCopy{MipLevel: 1, LayerCount: 1, Extent: half})
	})
	fence, _ := f.dev.NewFence()
	_ = f.dev.Queue(driver.QueuePrimaryRender).Submit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{cb}}}, fence)
	if err := fence.Wait(time.Second); err != nil {
		t.Fatalf("fence.Wait() error = %v", err)
	}

	got := make([]byte, 16)
	_ = readback.Read(0, got)
	if !bytes.Equal(got, solid[:16]) {
		t.Errorf("mip 1 = %v, want solid %v", got, solid[:16])
	}
}

func TestDevice_PauseTimesOut(t *testing.T) {
	f := newFixture(t, Options{})
	cb := f.record(t, driver.QueueTransfer, func(driver.CommandBuffer) {})
	fence, _ := f.dev.NewFence()

	f.dev.Pause()
	_ = f.dev.Queue(driver.QueueTransfer).Submit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{cb}}}, fence)
	if err := fence.Wait(10 * time.Millisecond); !errors.Is(err, driver.ErrTimeout) {
		t.Errorf("Wait() while paused = %v, want %v", err, driver.ErrTimeout)
	}
	f.dev.Resume()
	if err := fence.Wait(time.Second); err != nil {
		t.Errorf("Wait() after resume = %v, want nil", err)
	}
}

func TestDevice_LoseDevice(t *testing.T) {
	f := newFixture(t, Options{})
	fence, _ := f.dev.NewFence()
	f.dev.LoseDevice()

	if err := fence.Status(); !errors.Is(err, driver.ErrDeviceLost) {
		t.Errorf("Status() = %v, want %v", err, driver.ErrDeviceLost)
	}
	if err := fence.Wait(driver.WaitForever); !errors.Is(err, driver.ErrDeviceLost) {
		t.Errorf("Wait() = %v, want %v", err, driver.ErrDeviceLost)
	}
	if _, err := f.dev.NewSemaphore(); !errors.Is(err, driver.ErrDeviceLost) {
		t.Errorf("NewSemaphore() error = %v, want %v", err, driver.ErrDeviceLost)
	}
}

func TestDevice_FailAllocationsAndStats(t *testing.T) {
	f := newFixture(t, Options{})
	f.dev.FailAllocations(true)
	if _, err := f.alloc.NewHostBuffer(16); !errors.Is(err, driver.ErrOutOfMemory) {
		t.Errorf("NewHostBuffer() error = %v, want %v", err, driver.ErrOutOfMemory)
	}
	f.dev.FailAllocations(false)

	b, err := f.alloc.NewHostBuffer(16)
	if err != nil {
		t.Fatalf("NewHostBuffer() error = %v", err)
	}
	if got := f.dev.Stats().Buffers; got != 1 {
		t.Errorf("Stats().Buffers = %d, want 1", got)
	}
	f.alloc.FreeBuffer(b)
	f.alloc.FreeBuffer(b)
	if got := f.alloc.Live(); got != 0 {
		t.Errorf("Live() = %d, want 0", got)
	}
	if got := f.dev.Stats().Buffers; got != 0 {
		t.Errorf("Stats().Buffers = %d, want 0", got)
	}
}

func TestDevice_SubmitToWrongFamily(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	cb := f.record(t, driver.QueueTransfer, func(driver.CommandBuffer) {})
	err := f.dev.Queue(driver.QueuePrimaryRender).Submit([]driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{cb}}}, nil)
	if !errors.Is(err, driver.ErrValidation) {
		t.Errorf("Submit() error = %v, want %v", err, driver.ErrValidation)
	}
}
