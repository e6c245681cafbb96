package resources

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima2d/engine/assets/loaders"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

// TextureResource is a 2D array texture with a full mip chain. Loading
// decodes or copies the texels, uploads them on the transfer queue,
// generates mips on the secondary render queue and hands the image to the
// primary render queue. Status is resolved lazily from the upload fence.
type TextureResource struct {
	resourceBase

	paths  []string
	extent driver.Extent
	texels [][]byte

	// Written by mtLoad before loadRan is set.
	image         driver.Image
	descriptorSet driver.DescriptorSet
	size          driver.Extent
	layerCount    uint32
	mipLevels     uint32

	fenceMutex sync.RWMutex
	fence      driver.Fence

	// Touched on the loader thread only.
	upload releaseList
	gpu    releaseList

	cleanupScheduled atomic.Bool
}

func newFileTexture(m *Manager, loaderThread int, parent Resource, paths []string) *TextureResource {
	t := &TextureResource{paths: append([]string(nil), paths...)}
	t.init(m, parent, loaderThread)
	return t
}

// newTexelTexture takes ownership of layers.
func newTexelTexture(m *Manager, loaderThread int, parent Resource, size driver.Extent, layers [][]byte) *TextureResource {
	t := &TextureResource{extent: size, texels: layers}
	t.init(m, parent, loaderThread)
	return t
}

// Paths lists the source files of a file backed texture.
func (t *TextureResource) Paths() []string {
	return t.paths
}

func (t *TextureResource) IsLoaded() bool {
	return t.Status() == StatusLoaded
}

func (t *TextureResource) Status() Status {
	if s := t.status.load(); s.Terminal() || !t.loadRan.IsSet() {
		return s
	}

	t.fenceMutex.RLock()
	if t.fence == nil {
		t.fenceMutex.RUnlock()
		return t.status.load()
	}
	err := t.fence.Status()
	t.fenceMutex.RUnlock()
	return t.settle(err)
}

func (t *TextureResource) WaitUntilLoaded(timeout time.Duration) Status {
	return t.WaitUntilLoadedDeadline(deadlineFor(timeout))
}

func (t *TextureResource) WaitUntilLoadedDeadline(deadline time.Time) Status {
	if s := t.status.load(); s.Terminal() {
		return s
	}
	if !t.loadRan.WaitUntil(deadline) {
		return t.status.load()
	}

	t.fenceMutex.RLock()
	if t.fence == nil {
		t.fenceMutex.RUnlock()
		return t.status.load()
	}
	err := t.fence.Wait(remaining(deadline))
	t.fenceMutex.RUnlock()
	if errors.Is(err, driver.ErrTimeout) {
		return t.status.load()
	}
	return t.settle(err)
}

// settle turns a fence result into a status. The goroutine that makes the
// transition schedules the release of the upload objects.
func (t *TextureResource) settle(fenceErr error) Status {
	switch {
	case fenceErr == nil:
		if t.resolve(StatusLoaded) {
			t.scheduleCleanup()
		}
	case errors.Is(fenceErr, driver.ErrNotReady), errors.Is(fenceErr, driver.ErrTimeout):
	default:
		if t.resolve(StatusFailedToLoad) {
			core.Report(driver.Severity(fenceErr), "texture %s: upload failed: %v", t.id, fenceErr)
			t.scheduleCleanup()
		}
	}
	return t.status.load()
}

func (t *TextureResource) scheduleCleanup() {
	if t.manager == nil || !t.cleanupScheduled.CompareAndSwap(false, true) {
		return
	}
	t.manager.runOnLoader(t, func(*LoaderThreadResource) {
		if !t.upload.empty() {
			t.upload.run()
			t.manager.metrics.Cleanups.Add(1)
		}
	})
}

// Image returns the device image, or nil unless the texture is loaded.
func (t *TextureResource) Image() driver.Image {
	if !t.IsLoaded() {
		return nil
	}
	return t.image
}

func (t *TextureResource) View() driver.ImageView {
	if !t.IsLoaded() {
		return nil
	}
	return t.image.View()
}

func (t *TextureResource) DescriptorSet() driver.DescriptorSet {
	if !t.IsLoaded() {
		return nil
	}
	return t.descriptorSet
}

// Size is zero unless the texture is loaded.
func (t *TextureResource) Size() driver.Extent {
	if !t.IsLoaded() {
		return driver.Extent{}
	}
	return t.size
}

func (t *TextureResource) LayerCount() uint32 {
	if !t.IsLoaded() {
		return 0
	}
	return t.layerCount
}

func (t *TextureResource) MipLevels() uint32 {
	if !t.IsLoaded() {
		return 0
	}
	return t.mipLevels
}

func (t *TextureResource) mtLoad(thread *LoaderThreadResource) bool {
	layers, extent, err := t.source()
	if err != nil {
		core.Report(core.SeverityNonCriticalError, "texture %s: %v", t.id, err)
		return false
	}
	if err := t.record(thread, extent, layers); err != nil {
		core.Report(driver.Severity(err), "texture %s: %v", t.id, err)
		return false
	}
	t.texels = nil
	return true
}

// mtUnload waits for the upload to settle and then releases every device
// object, whichever exit path is taken.
func (t *TextureResource) mtUnload(thread *LoaderThreadResource) {
	defer func() {
		t.upload.run()
		t.gpu.run()
	}()
	t.WaitUntilLoaded(WaitForever)
}

func (t *TextureResource) source() ([][]byte, driver.Extent, error) {
	if len(t.paths) > 0 {
		var extent driver.Extent
		layers := make([][]byte, 0, len(t.paths))
		for i, path := range t.paths {
			img, err := loaders.DecodeImageFile(path)
			if err != nil {
				return nil, extent, err
			}
			e := driver.Extent{Width: img.Width, Height: img.Height}
			if i == 0 {
				extent = e
			} else if e != extent {
				return nil, extent, fmt.Errorf("%s is %v, %s is %v: %w", path, e, t.paths[0], extent, ErrLayerMismatch)
			}
			layers = append(layers, img.Pixels)
		}
		return layers, extent, nil
	}

	if len(t.texels) == 0 {
		return nil, t.extent, ErrNothingToLoad
	}
	if t.extent.Width == 0 || t.extent.Height == 0 {
		return nil, t.extent, ErrEmptyExtent
	}
	need := int(t.extent.Width) * int(t.extent.Height) * 4
	layers := make([][]byte, len(t.texels))
	for i, l := range t.texels {
		if len(l) < need {
			return nil, t.extent, fmt.Errorf("layer %d has %d bytes, %v needs %d: %w", i, len(l), t.extent, need, ErrShortLayer)
		}
		layers[i] = l[:need]
	}
	return layers, t.extent, nil
}

// record creates the staging buffers, the image and the upload command
// buffers and submits them. It does not wait for the GPU.
func (t *TextureResource) record(thread *LoaderThreadResource, extent driver.Extent, layers [][]byte) (err error) {
	dev := thread.Device()
	limits := dev.Limits()
	layerCount := uint32(len(layers))
	if extent.Width > limits.MaxImageDimension2D || extent.Height > limits.MaxImageDimension2D ||
		layerCount > limits.MaxImageArrayLayers {
		return fmt.Errorf("%v x %d layers: %w", extent, layerCount, ErrTooLarge)
	}

	submitted := false
	defer func() {
		if err == nil {
			return
		}
		if submitted {
			// part of the chain may still be executing
			_ = dev.WaitIdle()
		}
		t.upload.run()
		t.gpu.run()
	}()

	alloc := thread.Allocator()
	staging := make([]driver.Buffer, 0, layerCount)
	for i, texels := range layers {
		buf, err := alloc.NewHostBuffer(uint64(len(texels)))
		if err != nil {
			return fmt.Errorf("staging buffer %d: %w", i, err)
		}
		t.upload.add(func() { alloc.FreeBuffer(buf) })
		if err := buf.Write(0, texels); err != nil {
			return fmt.Errorf("staging buffer %d: %w", i, err)
		}
		staging = append(staging, buf)
	}

	mips := driver.MipLevelCount(extent)
	img, err := alloc.NewImage(driver.ImageDesc{
		Extent:    extent,
		Layers:    layerCount,
		MipLevels: mips,
		Format:    driver.FormatR8G8B8A8Unorm,
		Usage:     driver.UsageSampled | driver.UsageTransferSrc | driver.UsageTransferDst,
	})
	if err != nil {
		return fmt.Errorf("image: %w", err)
	}
	t.gpu.add(func() { alloc.FreeImage(img) })

	plan := driver.NewHandoverPlan(dev)
	up := upload{
		img:     img,
		staging: staging,
		extents: driver.MipExtents(extent, mips),
		layers:  layerCount,
		plan:    plan,
	}

	transfer, err := recordCommands(&t.upload, thread, driver.QueueTransfer, up.recordTransfer)
	if err != nil {
		return err
	}
	secondary, err := recordCommands(&t.upload, thread, driver.QueueSecondaryRender, up.recordMips)
	if err != nil {
		return err
	}
	var primary driver.CommandBuffer
	if plan.SecondaryToPrimary() {
		if primary, err = recordCommands(&t.upload, thread, driver.QueuePrimaryRender, up.recordAcquire); err != nil {
			return err
		}
	}

	transferDone, err := newSemaphore(&t.upload, dev)
	if err != nil {
		return err
	}
	var blitDone driver.Semaphore
	if primary != nil {
		if blitDone, err = newSemaphore(&t.upload, dev); err != nil {
			return err
		}
	}
	fence, err := dev.NewFence()
	if err != nil {
		return fmt.Errorf("fence: %w", err)
	}
	t.fenceMutex.Lock()
	t.fence = fence
	t.fenceMutex.Unlock()
	t.upload.add(func() {
		t.fenceMutex.Lock()
		defer t.fenceMutex.Unlock()
		t.fence.Destroy()
		t.fence = nil
	})

	descriptors := thread.Descriptors()
	set, err := descriptors.Allocate(img.View())
	if err != nil {
		return fmt.Errorf("descriptor set: %w", err)
	}
	t.gpu.add(func() { descriptors.Free(set) })

	err = dev.Queue(driver.QueueTransfer).Submit([]driver.SubmitInfo{{
		CommandBuffers: []driver.CommandBuffer{transfer},
		Signal:         []driver.Semaphore{transferDone},
	}}, nil)
	if err != nil {
		return fmt.Errorf("submit transfer: %w", err)
	}
	submitted = true

	blit := driver.SubmitInfo{
		Wait:           []driver.Semaphore{transferDone},
		CommandBuffers: []driver.CommandBuffer{secondary},
	}
	blitFence := fence
	if primary != nil {
		blit.Signal = []driver.Semaphore{blitDone}
		blitFence = nil
	}
	if err := dev.Queue(driver.QueueSecondaryRender).Submit([]driver.SubmitInfo{blit}, blitFence); err != nil {
		return fmt.Errorf("submit mip generation: %w", err)
	}
	if primary != nil {
		err = dev.Queue(driver.QueuePrimaryRender).Submit([]driver.SubmitInfo{{
			Wait:           []driver.Semaphore{blitDone},
			CommandBuffers: []driver.CommandBuffer{primary},
		}}, fence)
		if err != nil {
			return fmt.Errorf("submit ownership acquire: %w", err)
		}
	}

	t.image = img
	t.descriptorSet = set
	t.size = extent
	t.layerCount = layerCount
	t.mipLevels = mips
	return nil
}

// recordCommands allocates a command buffer of role, records it with rec and
// registers its release on release.
func recordCommands(release *releaseList, thread *LoaderThreadResource, role driver.QueueRole, rec func(cb driver.CommandBuffer)) (driver.CommandBuffer, error) {
	pool := thread.CommandPool(role)
	cb, err := pool.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%s command buffer: %w", role, err)
	}
	release.add(func() { pool.Free(cb) })

	if err := cb.Begin(); err != nil {
		return nil, fmt.Errorf("%s command buffer: %w", role, err)
	}
	rec(cb)
	if err := cb.End(); err != nil {
		return nil, fmt.Errorf("%s command buffer: %w", role, err)
	}
	return cb, nil
}

func newSemaphore(release *releaseList, dev driver.Device) (driver.Semaphore, error) {
	s, err := dev.NewSemaphore()
	if err != nil {
		return nil, fmt.Errorf("semaphore: %w", err)
	}
	release.add(s.Destroy)
	return s, nil
}

// upload holds what the three upload command buffers record.
type upload struct {
	img     driver.Image
	staging []driver.Buffer
	extents []driver.Extent
	layers  uint32
	plan    driver.HandoverPlan
}

func (u *upload) levels() uint32 {
	return uint32(len(u.extents))
}

func (u *upload) transition(mip, levels uint32, oldLayout, newLayout driver.ImageLayout, src, dst driver.Access) driver.ImageBarrier {
	return driver.ImageBarrier{
		Image:          u.img,
		OldLayout:      oldLayout,
		NewLayout:      newLayout,
		SrcAccess:      src,
		DstAccess:      dst,
		SrcQueueFamily: driver.QueueFamilyIgnored,
		DstQueueFamily: driver.QueueFamilyIgnored,
		BaseMipLevel:   mip,
		LevelCount:     levels,
		BaseArrayLayer: 0,
		LayerCount:     u.layers,
	}
}

func (u *upload) toSecondary() driver.ImageBarrier {
	return driver.OwnershipBarrier(u.img, u.plan.TransferFamily, u.plan.SecondaryFamily,
		driver.LayoutTransferDst, driver.AccessTransferWrite, 0, u.levels(), u.layers)
}

func (u *upload) toPrimary() driver.ImageBarrier {
	return driver.OwnershipBarrier(u.img, u.plan.SecondaryFamily, u.plan.PrimaryFamily,
		driver.LayoutShaderReadOnly, driver.AccessShaderRead, 0, u.levels(), u.layers)
}

// recordTransfer copies every layer into mip 0 and releases the image to
// the secondary render family when it differs.
func (u *upload) recordTransfer(cb driver.CommandBuffer) {
	cb.PipelineBarrier(u.transition(0, u.levels(), driver.LayoutUndefined, driver.LayoutTransferDst,
		driver.AccessNone, driver.AccessTransferWrite))
	for layer, buf := range u.staging {
		cb.CopyBufferToImage(buf, u.img, driver.LayoutTransferDst, driver.BufferImageCopy{
			MipLevel:       0,
			BaseArrayLayer: uint32(layer),
			LayerCount:     1,
			Extent:         u.extents[0],
		})
	}
	if u.plan.TransferToSecondary() {
		cb.PipelineBarrier(u.toSecondary())
	}
}

// recordMips acquires the image if needed, blits every level from the one
// above it and leaves the whole chain shader readable.
func (u *upload) recordMips(cb driver.CommandBuffer) {
	if u.plan.TransferToSecondary() {
		cb.PipelineBarrier(u.toSecondary())
	}
	for i := uint32(1); i < u.levels(); i++ {
		cb.PipelineBarrier(u.transition(i-1, 1, driver.LayoutTransferDst, driver.LayoutTransferSrc,
			driver.AccessTransferWrite, driver.AccessTransferRead))
		cb.BlitImage(u.img, driver.LayoutTransferSrc, u.img, driver.LayoutTransferDst, driver.ImageBlit{
			SrcMipLevel:    i - 1,
			DstMipLevel:    i,
			BaseArrayLayer: 0,
			LayerCount:     u.layers,
			SrcExtent:      u.extents[i-1],
			DstExtent:      u.extents[i],
		}, driver.FilterLinear)
		cb.PipelineBarrier(u.transition(i-1, 1, driver.LayoutTransferSrc, driver.LayoutShaderReadOnly,
			driver.AccessTransferRead, driver.AccessShaderRead))
	}
	cb.PipelineBarrier(u.transition(u.levels()-1, 1, driver.LayoutTransferDst, driver.LayoutShaderReadOnly,
		driver.AccessTransferWrite, driver.AccessShaderRead))
	if u.plan.SecondaryToPrimary() {
		cb.PipelineBarrier(u.toPrimary())
	}
}

func (u *upload) recordAcquire(cb driver.CommandBuffer) {
	cb.PipelineBarrier(u.toPrimary())
}
