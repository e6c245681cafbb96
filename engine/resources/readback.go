package resources

import (
	"fmt"

	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/jobs"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

// ReadbackTexture copies one layer of one mip level of t back to host memory
// as tightly packed RGBA8 rows. It blocks until t settles and the copy is done.
func (m *Manager) ReadbackTexture(t *TextureResource, layer, mip uint32) ([]byte, error) {
	if s := t.WaitUntilLoaded(WaitForever); s != StatusLoaded {
		return nil, fmt.Errorf("texture %s is %v: %w", t.id, s, core.ErrResourceNotLoaded)
	}
	if layer >= t.layerCount || mip >= t.mipLevels {
		return nil, fmt.Errorf("texture %s has %d layers and %d mips, asked for layer %d mip %d: %w",
			t.id, t.layerCount, t.mipLevels, layer, mip, ErrOutOfRange)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	idx := m.runOnLoader(t, func(thread *LoaderThreadResource) {
		data, err := t.readback(thread, layer, mip)
		done <- result{data, err}
	})
	if idx == jobs.InvalidTaskIndex {
		return nil, core.ErrThreadPoolClosed
	}
	r := <-done
	return r.data, r.err
}

// readback runs on the loader thread, which serializes it with mtUnload.
func (t *TextureResource) readback(thread *LoaderThreadResource, layer, mip uint32) (data []byte, err error) {
	if t.gpu.empty() {
		return nil, fmt.Errorf("texture %s was unloaded: %w", t.id, core.ErrResourceNotLoaded)
	}
	dev := thread.Device()
	extent := driver.MipExtents(t.size, t.mipLevels)[mip]
	size := uint64(extent.Width) * uint64(extent.Height) * uint64(driver.FormatR8G8B8A8Unorm.BytesPerPixel())

	var release releaseList
	submitted := false
	defer func() {
		if err != nil && submitted {
			_ = dev.WaitIdle()
		}
		release.run()
	}()

	alloc := thread.Allocator()
	buf, err := alloc.NewHostBuffer(size)
	if err != nil {
		return nil, fmt.Errorf("readback buffer: %w", err)
	}
	release.add(func() { alloc.FreeBuffer(buf) })

	barrier := func(oldLayout, newLayout driver.ImageLayout, src, dst driver.Access) driver.ImageBarrier {
		return driver.ImageBarrier{
			Image:          t.image,
			OldLayout:      oldLayout,
			NewLayout:      newLayout,
			SrcAccess:      src,
			DstAccess:      dst,
			SrcQueueFamily: driver.QueueFamilyIgnored,
			DstQueueFamily: driver.QueueFamilyIgnored,
			BaseMipLevel:   mip,
			LevelCount:     1,
			BaseArrayLayer: layer,
			LayerCount:     1,
		}
	}
	cb, err := recordCommands(&release, thread, driver.QueuePrimaryRender, func(cb driver.CommandBuffer) {
		cb.PipelineBarrier(barrier(driver.LayoutShaderReadOnly, driver.LayoutTransferSrc,
			driver.AccessShaderRead, driver.AccessTransferRead))
		cb.CopyImageToBuffer(t.image, driver.LayoutTransferSrc, buf, driver.BufferImageCopy{
			MipLevel:       mip,
			BaseArrayLayer: layer,
			LayerCount:     1,
			Extent:         extent,
		})
		cb.PipelineBarrier(barrier(driver.LayoutTransferSrc, driver.LayoutShaderReadOnly,
			driver.AccessTransferRead, driver.AccessShaderRead))
	})
	if err != nil {
		return nil, err
	}

	fence, err := dev.NewFence()
	if err != nil {
		return nil, fmt.Errorf("fence: %w", err)
	}
	release.add(fence.Destroy)

	err = dev.Queue(driver.QueuePrimaryRender).Submit([]driver.SubmitInfo{{
		CommandBuffers: []driver.CommandBuffer{cb},
	}}, fence)
	if err != nil {
		return nil, fmt.Errorf("submit readback: %w", err)
	}
	submitted = true
	if err := fence.Wait(driver.WaitForever); err != nil {
		return nil, fmt.Errorf("readback: %w", err)
	}

	data = make([]byte, size)
	if err := buf.Read(0, data); err != nil {
		return nil, fmt.Errorf("readback buffer: %w", err)
	}
	return data, nil
}
