package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type commandPool struct {
	dev    *Device
	role   driver.QueueRole
	family uint32
	handle vk.CommandPool
}

func newCommandPool(dev *Device, role driver.QueueRole) (*commandPool, error) {
	family := dev.context.Families.Family(role)
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	var handle vk.CommandPool
	if err := resultError("vkCreateCommandPool", vk.CreateCommandPool(dev.context.LogicalDevice, &poolCreateInfo, dev.context.Allocator, &handle)); err != nil {
		return nil, dev.observe(err)
	}
	core.LogDebug("%s command pool created (family %d).", role, family)
	return &commandPool{dev: dev, role: role, family: family, handle: handle}, nil
}

func (p *commandPool) Role() driver.QueueRole {
	return p.role
}

func (p *commandPool) Family() uint32 {
	return p.family
}

func (p *commandPool) Allocate() (driver.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := resultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(p.dev.context.LogicalDevice, &allocateInfo, handles)); err != nil {
		return nil, p.dev.observe(err)
	}
	return &commandBuffer{
		Handle: handles[0],
		State:  COMMAND_BUFFER_STATE_READY,
		pool:   p,
	}, nil
}

func (p *commandPool) Free(c driver.CommandBuffer) {
	cb, ok := c.(*commandBuffer)
	if !ok || cb == nil || cb.pool != p || cb.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return
	}
	vk.FreeCommandBuffers(p.dev.context.LogicalDevice, p.handle, 1, []vk.CommandBuffer{cb.Handle})
	cb.Handle = nil
	cb.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

// Destroy frees the pool and every buffer still allocated from it.
func (p *commandPool) Destroy() {
	if p.handle != nil {
		vk.DestroyCommandPool(p.dev.context.LogicalDevice, p.handle, p.dev.context.Allocator)
		p.handle = nil
	}
}

type commandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	pool *commandPool
	// First recording error, returned by End.
	err error
}

func (v *commandBuffer) Begin() error {
	if v.State != COMMAND_BUFFER_STATE_READY {
		return fmt.Errorf("begin command buffer in state %d: %w", v.State, driver.ErrValidation)
	}
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := resultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(v.Handle, beginInfo)); err != nil {
		return v.pool.dev.observe(err)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	v.err = nil
	return nil
}

func (v *commandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("end command buffer in state %d: %w", v.State, driver.ErrValidation)
	}
	if err := resultError("vkEndCommandBuffer", vk.EndCommandBuffer(v.Handle)); err != nil {
		return v.pool.dev.observe(err)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return v.err
}

func (v *commandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *commandBuffer) fail(err error) {
	if v.err == nil {
		v.err = err
	}
}

func (v *commandBuffer) image(img driver.Image) *image {
	i, ok := img.(*image)
	if !ok || i == nil || i.handle == nil {
		v.fail(fmt.Errorf("foreign or freed image: %w", driver.ErrValidation))
		return nil
	}
	return i
}

func (v *commandBuffer) buffer(buf driver.Buffer) *buffer {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.handle == nil {
		v.fail(fmt.Errorf("foreign or freed buffer: %w", driver.ErrValidation))
		return nil
	}
	return b
}

// PipelineBarrier records all barriers in one vkCmdPipelineBarrier with the
// union of their stages.
func (v *commandBuffer) PipelineBarrier(barriers ...driver.ImageBarrier) {
	if len(barriers) == 0 {
		return
	}
	var srcStage, dstStage vk.PipelineStageFlagBits
	out := make([]vk.ImageMemoryBarrier, 0, len(barriers))
	for _, b := range barriers {
		img := v.image(b.Image)
		if img == nil {
			return
		}
		srcFamily, dstFamily := uint32(vk.QueueFamilyIgnored), uint32(vk.QueueFamilyIgnored)
		if b.TransfersOwnership() {
			srcFamily, dstFamily = b.SrcQueueFamily, b.DstQueueFamily
		}
		srcStage |= vkStage(b.SrcAccess, true)
		dstStage |= vkStage(b.DstAccess, false)
		out = append(out, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vkAccess(b.SrcAccess),
			DstAccessMask:       vkAccess(b.DstAccess),
			OldLayout:           vkLayout(b.OldLayout),
			NewLayout:           vkLayout(b.NewLayout),
			SrcQueueFamilyIndex: srcFamily,
			DstQueueFamilyIndex: dstFamily,
			Image:               img.handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   b.BaseMipLevel,
				LevelCount:     b.LevelCount,
				BaseArrayLayer: b.BaseArrayLayer,
				LayerCount:     b.LayerCount,
			},
		})
	}
	vk.CmdPipelineBarrier(v.Handle,
		vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage), 0,
		0, nil, 0, nil, uint32(len(out)), out)
}

func (v *commandBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, dstLayout driver.ImageLayout, region driver.BufferImageCopy) {
	buf, img := v.buffer(src), v.image(dst)
	if buf == nil || img == nil {
		return
	}
	vk.CmdCopyBufferToImage(v.Handle, buf.handle, img.handle, vkLayout(dstLayout), 1, []vk.BufferImageCopy{bufferImageCopy(region)})
}

func (v *commandBuffer) CopyImageToBuffer(src driver.Image, srcLayout driver.ImageLayout, dst driver.Buffer, region driver.BufferImageCopy) {
	img, buf := v.image(src), v.buffer(dst)
	if buf == nil || img == nil {
		return
	}
	vk.CmdCopyImageToBuffer(v.Handle, img.handle, vkLayout(srcLayout), buf.handle, 1, []vk.BufferImageCopy{bufferImageCopy(region)})
}

func (v *commandBuffer) BlitImage(src driver.Image, srcLayout driver.ImageLayout, dst driver.Image, dstLayout driver.ImageLayout, region driver.ImageBlit, filter driver.Filter) {
	srcImg, dstImg := v.image(src), v.image(dst)
	if srcImg == nil || dstImg == nil {
		return
	}
	blit := vk.ImageBlit{
		SrcSubresource: colorLayers(region.SrcMipLevel, region.BaseArrayLayer, region.LayerCount),
		SrcOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: int32(region.SrcExtent.Width), Y: int32(region.SrcExtent.Height), Z: 1},
		},
		DstSubresource: colorLayers(region.DstMipLevel, region.BaseArrayLayer, region.LayerCount),
		DstOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: int32(region.DstExtent.Width), Y: int32(region.DstExtent.Height), Z: 1},
		},
	}
	vk.CmdBlitImage(v.Handle, srcImg.handle, vkLayout(srcLayout), dstImg.handle, vkLayout(dstLayout), 1, []vk.ImageBlit{blit}, vkFilter(filter))
}

func bufferImageCopy(region driver.BufferImageCopy) vk.BufferImageCopy {
	return vk.BufferImageCopy{
		BufferOffset:     vk.DeviceSize(region.BufferOffset),
		ImageSubresource: colorLayers(region.MipLevel, region.BaseArrayLayer, region.LayerCount),
		ImageExtent: vk.Extent3D{
			Width:  region.Extent.Width,
			Height: region.Extent.Height,
			Depth:  1,
		},
	}
}
