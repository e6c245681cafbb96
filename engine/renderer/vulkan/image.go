package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

type image struct {
	handle vk.Image
	memory vk.DeviceMemory
	desc   driver.ImageDesc
	view   *imageView
}

type imageView struct {
	handle vk.ImageView
	img    *image
}

func (i *image) Desc() driver.ImageDesc {
	return i.desc
}

func (i *image) View() driver.ImageView {
	return i.view
}

func (v *imageView) Image() driver.Image {
	return v.img
}

// newImage creates an optimally tiled device local 2D array image and a view
// covering every layer and mip level.
func newImage(dev *Device, desc driver.ImageDesc) (*image, error) {
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 || desc.Layers == 0 || desc.MipLevels == 0 {
		return nil, fmt.Errorf("image %s with %d layers and %d mips: %w", desc.Extent, desc.Layers, desc.MipLevels, driver.ErrValidation)
	}
	limits := dev.Limits()
	if desc.Extent.Width > limits.MaxImageDimension2D || desc.Extent.Height > limits.MaxImageDimension2D ||
		desc.Layers > limits.MaxImageArrayLayers {
		return nil, fmt.Errorf("image %s with %d layers: %w", desc.Extent, desc.Layers, driver.ErrUnsupported)
	}
	format, err := vkFormat(desc.Format)
	if err != nil {
		return nil, err
	}

	logical := dev.context.LogicalDevice
	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.Layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	img := &image{desc: desc}
	if err := resultError("vkCreateImage", vk.CreateImage(logical, &imageCreateInfo, dev.context.Allocator, &img.handle)); err != nil {
		return nil, dev.observe(err)
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(logical, img.handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := dev.context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, vk.MemoryPropertyDeviceLocalBit)
	if memoryType < 0 {
		img.destroy(dev)
		return nil, fmt.Errorf("no device local memory type for image: %w", driver.ErrOutOfMemory)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	if err := resultError("vkAllocateMemory", vk.AllocateMemory(logical, &allocateInfo, dev.context.Allocator, &img.memory)); err != nil {
		img.destroy(dev)
		return nil, dev.observe(err)
	}
	if err := resultError("vkBindImageMemory", vk.BindImageMemory(logical, img.handle, img.memory, 0)); err != nil {
		img.destroy(dev)
		return nil, dev.observe(err)
	}

	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.handle,
		ViewType: vk.ImageViewType2dArray,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     desc.MipLevels,
			BaseArrayLayer: 0,
			LayerCount:     desc.Layers,
		},
	}
	view := &imageView{img: img}
	if err := resultError("vkCreateImageView", vk.CreateImageView(logical, &viewCreateInfo, dev.context.Allocator, &view.handle)); err != nil {
		img.destroy(dev)
		return nil, dev.observe(err)
	}
	img.view = view
	return img, nil
}

func (i *image) destroy(dev *Device) {
	logical := dev.context.LogicalDevice
	if i.view != nil && i.view.handle != nil {
		vk.DestroyImageView(logical, i.view.handle, dev.context.Allocator)
		i.view.handle = nil
	}
	if i.handle != nil {
		vk.DestroyImage(logical, i.handle, dev.context.Allocator)
		i.handle = nil
	}
	if i.memory != nil {
		vk.FreeMemory(logical, i.memory, dev.context.Allocator)
		i.memory = nil
	}
}
