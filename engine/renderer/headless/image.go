package headless

import (
	"fmt"
	stdimage "image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

// familyInTransit marks a subresource released by one family and not yet
// acquired by another.
const familyInTransit = driver.QueueFamilyIgnored - 1

type pendingRelease struct {
	src, dst  uint32
	oldLayout driver.ImageLayout
	newLayout driver.ImageLayout
	srcAccess driver.Access
	dstAccess driver.Access
}

type subresource struct {
	layout  driver.ImageLayout
	owner   uint32
	release *pendingRelease
	pixels  *stdimage.RGBA
}

type image struct {
	id      uint64
	desc    driver.ImageDesc
	extents []driver.Extent
	view    *imageView

	mutex sync.Mutex
	// indexed by layer*MipLevels + mip
	subs []subresource
}

type imageView struct {
	img *image
}

func (v *imageView) Image() driver.Image {
	return v.img
}

func newImage(id uint64, desc driver.ImageDesc) *image {
	img := &image{
		id:      id,
		desc:    desc,
		extents: driver.MipExtents(desc.Extent, desc.MipLevels),
		subs:    make([]subresource, desc.Layers*desc.MipLevels),
	}
	for layer := uint32(0); layer < desc.Layers; layer++ {
		for mip := uint32(0); mip < desc.MipLevels; mip++ {
			e := img.extents[mip]
			img.subs[img.index(layer, mip)] = subresource{
				layout: driver.LayoutUndefined,
				owner:  driver.QueueFamilyIgnored,
				pixels: stdimage.NewRGBA(stdimage.Rect(0, 0, int(e.Width), int(e.Height))),
			}
		}
	}
	img.view = &imageView{img: img}
	return img
}

func (img *image) Desc() driver.ImageDesc {
	return img.desc
}

func (img *image) View() driver.ImageView {
	return img.view
}

func (img *image) index(layer, mip uint32) uint32 {
	return layer*img.desc.MipLevels + mip
}

func (img *image) checkRange(baseMip, levels, baseLayer, layers uint32) error {
	if levels == 0 || layers == 0 ||
		baseMip+levels > img.desc.MipLevels ||
		baseLayer+layers > img.desc.Layers {
		return fmt.Errorf("image %d: range mips [%d,+%d) layers [%d,+%d) outside %d mips x %d layers: %w",
			img.id, baseMip, levels, baseLayer, layers, img.desc.MipLevels, img.desc.Layers, driver.ErrValidation)
	}
	return nil
}

// use claims s for family. An unowned subresource is claimed implicitly.
func (img *image) use(s *subresource, family uint32, layer, mip uint32) error {
	switch s.owner {
	case driver.QueueFamilyIgnored:
		s.owner = family
		return nil
	case family:
		return nil
	case familyInTransit:
		return fmt.Errorf("image %d layer %d mip %d used by family %d during an ownership transfer: %w",
			img.id, layer, mip, family, driver.ErrValidation)
	default:
		return fmt.Errorf("image %d layer %d mip %d owned by family %d, used by family %d: %w",
			img.id, layer, mip, s.owner, family, driver.ErrValidation)
	}
}

func (img *image) expectLayout(s *subresource, want driver.ImageLayout, layer, mip uint32) error {
	if s.layout != want {
		return fmt.Errorf("image %d layer %d mip %d is %s, expected %s: %w",
			img.id, layer, mip, s.layout, want, driver.ErrValidation)
	}
	return nil
}

func (img *image) barrier(b driver.ImageBarrier, family uint32) error {
	img.mutex.Lock()
	defer img.mutex.Unlock()

	if err := img.checkRange(b.BaseMipLevel, b.LevelCount, b.BaseArrayLayer, b.LayerCount); err != nil {
		return err
	}
	for layer := b.BaseArrayLayer; layer < b.BaseArrayLayer+b.LayerCount; layer++ {
		for mip := b.BaseMipLevel; mip < b.BaseMipLevel+b.LevelCount; mip++ {
			s := &img.subs[img.index(layer, mip)]
			if err := img.barrierOne(s, b, family, layer, mip); err != nil {
				return err
			}
		}
	}
	return nil
}

func (img *image) barrierOne(s *subresource, b driver.ImageBarrier, family, layer, mip uint32) error {
	if !b.TransfersOwnership() {
		if err := img.use(s, family, layer, mip); err != nil {
			return err
		}
		if b.OldLayout != driver.LayoutUndefined {
			if err := img.expectLayout(s, b.OldLayout, layer, mip); err != nil {
				return err
			}
		}
		s.layout = b.NewLayout
		return nil
	}

	rel := pendingRelease{
		src:       b.SrcQueueFamily,
		dst:       b.DstQueueFamily,
		oldLayout: b.OldLayout,
		newLayout: b.NewLayout,
		srcAccess: b.SrcAccess,
		dstAccess: b.DstAccess,
	}
	switch family {
	case b.SrcQueueFamily:
		if err := img.use(s, family, layer, mip); err != nil {
			return err
		}
		if b.OldLayout != driver.LayoutUndefined {
			if err := img.expectLayout(s, b.OldLayout, layer, mip); err != nil {
				return err
			}
		}
		s.release = &rel
		s.owner = familyInTransit
		s.layout = b.NewLayout
	case b.DstQueueFamily:
		if s.owner != familyInTransit || s.release == nil {
			return fmt.Errorf("image %d layer %d mip %d acquired by family %d without a release: %w",
				img.id, layer, mip, family, driver.ErrValidation)
		}
		if *s.release != rel {
			return fmt.Errorf("image %d layer %d mip %d acquire %+v does not match release %+v: %w",
				img.id, layer, mip, rel, *s.release, driver.ErrValidation)
		}
		s.owner = family
		s.release = nil
	default:
		return fmt.Errorf("image %d ownership barrier %d -> %d executed on family %d: %w",
			img.id, b.SrcQueueFamily, b.DstQueueFamily, family, driver.ErrValidation)
	}
	return nil
}

func (img *image) regionSubresources(layout, want driver.ImageLayout, region driver.BufferImageCopy, family uint32) ([]*subresource, error) {
	if layout != want {
		return nil, fmt.Errorf("image %d copy with layout %s, expected %s: %w", img.id, layout, want, driver.ErrValidation)
	}
	if err := img.checkRange(region.MipLevel, 1, region.BaseArrayLayer, region.LayerCount); err != nil {
		return nil, err
	}
	if region.Extent != img.extents[region.MipLevel] {
		return nil, fmt.Errorf("image %d copy extent %v, mip %d is %v: %w",
			img.id, region.Extent, region.MipLevel, img.extents[region.MipLevel], driver.ErrValidation)
	}
	subs := make([]*subresource, 0, region.LayerCount)
	for layer := region.BaseArrayLayer; layer < region.BaseArrayLayer+region.LayerCount; layer++ {
		s := &img.subs[img.index(layer, region.MipLevel)]
		if err := img.use(s, family, layer, region.MipLevel); err != nil {
			return nil, err
		}
		if err := img.expectLayout(s, want, layer, region.MipLevel); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, nil
}

func (img *image) copyFromBuffer(buf *buffer, layout driver.ImageLayout, region driver.BufferImageCopy, family uint32) error {
	img.mutex.Lock()
	defer img.mutex.Unlock()

	subs, err := img.regionSubresources(layout, driver.LayoutTransferDst, region, family)
	if err != nil {
		return err
	}
	offset := region.BufferOffset
	for _, s := range subs {
		if err := buf.Read(offset, s.pixels.Pix); err != nil {
			return err
		}
		offset += uint64(len(s.pixels.Pix))
	}
	return nil
}

func (img *image) copyToBuffer(buf *buffer, layout driver.ImageLayout, region driver.BufferImageCopy, family uint32) error {
	img.mutex.Lock()
	defer img.mutex.Unlock()

	subs, err := img.regionSubresources(layout, driver.LayoutTransferSrc, region, family)
	if err != nil {
		return err
	}
	offset := region.BufferOffset
	for _, s := range subs {
		if err := buf.Write(offset, s.pixels.Pix); err != nil {
			return err
		}
		offset += uint64(len(s.pixels.Pix))
	}
	return nil
}

func blit(src *image, srcLayout driver.ImageLayout, dst *image, dstLayout driver.ImageLayout, region driver.ImageBlit, filter driver.Filter, family uint32) error {
	// Lock in id order so two queues blitting between the same pair cannot deadlock.
	first, second := src, dst
	if second.id < first.id {
		first, second = second, first
	}
	first.mutex.Lock()
	defer first.mutex.Unlock()
	if second != first {
		second.mutex.Lock()
		defer second.mutex.Unlock()
	}

	if srcLayout != driver.LayoutTransferSrc || dstLayout != driver.LayoutTransferDst {
		return fmt.Errorf("blit with layouts %s -> %s: %w", srcLayout, dstLayout, driver.ErrValidation)
	}
	if err := src.checkRange(region.SrcMipLevel, 1, region.BaseArrayLayer, region.LayerCount); err != nil {
		return err
	}
	if err := dst.checkRange(region.DstMipLevel, 1, region.BaseArrayLayer, region.LayerCount); err != nil {
		return err
	}

	var scaler draw.Scaler = draw.NearestNeighbor
	if filter == driver.FilterLinear {
		scaler = draw.BiLinear
	}
	srcRect := stdimage.Rect(0, 0, int(region.SrcExtent.Width), int(region.SrcExtent.Height))
	dstRect := stdimage.Rect(0, 0, int(region.DstExtent.Width), int(region.DstExtent.Height))

	for layer := region.BaseArrayLayer; layer < region.BaseArrayLayer+region.LayerCount; layer++ {
		s := &src.subs[src.index(layer, region.SrcMipLevel)]
		d := &dst.subs[dst.index(layer, region.DstMipLevel)]
		if err := src.use(s, family, layer, region.SrcMipLevel); err != nil {
			return err
		}
		if err := dst.use(d, family, layer, region.DstMipLevel); err != nil {
			return err
		}
		if err := src.expectLayout(s, driver.LayoutTransferSrc, layer, region.SrcMipLevel); err != nil {
			return err
		}
		if err := dst.expectLayout(d, driver.LayoutTransferDst, layer, region.DstMipLevel); err != nil {
			return err
		}
		if !srcRect.In(s.pixels.Bounds()) || !dstRect.In(d.pixels.Bounds()) {
			return fmt.Errorf("blit region %v -> %v outside mip bounds: %w", srcRect, dstRect, driver.ErrValidation)
		}
		scaler.Scale(d.pixels, dstRect, s.pixels, srcRect, draw.Src, nil)
	}
	return nil
}
