package driver

import "fmt"

/** @brief The queue a command pool records for and a submission goes to. */
type QueueRole int

const (
	/** @brief The graphics queue that presents and samples loaded textures. */
	QueuePrimaryRender QueueRole = iota
	/** @brief A graphics-capable queue used for mip generation blits. */
	QueueSecondaryRender
	/** @brief A queue used for buffer to image uploads. */
	QueueTransfer
)

// QueueRoles lists every role in the order command pools are created.
var QueueRoles = [...]QueueRole{QueuePrimaryRender, QueueSecondaryRender, QueueTransfer}

func (r QueueRole) String() string {
	switch r {
	case QueuePrimaryRender:
		return "primary-render"
	case QueueSecondaryRender:
		return "secondary-render"
	case QueueTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("queue-role(%d)", int(r))
	}
}

/** @brief Marks a barrier that does not transfer queue family ownership. */
const QueueFamilyIgnored = ^uint32(0)

type Format int

const (
	FormatUndefined Format = iota
	FormatR8G8B8A8Unorm
)

// BytesPerPixel returns the texel size of f, or 0 for unsupported formats.
func (f Format) BytesPerPixel() uint32 {
	if f == FormatR8G8B8A8Unorm {
		return 4
	}
	return 0
}

type ImageLayout int

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutTransferSrc
	LayoutTransferDst
	LayoutShaderReadOnly
)

func (l ImageLayout) String() string {
	switch l {
	case LayoutUndefined:
		return "UNDEFINED"
	case LayoutGeneral:
		return "GENERAL"
	case LayoutTransferSrc:
		return "TRANSFER_SRC_OPTIMAL"
	case LayoutTransferDst:
		return "TRANSFER_DST_OPTIMAL"
	case LayoutShaderReadOnly:
		return "SHADER_READ_ONLY_OPTIMAL"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

type Access uint32

const (
	AccessNone          Access = 0
	AccessTransferRead  Access = 0x1
	AccessTransferWrite Access = 0x2
	AccessShaderRead    Access = 0x4
	AccessHostRead      Access = 0x8
)

type ImageUsage uint32

const (
	UsageTransferSrc ImageUsage = 0x1
	UsageTransferDst ImageUsage = 0x2
	UsageSampled     ImageUsage = 0x4
)

type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

type Extent struct {
	Width  uint32
	Height uint32
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

/** @brief Describes a 2D array image with a mip chain. */
type ImageDesc struct {
	Extent    Extent
	Layers    uint32
	MipLevels uint32
	Format    Format
	Usage     ImageUsage
}

/** @brief Device limits the loaders care about. */
type Limits struct {
	MaxImageDimension2D uint32
	MaxImageArrayLayers uint32
}

/**
 * @brief A layout transition and/or queue family ownership transfer for a
 * range of mip levels and array layers of one image.
 */
type ImageBarrier struct {
	Image          Image
	OldLayout      ImageLayout
	NewLayout      ImageLayout
	SrcAccess      Access
	DstAccess      Access
	SrcQueueFamily uint32
	DstQueueFamily uint32
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// TransfersOwnership reports whether b moves the image between two queue families.
func (b ImageBarrier) TransfersOwnership() bool {
	return b.SrcQueueFamily != QueueFamilyIgnored &&
		b.DstQueueFamily != QueueFamilyIgnored &&
		b.SrcQueueFamily != b.DstQueueFamily
}

/** @brief Region of a buffer to image (or image to buffer) copy. */
type BufferImageCopy struct {
	BufferOffset   uint64
	MipLevel       uint32
	BaseArrayLayer uint32
	LayerCount     uint32
	Extent         Extent
}

/** @brief Region of a blit between two mip levels of the same layers. */
type ImageBlit struct {
	SrcMipLevel    uint32
	DstMipLevel    uint32
	BaseArrayLayer uint32
	LayerCount     uint32
	SrcExtent      Extent
	DstExtent      Extent
}

/** @brief One batch of a queue submission. */
type SubmitInfo struct {
	Wait           []Semaphore
	CommandBuffers []CommandBuffer
	Signal         []Semaphore
}
