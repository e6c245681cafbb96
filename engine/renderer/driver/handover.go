package driver

// HandoverPlan records the queue families of a device and which ownership
// transfers a texture upload needs.
type HandoverPlan struct {
	TransferFamily  uint32
	SecondaryFamily uint32
	PrimaryFamily   uint32
}

func NewHandoverPlan(dev Device) HandoverPlan {
	return HandoverPlan{
		TransferFamily:  dev.Queue(QueueTransfer).Family(),
		SecondaryFamily: dev.Queue(QueueSecondaryRender).Family(),
		PrimaryFamily:   dev.Queue(QueuePrimaryRender).Family(),
	}
}

// TransferToSecondary is true when the upload must be released by the
// transfer family and acquired by the secondary render family.
func (p HandoverPlan) TransferToSecondary() bool {
	return p.TransferFamily != p.SecondaryFamily
}

// SecondaryToPrimary is true when the finished image must be released by the
// secondary render family and acquired by the primary render family. Only
// then is a primary render command buffer recorded.
func (p HandoverPlan) SecondaryToPrimary() bool {
	return p.SecondaryFamily != p.PrimaryFamily
}

// OwnershipBarrier returns a transfer of the given mip range, all layers,
// from srcFamily to dstFamily. access is the last access of the releasing
// queue; it scopes both halves so the release covers the preceding copy or
// blit. The same barrier is recorded for the release on the source queue and
// the acquire on the destination queue.
func OwnershipBarrier(img Image, srcFamily, dstFamily uint32, layout ImageLayout, access Access, baseMip, levels, layers uint32) ImageBarrier {
	return ImageBarrier{
		Image:          img,
		OldLayout:      layout,
		NewLayout:      layout,
		SrcAccess:      access,
		DstAccess:      access,
		SrcQueueFamily: srcFamily,
		DstQueueFamily: dstFamily,
		BaseMipLevel:   baseMip,
		LevelCount:     levels,
		BaseArrayLayer: 0,
		LayerCount:     layers,
	}
}
