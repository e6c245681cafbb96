package driver

import (
	"github.com/spaghettifunk/anima2d/engine/math"
)

// MipLevelCount returns the length of a full mip chain for e, down to 1x1.
func MipLevelCount(e Extent) uint32 {
	return uint32(math.Log2Floor(math.Max(e.Width, e.Height))) + 1
}

// MipExtents returns the extent of every level of a chain of the given length.
func MipExtents(e Extent, levels uint32) []Extent {
	extents := make([]Extent, levels)
	for i := uint32(0); i < levels; i++ {
		extents[i] = Extent{
			Width:  math.Max(e.Width>>i, 1),
			Height: math.Max(e.Height>>i, 1),
		}
	}
	return extents
}

// GetAligned rounds operand up to a multiple of granularity, which must be a power of two.
func GetAligned(operand, granularity uint64) uint64 {
	return (operand + (granularity - 1)) &^ (granularity - 1)
}
