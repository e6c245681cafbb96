package text

import (
	"errors"
	"fmt"
	"image"
	stdmath "math"

	"github.com/spaghettifunk/anima2d/engine/math"
)

var ErrGlyphTooLarge = errors.New("glyph does not fit into an empty atlas page")

const (
	minAtlasSize = 128
	// Weight of the largest glyph against the average when sizing atlas pages.
	averageToMaxWeight = 0.05
	// Aim for one to four pages.
	pageSpread = 1.5
)

// EstimateAtlasSize picks a power-of-two page side for glyphs of the given
// sizes, clamped to [min(128, maxSize), maxSize].
func EstimateAtlasSize(sizes []image.Point, padding, maxSize uint32) uint32 {
	lower := math.Min(uint32(minAtlasSize), maxSize)
	if len(sizes) == 0 {
		return lower
	}

	pad := float64(padding)
	var sumX, sumY, maxX, maxY float64
	for _, s := range sizes {
		w, h := float64(s.X)+pad, float64(s.Y)+pad
		sumX += w
		sumY += h
		maxX = math.Max(maxX, w)
		maxY = math.Max(maxY, h)
	}
	n := float64(len(sizes))
	avgX := (sumX + 2*pad) / n
	avgY := (sumY + 2*pad) / n

	estX := (avgX*(1-averageToMaxWeight) + maxX*averageToMaxWeight) / pageSpread
	estY := (avgY*(1-averageToMaxWeight) + maxY*averageToMaxWeight) / pageSpread
	side := math.RoundUpPowerOfTwo(uint32(stdmath.Sqrt(stdmath.Ceil(estX) * stdmath.Ceil(estY) * n)))
	return math.Clamp(side, lower, maxSize)
}

/** @brief Where a glyph landed: page index and texel rectangle. */
type AtlasLocation struct {
	Page int
	Rect image.Rectangle
}

type atlasPage struct {
	pixels []uint8
	// shelf state
	rowTop    int
	rowHeight int
	writeX    int
}

// AtlasPacker places glyph bitmaps on square RGBA pages using shelf packing.
// A new page is opened when the current one is full.
type AtlasPacker struct {
	size    int
	padding int
	pages   []*atlasPage
}

func NewAtlasPacker(size, padding uint32) *AtlasPacker {
	p := &AtlasPacker{size: int(size), padding: int(padding)}
	p.newPage()
	return p
}

func (p *AtlasPacker) Size() uint32 {
	return uint32(p.size)
}

func (p *AtlasPacker) PageCount() int {
	return len(p.pages)
}

// Pages returns the RGBA texels of every page, size*size*4 bytes each.
func (p *AtlasPacker) Pages() [][]uint8 {
	out := make([][]uint8, len(p.pages))
	for i, pg := range p.pages {
		out[i] = pg.pixels
	}
	return out
}

// Insert copies a w*h RGBA bitmap into the atlas. Empty glyphs take no space.
func (p *AtlasPacker) Insert(w, h int, pixels []uint8) (AtlasLocation, error) {
	current := len(p.pages) - 1
	if w <= 0 || h <= 0 {
		return AtlasLocation{Page: current}, nil
	}
	if len(pixels) < w*h*4 {
		return AtlasLocation{}, fmt.Errorf("glyph %dx%d has %d bytes", w, h, len(pixels))
	}

	loc, ok := p.reserve(p.pages[current], w, h)
	if !ok {
		p.newPage()
		current++
		if loc, ok = p.reserve(p.pages[current], w, h); !ok {
			return AtlasLocation{}, fmt.Errorf("%dx%d in %d: %w", w, h, p.size, ErrGlyphTooLarge)
		}
	}
	loc.Page = current
	p.blit(p.pages[current], loc.Rect, pixels)
	return loc, nil
}

// UV returns loc's rectangle normalized to the page side.
func (p *AtlasPacker) UV(loc AtlasLocation) (u0, v0, u1, v1 float32) {
	s := float32(p.size)
	return float32(loc.Rect.Min.X) / s, float32(loc.Rect.Min.Y) / s,
		float32(loc.Rect.Max.X) / s, float32(loc.Rect.Max.Y) / s
}

func (p *AtlasPacker) newPage() {
	p.pages = append(p.pages, &atlasPage{pixels: make([]uint8, p.size*p.size*4)})
}

func (p *AtlasPacker) reserve(pg *atlasPage, w, h int) (AtlasLocation, bool) {
	pad := p.padding
	fits := func() bool {
		return pg.rowTop+pad+h+pad <= p.size && pg.writeX+pad+w+pad <= p.size
	}
	if !fits() {
		if pg.writeX == 0 {
			return AtlasLocation{}, false
		}
		// next shelf
		pg.rowTop += pg.rowHeight
		pg.rowHeight = 0
		pg.writeX = 0
		if !fits() {
			return AtlasLocation{}, false
		}
	}

	origin := image.Pt(pg.writeX+pad, pg.rowTop+pad)
	pg.writeX += w + pad
	pg.rowHeight = math.Max(pg.rowHeight, h+pad)
	return AtlasLocation{Rect: image.Rectangle{Min: origin, Max: origin.Add(image.Pt(w, h))}}, true
}

func (p *AtlasPacker) blit(pg *atlasPage, r image.Rectangle, pixels []uint8) {
	w := r.Dx() * 4
	for y := 0; y < r.Dy(); y++ {
		dst := ((r.Min.Y+y)*p.size + r.Min.X) * 4
		copy(pg.pixels[dst:dst+w], pixels[y*w:(y+1)*w])
	}
}
