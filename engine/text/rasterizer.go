package text

import (
	"errors"
	"fmt"
	"image"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

var (
	ErrNoGlyphs     = errors.New("font contains no glyphs")
	ErrFaceIndex    = errors.New("font face index out of range")
	ErrBadGlyphSize = errors.New("glyph size must be positive")
)

// DefaultRunes is the set rasterized when the caller does not name one:
// printable ASCII plus Latin-1 Supplement and Latin Extended-A.
func DefaultRunes() []rune {
	runes := make([]rune, 0, 0x17F-0x20+1)
	for r := rune(0x20); r <= 0x17F; r++ {
		if r >= 0x7F && r < 0xA0 {
			continue
		}
		runes = append(runes, r)
	}
	return runes
}

type RasterOptions struct {
	// PixelSize is the em size in texels.
	PixelSize uint32
	// UseAlpha keeps anti-aliased coverage; otherwise glyphs are thresholded to opaque texels.
	UseAlpha bool
	// Fallback is the glyph used for runes the face does not map.
	Fallback rune
	// Runes to rasterize. Empty means DefaultRunes.
	Runes []rune
}

// Glyph is one rendered glyph. Bounds is relative to the pen position on
// the baseline with y growing downwards.
type Glyph struct {
	Width, Height int
	// Pixels holds Width*Height premultiplied white RGBA texels.
	Pixels  []uint8
	Bounds  image.Rectangle
	Advance float32
}

func (g *Glyph) Empty() bool {
	return g.Width == 0 || g.Height == 0
}

type RasterizedFace struct {
	Name   string
	Glyphs []Glyph
	// Charmap maps runes to an index into Glyphs. Runes sharing an outline share a glyph.
	Charmap  map[rune]int
	Fallback int

	Ascent     float32
	Descent    float32
	LineHeight float32
}

// Rasterizer turns font binaries into glyph bitmaps. It is not safe for
// concurrent use; loader threads own one each.
type Rasterizer struct {
	buf sfnt.Buffer
}

func NewRasterizer() *Rasterizer {
	return &Rasterizer{}
}

// Parse reads a TTF, OTF or collection binary.
func (r *Rasterizer) Parse(binary []byte) (*opentype.Collection, error) {
	coll, err := opentype.ParseCollection(binary)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return coll, nil
}

// RasterizeCollection renders every face of binary with the same options.
func (r *Rasterizer) RasterizeCollection(binary []byte, names []string, opts RasterOptions) ([]*RasterizedFace, error) {
	coll, err := r.Parse(binary)
	if err != nil {
		return nil, err
	}
	faces := make([]*RasterizedFace, coll.NumFonts())
	total := 0
	for i := range faces {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		if faces[i], err = r.RasterizeFace(coll, i, name, opts); err != nil {
			return nil, err
		}
		total += len(faces[i].Glyphs)
	}
	if total == 0 {
		return nil, ErrNoGlyphs
	}
	return faces, nil
}

// RasterizeFace renders opts.Runes of face index of coll.
func (r *Rasterizer) RasterizeFace(coll *opentype.Collection, index int, name string, opts RasterOptions) (*RasterizedFace, error) {
	if index < 0 || index >= coll.NumFonts() {
		return nil, fmt.Errorf("face %d of %d: %w", index, coll.NumFonts(), ErrFaceIndex)
	}
	if opts.PixelSize == 0 {
		return nil, ErrBadGlyphSize
	}
	f, err := coll.Font(index)
	if err != nil {
		return nil, fmt.Errorf("face %d: %w", index, err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(opts.PixelSize),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("face %d: %w", index, err)
	}
	defer face.Close()

	runes := opts.Runes
	if len(runes) == 0 {
		runes = DefaultRunes()
	}
	runes = withFallback(runes, opts.Fallback)

	m := face.Metrics()
	out := &RasterizedFace{
		Name:       name,
		Charmap:    make(map[rune]int, len(runes)),
		Fallback:   -1,
		Ascent:     toFloat(m.Ascent),
		Descent:    toFloat(m.Descent),
		LineHeight: toFloat(m.Height),
	}

	byIndex := map[sfnt.GlyphIndex]int{}
	for _, ru := range runes {
		gi, err := f.GlyphIndex(&r.buf, ru)
		if err != nil || gi == 0 {
			continue
		}
		if slot, ok := byIndex[gi]; ok {
			out.Charmap[ru] = slot
			continue
		}
		g, ok := r.render(face, ru, opts.UseAlpha)
		if !ok {
			continue
		}
		byIndex[gi] = len(out.Glyphs)
		out.Charmap[ru] = len(out.Glyphs)
		out.Glyphs = append(out.Glyphs, g)
	}

	if slot, ok := out.Charmap[opts.Fallback]; ok {
		out.Fallback = slot
	} else if len(out.Glyphs) > 0 {
		out.Fallback = out.Charmap[lowestMapped(out.Charmap)]
	}
	return out, nil
}

func (r *Rasterizer) render(face font.Face, ru rune, useAlpha bool) (Glyph, bool) {
	dr, mask, maskp, advance, ok := face.Glyph(fixed.Point26_6{}, ru)
	if !ok {
		// outline-less glyphs such as spaces still advance the pen
		adv, hasAdvance := face.GlyphAdvance(ru)
		return Glyph{Advance: toFloat(adv)}, hasAdvance
	}
	g := Glyph{
		Width:   dr.Dx(),
		Height:  dr.Dy(),
		Bounds:  dr,
		Advance: toFloat(advance),
	}
	if g.Empty() {
		return g, true
	}

	// The mask is owned by the face and reused by the next call.
	g.Pixels = make([]uint8, g.Width*g.Height*4)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			_, _, _, a := mask.At(maskp.X+x, maskp.Y+y).RGBA()
			c := uint8(a >> 8)
			if !useAlpha {
				if c >= 0x80 {
					c = 0xFF
				} else {
					c = 0
				}
			}
			o := (y*g.Width + x) * 4
			g.Pixels[o+0] = c
			g.Pixels[o+1] = c
			g.Pixels[o+2] = c
			g.Pixels[o+3] = c
		}
	}
	return g, true
}

func withFallback(runes []rune, fallback rune) []rune {
	for _, r := range runes {
		if r == fallback {
			return runes
		}
	}
	return append(append(make([]rune, 0, len(runes)+1), runes...), fallback)
}

func lowestMapped(charmap map[rune]int) rune {
	keys := make([]rune, 0, len(charmap))
	for r := range charmap {
		keys = append(keys, r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys[0]
}

func toFloat(v fixed.Int26_6) float32 {
	return float32(v) / 64
}
