package resources

import (
	"fmt"
	"image"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/text/unicode/norm"

	"github.com/spaghettifunk/anima2d/engine/assets/loaders"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
	"github.com/spaghettifunk/anima2d/engine/text"
)

/** @brief Rasterization parameters of a system font. */
type FontOptions struct {
	/** @brief Em size of the rasterized glyphs in texels. */
	GlyphSize uint32
	/** @brief Keep anti-aliased coverage instead of thresholding to opaque texels. */
	UseAlpha bool
	/** @brief Rune drawn in place of runes the face does not map. */
	FallbackRune rune
	/** @brief Empty texels kept around every glyph in the atlas. */
	Padding uint32
	/** @brief Runes to rasterize. Empty means text.DefaultRunes. */
	Runes []rune
}

func DefaultFontOptions() FontOptions {
	return FontOptions{
		GlyphSize:    32,
		UseAlpha:     true,
		FallbackRune: '*',
		Padding:      8,
	}
}

/** @brief Axis aligned rectangle in pen space, y growing downwards. */
type Rect struct {
	TopLeft     mgl32.Vec2
	BottomRight mgl32.Vec2
}

func (r Rect) Size() mgl32.Vec2 {
	return r.BottomRight.Sub(r.TopLeft)
}

/**
 * @brief Placement of one glyph. Horizontal and Vertical are relative to
 * the pen position of the respective layout direction.
 */
type GlyphInfo struct {
	Face uint32
	/** @brief Array layer of the atlas texture holding the glyph. */
	Atlas uint32
	/** @brief u0, v0, u1, v1 in the atlas layer. */
	UV                mgl32.Vec4
	Horizontal        Rect
	Vertical          Rect
	HorizontalAdvance float32
	VerticalAdvance   float32
}

type fontKind int

const (
	fontSystem fontKind = iota
	fontBitmap
)

type kerningPair struct {
	first, second rune
}

type fontFace struct {
	name       string
	glyphs     []GlyphInfo
	charmap    map[rune]int
	fallback   int
	lineHeight float32
	kerning    map[kerningPair]float32
}

// FontResource is a set of faces whose glyphs live in one array texture.
// The texture is a subresource; the font is loaded once the texture is.
type FontResource struct {
	resourceBase

	kind fontKind
	path string
	data []byte
	opts FontOptions

	// Written by mtLoad before loadRan is set.
	faces   []fontFace
	texture *TextureResource
}

func newSystemFont(m *Manager, loaderThread int, parent Resource, path string, data []byte, opts FontOptions) *FontResource {
	if opts.GlyphSize == 0 {
		opts.GlyphSize = DefaultFontOptions().GlyphSize
	}
	if opts.FallbackRune == 0 {
		opts.FallbackRune = DefaultFontOptions().FallbackRune
	}
	f := &FontResource{kind: fontSystem, path: path, data: data, opts: opts}
	f.init(m, parent, loaderThread)
	return f
}

func newBitmapFont(m *Manager, loaderThread int, parent Resource, path string) *FontResource {
	f := &FontResource{kind: fontBitmap, path: path, opts: DefaultFontOptions()}
	f.init(m, parent, loaderThread)
	return f
}

func (f *FontResource) Path() string {
	return f.path
}

func (f *FontResource) IsLoaded() bool {
	return f.Status() == StatusLoaded
}

func (f *FontResource) Status() Status {
	if s := f.status.load(); s.Terminal() || !f.loadRan.IsSet() || f.texture == nil {
		return s
	}
	return f.follow(f.texture.Status())
}

func (f *FontResource) WaitUntilLoaded(timeout time.Duration) Status {
	return f.WaitUntilLoadedDeadline(deadlineFor(timeout))
}

func (f *FontResource) WaitUntilLoadedDeadline(deadline time.Time) Status {
	if s := f.status.load(); s.Terminal() {
		return s
	}
	if !f.loadRan.WaitUntil(deadline) || f.texture == nil {
		return f.status.load()
	}
	return f.follow(f.texture.WaitUntilLoadedDeadline(deadline))
}

// follow adopts the terminal status of the atlas texture.
func (f *FontResource) follow(s Status) Status {
	if s.Terminal() {
		f.resolve(s)
	}
	return f.status.load()
}

// Texture returns the glyph atlas, or nil unless the font is loaded.
func (f *FontResource) Texture() *TextureResource {
	if !f.IsLoaded() {
		return nil
	}
	return f.texture
}

func (f *FontResource) FaceCount() int {
	if !f.loadRan.IsSet() {
		return 0
	}
	return len(f.faces)
}

func (f *FontResource) FaceExists(face int) bool {
	return face >= 0 && face < f.FaceCount()
}

func (f *FontResource) FaceName(face int) string {
	if !f.FaceExists(face) {
		return ""
	}
	return f.faces[face].name
}

// FindFace returns the index of the face called name.
func (f *FontResource) FindFace(name string) (int, error) {
	for i := 0; i < f.FaceCount(); i++ {
		if f.faces[i].name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("font %s: face %q: %w", f.id, name, ErrFaceNotFound)
}

func (f *FontResource) LineHeight(face int) float32 {
	if !f.FaceExists(face) {
		return 0
	}
	return f.faces[face].lineHeight
}

// GetGlyphInfo returns the glyph of r, or the fallback glyph when the face
// does not map r. Unknown faces yield a zero GlyphInfo.
func (f *FontResource) GetGlyphInfo(face int, r rune) GlyphInfo {
	if !f.FaceExists(face) {
		return GlyphInfo{}
	}
	ff := &f.faces[face]
	if slot, ok := ff.charmap[r]; ok {
		return ff.glyphs[slot]
	}
	if ff.fallback < 0 || ff.fallback >= len(ff.glyphs) {
		return GlyphInfo{}
	}
	return ff.glyphs[ff.fallback]
}

// Kerning is the extra horizontal advance between first and second.
func (f *FontResource) Kerning(face int, first, second rune) float32 {
	if !f.FaceExists(face) {
		return 0
	}
	return f.faces[face].kerning[kerningPair{first, second}]
}

// CalculateRenderedSize measures s laid out on one line of face. kerning is
// added between every pair of glyphs on top of the font's own kerning. With
// wait set it blocks until the font settles, otherwise an unloaded font
// measures as empty.
func (f *FontResource) CalculateRenderedSize(s string, face int, kerning float32, scale mgl32.Vec2, vertical, wait bool) Rect {
	runes := []rune(norm.NFC.String(s))
	if len(runes) == 0 {
		return Rect{}
	}
	if wait {
		f.WaitUntilLoaded(WaitForever)
	} else if !f.loadRan.IsSet() {
		return Rect{}
	}
	if !f.FaceExists(face) {
		return Rect{}
	}

	var r Rect
	var advance float32
	for i, ru := range runes {
		g := f.GetGlyphInfo(face, ru)
		box := g.Horizontal
		if vertical {
			box = g.Vertical
		}

		if i == 0 {
			r = box
		}
		if vertical {
			r.TopLeft[0] = min(r.TopLeft[0], box.TopLeft[0])
			r.BottomRight[0] = max(r.BottomRight[0], box.BottomRight[0])
		} else {
			r.TopLeft[1] = min(r.TopLeft[1], box.TopLeft[1])
			r.BottomRight[1] = max(r.BottomRight[1], box.BottomRight[1])
		}

		if i == len(runes)-1 {
			if vertical {
				r.BottomRight[1] = advance + box.BottomRight[1]
			} else {
				r.BottomRight[0] = advance + box.BottomRight[0]
			}
			break
		}
		if vertical {
			advance += g.VerticalAdvance + kerning
		} else {
			advance += g.HorizontalAdvance + kerning + f.Kerning(face, ru, runes[i+1])
		}
	}

	r.TopLeft = mgl32.Vec2{r.TopLeft[0] * scale[0], r.TopLeft[1] * scale[1]}
	r.BottomRight = mgl32.Vec2{r.BottomRight[0] * scale[0], r.BottomRight[1] * scale[1]}
	return r
}

func (f *FontResource) mtLoad(thread *LoaderThreadResource) bool {
	var err error
	switch f.kind {
	case fontBitmap:
		err = f.loadBitmap()
	default:
		err = f.loadSystem(thread)
	}
	if err != nil {
		core.Report(core.SeverityNonCriticalError, "font %s: %v", f.id, err)
		f.faces = nil
		return false
	}
	f.data = nil
	return true
}

func (f *FontResource) loadSystem(thread *LoaderThreadResource) error {
	var sf *loaders.SystemFontData
	var err error
	switch {
	case f.path != "":
		sf, err = loaders.LoadSystemFont(f.path)
	case len(f.data) > 0:
		sf, err = loaders.ParseSystemFont(f.data, nil)
	default:
		return ErrNothingToLoad
	}
	if err != nil {
		return err
	}

	rasterized, err := thread.Rasterizer().RasterizeCollection(sf.Binary, sf.Faces, text.RasterOptions{
		PixelSize: f.opts.GlyphSize,
		UseAlpha:  f.opts.UseAlpha,
		Fallback:  f.opts.FallbackRune,
		Runes:     f.opts.Runes,
	})
	if err != nil {
		return err
	}

	var sizes []image.Point
	for _, rf := range rasterized {
		for i := range rf.Glyphs {
			if !rf.Glyphs[i].Empty() {
				sizes = append(sizes, image.Pt(rf.Glyphs[i].Width, rf.Glyphs[i].Height))
			}
		}
	}
	maxSize := thread.Device().Limits().MaxImageDimension2D
	side := text.EstimateAtlasSize(sizes, f.opts.Padding, maxSize)
	packer := text.NewAtlasPacker(side, f.opts.Padding)

	faces := make([]fontFace, len(rasterized))
	for fi, rf := range rasterized {
		face := fontFace{
			name:       rf.Name,
			glyphs:     make([]GlyphInfo, len(rf.Glyphs)),
			charmap:    rf.Charmap,
			fallback:   rf.Fallback,
			lineHeight: rf.LineHeight,
		}
		for gi := range rf.Glyphs {
			g := &rf.Glyphs[gi]
			loc, err := packer.Insert(g.Width, g.Height, g.Pixels)
			if err != nil {
				return fmt.Errorf("face %q glyph %d: %w", rf.Name, gi, err)
			}
			u0, v0, u1, v1 := packer.UV(loc)
			face.glyphs[gi] = newGlyphInfo(fi, loc.Page, mgl32.Vec4{u0, v0, u1, v1}, g.Bounds, g.Advance, rf.LineHeight)
		}
		faces[fi] = face
	}
	core.LogDebug("font %s: %d faces packed into %d atlas pages of %d texels", f.id, len(faces), packer.PageCount(), side)

	return f.createAtlas(faces, driver.Extent{Width: side, Height: side}, packer.Pages())
}

func (f *FontResource) loadBitmap() error {
	bf, err := loaders.LoadBitmapFont(f.path)
	if err != nil {
		return err
	}
	if len(bf.Glyphs) == 0 {
		return fmt.Errorf("bitmap font %s: %w", f.path, text.ErrNoGlyphs)
	}

	page := bf.Pages[0]
	w, h := float32(bf.AtlasWidth), float32(bf.AtlasHeight)
	if w == 0 || h == 0 {
		w, h = float32(page.Width), float32(page.Height)
	}
	lineHeight := float32(bf.LineHeight)

	face := fontFace{
		name:       bf.Face,
		glyphs:     make([]GlyphInfo, len(bf.Glyphs)),
		charmap:    make(map[rune]int, len(bf.Glyphs)),
		fallback:   -1,
		lineHeight: lineHeight,
		kerning:    make(map[kerningPair]float32, len(bf.Kernings)),
	}
	for i, g := range bf.Glyphs {
		top := g.YOffset - bf.Baseline
		bounds := image.Rect(g.XOffset, top, g.XOffset+g.Width, top+g.Height)
		uv := mgl32.Vec4{
			float32(g.X) / w,
			float32(g.Y) / h,
			float32(g.X+g.Width) / w,
			float32(g.Y+g.Height) / h,
		}
		face.glyphs[i] = newGlyphInfo(0, g.Page, uv, bounds, float32(g.XAdvance), lineHeight)
		face.charmap[g.Codepoint] = i
	}
	for _, k := range bf.Kernings {
		face.kerning[kerningPair{k.First, k.Second}] = float32(k.Amount)
	}
	if slot, ok := face.charmap[f.opts.FallbackRune]; ok {
		face.fallback = slot
	} else if slot, ok := face.charmap['?']; ok {
		face.fallback = slot
	}

	layers := make([][]byte, len(bf.Pages))
	for i, p := range bf.Pages {
		layers[i] = p.Pixels
	}
	return f.createAtlas([]fontFace{face}, driver.Extent{Width: page.Width, Height: page.Height}, layers)
}

func (f *FontResource) createAtlas(faces []fontFace, size driver.Extent, layers [][]byte) error {
	tex, err := f.manager.createSubTexture(f, size, layers)
	if err != nil {
		return fmt.Errorf("atlas texture: %w", err)
	}
	f.faces = faces
	f.texture = tex
	return nil
}

// mtUnload drops the glyph tables. The atlas texture is a subresource and
// is unloaded by the manager.
func (f *FontResource) mtUnload(*LoaderThreadResource) {
	f.WaitUntilLoaded(WaitForever)
	f.faces = nil
}

// newGlyphInfo places a glyph from its horizontal bounds. Vertical metrics
// are synthesized: the glyph is centred on the pen and on the line.
func newGlyphInfo(face, atlas int, uv mgl32.Vec4, bounds image.Rectangle, advance, lineHeight float32) GlyphInfo {
	size := mgl32.Vec2{float32(bounds.Dx()), float32(bounds.Dy())}
	horizontal := mgl32.Vec2{float32(bounds.Min.X), float32(bounds.Min.Y)}
	vertical := mgl32.Vec2{float32(bounds.Min.X) - advance/2, (lineHeight - size[1]) / 2}
	return GlyphInfo{
		Face:              uint32(face),
		Atlas:             uint32(atlas),
		UV:                uv,
		Horizontal:        Rect{TopLeft: horizontal, BottomRight: horizontal.Add(size)},
		Vertical:          Rect{TopLeft: vertical, BottomRight: vertical.Add(size)},
		HorizontalAdvance: advance,
		VerticalAdvance:   lineHeight,
	}
}
