package loaders

import (
	"fmt"
	"path/filepath"

	"github.com/fzipp/bmfont"
)

/** @brief One glyph of a bitmap font page, in page pixels. */
type BitmapGlyph struct {
	Codepoint rune
	X, Y      int
	Width     int
	Height    int
	XOffset   int
	YOffset   int
	XAdvance  int
	Page      int
}

type BitmapKerning struct {
	First, Second rune
	Amount        int
}

/** @brief A parsed BMFont descriptor with its decoded pages. */
type BitmapFontData struct {
	Face        string
	Size        int
	LineHeight  int
	Baseline    int
	AtlasWidth  int
	AtlasHeight int
	Glyphs      []BitmapGlyph
	Kernings    []BitmapKerning
	// Pages are indexed by page id and share one size.
	Pages []*ImageData
}

type BitmapFontLoader struct{}

func (fl *BitmapFontLoader) Load(path string, params interface{}) (*Asset, error) {
	data, err := LoadBitmapFont(path)
	if err != nil {
		return nil, err
	}
	var size uint64
	for _, p := range data.Pages {
		size += uint64(len(p.Pixels))
	}
	return &Asset{
		Name:     AssetName(path),
		FullPath: path,
		Type:     AssetTypeBitmapFont,
		DataSize: size,
		Data:     data,
	}, nil
}

func (fl *BitmapFontLoader) Unload(asset *Asset) error {
	if data, ok := asset.Data.(*BitmapFontData); ok {
		data.Glyphs = nil
		data.Kernings = nil
		data.Pages = nil
	}
	asset.Data = nil
	asset.DataSize = 0
	return nil
}

// LoadBitmapFont reads a .fnt descriptor and decodes every page it references.
func LoadBitmapFont(path string) (*BitmapFontData, error) {
	font, err := bmfont.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load bitmap font %s: %w", path, err)
	}
	desc := font.Descriptor

	out := &BitmapFontData{
		Face:        desc.Info.Face,
		Size:        int(desc.Info.Size),
		LineHeight:  int(desc.Common.LineHeight),
		Baseline:    int(desc.Common.Base),
		AtlasWidth:  int(desc.Common.ScaleW),
		AtlasHeight: int(desc.Common.ScaleH),
	}

	pageFiles := map[int]string{}
	maxPage := -1
	for _, p := range desc.Pages {
		pageFiles[int(p.ID)] = p.File
		if int(p.ID) > maxPage {
			maxPage = int(p.ID)
		}
	}
	if maxPage < 0 {
		return nil, fmt.Errorf("bitmap font %s has no pages", path)
	}

	out.Pages = make([]*ImageData, maxPage+1)
	for id := 0; id <= maxPage; id++ {
		file, ok := pageFiles[id]
		if !ok {
			return nil, fmt.Errorf("bitmap font %s is missing page %d", path, id)
		}
		page, err := DecodeImageFile(filepath.Join(filepath.Dir(path), file))
		if err != nil {
			return nil, err
		}
		if id > 0 && (page.Width != out.Pages[0].Width || page.Height != out.Pages[0].Height) {
			return nil, fmt.Errorf("bitmap font %s: page %d is %dx%d, page 0 is %dx%d",
				path, id, page.Width, page.Height, out.Pages[0].Width, out.Pages[0].Height)
		}
		out.Pages[id] = page
	}

	for _, g := range desc.Chars {
		out.Glyphs = append(out.Glyphs, BitmapGlyph{
			Codepoint: rune(g.ID),
			X:         int(g.X),
			Y:         int(g.Y),
			Width:     int(g.Width),
			Height:    int(g.Height),
			XOffset:   int(g.XOffset),
			YOffset:   int(g.YOffset),
			XAdvance:  int(g.XAdvance),
			Page:      int(g.Page),
		})
	}
	for p, k := range desc.Kerning {
		out.Kernings = append(out.Kernings, BitmapKerning{
			First:  rune(p.First),
			Second: rune(p.Second),
			Amount: int(k.Amount),
		})
	}
	return out, nil
}
