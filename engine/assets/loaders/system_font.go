package loaders

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

/** @brief Font binary plus the face names it provides. */
type SystemFontData struct {
	// Binary is the raw TTF/OTF/TTC content.
	Binary []byte
	// Faces lists one name per font in the collection, in collection order.
	Faces []string
}

type SystemFontLoader struct{}

func (fl *SystemFontLoader) Load(path string, params interface{}) (*Asset, error) {
	data, err := LoadSystemFont(path)
	if err != nil {
		return nil, err
	}
	return &Asset{
		Name:     AssetName(path),
		FullPath: path,
		Type:     AssetTypeSystemFont,
		DataSize: uint64(len(data.Binary)),
		Data:     data,
	}, nil
}

func (fl *SystemFontLoader) Unload(asset *Asset) error {
	asset.Data = nil
	asset.DataSize = 0
	return nil
}

// LoadSystemFont reads a font file, or a .fontcfg file naming one with
// file= and its faces with face= lines.
func LoadSystemFont(path string) (*SystemFontData, error) {
	if strings.EqualFold(filepath.Ext(trimCompression(path)), ".fontcfg") {
		return loadFontConfig(path)
	}
	binary, err := ReadAsset(path)
	if err != nil {
		return nil, err
	}
	return ParseSystemFont(binary, nil)
}

// ParseSystemFont validates binary as a font collection. Face names missing
// from names are taken from the font's family name table.
func ParseSystemFont(binary []byte, names []string) (*SystemFontData, error) {
	coll, err := opentype.ParseCollection(binary)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}

	rd := &SystemFontData{Binary: binary, Faces: make([]string, coll.NumFonts())}
	var buf sfnt.Buffer
	for i := 0; i < coll.NumFonts(); i++ {
		if i < len(names) && names[i] != "" {
			rd.Faces[i] = names[i]
			continue
		}
		f, err := coll.Font(i)
		if err != nil {
			return nil, fmt.Errorf("font %d: %w", i, err)
		}
		name, err := f.Name(&buf, sfnt.NameIDFamily)
		if err != nil || name == "" {
			name = fmt.Sprintf("face%d", i)
		}
		rd.Faces[i] = name
	}
	return rd, nil
}

func loadFontConfig(path string) (*SystemFontData, error) {
	cfg, err := ReadAsset(path)
	if err != nil {
		return nil, err
	}

	var binary []byte
	var faces []string
	scanner := bufio.NewScanner(bytes.NewReader(cfg))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse the file and face keys
		if strings.HasPrefix(line, "file=") {
			filename := strings.TrimPrefix(line, "file=")
			if !filepath.IsAbs(filename) {
				filename = filepath.Join(filepath.Dir(path), filename)
			}
			if binary, err = ReadAsset(filename); err != nil {
				return nil, err
			}
		} else if strings.HasPrefix(line, "face=") {
			faces = append(faces, strings.TrimPrefix(line, "face="))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if binary == nil {
		return nil, fmt.Errorf("font config %s has no file= entry", path)
	}
	return ParseSystemFont(binary, faces)
}
