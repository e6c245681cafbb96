package loaders

import (
	"path/filepath"
	"strings"
)

type AssetType int

/** @brief Asset types the engine knows how to load. */
const (
	AssetTypeNone AssetType = iota
	/** @brief Any image the standard or x/image decoders understand. */
	AssetTypeImage
	/** @brief TrueType/OpenType fonts and .fontcfg descriptions of them. */
	AssetTypeSystemFont
	/** @brief AngelCode BMFont descriptors. */
	AssetTypeBitmapFont
	/** @brief Opaque bytes. */
	AssetTypeBinary
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeImage:
		return "image"
	case AssetTypeSystemFont:
		return "system-font"
	case AssetTypeBitmapFont:
		return "bitmap-font"
	case AssetTypeBinary:
		return "binary"
	default:
		return "none"
	}
}

/**
 * @brief A loaded asset. Data holds *ImageData, *SystemFontData,
 * *BitmapFontData or []byte depending on Type.
 */
type Asset struct {
	Name     string
	FullPath string
	Type     AssetType
	DataSize uint64
	Data     interface{}
}

// Loader turns a file into an Asset. Implementations must be safe for
// concurrent use.
type Loader interface {
	Load(path string, params interface{}) (*Asset, error)
	Unload(*Asset) error
}

// DetermineAssetType maps a file name to its asset type. A trailing .lz4
// is ignored.
func DetermineAssetType(path string) AssetType {
	ext := strings.ToLower(filepath.Ext(trimCompression(path)))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return AssetTypeImage
	case ".ttf", ".otf", ".ttc", ".otc", ".fontcfg":
		return AssetTypeSystemFont
	case ".fnt":
		return AssetTypeBitmapFont
	case ".bin":
		return AssetTypeBinary
	default:
		return AssetTypeNone
	}
}

// AssetName returns the base name of path without compression suffix and extension.
func AssetName(path string) string {
	base := filepath.Base(trimCompression(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func trimCompression(path string) string {
	if strings.EqualFold(filepath.Ext(path), lz4Extension) {
		return path[:len(path)-len(lz4Extension)]
	}
	return path
}
