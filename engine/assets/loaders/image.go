package loaders

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

/** @brief Decoded texels, always 4 channels of 8 bits, rows top to bottom. */
type ImageData struct {
	Width  uint32
	Height uint32
	Pixels []uint8
}

/** @brief Parameters used when loading an image. */
type ImageParams struct {
	/** @brief Indicates if the image should be flipped on the y-axis when loaded. */
	FlipY bool
}

type ImageLoader struct{}

func (il *ImageLoader) Load(path string, params interface{}) (*Asset, error) {
	var flip bool
	if p, ok := params.(*ImageParams); ok && p != nil {
		flip = p.FlipY
	}

	data, err := DecodeImageFile(path)
	if err != nil {
		return nil, err
	}
	if flip {
		data.FlipVertical()
	}
	return &Asset{
		Name:     AssetName(path),
		FullPath: path,
		Type:     AssetTypeImage,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

func (il *ImageLoader) Unload(asset *Asset) error {
	asset.Data = nil
	asset.DataSize = 0
	return nil
}

// DecodeImageFile decodes path, decompressing .lz4 files first, into RGBA8.
func DecodeImageFile(path string) (*ImageData, error) {
	r, err := OpenAsset(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := DecodeImage(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return data, nil
}

// DecodeImage decodes any registered image format into non-premultiplied RGBA8.
func DecodeImage(r io.Reader) (*ImageData, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

// FromImage converts img into non-premultiplied RGBA8 texels.
func FromImage(img image.Image) *ImageData {
	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}
	return &ImageData{
		Width:  uint32(b.Dx()),
		Height: uint32(b.Dy()),
		Pixels: nrgba.Pix,
	}
}

// FlipVertical mirrors the rows in place.
func (d *ImageData) FlipVertical() {
	stride := int(d.Width) * 4
	tmp := make([]byte, stride)
	for top, bottom := 0, int(d.Height)-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := d.Pixels[top*stride : (top+1)*stride]
		b := d.Pixels[bottom*stride : (bottom+1)*stride]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}
