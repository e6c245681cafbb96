package loaders

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pierrec/lz4"
	"golang.org/x/image/font/gofont/goregular"
)

func writePNG(t *testing.T, path string, w, h int) *image.NRGBA {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return img
}

func TestDecodeImageFile_PNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tile.png")
	want := writePNG(t, path, 4, 3)

	got, err := DecodeImageFile(path)
	if err != nil {
		t.Fatalf("DecodeImageFile() error = %v", err)
	}
	if got.Width != 4 || got.Height != 3 {
		t.Fatalf("size = %dx%d, want 4x3", got.Width, got.Height)
	}
	if !bytes.Equal(got.Pixels, want.Pix) {
		t.Error("decoded texels differ from the encoded image")
	}
}

func TestDecodeImageFile_LZ4(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "tile.png")
	want := writePNG(t, plain, 2, 2)
	raw, _ := os.ReadFile(plain)

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("lz4 Write() error = %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("lz4 Close() error = %v", err)
	}
	compressed := filepath.Join(dir, "tile.png.lz4")
	if err := os.WriteFile(compressed, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DecodeImageFile(compressed)
	if err != nil {
		t.Fatalf("DecodeImageFile(.lz4) error = %v", err)
	}
	if !bytes.Equal(got.Pixels, want.Pix) {
		t.Error("decoded lz4 texels differ from the encoded image")
	}
	if typ := DetermineAssetType(compressed); typ != AssetTypeImage {
		t.Errorf("DetermineAssetType(%q) = %v, want image", compressed, typ)
	}
	if name := AssetName(compressed); name != "tile" {
		t.Errorf("AssetName(%q) = %q, want tile", compressed, name)
	}
}

func TestImageLoader_FlipY(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flip.png")
	src := writePNG(t, path, 2, 2)

	asset, err := (&ImageLoader{}).Load(path, &ImageParams{FlipY: true})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	data := asset.Data.(*ImageData)
	if !bytes.Equal(data.Pixels[:8], src.Pix[8:16]) {
		t.Error("first row after flip is not the last source row")
	}
	if asset.Type != AssetTypeImage || asset.DataSize != 16 {
		t.Errorf("asset = (%v, %d), want (image, 16)", asset.Type, asset.DataSize)
	}
}

func TestDecodeImageFile_Missing(t *testing.T) {
	if _, err := DecodeImageFile(filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Error("DecodeImageFile(missing) returned no error")
	}
}

func TestDetermineAssetType(t *testing.T) {
	tests := map[string]AssetType{
		"a.PNG":        AssetTypeImage,
		"b.webp":       AssetTypeImage,
		"c.ttf":        AssetTypeSystemFont,
		"d.fontcfg":    AssetTypeSystemFont,
		"e.fnt":        AssetTypeBitmapFont,
		"f.bin.lz4":    AssetTypeBinary,
		"g.shadercfg":  AssetTypeNone,
		"no_extension": AssetTypeNone,
	}
	for path, want := range tests {
		if got := DetermineAssetType(path); got != want {
			t.Errorf("DetermineAssetType(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestLoadSystemFont_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.ttf"), goregular.TTF, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := "# comment\nfile=go.ttf\nface=Go Sans\n"
	cfgPath := filepath.Join(dir, "go.fontcfg")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := LoadSystemFont(cfgPath)
	if err != nil {
		t.Fatalf("LoadSystemFont() error = %v", err)
	}
	if len(data.Faces) != 1 || data.Faces[0] != "Go Sans" {
		t.Errorf("Faces = %v, want [Go Sans]", data.Faces)
	}
	if !bytes.Equal(data.Binary, goregular.TTF) {
		t.Error("Binary differs from the referenced font file")
	}
}

func TestParseSystemFont_FamilyName(t *testing.T) {
	data, err := ParseSystemFont(goregular.TTF, nil)
	if err != nil {
		t.Fatalf("ParseSystemFont() error = %v", err)
	}
	if len(data.Faces) != 1 || data.Faces[0] == "" {
		t.Errorf("Faces = %v, want one named face", data.Faces)
	}
	if _, err := ParseSystemFont([]byte("not a font"), nil); err == nil {
		t.Error("ParseSystemFont(garbage) returned no error")
	}
}

func TestLoadBitmapFont(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "test_0.png"), 32, 32)
	fnt := `info face="Test" size=16 bold=0 italic=0 charset="" unicode=1 stretchH=100 smooth=1 aa=1 padding=0,0,0,0 spacing=1,1 outline=0
common lineHeight=18 base=14 scaleW=32 scaleH=32 pages=1 packed=0 alphaChnl=0 redChnl=0 greenChnl=0 blueChnl=0
page id=0 file="test_0.png"
chars count=2
char id=65 x=0 y=0 width=8 height=10 xoffset=0 yoffset=2 xadvance=9 page=0 chnl=15
char id=66 x=9 y=0 width=8 height=10 xoffset=1 yoffset=2 xadvance=9 page=0 chnl=15
kernings count=1
kerning first=65 second=66 amount=-1
`
	path := filepath.Join(dir, "test.fnt")
	if err := os.WriteFile(path, []byte(fnt), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := LoadBitmapFont(path)
	if err != nil {
		t.Fatalf("LoadBitmapFont() error = %v", err)
	}
	if data.Face != "Test" || data.LineHeight != 18 || data.Baseline != 14 {
		t.Errorf("metrics = (%q, %d, %d), want (Test, 18, 14)", data.Face, data.LineHeight, data.Baseline)
	}
	if len(data.Glyphs) != 2 {
		t.Errorf("len(Glyphs) = %d, want 2", len(data.Glyphs))
	}
	if len(data.Kernings) != 1 || data.Kernings[0].Amount != -1 {
		t.Errorf("Kernings = %+v, want one pair with amount -1", data.Kernings)
	}
	if len(data.Pages) != 1 || data.Pages[0].Width != 32 {
		t.Errorf("Pages = %d, want one 32px page", len(data.Pages))
	}
}
