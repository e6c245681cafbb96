package loaders

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4"
)

const lz4Extension = ".lz4"

type BinaryLoader struct{}

func (bl *BinaryLoader) Load(path string, params interface{}) (*Asset, error) {
	buf, err := ReadAsset(path)
	if err != nil {
		return nil, err
	}
	return &Asset{
		Name:     AssetName(path),
		FullPath: path,
		Type:     AssetTypeBinary,
		DataSize: uint64(len(buf)),
		Data:     buf,
	}, nil
}

func (bl *BinaryLoader) Unload(asset *Asset) error {
	asset.Data = nil
	asset.DataSize = 0
	return nil
}

// OpenAsset opens path for reading, transparently decompressing files that
// end in .lz4.
func OpenAsset(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(filepath.Ext(path), lz4Extension) {
		return f, nil
	}
	return &lz4ReadCloser{Reader: lz4.NewReader(f), file: f}, nil
}

// ReadAsset returns the whole, decompressed content of path.
func ReadAsset(path string) ([]byte, error) {
	r, err := OpenAsset(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf, nil
}

type lz4ReadCloser struct {
	*lz4.Reader
	file *os.File
}

func (l *lz4ReadCloser) Close() error {
	return l.file.Close()
}
