package assets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/anima2d/engine/assets/loaders"
)

func TestAssetManager_IndexAndLoad(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "textures")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "blob.bin"), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	am, err := NewAssetManager()
	if err != nil {
		t.Fatalf("NewAssetManager() error = %v", err)
	}
	defer am.Shutdown()
	if err := am.Initialize(dir); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if got := am.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
	path, err := am.Find("blob", loaders.AssetTypeBinary)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	asset, err := am.LoadAsset(path, nil)
	if err != nil {
		t.Fatalf("LoadAsset() error = %v", err)
	}
	if b := asset.Data.([]byte); len(b) != 3 {
		t.Errorf("len(data) = %d, want 3", len(b))
	}
	if err := am.UnloadAsset(asset); err != nil || asset.Data != nil {
		t.Errorf("UnloadAsset() = %v, data %v", err, asset.Data)
	}
	if _, err := am.Find("missing", loaders.AssetTypeImage); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("Find(missing) error = %v, want %v", err, ErrAssetNotFound)
	}
}

func TestAssetManager_PublishesChanges(t *testing.T) {
	dir := t.TempDir()
	am, err := NewAssetManager()
	if err != nil {
		t.Fatalf("NewAssetManager() error = %v", err)
	}
	defer am.Shutdown()
	if err := am.Initialize(dir); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	target := filepath.Join(dir, "late.bin")
	if err := os.WriteFile(target, []byte{9}, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-am.Changes():
		if got != target {
			t.Errorf("change = %q, want %q", got, target)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change published for a new asset")
	}
}

func TestAssetManager_ShutdownWithoutInitialize(t *testing.T) {
	am, err := NewAssetManager()
	if err != nil {
		t.Fatalf("NewAssetManager() error = %v", err)
	}
	am.Shutdown()
	am.Shutdown()
	if _, ok := <-am.Changes(); ok {
		t.Error("Changes() still open after Shutdown")
	}
	if err := am.Initialize(t.TempDir()); !errors.Is(err, ErrClosed) {
		t.Errorf("Initialize after Shutdown error = %v, want %v", err, ErrClosed)
	}
}
