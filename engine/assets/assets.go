package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima2d/engine/assets/loaders"
	"github.com/spaghettifunk/anima2d/engine/core"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrNoLoader      = errors.New("no loader registered for asset type")
	ErrClosed        = errors.New("asset manager already closed")
)

type AssetInfo struct {
	Path       string
	Name       string
	Type       loaders.AssetType
	LastLoaded time.Time
}

// AssetManager indexes an asset directory, keeps the index current with
// fsnotify and dispatches loads to the loader registered for each type.
// Created or rewritten files are published on Changes.
type AssetManager struct {
	assets  map[string]AssetInfo
	loaders map[loaders.AssetType]loaders.Loader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	started  bool
	changes  chan string
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	am := &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[loaders.AssetType]loaders.Loader),
		fsnotify: fsWatch,
		changes:  make(chan string, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	// Register loaders
	am.registerLoader(loaders.AssetTypeImage, &loaders.ImageLoader{})
	am.registerLoader(loaders.AssetTypeSystemFont, &loaders.SystemFontLoader{})
	am.registerLoader(loaders.AssetTypeBitmapFont, &loaders.BitmapFontLoader{})
	am.registerLoader(loaders.AssetTypeBinary, &loaders.BinaryLoader{})
	return am, nil
}

// Initialize indexes assetsDir recursively and starts watching it.
func (am *AssetManager) Initialize(assetsDir string) error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return ErrClosed
	}
	if !am.started {
		am.started = true
		go am.start()
	}
	am.mutex.Unlock()

	if err := am.addRecursive(assetsDir); err != nil {
		return err
	}
	core.LogInfo("asset manager watching %s (%d assets)", assetsDir, am.Len())
	return nil
}

// AddRecursive starts watching the named directory and all sub-directories.
func (am *AssetManager) addRecursive(name string) error {
	if am.closed() {
		return ErrClosed
	}
	return am.watchRecursive(name)
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType loaders.AssetType, loader loaders.Loader) {
	am.loaders[assetType] = loader
}

// Find returns the path of the asset called name of the given type.
func (am *AssetManager) Find(name string, assetType loaders.AssetType) (string, error) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	for _, a := range am.assets {
		if a.Name == name && a.Type == assetType {
			return a.Path, nil
		}
	}
	return "", fmt.Errorf("%s %q: %w", assetType, name, ErrAssetNotFound)
}

// LoadAsset loads an indexed asset with the loader registered for its type.
func (am *AssetManager) LoadAsset(path string, params interface{}) (*loaders.Asset, error) {
	am.mutex.Lock()
	asset, exists := am.assets[path]
	if exists {
		asset.LastLoaded = time.Now()
		am.assets[path] = asset
	}
	am.mutex.Unlock()
	if !exists {
		return nil, fmt.Errorf("%s: %w", path, ErrAssetNotFound)
	}

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, fmt.Errorf("%s: %w", asset.Type, ErrNoLoader)
	}
	return loader.Load(path, params)
}

func (am *AssetManager) UnloadAsset(asset *loaders.Asset) error {
	loader, ok := am.loaders[asset.Type]
	if !ok {
		return fmt.Errorf("%s: %w", asset.Type, ErrNoLoader)
	}
	return loader.Unload(asset)
}

// Assets returns a snapshot of the index.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	return out
}

func (am *AssetManager) Len() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// Changes delivers the path of every known asset that was created or
// written. Events are dropped when nobody drains the channel.
func (am *AssetManager) Changes() <-chan string {
	return am.changes
}

// Shutdown stops watching and closes Changes.
func (am *AssetManager) Shutdown() {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return
	}
	am.isClosed = true
	started := am.started
	am.mutex.Unlock()

	if !started {
		am.fsnotify.Close()
		close(am.changes)
		return
	}
	close(am.done)
	<-am.stopped
}

func (am *AssetManager) closed() bool {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return am.isClosed
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogWarn("asset manager: watch %s: %v", e.Name, err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if am.handleFileEvent(e.Name) {
					am.publish(e.Name)
				}
			}
			// Can't stat a deleted path, so just drop it from the index and the watch list.
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
				_ = am.fsnotify.Remove(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset manager: %v", err)

		case <-am.done:
			am.fsnotify.Close()
			close(am.changes)
			return
		}
	}
}

func (am *AssetManager) publish(path string) {
	select {
	case am.changes <- path:
	default:
		core.LogWarn("asset manager: change of %s dropped, nobody is listening", path)
	}
}

// watchRecursive adds all directories under the given one to the watch list.
// Files created before a new directory's watch is added are indexed by the walk.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// Handle the creation or modification of a file. It reports whether the file is an asset.
func (am *AssetManager) handleFileEvent(path string) bool {
	assetType := loaders.DetermineAssetType(path)
	if assetType == loaders.AssetTypeNone {
		return false
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[path] = AssetInfo{
		Path: path,
		Name: loaders.AssetName(path),
		Type: assetType,
	}
	return true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, path)
}
