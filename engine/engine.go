package engine

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spaghettifunk/anima2d/engine/assets"
	"github.com/spaghettifunk/anima2d/engine/config"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/jobs"
	"github.com/spaghettifunk/anima2d/engine/math"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
	"github.com/spaghettifunk/anima2d/engine/renderer/headless"
	"github.com/spaghettifunk/anima2d/engine/renderer/vulkan"
	"github.com/spaghettifunk/anima2d/engine/resources"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released every subsystem
	EngineStageShutdown
)

var ErrWrongStage = errors.New("engine is not in the required stage")

// Engine wires the device, the thread pool, the resource manager and the
// asset watcher together.
type Engine struct {
	currentStage Stage
	config       *config.Config
	clock        *core.Clock

	device       driver.Device
	pool         *jobs.ThreadPool
	manager      *resources.Manager
	assetManager *assets.AssetManager

	loaderThreads  []int
	generalThreads []int
}

// ThreadCounts sizes the pool from cfg and the CPU count.
func ThreadCounts(cfg config.ThreadsConfig) (loader, general int) {
	return threadCounts(cfg, runtime.NumCPU())
}

// threadCounts leaves one CPU for the caller. Loaders default to half the
// rest and never exceed it.
func threadCounts(cfg config.ThreadsConfig, cpus int) (loader, general int) {
	hw := math.Max(cpus-1, 1)

	loader = cfg.Loader
	if loader == 0 {
		loader = hw / 2
	}
	loader = math.Clamp(loader, 1, hw)

	general = cfg.General
	if general == 0 {
		general = 1
	}
	return loader, general
}

// New boots the engine: it opens the configured device and starts the
// thread pool with the loader threads first, then the general threads.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		currentStage: EngineStageBooting,
		config:       cfg,
		clock:        core.NewClock(),
	}
	e.clock.Start()

	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	core.SetLogJSON(cfg.Log.JSON)

	dev, err := openDevice(cfg)
	if err != nil {
		return nil, err
	}
	e.device = dev
	core.LogInfo("device '%s' opened (%s)", dev.Name(), cfg.Device.Backend)

	loaders, generals := ThreadCounts(cfg.Threads)
	threads := make([]jobs.ThreadPrivateResource, 0, loaders+generals)
	for i := 0; i < loaders; i++ {
		threads = append(threads, resources.NewLoaderThreadResource(dev))
		e.loaderThreads = append(e.loaderThreads, i)
	}
	for i := 0; i < generals; i++ {
		threads = append(threads, jobs.NewGeneralThreadResource())
		e.generalThreads = append(e.generalThreads, loaders+i)
	}

	e.pool = jobs.NewThreadPool(threads)
	if !e.pool.IsGood() {
		e.pool.Close()
		dev.Destroy()
		return nil, fmt.Errorf("%d loader, %d general threads: %w", loaders, generals, core.ErrThreadPoolInit)
	}
	e.manager = resources.NewManager(dev, e.pool, e.loaderThreads, e.generalThreads)
	core.LogInfo("thread pool started: %d loader, %d general threads", loaders, generals)

	e.currentStage = EngineStageBootComplete
	return e, nil
}

func openDevice(cfg *config.Config) (driver.Device, error) {
	switch cfg.Device.Backend {
	case config.BackendVulkan:
		return vulkan.New(vulkan.Options{
			AppName:        cfg.App.Name,
			Debug:          cfg.Device.Debug,
			PreferDiscrete: cfg.Device.PreferDiscrete,
		})
	default:
		opts := headless.DefaultOptions()
		if cfg.Device.SharedFamilies {
			opts = headless.Options{Name: cfg.App.Name + " headless"}
		}
		return headless.New(opts), nil
	}
}

// Initialize indexes the asset directory and, when enabled, reloads textures
// whose files change. A missing asset directory is not an error.
func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return ErrWrongStage
	}
	e.currentStage = EngineStageInitializing

	dir := e.config.Assets.Dir
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		am, err := assets.NewAssetManager()
		if err != nil {
			return err
		}
		if err := am.Initialize(dir); err != nil {
			am.Shutdown()
			return err
		}
		e.assetManager = am
		if e.config.Assets.Watch {
			e.manager.WatchTextures(am.Changes())
		}
	} else {
		core.LogDebug("asset directory %q not found, watcher disabled", dir)
	}

	e.clock.Update()
	core.LogInfo("engine initialized in %s", e.clock.Elapsed())
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Config() *config.Config {
	return e.config
}

func (e *Engine) Device() driver.Device {
	return e.device
}

func (e *Engine) Manager() *resources.Manager {
	return e.manager
}

// Assets is nil when the asset directory does not exist.
func (e *Engine) Assets() *assets.AssetManager {
	return e.assetManager
}

func (e *Engine) ThreadPool() *jobs.ThreadPool {
	return e.pool
}

// FontOptions returns the configured defaults for system fonts.
func (e *Engine) FontOptions() resources.FontOptions {
	opts := resources.DefaultFontOptions()
	opts.GlyphSize = e.config.Fonts.GlyphSize
	opts.UseAlpha = e.config.Fonts.UseAlpha
	opts.FallbackRune = e.config.Fonts.Fallback()
	opts.Padding = e.config.Fonts.Padding
	return opts
}

// Shutdown unloads every resource, stops the watcher and the pool, then
// destroys the device.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown || e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	e.manager.Shutdown()
	if e.assetManager != nil {
		e.assetManager.Shutdown()
	}
	e.pool.Close()
	e.device.Destroy()

	e.clock.Stop()
	core.LogInfo("engine shut down after %s", e.clock.Elapsed())
	e.currentStage = EngineStageShutdown
	return nil
}
