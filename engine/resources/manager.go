package resources

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/jobs"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

// Manager owns every resource, assigns each one a loader thread and
// schedules its load and unload there. Renderers keep Handles, not pointers.
type Manager struct {
	device         driver.Device
	pool           *jobs.ThreadPool
	loaderThreads  []int
	generalThreads []int
	nextLoader     atomic.Uint32

	mutex     sync.Mutex
	resources *core.IdentifierPool[Resource]
	closed    bool

	metrics core.LoaderMetrics
	events  *core.EventSystem

	stop      chan struct{}
	watchers  sync.WaitGroup
	shutdowns sync.Once
}

func NewManager(device driver.Device, pool *jobs.ThreadPool, loaderThreads []int, generalThreads []int) *Manager {
	if len(loaderThreads) == 0 {
		core.LogError("resource manager: %v, every load will fail", ErrNoLoader)
	}
	return &Manager{
		device:         device,
		pool:           pool,
		loaderThreads:  append([]int(nil), loaderThreads...),
		generalThreads: append([]int(nil), generalThreads...),
		resources:      core.NewIdentifierPool[Resource](256),
		events:         core.NewEventSystem(),
		stop:           make(chan struct{}),
	}
}

func (m *Manager) Device() driver.Device {
	return m.device
}

func (m *Manager) LoaderThreads() []int {
	return m.loaderThreads
}

func (m *Manager) GeneralThreads() []int {
	return m.generalThreads
}

// Metrics returns a snapshot of the load counters of this manager.
func (m *Manager) Metrics() core.LoaderMetricsSnapshot {
	return m.metrics.Snapshot()
}

// Events fires the EVENT_CODE_RESOURCE_* codes with the manager as sender.
// Load and failure events are fired by whichever goroutine first observes
// the transition.
func (m *Manager) Events() *core.EventSystem {
	return m.events
}

// Lookup resolves a handle to the resource currently stored under it.
func (m *Manager) Lookup(h core.Handle) (Resource, bool) {
	return m.resources.Get(h)
}

// Len returns the number of resources the manager owns.
func (m *Manager) Len() int {
	return m.resources.Len()
}

// CreateTextureResource uploads one layer of size.Width*size.Height RGBA8 texels.
func (m *Manager) CreateTextureResource(size driver.Extent, texels []byte) (*TextureResource, error) {
	return m.CreateArrayTextureResource(size, [][]byte{texels})
}

// CreateArrayTextureResource uploads one texture layer per entry of layers.
// The texels are copied.
func (m *Manager) CreateArrayTextureResource(size driver.Extent, layers [][]byte) (*TextureResource, error) {
	owned := make([][]byte, len(layers))
	for i, l := range layers {
		owned[i] = append([]byte(nil), l...)
	}
	t := newTexelTexture(m, m.selectLoaderThread(), nil, size, owned)
	if err := m.attach(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *Manager) LoadTextureResource(path string) (*TextureResource, error) {
	return m.LoadArrayTextureResource([]string{path})
}

// LoadArrayTextureResource decodes one file per layer. Every file must have
// the same dimensions.
func (m *Manager) LoadArrayTextureResource(paths []string) (*TextureResource, error) {
	t := newFileTexture(m, m.selectLoaderThread(), nil, paths)
	if err := m.attach(t); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadFontResource rasterizes a TTF, OTF, collection or .fontcfg file.
func (m *Manager) LoadFontResource(path string, opts FontOptions) (*FontResource, error) {
	f := newSystemFont(m, m.selectLoaderThread(), nil, path, nil, opts)
	if err := m.attach(f); err != nil {
		return nil, err
	}
	return f, nil
}

// CreateFontResource rasterizes an in-memory font binary.
func (m *Manager) CreateFontResource(data []byte, opts FontOptions) (*FontResource, error) {
	f := newSystemFont(m, m.selectLoaderThread(), nil, "", data, opts)
	if err := m.attach(f); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadBitmapFontResource loads a BMFont descriptor and its pages.
func (m *Manager) LoadBitmapFontResource(path string) (*FontResource, error) {
	f := newBitmapFont(m, m.selectLoaderThread(), nil, path)
	if err := m.attach(f); err != nil {
		return nil, err
	}
	return f, nil
}

// createSubTexture creates an array texture owned by parent. It is allowed
// while the manager shuts down so a parent already loading can finish.
func (m *Manager) createSubTexture(parent Resource, size driver.Extent, layers [][]byte) (*TextureResource, error) {
	t := newTexelTexture(m, m.selectLoaderThread(), parent, size, layers)
	if err := m.attach(t); err != nil {
		return nil, err
	}
	parent.base().addSubresource(t)
	return t, nil
}

// DestroyResource waits until r is loaded or failed, destroys its
// subresources, removes it and schedules its unload on its loader thread.
// Resources the manager does not own are left alone. The returned status is
// the status r settled on.
func (m *Manager) DestroyResource(r Resource) Status {
	if r == nil {
		return StatusUndetermined
	}
	status := r.WaitUntilLoaded(WaitForever)
	b := r.base()
	if b.manager != m {
		return status
	}

	for _, sub := range b.takeSubresources() {
		m.DestroyResource(sub)
	}

	if !m.detach(r) {
		return status
	}
	m.scheduleUnload(r)
	return status
}

// ReloadTexture loads the files of t again into a new resource stored under
// t's handle, then retires t once it settled.
func (m *Manager) ReloadTexture(t *TextureResource) (*TextureResource, error) {
	if len(t.paths) == 0 {
		return nil, fmt.Errorf("texture %s has no source files: %w", t.id, ErrNothingToLoad)
	}
	fresh := newFileTexture(m, m.selectLoaderThread(), t.parent, t.paths)

	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return nil, core.ErrManagerClosed
	}
	h := t.Handle()
	if owner, ok := m.resources.Get(h); !ok || owner != Resource(t) {
		m.mutex.Unlock()
		return nil, fmt.Errorf("texture %s: %w", t.id, core.ErrInvalidHandle)
	}
	if _, err := m.resources.Replace(h, fresh); err != nil {
		m.mutex.Unlock()
		return nil, err
	}
	fresh.setHandle(h)
	t.setHandle(core.InvalidHandle)
	m.mutex.Unlock()

	m.schedule(fresh)
	m.metrics.Reloaded.Add(1)
	core.LogInfo("texture %s reloading as %s", t.id, fresh.id)
	var ctx core.EventContext
	ctx.Data.C[0] = t.id.String()
	ctx.Data.C[1] = fresh.id.String()
	m.events.Fire(core.EVENT_CODE_RESOURCE_RELOADED, m, ctx)

	t.WaitUntilLoaded(WaitForever)
	m.scheduleUnload(t)
	return fresh, nil
}

// WatchTextures reloads every file backed texture whose source path arrives
// on changes. It returns immediately; the watch ends when changes is closed
// or the manager shuts down.
func (m *Manager) WatchTextures(changes <-chan string) {
	m.watchers.Add(1)
	go func() {
		defer m.watchers.Done()
		for {
			select {
			case <-m.stop:
				return
			case path, ok := <-changes:
				if !ok {
					return
				}
				m.reloadPath(path)
			}
		}
	}()
}

func (m *Manager) reloadPath(path string) {
	path = filepath.Clean(path)
	for _, r := range m.resources.Snapshot() {
		t, ok := r.(*TextureResource)
		if !ok || t.parent != nil {
			continue
		}
		for _, p := range t.paths {
			if filepath.Clean(p) == path {
				if _, err := m.ReloadTexture(t); err != nil {
					core.LogWarn("resource manager: reload %s: %v", path, err)
				}
				break
			}
		}
	}
}

// Shutdown waits until every resource, including subresources created in
// the meantime, is loaded or failed, unloads all of them and waits for the
// pool to go idle. Creating resources afterwards fails.
func (m *Manager) Shutdown() {
	m.shutdowns.Do(func() {
		m.mutex.Lock()
		m.closed = true
		m.mutex.Unlock()
		close(m.stop)
		m.watchers.Wait()

		for {
			settled := m.resources.Snapshot()
			for _, r := range settled {
				r.WaitUntilLoaded(WaitForever)
			}
			if m.resources.Len() == len(settled) {
				break
			}
		}

		for _, r := range m.resources.Snapshot() {
			r.base().takeSubresources()
			if m.detach(r) {
				m.scheduleUnload(r)
			}
		}
		m.pool.WaitIdle()
		m.events.Shutdown()
		core.LogDebug("resource manager shut down: %+v", m.metrics.Snapshot())
	})
}

func (m *Manager) selectLoaderThread() int {
	if len(m.loaderThreads) == 0 {
		return -1
	}
	n := m.nextLoader.Add(1) - 1
	return m.loaderThreads[int(n)%len(m.loaderThreads)]
}

// attach registers r and schedules its load. Subresources may still attach
// while the manager shuts down.
func (m *Manager) attach(r Resource) error {
	b := r.base()
	m.mutex.Lock()
	if m.closed && b.parent == nil {
		m.mutex.Unlock()
		return core.ErrManagerClosed
	}
	b.setHandle(m.resources.Acquire(r))
	m.mutex.Unlock()

	m.schedule(r)
	return nil
}

func (m *Manager) schedule(r Resource) {
	b := r.base()
	b.scheduledAt = time.Now()
	m.metrics.Scheduled.Add(1)

	if !b.good || b.loaderThread < 0 {
		m.failLoad(b, ErrNoLoader)
		return
	}
	idx := m.pool.ScheduleOn(jobs.TaskFunc(func(thread jobs.ThreadPrivateResource) {
		m.runLoad(r, thread)
	}), b.loaderThread)
	if idx == jobs.InvalidTaskIndex {
		m.failLoad(b, core.ErrThreadPoolClosed)
	}
}

func (m *Manager) failLoad(b *resourceBase, err error) {
	b.resolve(StatusFailedToLoad)
	b.loadRan.Set()
	core.Report(core.SeverityWarning, "resource %s loading failed: %v", b.id, err)
}

func (m *Manager) runLoad(r Resource, thread jobs.ThreadPrivateResource) {
	b := r.base()
	defer b.loadRan.Set()
	defer func() {
		if rec := recover(); rec != nil {
			b.resolve(StatusFailedToLoad)
			core.Report(core.SeverityNonCriticalError, "resource %s panicked while loading: %v", b.id, rec)
		}
	}()

	lt, ok := thread.(*LoaderThreadResource)
	if !ok {
		b.resolve(StatusFailedToLoad)
		core.Report(core.SeverityWarning, "resource %s loading failed: worker %d is not a loader thread", b.id, thread.ThreadIndex())
		return
	}
	if !r.mtLoad(lt) {
		b.resolve(StatusFailedToLoad)
		core.Report(core.SeverityWarning, "resource %s loading failed", b.id)
	}
}

// detach removes r from the collection. It reports false when r was
// already removed or replaced.
func (m *Manager) detach(r Resource) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	h := r.Handle()
	if owner, ok := m.resources.Get(h); !ok || owner != r {
		return false
	}
	if _, err := m.resources.Release(h); err != nil {
		return false
	}
	r.base().setHandle(core.InvalidHandle)
	return true
}

func (m *Manager) scheduleUnload(r Resource) {
	idx := m.runOnLoader(r, func(thread *LoaderThreadResource) {
		r.mtUnload(thread)
		m.metrics.Unloaded.Add(1)
		var ctx core.EventContext
		ctx.Data.C[0] = r.ID().String()
		m.events.Fire(core.EVENT_CODE_RESOURCE_UNLOADED, m, ctx)
	})
	if idx == jobs.InvalidTaskIndex {
		core.LogWarn("resource manager: cannot schedule unload of %s on thread %d", r.ID(), r.LoaderThread())
	}
}

// runOnLoader runs fn on r's loader thread.
func (m *Manager) runOnLoader(r Resource, fn func(*LoaderThreadResource)) uint64 {
	if r.LoaderThread() < 0 {
		return jobs.InvalidTaskIndex
	}
	return m.pool.ScheduleOn(jobs.TaskFunc(func(thread jobs.ThreadPrivateResource) {
		lt, ok := thread.(*LoaderThreadResource)
		if !ok {
			core.LogError("resource manager: worker %d is not a loader thread", thread.ThreadIndex())
			return
		}
		fn(lt)
	}), r.LoaderThread())
}

// resolved is called once per resource when its status leaves Undetermined.
func (m *Manager) resolved(b *resourceBase, to Status) {
	var ctx core.EventContext
	h := b.Handle()
	ctx.Data.U64[0] = uint64(h.Index)
	ctx.Data.U64[1] = uint64(h.Generation)
	ctx.Data.C[0] = b.id.String()

	switch to {
	case StatusLoaded:
		elapsed := time.Since(b.scheduledAt)
		m.metrics.Loaded.Add(1)
		m.metrics.RecordLoadTime(elapsed)
		ctx.Data.I64[0] = elapsed.Nanoseconds()
		m.events.Fire(core.EVENT_CODE_RESOURCE_LOADED, m, ctx)
	case StatusFailedToLoad:
		m.metrics.Failed.Add(1)
		m.events.Fire(core.EVENT_CODE_RESOURCE_FAILED, m, ctx)
	}
}
