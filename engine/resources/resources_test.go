package resources

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/jobs"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
	"github.com/spaghettifunk/anima2d/engine/renderer/headless"
)

const loadBudget = 5 * time.Second

type harness struct {
	dev     *headless.Device
	pool    *jobs.ThreadPool
	manager *Manager
	loaders []int
}

// newHarness starts a pool of loaders loader threads plus one general
// thread and a manager on top of a headless device.
func newHarness(t *testing.T, opts headless.Options, loaders int) *harness {
	t.Helper()
	dev := headless.New(opts)

	var threads []jobs.ThreadPrivateResource
	var loaderIdx []int
	for i := 0; i < loaders; i++ {
		threads = append(threads, NewLoaderThreadResource(dev))
		loaderIdx = append(loaderIdx, i)
	}
	threads = append(threads, jobs.NewGeneralThreadResource())
	pool := jobs.NewThreadPool(threads)
	if !pool.IsGood() {
		t.Fatal("thread pool failed to start")
	}

	h := &harness{
		dev:     dev,
		pool:    pool,
		manager: NewManager(dev, pool, loaderIdx, []int{loaders}),
		loaders: loaderIdx,
	}
	t.Cleanup(func() {
		dev.Resume()
		h.manager.Shutdown()
		pool.Close()
		dev.Destroy()
	})
	return h
}

type reports struct {
	mutex sync.Mutex
	seen  []core.ReportSeverity
}

func captureReports(t *testing.T) *reports {
	r := &reports{}
	prev := core.SetReportCallback(func(severity core.ReportSeverity, message string) {
		r.mutex.Lock()
		r.seen = append(r.seen, severity)
		r.mutex.Unlock()
	})
	t.Cleanup(func() { core.SetReportCallback(prev) })
	return r
}

func (r *reports) count(severity core.ReportSeverity) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	n := 0
	for _, s := range r.seen {
		if s == severity {
			n++
		}
	}
	return n
}

func texels(w, h int, seed byte) []byte {
	b := make([]byte, w*h*4)
	for i := range b {
		b[i] = byte(i*7) + seed
	}
	return b
}

func writeOpaquePNG(t *testing.T, path string, w, h int, seed byte) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: byte(x*8) + seed, G: byte(y * 8), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return img.Pix
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(loadBudget)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTextureResource_ReadbackRoundTrip(t *testing.T) {
	cases := []struct {
		name        string
		opts        headless.Options
		submissions int64
	}{
		{"distinct families", headless.DefaultOptions(), 3},
		{"single family", headless.Options{}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reps := captureReports(t)
			h := newHarness(t, tc.opts, 2)
			want := texels(64, 64, 3)

			tex, err := h.manager.CreateTextureResource(driver.Extent{Width: 64, Height: 64}, want)
			if err != nil {
				t.Fatalf("CreateTextureResource() error = %v", err)
			}
			if s := tex.WaitUntilLoaded(loadBudget); s != StatusLoaded {
				t.Fatalf("WaitUntilLoaded() = %v, want %v", s, StatusLoaded)
			}
			if got := h.dev.Stats().Submissions; got != tc.submissions {
				t.Errorf("Submissions = %d, want %d", got, tc.submissions)
			}
			if tex.MipLevels() != 7 || tex.LayerCount() != 1 || tex.Size() != (driver.Extent{Width: 64, Height: 64}) {
				t.Errorf("shape = %v x %d layers x %d mips, want 64x64 x 1 x 7", tex.Size(), tex.LayerCount(), tex.MipLevels())
			}
			if tex.Image() == nil || tex.View() == nil || tex.DescriptorSet() == nil {
				t.Error("loaded texture exposes nil device handles")
			}

			got, err := h.manager.ReadbackTexture(tex, 0, 0)
			if err != nil {
				t.Fatalf("ReadbackTexture() error = %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Error("mip 0 read back differs from the uploaded texels")
			}
			if smallest, err := h.manager.ReadbackTexture(tex, 0, 6); err != nil || len(smallest) != 4 {
				t.Errorf("ReadbackTexture(mip 6) = %d bytes, %v, want 4 bytes", len(smallest), err)
			}
			if _, err := h.manager.ReadbackTexture(tex, 1, 0); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("ReadbackTexture(layer 1) error = %v, want %v", err, ErrOutOfRange)
			}

			for _, sev := range []core.ReportSeverity{core.SeverityWarning, core.SeverityNonCriticalError, core.SeverityCriticalError, core.SeverityDeviceLost} {
				if n := reps.count(sev); n != 0 {
					t.Errorf("%d %v reports, want none", n, sev)
				}
			}
		})
	}
}

func TestTextureResource_ArrayLayers(t *testing.T) {
	h := newHarness(t, headless.DefaultOptions(), 1)
	layers := [][]byte{texels(16, 8, 1), texels(16, 8, 2), texels(16, 8, 3)}

	tex, err := h.manager.CreateArrayTextureResource(driver.Extent{Width: 16, Height: 8}, layers)
	if err != nil {
		t.Fatalf("CreateArrayTextureResource() error = %v", err)
	}
	layers[1][0] ^= 0xFF
	if s := tex.WaitUntilLoaded(loadBudget); s != StatusLoaded {
		t.Fatalf("WaitUntilLoaded() = %v, want %v", s, StatusLoaded)
	}
	if tex.LayerCount() != 3 || tex.MipLevels() != 5 {
		t.Errorf("LayerCount, MipLevels = %d, %d, want 3, 5", tex.LayerCount(), tex.MipLevels())
	}
	got, err := h.manager.ReadbackTexture(tex, 1, 0)
	if err != nil {
		t.Fatalf("ReadbackTexture() error = %v", err)
	}
	if !bytes.Equal(got, texels(16, 8, 2)) {
		t.Error("layer 1 does not hold the texels passed at creation")
	}
}

func TestTextureResource_FailuresAreNotCritical(t *testing.T) {
	reps := captureReports(t)
	h := newHarness(t, headless.DefaultOptions(), 2)
	m := h.manager

	var created []*TextureResource
	add := func(tex *TextureResource, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("create error = %v", err)
		}
		created = append(created, tex)
	}
	add(m.CreateTextureResource(driver.Extent{}, nil))
	add(m.CreateArrayTextureResource(driver.Extent{Width: 4, Height: 4}, nil))
	add(m.CreateTextureResource(driver.Extent{Width: 4, Height: 4}, make([]byte, 10)))
	add(m.CreateTextureResource(driver.Extent{Width: 8192, Height: 1}, make([]byte, 8192*4)))
	add(m.LoadTextureResource(filepath.Join(t.TempDir(), "missing.png")))

	for i, tex := range created {
		if s := tex.WaitUntilLoaded(loadBudget); s != StatusFailedToLoad {
			t.Errorf("texture %d: WaitUntilLoaded() = %v, want %v", i, s, StatusFailedToLoad)
		}
		if tex.Image() != nil || tex.Size() != (driver.Extent{}) {
			t.Errorf("texture %d: failed texture exposes device handles", i)
		}
	}

	font, err := m.CreateFontResource(nil, DefaultFontOptions())
	if err != nil {
		t.Fatalf("CreateFontResource() error = %v", err)
	}
	if s := font.WaitUntilLoaded(loadBudget); s != StatusFailedToLoad {
		t.Errorf("empty font: WaitUntilLoaded() = %v, want %v", s, StatusFailedToLoad)
	}

	h.dev.FailAllocations(true)
	tex, err := m.CreateTextureResource(driver.Extent{Width: 4, Height: 4}, texels(4, 4, 0))
	if err != nil {
		t.Fatalf("CreateTextureResource() error = %v", err)
	}
	if s := tex.WaitUntilLoaded(loadBudget); s != StatusFailedToLoad {
		t.Errorf("out of memory: WaitUntilLoaded() = %v, want %v", s, StatusFailedToLoad)
	}
	h.dev.FailAllocations(false)

	if got := m.Metrics().Failed; got != 7 {
		t.Errorf("Metrics().Failed = %d, want 7", got)
	}
	if n := reps.count(core.SeverityCriticalError) + reps.count(core.SeverityDeviceLost); n != 0 {
		t.Errorf("%d critical or device lost reports, want none", n)
	}
	if n := reps.count(core.SeverityWarning); n != 7 {
		t.Errorf("%d warnings, want one per failed load", n)
	}

	m.Shutdown()
	if st := h.dev.Stats(); st.Images != 0 || st.Buffers != 0 || st.DescriptorSets != 0 || st.Fences != 0 {
		t.Errorf("Stats() after shutdown = %+v, want no live objects", st)
	}
}

func TestManager_ManyLoadsAcrossLoaderThreads(t *testing.T) {
	h := newHarness(t, headless.DefaultOptions(), 4)
	other := NewManager(h.dev, h.pool, h.loaders, nil)

	const n = 50
	textures := make([]*TextureResource, n)
	for i := range textures {
		tex, err := h.manager.CreateTextureResource(driver.Extent{Width: 16, Height: 16}, texels(16, 16, byte(i)))
		if err != nil {
			t.Fatalf("CreateTextureResource(%d) error = %v", i, err)
		}
		textures[i] = tex
	}

	threads := map[int]int{}
	for i, tex := range textures {
		if s := tex.WaitUntilLoaded(loadBudget); s != StatusLoaded {
			t.Fatalf("texture %d: WaitUntilLoaded() = %v, want %v", i, s, StatusLoaded)
		}
		threads[tex.LoaderThread()]++
	}
	if len(threads) != 4 {
		t.Errorf("loads ran on %d loader threads, want 4", len(threads))
	}
	for thread, count := range threads {
		if count < 12 || count > 13 {
			t.Errorf("thread %d ran %d loads, want an even share", thread, count)
		}
	}

	got := h.manager.Metrics()
	if got.Scheduled != n || got.Loaded != n || got.Failed != 0 {
		t.Errorf("Metrics() = %+v, want %d scheduled and loaded", got, n)
	}
	if got.AverageLoadTime <= 0 {
		t.Errorf("AverageLoadTime = %v, want > 0", got.AverageLoadTime)
	}
	if snap := other.Metrics(); snap != (core.LoaderMetricsSnapshot{}) {
		t.Errorf("unrelated manager Metrics() = %+v, want zero", snap)
	}
	if h.manager.Len() != n {
		t.Errorf("Len() = %d, want %d", h.manager.Len(), n)
	}
}

func TestTextureResource_StatusIsMonotonic(t *testing.T) {
	h := newHarness(t, headless.DefaultOptions(), 1)
	h.dev.Pause()

	tex, err := h.manager.CreateTextureResource(driver.Extent{Width: 8, Height: 8}, texels(8, 8, 0))
	if err != nil {
		t.Fatalf("CreateTextureResource() error = %v", err)
	}
	if s := tex.WaitUntilLoaded(50 * time.Millisecond); s != StatusUndetermined {
		t.Errorf("WaitUntilLoaded() while paused = %v, want %v", s, StatusUndetermined)
	}
	if s := tex.WaitUntilLoaded(0); s != StatusUndetermined {
		t.Errorf("WaitUntilLoaded(0) while paused = %v, want %v", s, StatusUndetermined)
	}
	if tex.Image() != nil || tex.IsLoaded() {
		t.Error("texture reports loaded while the device is paused")
	}

	h.dev.Resume()
	if s := tex.WaitUntilLoaded(loadBudget); s != StatusLoaded {
		t.Fatalf("WaitUntilLoaded() after resume = %v, want %v", s, StatusLoaded)
	}
	for i := 0; i < 10; i++ {
		if s := tex.Status(); s != StatusLoaded {
			t.Fatalf("Status() = %v after loading, want %v", s, StatusLoaded)
		}
	}
	h.pool.WaitIdle()
	if got := h.manager.Metrics().Cleanups; got != 1 {
		t.Errorf("Cleanups = %d, want 1", got)
	}
	if st := h.dev.Stats(); st.Buffers != 0 || st.CommandBuffers != 0 || st.Semaphores != 0 || st.Fences != 0 {
		t.Errorf("Stats() after cleanup = %+v, want only the image and its descriptor set", st)
	}

	if s := h.manager.DestroyResource(tex); s != StatusLoaded {
		t.Errorf("DestroyResource() = %v, want %v", s, StatusLoaded)
	}
	h.pool.WaitIdle()
	if s := tex.Status(); s != StatusLoaded {
		t.Errorf("Status() after destroy = %v, want %v", s, StatusLoaded)
	}
	if st := h.dev.Stats(); st.Images != 0 || st.DescriptorSets != 0 {
		t.Errorf("Stats() after destroy = %+v, want nothing live", st)
	}
	if got := h.manager.Metrics().Unloaded; got != 1 {
		t.Errorf("Unloaded = %d, want 1", got)
	}
	if tex.Handle() != core.InvalidHandle {
		t.Errorf("Handle() after destroy = %v, want invalid", tex.Handle())
	}
}

func TestTextureResource_NegativeTimeoutPolls(t *testing.T) {
	h := newHarness(t, headless.DefaultOptions(), 1)
	h.dev.Pause()

	tex, err := h.manager.CreateTextureResource(driver.Extent{Width: 8, Height: 8}, texels(8, 8, 0))
	if err != nil {
		t.Fatalf("CreateTextureResource() error = %v", err)
	}
	font, err := h.manager.CreateFontResource(goregular.TTF, FontOptions{GlyphSize: 12, Runes: []rune("ab")})
	if err != nil {
		t.Fatalf("CreateFontResource() error = %v", err)
	}

	for _, r := range []Resource{tex, font} {
		done := make(chan Status, 1)
		go func() { done <- r.WaitUntilLoaded(-time.Millisecond) }()
		select {
		case s := <-done:
			if s != StatusUndetermined {
				t.Errorf("WaitUntilLoaded(-1ms) while paused = %v, want %v", s, StatusUndetermined)
			}
		case <-time.After(loadBudget):
			t.Fatal("WaitUntilLoaded(-1ms) blocked")
		}
		if s := r.WaitUntilLoadedDeadline(time.Now().Add(-time.Second)); s != StatusUndetermined {
			t.Errorf("WaitUntilLoadedDeadline(past) while paused = %v, want %v", s, StatusUndetermined)
		}
	}

	h.dev.Resume()
	if s := tex.WaitUntilLoaded(WaitForever); s != StatusLoaded {
		t.Errorf("WaitUntilLoaded(WaitForever) = %v, want %v", s, StatusLoaded)
	}
	if s := font.WaitUntilLoaded(loadBudget); s != StatusLoaded {
		t.Errorf("font WaitUntilLoaded() = %v, want %v", s, StatusLoaded)
	}
}

func TestManager_UnloadRunsOnLoaderThread(t *testing.T) {
	const loaders, n = 3, 9
	h := newHarness(t, headless.DefaultOptions(), loaders)

	var textures []*TextureResource
	for i := 0; i < n; i++ {
		tex, err := h.manager.CreateTextureResource(driver.Extent{Width: 8, Height: 8}, texels(8, 8, byte(i)))
		if err != nil {
			t.Fatalf("CreateTextureResource() error = %v", err)
		}
		textures = append(textures, tex)
	}
	want := make([]uint64, loaders+1)
	for _, tex := range textures {
		if s := tex.WaitUntilLoaded(loadBudget); s != StatusLoaded {
			t.Fatalf("WaitUntilLoaded() = %v, want %v", s, StatusLoaded)
		}
		want[tex.LoaderThread()]++
	}
	h.pool.WaitIdle()

	before := make([]uint64, loaders+1)
	for i := range before {
		before[i] = h.pool.Executed(i)
	}
	for _, tex := range textures {
		h.manager.DestroyResource(tex)
	}
	h.pool.WaitIdle()
	for i := range before {
		if got := h.pool.Executed(i) - before[i]; got != want[i] {
			t.Errorf("worker %d ran %d unloads, want %d", i, got, want[i])
		}
	}
	if want[loaders] != 0 {
		t.Errorf("general thread %d was picked as a loader thread", loaders)
	}

	// The unload of a texture still uploading waits until its status is terminal.
	h.dev.Pause()
	tex, err := h.manager.CreateTextureResource(driver.Extent{Width: 8, Height: 8}, texels(8, 8, 0))
	if err != nil {
		t.Fatalf("CreateTextureResource() error = %v", err)
	}
	var unloadedAs atomic.Int32
	unloadedAs.Store(-1)
	h.manager.Events().Register(core.EVENT_CODE_RESOURCE_UNLOADED, nil,
		func(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
			if data.Data.C[0] == tex.ID().String() {
				unloadedAs.Store(int32(tex.Status()))
			}
			return false
		})

	destroyed := make(chan Status, 1)
	go func() { destroyed <- h.manager.DestroyResource(tex) }()
	time.Sleep(50 * time.Millisecond)
	select {
	case s := <-destroyed:
		t.Fatalf("DestroyResource() returned %v while the upload is in flight", s)
	default:
	}
	if got := h.manager.Metrics().Unloaded; got != n {
		t.Errorf("Unloaded = %d before the upload finished, want %d", got, n)
	}

	h.dev.Resume()
	if s := <-destroyed; s != StatusLoaded {
		t.Errorf("DestroyResource() = %v, want %v", s, StatusLoaded)
	}
	eventually(t, "unload event", func() bool { return unloadedAs.Load() != -1 })
	if s := Status(unloadedAs.Load()); !s.Terminal() {
		t.Errorf("status at unload = %v, want terminal", s)
	}
}

func TestTextureResource_DeviceLost(t *testing.T) {
	reps := captureReports(t)
	h := newHarness(t, headless.DefaultOptions(), 1)
	h.dev.Pause()

	tex, err := h.manager.CreateTextureResource(driver.Extent{Width: 8, Height: 8}, texels(8, 8, 0))
	if err != nil {
		t.Fatalf("CreateTextureResource() error = %v", err)
	}
	if !tex.loadRan.Wait(loadBudget) {
		t.Fatal("load task did not run")
	}
	h.dev.LoseDevice()

	if s := tex.WaitUntilLoaded(loadBudget); s != StatusFailedToLoad {
		t.Errorf("WaitUntilLoaded() = %v, want %v", s, StatusFailedToLoad)
	}
	if reps.count(core.SeverityDeviceLost) == 0 {
		t.Error("no device lost report")
	}

	late, err := h.manager.CreateTextureResource(driver.Extent{Width: 8, Height: 8}, texels(8, 8, 0))
	if err != nil {
		t.Fatalf("CreateTextureResource() error = %v", err)
	}
	if s := late.WaitUntilLoaded(loadBudget); s != StatusFailedToLoad {
		t.Errorf("load after loss: WaitUntilLoaded() = %v, want %v", s, StatusFailedToLoad)
	}
}

func TestManager_ReloadWatchedTexture(t *testing.T) {
	h := newHarness(t, headless.DefaultOptions(), 2)
	path := filepath.Join(t.TempDir(), "tile.png")
	writeOpaquePNG(t, path, 16, 16, 1)

	tex, err := h.manager.LoadTextureResource(path)
	if err != nil {
		t.Fatalf("LoadTextureResource() error = %v", err)
	}
	if s := tex.WaitUntilLoaded(loadBudget); s != StatusLoaded {
		t.Fatalf("WaitUntilLoaded() = %v, want %v", s, StatusLoaded)
	}
	handle := tex.Handle()

	changes := make(chan string)
	h.manager.WatchTextures(changes)
	want := writeOpaquePNG(t, path, 16, 16, 9)
	changes <- path
	close(changes)

	eventually(t, "the reload", func() bool { return h.manager.Metrics().Reloaded == 1 })
	r, ok := h.manager.Lookup(handle)
	if !ok {
		t.Fatal("handle no longer resolves after reload")
	}
	fresh, ok := r.(*TextureResource)
	if !ok || fresh == tex {
		t.Fatalf("Lookup() = %T %p, want a new texture", r, r)
	}
	if tex.Handle() != core.InvalidHandle {
		t.Errorf("old Handle() = %v, want invalid", tex.Handle())
	}
	if s := fresh.WaitUntilLoaded(loadBudget); s != StatusLoaded {
		t.Fatalf("reloaded WaitUntilLoaded() = %v, want %v", s, StatusLoaded)
	}
	got, err := h.manager.ReadbackTexture(fresh, 0, 0)
	if err != nil {
		t.Fatalf("ReadbackTexture() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("reloaded texture does not hold the new file contents")
	}
	eventually(t, "the old texture to unload", func() bool { return h.manager.Metrics().Unloaded == 1 })
	if h.manager.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.manager.Len())
	}
}

func TestManager_Shutdown(t *testing.T) {
	h := newHarness(t, headless.DefaultOptions(), 2)
	m := h.manager

	for i := 0; i < 5; i++ {
		if _, err := m.CreateTextureResource(driver.Extent{Width: 32, Height: 32}, texels(32, 32, byte(i))); err != nil {
			t.Fatalf("CreateTextureResource() error = %v", err)
		}
	}
	font, err := m.CreateFontResource(goregular.TTF, FontOptions{GlyphSize: 16, Runes: []rune("abc")})
	if err != nil {
		t.Fatalf("CreateFontResource() error = %v", err)
	}

	m.Shutdown()
	if m.Len() != 0 {
		t.Errorf("Len() after Shutdown = %d, want 0", m.Len())
	}
	if s := font.Status(); !s.Terminal() {
		t.Errorf("font Status() after Shutdown = %v, want terminal", s)
	}
	if got := m.Metrics().Unloaded; got != 7 {
		t.Errorf("Unloaded = %d, want 7", got)
	}
	if st := h.dev.Stats(); st.Images != 0 || st.Buffers != 0 || st.DescriptorSets != 0 {
		t.Errorf("Stats() after Shutdown = %+v, want nothing live", st)
	}
	if _, err := m.CreateTextureResource(driver.Extent{Width: 1, Height: 1}, texels(1, 1, 0)); !errors.Is(err, core.ErrManagerClosed) {
		t.Errorf("create after Shutdown error = %v, want %v", err, core.ErrManagerClosed)
	}
}

func TestFontResource_SystemFont(t *testing.T) {
	h := newHarness(t, headless.DefaultOptions(), 2)
	font, err := h.manager.CreateFontResource(goregular.TTF, FontOptions{
		GlyphSize:    24,
		UseAlpha:     true,
		FallbackRune: '*',
		Padding:      2,
		Runes:        []rune("AB"),
	})
	if err != nil {
		t.Fatalf("CreateFontResource() error = %v", err)
	}
	if s := font.WaitUntilLoaded(loadBudget); s != StatusLoaded {
		t.Fatalf("WaitUntilLoaded() = %v, want %v", s, StatusLoaded)
	}
	if font.FaceCount() != 1 || font.FaceName(0) == "" {
		t.Errorf("faces = %d (%q), want one named face", font.FaceCount(), font.FaceName(0))
	}
	if _, err := font.FindFace("no such face"); !errors.Is(err, ErrFaceNotFound) {
		t.Errorf("FindFace() error = %v, want %v", err, ErrFaceNotFound)
	}
	atlas := font.Texture()
	if atlas == nil || !atlas.IsLoaded() || atlas.LayerCount() != 1 {
		t.Fatalf("Texture() = %v, want a loaded single layer atlas", atlas)
	}
	if h.manager.Len() != 2 {
		t.Errorf("Len() = %d, want the font and its atlas", h.manager.Len())
	}

	a := font.GetGlyphInfo(0, 'A')
	if a.HorizontalAdvance <= 0 || a.Horizontal.Size()[0] <= 0 {
		t.Errorf("glyph A = %+v, want a positive advance and width", a)
	}
	if a.UV[0] < 0 || a.UV[2] > 1 || a.UV[2] <= a.UV[0] || a.UV[3] <= a.UV[1] {
		t.Errorf("glyph A UV = %v, want an ordered box inside [0, 1]", a.UV)
	}
	if a.VerticalAdvance != font.LineHeight(0) {
		t.Errorf("VerticalAdvance = %v, want the line height %v", a.VerticalAdvance, font.LineHeight(0))
	}
	if got, want := font.GetGlyphInfo(0, 'Z'), font.GetGlyphInfo(0, '*'); got != want {
		t.Errorf("unmapped rune = %+v, want the fallback glyph %+v", got, want)
	}
	if got := font.GetGlyphInfo(3, 'A'); got != (GlyphInfo{}) {
		t.Errorf("GetGlyphInfo(missing face) = %+v, want zero", got)
	}

	one := mgl32.Vec2{1, 1}
	size := font.CalculateRenderedSize("AB", 0, 0, one, false, true)
	if size.BottomRight[0] <= a.HorizontalAdvance {
		t.Errorf("rendered width of AB = %v, want more than the advance of A", size.BottomRight[0])
	}
	doubled := font.CalculateRenderedSize("AB", 0, 0, mgl32.Vec2{2, 2}, false, true)
	if doubled.BottomRight[0] != 2*size.BottomRight[0] {
		t.Errorf("scaled width = %v, want %v", doubled.BottomRight[0], 2*size.BottomRight[0])
	}
	b := font.GetGlyphInfo(0, 'B')
	vertical := font.CalculateRenderedSize("AB", 0, 0, one, true, true)
	if want := a.VerticalAdvance + b.Vertical.BottomRight[1]; vertical.BottomRight[1] != want {
		t.Errorf("rendered height of vertical AB = %v, want %v", vertical.BottomRight[1], want)
	}
	if got := font.CalculateRenderedSize("", 0, 0, one, false, true); got != (Rect{}) {
		t.Errorf("rendered size of empty string = %+v, want zero", got)
	}
	// e + combining acute composes to one unmapped rune
	if got, want := font.CalculateRenderedSize("e\u0301", 0, 0, one, false, true), font.CalculateRenderedSize("*", 0, 0, one, false, true); got != want {
		t.Errorf("rendered size of decomposed e acute = %+v, want one fallback glyph %+v", got, want)
	}

	if s := h.manager.DestroyResource(font); s != StatusLoaded {
		t.Errorf("DestroyResource() = %v, want %v", s, StatusLoaded)
	}
	h.pool.WaitIdle()
	if h.manager.Len() != 0 {
		t.Errorf("Len() after destroy = %d, want 0", h.manager.Len())
	}
	if got := h.manager.Metrics().Unloaded; got != 2 {
		t.Errorf("Unloaded = %d, want 2", got)
	}
}

func TestFontResource_BitmapFont(t *testing.T) {
	h := newHarness(t, headless.Options{}, 1)
	dir := t.TempDir()
	writeOpaquePNG(t, filepath.Join(dir, "test_0.png"), 32, 32, 0)
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

	font, err := h.manager.LoadBitmapFontResource(path)
	if err != nil {
		t.Fatalf("LoadBitmapFontResource() error = %v", err)
	}
	if s := font.WaitUntilLoaded(loadBudget); s != StatusLoaded {
		t.Fatalf("WaitUntilLoaded() = %v, want %v", s, StatusLoaded)
	}
	if font.FaceName(0) != "Test" || font.LineHeight(0) != 18 {
		t.Errorf("face = %q, line height %v, want Test, 18", font.FaceName(0), font.LineHeight(0))
	}

	a := font.GetGlyphInfo(0, 'A')
	wantA := Rect{TopLeft: mgl32.Vec2{0, -12}, BottomRight: mgl32.Vec2{8, -2}}
	if a.Horizontal != wantA {
		t.Errorf("glyph A Horizontal = %+v, want %+v", a.Horizontal, wantA)
	}
	if want := (mgl32.Vec4{0, 0, 0.25, 0.3125}); a.UV != want {
		t.Errorf("glyph A UV = %v, want %v", a.UV, want)
	}
	if k := font.Kerning(0, 'A', 'B'); k != -1 {
		t.Errorf("Kerning(A, B) = %v, want -1", k)
	}
	if got := font.GetGlyphInfo(0, 'Z'); got != (GlyphInfo{}) {
		t.Errorf("unmapped rune without fallback = %+v, want zero", got)
	}

	size := font.CalculateRenderedSize("AB", 0, 0, mgl32.Vec2{2, 1}, false, true)
	want := Rect{TopLeft: mgl32.Vec2{0, -12}, BottomRight: mgl32.Vec2{34, -2}}
	if size != want {
		t.Errorf("CalculateRenderedSize(AB) = %+v, want %+v", size, want)
	}

	atlas := font.Texture()
	if atlas == nil || atlas.Size() != (driver.Extent{Width: 32, Height: 32}) {
		t.Fatalf("Texture() = %v, want a 32x32 atlas", atlas)
	}
}

func TestFontResource_LoadsFromFile(t *testing.T) {
	h := newHarness(t, headless.DefaultOptions(), 1)
	path := filepath.Join(t.TempDir(), "go.ttf")
	if err := os.WriteFile(path, goregular.TTF, 0o644); err != nil {
		t.Fatal(err)
	}

	font, err := h.manager.LoadFontResource(path, DefaultFontOptions())
	if err != nil {
		t.Fatalf("LoadFontResource() error = %v", err)
	}
	if s := font.WaitUntilLoaded(loadBudget); s != StatusLoaded {
		t.Fatalf("WaitUntilLoaded() = %v, want %v", s, StatusLoaded)
	}
	if font.Path() != path {
		t.Errorf("Path() = %q, want %q", font.Path(), path)
	}
	if g := font.GetGlyphInfo(0, '\u00e9'); g.HorizontalAdvance <= 0 {
		t.Errorf("glyph é = %+v, want it rasterized by default", g)
	}
}

func TestManager_Events(t *testing.T) {
	h := newHarness(t, headless.DefaultOptions(), 2)
	m := h.manager

	var loaded, failed, unloaded atomic.Int32
	var loadedID atomic.Value
	count := func(c *atomic.Int32) core.FnOnEvent {
		return func(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
			if sender != m {
				t.Errorf("event %d sender = %v, want the manager", code, sender)
			}
			if code == core.EVENT_CODE_RESOURCE_LOADED {
				loadedID.Store(data.Data.C[0])
			}
			c.Add(1)
			return false
		}
	}
	m.Events().Register(core.EVENT_CODE_RESOURCE_LOADED, nil, count(&loaded))
	m.Events().Register(core.EVENT_CODE_RESOURCE_FAILED, nil, count(&failed))
	m.Events().Register(core.EVENT_CODE_RESOURCE_UNLOADED, nil, count(&unloaded))

	good, err := m.CreateTextureResource(driver.Extent{Width: 4, Height: 4}, texels(4, 4, 1))
	if err != nil {
		t.Fatalf("CreateTextureResource() error = %v", err)
	}
	bad, err := m.CreateTextureResource(driver.Extent{}, nil)
	if err != nil {
		t.Fatalf("CreateTextureResource() error = %v", err)
	}
	good.WaitUntilLoaded(loadBudget)
	bad.WaitUntilLoaded(loadBudget)
	good.WaitUntilLoaded(loadBudget)

	if loaded.Load() != 1 || failed.Load() != 1 {
		t.Errorf("loaded, failed events = %d, %d, want 1, 1", loaded.Load(), failed.Load())
	}
	if id, _ := loadedID.Load().(string); id != good.ID().String() {
		t.Errorf("loaded event id = %q, want %q", id, good.ID())
	}

	m.DestroyResource(good)
	eventually(t, "unload event", func() bool { return unloaded.Load() == 1 })
}
