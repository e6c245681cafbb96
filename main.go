/*
This is an example of application that will use the
engine package to load textures and fonts asynchronously
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spaghettifunk/anima2d/engine"
	"github.com/spaghettifunk/anima2d/engine/config"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/resources"
)

type pathList []string

func (p *pathList) String() string {
	return strings.Join(*p, ",")
}

func (p *pathList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

type entry struct {
	name string
	res  resources.Resource
}

func main() {
	var (
		configPath string
		textures   pathList
		fonts      pathList
		bmfonts    pathList
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "", "TOML configuration file")
	flag.Var(&textures, "texture", "image file to load as a texture (repeatable)")
	flag.Var(&fonts, "font", "TTF/OTF font file to rasterize (repeatable)")
	flag.Var(&bmfonts, "bmfont", "BMFont descriptor to load (repeatable)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for every resource")
	flag.Parse()

	if err := run(configPath, textures, fonts, bmfonts, timeout); err != nil {
		core.LogError("%s", err)
		os.Exit(1)
	}
}

func run(configPath string, textures, fonts, bmfonts []string, timeout time.Duration) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	if err := e.Initialize(); err != nil {
		return err
	}

	// signal context to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	m := e.Manager()
	m.Events().Register(core.EVENT_CODE_RESOURCE_LOADED, nil, logResourceEvent)
	m.Events().Register(core.EVENT_CODE_RESOURCE_FAILED, nil, logResourceEvent)

	var entries []entry
	for _, path := range textures {
		t, err := m.LoadTextureResource(path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{path, t})
	}
	for _, path := range fonts {
		f, err := m.LoadFontResource(path, e.FontOptions())
		if err != nil {
			return err
		}
		entries = append(entries, entry{path, f})
	}
	for _, path := range bmfonts {
		f, err := m.LoadBitmapFontResource(path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{path, f})
	}

	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, en := range entries {
			en.res.WaitUntilLoadedDeadline(deadline)
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		core.LogWarn("interrupted, shutting down")
		return nil
	}

	failed := 0
	for _, en := range entries {
		s := en.res.Status()
		if s != resources.StatusLoaded {
			failed++
		}
		fmt.Printf("%-16s %s\n", s, en.name)
		if f, ok := en.res.(*resources.FontResource); ok && s == resources.StatusLoaded {
			for i := 0; i < f.FaceCount(); i++ {
				fmt.Printf("%-16s   face %d %q, line height %.1f\n", "", i, f.FaceName(i), f.LineHeight(i))
			}
		}
	}
	metrics := m.Metrics()
	fmt.Printf("loaded %d, failed %d, average load time %s\n", metrics.Loaded, metrics.Failed, metrics.AverageLoadTime)
	if failed > 0 {
		return fmt.Errorf("%d of %d resources did not load", failed, len(entries))
	}
	return nil
}

func logResourceEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_RESOURCE_LOADED:
		core.LogDebug("resource %s loaded in %s", data.Data.C[0], time.Duration(data.Data.I64[0]))
	case core.EVENT_CODE_RESOURCE_FAILED:
		core.LogDebug("resource %s failed to load", data.Data.C[0])
	}
	return false
}
