package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

var (
	ErrInvalidThreads  = errors.New("invalid thread count")
	ErrUnknownBackend  = errors.New("unknown device backend")
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidFont     = errors.New("invalid font options")
)

const (
	BackendHeadless = "headless"
	BackendVulkan   = "vulkan"
)

// Environment variables that override the file.
const (
	EnvLoaderThreads  = "ANIMA2D_LOADER_THREADS"
	EnvGeneralThreads = "ANIMA2D_GENERAL_THREADS"
	EnvDevice         = "ANIMA2D_DEVICE"
	EnvLogLevel       = "ANIMA2D_LOG_LEVEL"
	EnvAssetsDir      = "ANIMA2D_ASSETS_DIR"
)

type Config struct {
	App     AppConfig     `toml:"app"`
	Log     LogConfig     `toml:"log"`
	Threads ThreadsConfig `toml:"threads"`
	Device  DeviceConfig  `toml:"device"`
	Assets  AssetsConfig  `toml:"assets"`
	Fonts   FontsConfig   `toml:"fonts"`
}

type AppConfig struct {
	Name string `toml:"name"`
}

type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// ThreadsConfig sizes the thread pool. Zero picks a count from the CPUs.
type ThreadsConfig struct {
	Loader  int `toml:"loader"`
	General int `toml:"general"`
}

type DeviceConfig struct {
	// Backend is "headless" or "vulkan".
	Backend        string `toml:"backend"`
	Debug          bool   `toml:"debug"`
	PreferDiscrete bool   `toml:"prefer_discrete"`
	// SharedFamilies puts every headless queue role in one family.
	SharedFamilies bool `toml:"shared_families"`
}

type AssetsConfig struct {
	Dir string `toml:"dir"`
	// Watch reloads textures whose files change under Dir.
	Watch bool `toml:"watch"`
}

type FontsConfig struct {
	GlyphSize    uint32 `toml:"glyph_size"`
	UseAlpha     bool   `toml:"use_alpha"`
	FallbackRune string `toml:"fallback_rune"`
	Padding      uint32 `toml:"padding"`
}

// Fallback returns the fallback rune.
func (f FontsConfig) Fallback() rune {
	r, _ := utf8.DecodeRuneInString(f.FallbackRune)
	return r
}

func Default() *Config {
	return &Config{
		App: AppConfig{Name: "anima2d"},
		Log: LogConfig{Level: "info"},
		Device: DeviceConfig{
			Backend: BackendHeadless,
		},
		Assets: AssetsConfig{Dir: "assets"},
		Fonts: FontsConfig{
			GlyphSize:    32,
			UseAlpha:     true,
			FallbackRune: "*",
			Padding:      8,
		},
	}
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		defer f.Close()
		if err := cfg.Decode(f); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads TOML from r into c. Unknown keys are rejected.
func (c *Config) Decode(r io.Reader) error {
	return toml.NewDecoder(r).DisallowUnknownFields().Decode(c)
}

// LoadDotEnv primes the environment from the given files, ".env" by
// default. Missing files are skipped and set variables are kept.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides c with the ANIMA2D_* variables that are set.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvLoaderThreads); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvLoaderThreads, v, ErrInvalidThreads)
		}
		c.Threads.Loader = n
	}
	if v, ok := os.LookupEnv(EnvGeneralThreads); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvGeneralThreads, v, ErrInvalidThreads)
		}
		c.Threads.General = n
	}
	if v, ok := os.LookupEnv(EnvDevice); ok {
		c.Device.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Log.Level = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvAssetsDir); ok {
		c.Assets.Dir = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Threads.Loader < 0 {
		return fmt.Errorf("loader threads %d: %w", c.Threads.Loader, ErrInvalidThreads)
	}
	if c.Threads.General < 0 {
		return fmt.Errorf("general threads %d: %w", c.Threads.General, ErrInvalidThreads)
	}
	switch c.Device.Backend {
	case BackendHeadless, BackendVulkan:
	default:
		return fmt.Errorf("%q: %w", c.Device.Backend, ErrUnknownBackend)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%q: %w", c.Log.Level, ErrInvalidLogLevel)
	}
	if c.Fonts.GlyphSize == 0 {
		return fmt.Errorf("glyph size 0: %w", ErrInvalidFont)
	}
	if utf8.RuneCountInString(c.Fonts.FallbackRune) != 1 {
		return fmt.Errorf("fallback rune %q is not a single rune: %w", c.Fonts.FallbackRune, ErrInvalidFont)
	}
	return nil
}
