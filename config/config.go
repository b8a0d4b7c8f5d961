// Package config loads jamjit settings from a TOML file and JAMJIT_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/colorfulnotion/jamjit/announce"
	"github.com/colorfulnotion/jamjit/jit"
	"github.com/colorfulnotion/jamjit/log"
)

// FileName is the conventional config file name.
const FileName = "jamjit.toml"

// Config is the full set of settings.
type Config struct {
	Runtime   RuntimeSection   `toml:"runtime"`
	Announce  AnnounceSection  `toml:"announce"`
	Modcomp   ModcompSection   `toml:"modcomp"`
	Log       LogSection       `toml:"log"`
	Telemetry TelemetrySection `toml:"telemetry"`
}

type RuntimeSection struct {
	// Sizes accept plain bytes or a K/M/G suffix, e.g. "512M".
	RegionSize     Size   `toml:"region_size"`
	CommitChunk    Size   `toml:"commit_chunk"`
	InlineCapacity Size   `toml:"inline_capacity"`
	Strategy       string `toml:"strategy"`
}

type AnnounceSection struct {
	PerfMap    bool   `toml:"perf_map"`
	PerfMapDir string `toml:"perf_map_dir"`
	SymbolDB   string `toml:"symbol_db"`
	StreamAddr string `toml:"stream_addr"`
	Log        bool   `toml:"log"`
}

type ModcompSection struct {
	CacheDir string `toml:"cache_dir"`
	CPU      string `toml:"cpu"`
}

type LogSection struct {
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format  string `toml:"format"`
	Modules string `toml:"modules"`
}

type TelemetrySection struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
	MetricsAddr  string `toml:"metrics_addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Runtime: RuntimeSection{
			RegionSize:     jit.DefaultRegionSize,
			CommitChunk:    jit.DefaultCommitChunk,
			InlineCapacity: jit.DefaultInlineCapacity,
			Strategy:       "default",
		},
		Modcomp: ModcompSection{CPU: "native"},
		Log:     LogSection{Level: "info", Format: log.FormatText},
	}
}

// Load reads path over the defaults, then applies the environment. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Debug(log.JitModule, "config loaded", "path", path)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as TOML.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from JAMJIT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
		return nil
	}
	size := func(key string, dst *Size) error {
		if v, ok := lookup(key); ok {
			n, err := ParseSize(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}

	if err := size("JAMJIT_REGION_SIZE", &c.Runtime.RegionSize); err != nil {
		return err
	}
	if err := size("JAMJIT_COMMIT_CHUNK", &c.Runtime.CommitChunk); err != nil {
		return err
	}
	if err := size("JAMJIT_INLINE_CAPACITY", &c.Runtime.InlineCapacity); err != nil {
		return err
	}
	str("JAMJIT_STRATEGY", &c.Runtime.Strategy)
	if err := boolean("JAMJIT_PERF_MAP", &c.Announce.PerfMap); err != nil {
		return err
	}
	str("JAMJIT_PERF_MAP_DIR", &c.Announce.PerfMapDir)
	str("JAMJIT_SYMBOL_DB", &c.Announce.SymbolDB)
	str("JAMJIT_STREAM_ADDR", &c.Announce.StreamAddr)
	str("JAMJIT_CACHE_DIR", &c.Modcomp.CacheDir)
	str("JAMJIT_CPU", &c.Modcomp.CPU)
	str("JAMJIT_LOG_LEVEL", &c.Log.Level)
	str("JAMJIT_LOG_FORMAT", &c.Log.Format)
	str("JAMJIT_LOG_MODULES", &c.Log.Modules)
	str("JAMJIT_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("JAMJIT_METRICS_ADDR", &c.Telemetry.MetricsAddr)
	return nil
}

// Validate rejects settings the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Runtime.RegionSize <= 0 || c.Runtime.RegionSize > jit.MaxRegionSize {
		return fmt.Errorf("runtime.region_size %d outside (0, %d]", c.Runtime.RegionSize, jit.MaxRegionSize)
	}
	if c.Runtime.CommitChunk <= 0 {
		return fmt.Errorf("runtime.commit_chunk must be positive")
	}
	if c.Runtime.InlineCapacity <= 0 {
		return fmt.Errorf("runtime.inline_capacity must be positive")
	}
	if _, err := jit.ParseStrategy(c.Runtime.Strategy); err != nil {
		return fmt.Errorf("runtime.strategy: %w", err)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", log.FormatText, log.FormatJSON:
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// RuntimeConfig converts the runtime section for jit.InitRuntime.
func (c *Config) RuntimeConfig(a jit.Announcer) (jit.RuntimeConfig, error) {
	strategy, err := jit.ParseStrategy(c.Runtime.Strategy)
	if err != nil {
		return jit.RuntimeConfig{}, err
	}
	return jit.RuntimeConfig{
		RegionSize:     int(c.Runtime.RegionSize),
		CommitChunk:    int(c.Runtime.CommitChunk),
		Strategy:       strategy,
		InlineCapacity: int(c.Runtime.InlineCapacity),
		Announcer:      a,
	}, nil
}

// AnnounceOptions converts the announce section for announce.Open.
func (c *Config) AnnounceOptions() announce.Options {
	return announce.Options{
		PerfMap:    c.Announce.PerfMap,
		PerfMapDir: c.Announce.PerfMapDir,
		SymbolDB:   c.Announce.SymbolDB,
		Stream:     c.Announce.StreamAddr != "",
		Log:        c.Announce.Log,
	}
}

// Size is a byte count that unmarshals from an integer or a string with
// a K, M or G suffix (powers of 1024).
type Size int64

// ParseSize parses "4096", "64K", "512M", "1G" and their "KiB"/"MB" forms.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "IB"), "B")
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult = 1 << 10
	case strings.HasSuffix(s, "M"):
		mult = 1 << 20
	case strings.HasSuffix(s, "G"):
		mult = 1 << 30
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return Size(n * mult), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Size) UnmarshalText(b []byte) error {
	n, err := ParseSize(string(b))
	if err != nil {
		return err
	}
	*s = n
	return nil
}
