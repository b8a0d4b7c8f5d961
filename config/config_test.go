package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/jamjit/jit"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Size(jit.DefaultRegionSize), cfg.Runtime.RegionSize)
	assert.Equal(t, "native", cfg.Modcomp.CPU)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	data := `
[runtime]
region_size = "64M"
commit_chunk = 65536
strategy = "inline"

[announce]
perf_map = true
symbol_db = "/var/lib/jamjit/symbols"

[modcomp]
cpu = "x86-64-v2"

[log]
level = "debug"
modules = "jit,modcomp"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Size(64<<20), cfg.Runtime.RegionSize)
	assert.Equal(t, Size(65536), cfg.Runtime.CommitChunk)
	assert.Equal(t, Size(jit.DefaultInlineCapacity), cfg.Runtime.InlineCapacity)
	assert.True(t, cfg.Announce.PerfMap)
	assert.Equal(t, "x86-64-v2", cfg.Modcomp.CPU)

	rc, err := cfg.RuntimeConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, jit.StrategyInline, rc.Strategy)
	assert.Equal(t, 64<<20, rc.RegionSize)

	opts := cfg.AnnounceOptions()
	assert.True(t, opts.PerfMap)
	assert.Equal(t, "/var/lib/jamjit/symbols", opts.SymbolDB)
	assert.False(t, opts.Stream)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("[runtime]\nstrategy = \"jit\"\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "runtime.strategy")

	require.NoError(t, os.WriteFile(path, []byte("[runtime\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"JAMJIT_REGION_SIZE": "1G",
		"JAMJIT_STRATEGY":    "region",
		"JAMJIT_PERF_MAP":    "true",
		"JAMJIT_STREAM_ADDR": ":8088",
		"JAMJIT_LOG_LEVEL":   "warn",
	}))
	require.NoError(t, err)
	assert.Equal(t, Size(1<<30), cfg.Runtime.RegionSize)
	assert.Equal(t, "region", cfg.Runtime.Strategy)
	assert.True(t, cfg.Announce.PerfMap)
	assert.True(t, cfg.AnnounceOptions().Stream)
	assert.Equal(t, "warn", cfg.Log.Level)
	require.NoError(t, cfg.Validate())

	assert.ErrorContains(t, Default().ApplyEnv(envMap(map[string]string{"JAMJIT_PERF_MAP": "maybe"})), "JAMJIT_PERF_MAP")
	assert.ErrorContains(t, Default().ApplyEnv(envMap(map[string]string{"JAMJIT_COMMIT_CHUNK": "lots"})), "JAMJIT_COMMIT_CHUNK")
}

func TestValidateRejects(t *testing.T) {
	cfg := Default()
	cfg.Runtime.RegionSize = jit.MaxRegionSize + 1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Runtime.InlineCapacity = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Log.Level = "loud"
	assert.ErrorContains(t, cfg.Validate(), "log.level")

	cfg = Default()
	cfg.Log.Format = "xml"
	assert.ErrorContains(t, cfg.Validate(), "log.format")
}

func TestParseSize(t *testing.T) {
	cases := map[string]Size{
		"4096":  4096,
		"64K":   64 << 10,
		"64KiB": 64 << 10,
		"512M":  512 << 20,
		"512MB": 512 << 20,
		"2g":    2 << 30,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSize("K")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := Default()
	cfg.Modcomp.CacheDir = "/tmp/jamjit-cache"
	cfg.Runtime.Strategy = "inline"
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Modcomp, got.Modcomp)
	assert.Equal(t, cfg.Runtime, got.Runtime)
}
