package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/jamjit/announce"
	"github.com/colorfulnotion/jamjit/jit/asm"
	"github.com/colorfulnotion/jamjit/modcomp"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&globals{})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCPUCommand(t *testing.T) {
	out, err := run(t, "cpu", "--all", "x86-64")
	require.NoError(t, err)
	assert.Contains(t, out, "cpu:      x86-64\n")
	assert.Contains(t, out, fmt.Sprintf("hash:     %016x", modcomp.FeatureHash(modcomp.LevelBaseline)))
	assert.Contains(t, out, "CMOV")
	assert.Contains(t, out, "levels:")
}

func TestCompileInspectCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "demo.jjit")

	out, err := run(t, "compile", "--cpu", "x86-64", path)
	require.NoError(t, err)
	assert.Contains(t, out, "compiled for x86-64")

	out, err = run(t, "compile", "--cpu", "x86-64", path)
	require.NoError(t, err)
	assert.Contains(t, out, "cached for x86-64")

	out, err = run(t, "inspect", "--disasm", path)
	require.NoError(t, err)
	assert.Contains(t, out, "demo v1 cpu=x86-64")
	assert.Contains(t, out, "symbols (4)")
	assert.Contains(t, out, "demo.quad")
	assert.Contains(t, out, "relocs (2)")
	assert.Contains(t, out, "rel32")
	assert.Contains(t, out, "rdtsc")

	out, err = run(t, "check", "--cpu", "x86-64", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (x86-64)")

	bogus := filepath.Join(t.TempDir(), "bogus.jjit")
	require.NoError(t, os.WriteFile(bogus, []byte("nope"), 0o644))
	out, err = run(t, "check", "--cpu", "x86-64", path, bogus)
	require.Error(t, err)
	assert.Contains(t, out, "unreadable")
	assert.ErrorContains(t, err, "1 of 2")
}

func TestSelftestCommand(t *testing.T) {
	t.Setenv("JAMJIT_REGION_SIZE", "4M")
	t.Setenv("JAMJIT_PERF_MAP", "false")
	out, err := run(t, "selftest", "--code")
	require.NoError(t, err)
	assert.Contains(t, out, "built:    selftest.apply@")
	assert.Contains(t, out, "call rbx")
	assert.Contains(t, out, "object:   demo cpu=")
	assert.Contains(t, out, "linked:   demo.quad @ ")
	if asm.Supported {
		assert.Contains(t, out, "run:      ok")
	} else {
		assert.Contains(t, out, "run:      skipped")
	}
}

func TestCompileNeedsPath(t *testing.T) {
	t.Setenv("JAMJIT_CACHE_DIR", "")
	_, err := run(t, "compile")
	assert.ErrorContains(t, err, "cache_dir")
}

func TestSymbolizePerfMap(t *testing.T) {
	dir := t.TempDir()
	pm, err := announce.OpenPerfMapFile(filepath.Join(dir, "perf-1.map"))
	require.NoError(t, err)
	pm.Announce(0x1000, 0x20, "alpha")
	pm.Announce(0x2000, 0x10, "beta")
	require.NoError(t, pm.Close())

	out, err := run(t, "symbolize", "--perf-map", pm.Path(), "0x1004", "2000", "0x3000")
	require.NoError(t, err)
	assert.Contains(t, out, "0x1004 alpha+0x4\n")
	assert.Contains(t, out, "0x2000 beta\n")
	assert.Contains(t, out, "0x3000 0x3000\n")

	out, err = run(t, "symbolize", "--perf-map", pm.Path())
	require.NoError(t, err)
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "beta")

	_, err = run(t, "symbolize", "--perf-map", pm.Path(), "zz")
	assert.ErrorContains(t, err, "bad address")
}

func TestSymbolizeIndex(t *testing.T) {
	db := filepath.Join(t.TempDir(), "symbols")
	idx, err := announce.OpenSymbolIndex(db)
	require.NoError(t, err)
	idx.Announce(0x4000, 0x40, "gamma")
	require.NoError(t, idx.Close())

	out, err := run(t, "symbolize", "--db", db, "0x4010")
	require.NoError(t, err)
	assert.Contains(t, out, "0x4010 gamma+0x10")
}

func TestConfigFlagErrors(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "cpu")
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = run(t, "--log-level", "loud", "cpu")
	assert.ErrorContains(t, err, "invalid level")
}
