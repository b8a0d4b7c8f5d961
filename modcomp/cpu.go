package modcomp

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/cpuid/v2"

	"github.com/colorfulnotion/jamjit/log"
)

// Microarchitecture levels as defined by the x86-64 psABI.
const (
	LevelBaseline = "x86-64"
	LevelV2       = "x86-64-v2"
	LevelV3       = "x86-64-v3"
	LevelV4       = "x86-64-v4"
)

var levelNames = []string{LevelBaseline, LevelBaseline, LevelV2, LevelV3, LevelV4}

// levelFeatures lists what each level adds on top of the previous one.
var levelFeatures = [][]string{
	1: {"CMOV", "CX8", "FPU", "FXSR", "MMX", "SSE", "SSE2"},
	2: {"CX16", "LAHF", "POPCNT", "SSE3", "SSE4.1", "SSE4.2", "SSSE3"},
	3: {"AVX", "AVX2", "BMI1", "BMI2", "F16C", "FMA", "LZCNT", "MOVBE", "OSXSAVE"},
	4: {"AVX512BW", "AVX512CD", "AVX512DQ", "AVX512F", "AVX512VL"},
}

var cpuAliases = map[string]int{
	"generic": 1, "k8": 1, "core2": 1, "x86-64-v1": 1,
	"nehalem": 2, "westmere": 2, "sandybridge": 2, "ivybridge": 2,
	"silvermont": 2, "goldmont": 2, "btver2": 2, "bdver1": 2, "bdver2": 2,
	"haswell": 3, "broadwell": 3, "skylake": 3, "alderlake": 3,
	"znver1": 3, "znver2": 3, "znver3": 3, "bdver4": 3,
	"skylake-avx512": 4, "cascadelake": 4, "cooperlake": 4, "icelake-client": 4,
	"icelake-server": 4, "tigerlake": 4, "sapphirerapids": 4, "znver4": 4,
}

// Levels lists the canonical level names from baseline up.
func Levels() []string {
	return append([]string(nil), levelNames[1:]...)
}

// HostLevel returns the psABI level of the running CPU, at least 1.
func HostLevel() int {
	if lvl := cpuid.CPU.X64Level(); lvl > 0 {
		return lvl
	}
	// not x86-64: generated code never runs here, keep artifacts portable
	return 1
}

func levelOf(name string) (int, bool) {
	for lvl := len(levelNames) - 1; lvl >= 1; lvl-- {
		if levelNames[lvl] == name {
			return lvl, true
		}
	}
	lvl, ok := cpuAliases[name]
	return lvl, ok
}

// CPU normalizes a requested microarchitecture name to an x86-64 level the
// host can execute. "", "native" and "host" select the host's level; known
// microarchitectures map to their level; unknown names fall back to the
// baseline. The result never exceeds the host level.
func CPU(requested string) string {
	host := HostLevel()
	name := strings.ToLower(strings.TrimSpace(requested))
	switch name {
	case "", "native", "host":
		return levelNames[host]
	}
	lvl, ok := levelOf(name)
	if !ok {
		log.Debug(log.ModcompModule, "unknown cpu, using baseline", "requested", requested)
		lvl = 1
	}
	if lvl > host {
		log.Debug(log.ModcompModule, "cpu clamped to host", "requested", requested, "host", levelNames[host])
		lvl = host
	}
	return levelNames[lvl]
}

// Features returns the ISA features guaranteed by a normalized cpu name.
func Features(cpu string) []string {
	lvl, ok := levelOf(cpu)
	if !ok {
		return nil
	}
	var out []string
	for i := 1; i <= lvl; i++ {
		out = append(out, levelFeatures[i]...)
	}
	return out
}

// FeatureHash fingerprints what an artifact built for cpu relies on: the
// feature set and the host calling convention.
func FeatureHash(cpu string) uint64 {
	d := xxhash.New()
	d.WriteString(abiName())
	d.WriteString("|")
	d.WriteString(strings.Join(Features(cpu), ","))
	return d.Sum64()
}

func abiName() string {
	if runtime.GOOS == "windows" {
		return "win64"
	}
	return "sysv"
}

// HostInfo describes the running CPU for diagnostics.
type HostInfo struct {
	Brand    string
	Vendor   string
	Level    string
	Cores    int
	Features []string
}

// Host reports the running CPU.
func Host() HostInfo {
	return HostInfo{
		Brand:    cpuid.CPU.BrandName,
		Vendor:   cpuid.CPU.VendorString,
		Level:    levelNames[HostLevel()],
		Cores:    cpuid.CPU.PhysicalCores,
		Features: cpuid.CPU.FeatureSet(),
	}
}

func (h HostInfo) String() string {
	return fmt.Sprintf("%s (%s, %s, %d cores)", h.Brand, h.Vendor, h.Level, h.Cores)
}
