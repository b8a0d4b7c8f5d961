package jit

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/jamjit/log"
)

// RuntimeConfig sizes the process-wide runtime.
type RuntimeConfig struct {
	RegionSize     int
	CommitChunk    int
	Strategy       Strategy
	InlineCapacity int
	Announcer      Announcer
	Resolver       SymbolResolver
}

// Runtime is the process-scoped context: one shared region that keeps all
// region-backed code within relative-call range, and the builder that
// commits into it. Lifetime is explicit:
//
//	InitRuntime -> GlobalRuntime()... -> FinalizeRuntime
//
// FinalizeRuntime must only run once no thread can still execute code the
// runtime produced.
type Runtime struct {
	region   *Region
	builder  *Builder
	strategy Strategy
}

var (
	runtimeMu sync.Mutex
	globalRT  *Runtime
)

// NewRuntime creates and initializes a runtime that is not registered
// globally.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	region := NewRegion("code", cfg.RegionSize, cfg.CommitChunk)
	if err := region.Initialize(); err != nil {
		return nil, err
	}
	strategy := cfg.Strategy.Resolve()
	var c Committer
	switch strategy {
	case StrategyInline:
		c = InlineCommitter{Capacity: cfg.InlineCapacity}
	default:
		c = RegionCommitter{Region: region}
	}
	rt := &Runtime{
		region:   region,
		strategy: strategy,
	}
	rt.builder = NewBuilder(c, WithAnnouncer(cfg.Announcer), WithResolver(cfg.Resolver))
	return rt, nil
}

// InitRuntime sets up the global runtime. Only the first call after process
// start (or after FinalizeRuntime) uses cfg; later calls return the
// existing runtime.
func InitRuntime(cfg RuntimeConfig) (*Runtime, error) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if globalRT != nil {
		return globalRT, nil
	}
	rt, err := NewRuntime(cfg)
	if err != nil {
		return nil, err
	}
	globalRT = rt
	log.Debug(log.JitModule, "runtime initialized", "strategy", rt.strategy, "capacity", rt.region.Capacity())
	return rt, nil
}

// GlobalRuntime returns the runtime set up by InitRuntime and panics if
// there is none.
func GlobalRuntime() *Runtime {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if globalRT == nil {
		panic("jit: GlobalRuntime called before InitRuntime")
	}
	return globalRT
}

// FinalizeRuntime releases the global runtime's region.
func FinalizeRuntime() error {
	runtimeMu.Lock()
	rt := globalRT
	globalRT = nil
	runtimeMu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Finalize()
}

// Region returns the shared code region.
func (rt *Runtime) Region() *Region { return rt.region }

// Builder returns the runtime's builder.
func (rt *Runtime) Builder() *Builder { return rt.builder }

// Strategy returns the resolved commit strategy.
func (rt *Runtime) Strategy() Strategy { return rt.strategy }

// Alloc reserves memory in the shared region.
func (rt *Runtime) Alloc(size, align int, exec bool) (Allocation, error) {
	return rt.region.Alloc(size, align, exec)
}

// Build builds through the runtime's builder.
func (rt *Runtime) Build(name string, emit EmitFunc) (*Function, error) {
	return rt.builder.Build(name, emit)
}

// Finalize releases the region. Inline-backed functions stay valid until
// closed.
func (rt *Runtime) Finalize() error {
	if err := rt.region.Finalize(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	return nil
}
