package jit

import (
	"errors"
	"fmt"
	"sync"

	"github.com/colorfulnotion/jamjit/jiterrors"
	"github.com/colorfulnotion/jamjit/log"
)

// EmitFunc emits a function body. args holds the host ABI's first four
// integer argument registers in order. Problems are reported through the
// emitter's error state, which the builder checks afterwards.
type EmitFunc func(e *Emitter, args ArgRegs)

// Builder turns emission callbacks into callable functions using one fixed
// Committer.
type Builder struct {
	committer Committer
	announcer Announcer
	resolver  SymbolResolver

	mu    sync.RWMutex
	built map[string]*Function
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithAnnouncer sets the sink told about every successful build.
func WithAnnouncer(a Announcer) BuilderOption {
	return func(b *Builder) { b.announcer = a }
}

// WithResolver sets where symbol relocations (MovSym, CallSym) are resolved.
func WithResolver(r SymbolResolver) BuilderOption {
	return func(b *Builder) { b.resolver = r }
}

// NewBuilder returns a builder committing through c.
func NewBuilder(c Committer, opts ...BuilderOption) *Builder {
	b := &Builder{
		committer: c,
		built:     make(map[string]*Function),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Mode returns the ownership mode of functions this builder produces.
func (b *Builder) Mode() Mode { return b.committer.Mode() }

// Build runs emit on a fresh emitter, commits the code and announces it.
// On any failure no function is returned and nothing is announced.
func (b *Builder) Build(name string, emit EmitFunc) (*Function, error) {
	mode := b.committer.Mode().String()
	e := NewEmitter()
	emit(e, HostArgRegs())

	code, err := e.Finalize()
	if err == nil && len(code) == 0 {
		err = errors.New("empty instruction stream")
	}
	if err != nil {
		buildsTotal.WithLabelValues(mode, "assembly_error").Inc()
		log.Debug(log.EmitModule, "assembly failed", "name", name, "bytes", e.Len(), "err", err)
		return nil, fmt.Errorf("build %q: %w: %w", name, jiterrors.ErrAssembly, err)
	}

	var link LinkFunc
	if relocs := e.Relocs(); len(relocs) > 0 {
		targets, err := ResolveAll(relocs, b.resolver)
		if err != nil {
			buildsTotal.WithLabelValues(mode, "unresolved").Inc()
			return nil, fmt.Errorf("build %q: %w: %w", name, jiterrors.ErrAssembly, err)
		}
		link = func(base uintptr, code []byte) error {
			return ApplyRelocs(code, base, relocs, targets)
		}
	}

	p, err := b.committer.Commit(code, e.MaxAlign(), link)
	if err != nil {
		buildsTotal.WithLabelValues(mode, resultLabel(err)).Inc()
		return nil, fmt.Errorf("build %q: %w", name, err)
	}

	f := &Function{
		name:  name,
		addr:  p.Addr,
		mode:  b.committer.Mode(),
		view:  p.View,
		owned: p.Owned,
	}
	f.onClose = func() { b.forget(f) }
	b.record(f)

	buildsTotal.WithLabelValues(mode, "ok").Inc()
	buildBytes.WithLabelValues(mode).Add(float64(len(code)))
	log.Debug(log.JitModule, "built", "name", name, "addr", fmt.Sprintf("0x%x", p.Addr), "size", len(code), "mode", mode)
	SafeAnnounce(b.announcer, p.Addr, len(code), name)
	return f, nil
}

// MustBuild is Build for process-wide helpers that cannot run without
// their code; it panics on failure.
func (b *Builder) MustBuild(name string, emit EmitFunc) *Function {
	f, err := b.Build(name, emit)
	if err != nil {
		panic(err)
	}
	return f
}

// Lookup returns the address of the most recent live function built under
// name.
func (b *Builder) Lookup(name string) (uintptr, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if f, ok := b.built[name]; ok {
		return f.addr, nil
	}
	return 0, fmt.Errorf("%q: %w", name, jiterrors.ErrSymbolNotFound)
}

// Symbols returns a snapshot of name to address for live functions.
func (b *Builder) Symbols() SymbolMap {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(SymbolMap, len(b.built))
	for name, f := range b.built {
		out[name] = f.addr
	}
	return out
}

func (b *Builder) record(f *Function) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.built[f.name] = f
}

func (b *Builder) forget(f *Function) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built[f.name] == f {
		delete(b.built, f.name)
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, jiterrors.ErrAllocationExhausted):
		return "exhausted"
	case errors.Is(err, jiterrors.ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, jiterrors.ErrRelocationOutOfRange):
		return "reloc_range"
	default:
		return "error"
	}
}
