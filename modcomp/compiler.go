package modcomp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/colorfulnotion/jamjit/jit"
	"github.com/colorfulnotion/jamjit/jiterrors"
	"github.com/colorfulnotion/jamjit/log"
)

// State is the stage of a compilation session. It only moves forward.
type State uint32

const (
	Constructed State = iota
	Populated
	Finalized
	Disposed
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case Populated:
		return "populated"
	case Finalized:
		return "finalized"
	case Disposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// LinkTable maps external symbol names to absolute addresses.
type LinkTable map[string]uint64

// Lookup implements jit.SymbolResolver.
func (t LinkTable) Lookup(name string) (uintptr, error) {
	if addr, ok := t[name]; ok {
		return uintptr(addr), nil
	}
	return 0, fmt.Errorf("link table %q: %w", name, jiterrors.ErrSymbolNotFound)
}

const tracerName = "github.com/colorfulnotion/jamjit/modcomp"

// DefaultRegionSize is the code region reserved by each compiler.
const DefaultRegionSize = 64 << 20

// Option configures a Compiler.
type Option func(*Compiler)

// WithAnnouncer announces every function placed by Fin.
func WithAnnouncer(a jit.Announcer) Option {
	return func(c *Compiler) { c.announcer = a }
}

// WithRegionSize sets the size of the compiler's code region.
func WithRegionSize(n int) Option {
	return func(c *Compiler) { c.regionSize = n }
}

// WithTracerProvider selects where spans go; the global provider is the
// default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Compiler) { c.tracer = tp.Tracer(tracerName) }
}

// Compiler is a staged module compilation session:
//
//	New -> Add/AddUncached/AddObject... -> Fin -> Get... -> Close
//
// Staging is single threaded. After Fin, Get and Lookup are safe for
// concurrent use.
type Compiler struct {
	link       LinkTable
	cpu        string
	hash       uint64
	announcer  jit.Announcer
	regionSize int
	tracer     trace.Tracer

	mu      sync.Mutex
	state   atomic.Uint32
	objects []*Object
	region  *jit.Region
	symbols map[string]uint64 // immutable once Finalized
}

// New starts a session. link is copied; cpu is normalized with CPU.
func New(link LinkTable, cpu string, opts ...Option) *Compiler {
	c := &Compiler{
		link:       make(LinkTable, len(link)),
		cpu:        CPU(cpu),
		regionSize: DefaultRegionSize,
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
	}
	for name, addr := range link {
		c.link[name] = addr
	}
	c.hash = FeatureHash(c.cpu)
	for _, opt := range opts {
		opt(c)
	}
	log.Debug(log.ModcompModule, "session created", "cpu", c.cpu, "link", len(c.link))
	return c
}

// CPU returns the selected, normalized cpu name.
func (c *Compiler) CPU() string { return c.cpu }

// State returns the session stage.
func (c *Compiler) State() State { return State(c.state.Load()) }

func (c *Compiler) setState(s State) { c.state.Store(uint32(s)) }

// caller holds c.mu
func (c *Compiler) requireAdding(op string) error {
	if st := c.State(); st != Constructed && st != Populated {
		return fmt.Errorf("%s in state %s: %w", op, st, jiterrors.ErrInvalidState)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Check reports whether the artifact at path was built for this session's
// cpu. Any mismatch or read problem is a cache miss, never an error.
func (c *Compiler) Check(path string) bool {
	h, err := ReadHeader(path)
	if err == nil && (h.CPU != c.cpu || h.FeatureHash != c.hash) {
		err = fmt.Errorf("built for %s/%016x, want %s/%016x", h.CPU, h.FeatureHash, c.cpu, c.hash)
	}
	if err != nil {
		log.Debug(log.CacheModule, "cache miss", "path", path, "err", fmt.Errorf("%w: %w", jiterrors.ErrCacheInvalid, err))
		return false
	}
	return true
}

// Add adds m to the session. With a cache path, a valid artifact there is
// loaded instead of compiling, and a fresh compile is written back.
func (c *Compiler) Add(m *Module, cachePath string) (err error) {
	_, span := c.tracer.Start(context.Background(), "modcomp.Add", trace.WithAttributes(
		attribute.String("module", moduleName(m)),
		attribute.String("cpu", c.cpu),
		attribute.String("cache", cachePath),
	))
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireAdding("add"); err != nil {
		return err
	}

	if cachePath != "" && c.Check(cachePath) {
		_, obj, err := ReadArtifact(cachePath)
		if err == nil {
			cacheTotal.WithLabelValues("hit").Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			log.Debug(log.CacheModule, "cache hit", "module", obj.Module, "path", cachePath)
			c.addLocked(obj)
			return nil
		}
		log.Debug(log.CacheModule, "cache unreadable", "path", cachePath, "err", err)
	}
	if cachePath != "" {
		cacheTotal.WithLabelValues("miss").Inc()
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	obj, err := c.compile(m)
	if err != nil {
		return err
	}
	if cachePath != "" {
		if werr := WriteArtifact(cachePath, obj); werr != nil {
			cacheTotal.WithLabelValues("store_error").Inc()
			log.Warn(log.CacheModule, "cache store failed", "path", cachePath, "err", werr)
		} else {
			cacheTotal.WithLabelValues("store").Inc()
		}
	}
	c.addLocked(obj)
	return nil
}

// AddUncached compiles m without touching any cache.
func (c *Compiler) AddUncached(m *Module) error {
	return c.Add(m, "")
}

// AddObject adds a precompiled artifact without compiling. The artifact
// may target any level the host can run, not only the session's cpu.
func (c *Compiler) AddObject(path string) (err error) {
	_, span := c.tracer.Start(context.Background(), "modcomp.AddObject", trace.WithAttributes(
		attribute.String("path", path),
	))
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireAdding("add object"); err != nil {
		return err
	}
	h, obj, err := ReadArtifact(path)
	if err != nil {
		return err
	}
	if lvl, ok := levelOf(h.CPU); !ok || lvl > HostLevel() || h.FeatureHash != FeatureHash(h.CPU) {
		return fmt.Errorf("artifact %s built for %s: %w", path, h.CPU, jiterrors.ErrUnsupported)
	}
	c.addLocked(obj)
	return nil
}

func (c *Compiler) compile(m *Module) (*Object, error) {
	start := time.Now()
	obj, err := compile(m, c.cpu)
	compileSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	log.Debug(log.ModcompModule, "compiled", "module", obj.Module, "funcs", len(obj.Symbols), "bytes", len(obj.Code), "relocs", len(obj.Relocs))
	return obj, nil
}

// caller holds c.mu
func (c *Compiler) addLocked(obj *Object) {
	c.objects = append(c.objects, obj)
	c.setState(Populated)
}

// Fin places every added object in the session's code region and resolves
// all relocations against the added objects first and the link table
// second. It can run once; afterwards the session is Finalized even if
// linking failed, in which case no symbol resolves.
func (c *Compiler) Fin() (err error) {
	_, span := c.tracer.Start(context.Background(), "modcomp.Fin", trace.WithAttributes(
		attribute.String("cpu", c.cpu),
	))
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.State(); st != Populated {
		return fmt.Errorf("fin in state %s: %w", st, jiterrors.ErrInvalidState)
	}
	defer c.setState(Finalized)

	start := time.Now()
	symbols, placed, err := c.place()
	finSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn(log.ModcompModule, "link failed", "objects", len(c.objects), "err", err)
		return err
	}
	c.symbols = symbols
	span.SetAttributes(attribute.Int("symbols", len(symbols)))
	for _, p := range placed {
		jit.SafeAnnounce(c.announcer, p.addr, p.size, p.name)
	}
	log.Debug(log.ModcompModule, "finalized", "objects", len(c.objects), "symbols", len(symbols))
	return nil
}

type placement struct {
	name string
	addr uintptr
	size int
}

// caller holds c.mu
func (c *Compiler) place() (map[string]uint64, []placement, error) {
	total := 0
	for _, obj := range c.objects {
		total += len(obj.Code) + obj.Align
	}
	c.region = jit.NewRegion("modcomp", max(c.regionSize, total), 0)
	if err := c.region.Initialize(); err != nil {
		return nil, nil, err
	}

	symbols := make(map[string]uint64)
	allocs := make([]jit.Allocation, len(c.objects))
	var placed []placement
	for i, obj := range c.objects {
		a, err := c.region.Alloc(len(obj.Code), obj.Align, true)
		if err != nil {
			return nil, nil, fmt.Errorf("object %s: %w", obj.Module, err)
		}
		allocs[i] = a
		copy(c.region.Bytes(a), obj.Code)
		for _, s := range obj.Symbols {
			if _, dup := symbols[s.Name]; dup {
				return nil, nil, fmt.Errorf("object %s: %q: %w", obj.Module, s.Name, jiterrors.ErrDuplicateSymbol)
			}
			addr := a.Addr + uintptr(s.Offset)
			symbols[s.Name] = uint64(addr)
			placed = append(placed, placement{s.Name, addr, s.Size})
		}
	}

	resolver := jit.ChainResolvers(symbolTable(symbols), c.link)
	for i, obj := range c.objects {
		targets, err := jit.ResolveAll(obj.Relocs, resolver)
		if err != nil {
			return nil, nil, fmt.Errorf("object %s: %w", obj.Module, err)
		}
		if err := jit.ApplyRelocs(c.region.Bytes(allocs[i]), allocs[i].Addr, obj.Relocs, targets); err != nil {
			return nil, nil, fmt.Errorf("object %s: %w", obj.Module, err)
		}
	}
	return symbols, placed, nil
}

type symbolTable map[string]uint64

func (t symbolTable) Lookup(name string) (uintptr, error) {
	if addr, ok := t[name]; ok {
		return uintptr(addr), nil
	}
	return 0, fmt.Errorf("%q: %w", name, jiterrors.ErrSymbolNotFound)
}

// Get returns the address of a function defined by an added object. It
// fails with ErrSymbolNotFound before Fin, after Close, or for unknown
// names.
func (c *Compiler) Get(name string) (uint64, error) {
	if c.State() != Finalized {
		return 0, fmt.Errorf("%q: session %s: %w", name, c.State(), jiterrors.ErrSymbolNotFound)
	}
	if addr, ok := c.symbols[name]; ok {
		return addr, nil
	}
	return 0, fmt.Errorf("%q: %w", name, jiterrors.ErrSymbolNotFound)
}

// Lookup implements jit.SymbolResolver, so a finalized session can satisfy
// references from functions built later.
func (c *Compiler) Lookup(name string) (uintptr, error) {
	addr, err := c.Get(name)
	return uintptr(addr), err
}

// Symbols returns the resolved names in address order; empty before Fin.
func (c *Compiler) Symbols() []string {
	if c.State() != Finalized {
		return nil
	}
	names := make([]string, 0, len(c.symbols))
	for name := range c.symbols {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return c.symbols[names[i]] < c.symbols[names[j]] })
	return names
}

// Objects returns the objects added so far.
func (c *Compiler) Objects() []*Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Object(nil), c.objects...)
}

// Close disposes of the session and releases its code region. No address
// returned by Get may be executing.
func (c *Compiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == Disposed {
		return nil
	}
	c.setState(Disposed)
	c.symbols = nil
	c.objects = nil
	if c.region == nil {
		return nil
	}
	err := c.region.Finalize()
	if errors.Is(err, jiterrors.ErrRegionFinalized) {
		err = nil
	}
	return err
}

func moduleName(m *Module) string {
	if m == nil {
		return ""
	}
	return m.Name
}
