//go:build unix

package modcomp

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/colorfulnotion/jamjit/jit"
	"github.com/colorfulnotion/jamjit/jiterrors"
)

func TestCompilerStates(t *testing.T) {
	c := New(nil, "")
	assert.Equal(t, Constructed, c.State())
	assert.Equal(t, CPU(""), c.CPU())

	_, err := c.Get("s.double")
	require.ErrorIs(t, err, jiterrors.ErrSymbolNotFound)
	require.ErrorIs(t, c.Fin(), jiterrors.ErrInvalidState)

	require.NoError(t, c.AddUncached(arithModule("s")))
	assert.Equal(t, Populated, c.State())
	_, err = c.Get("s.double")
	require.ErrorIs(t, err, jiterrors.ErrSymbolNotFound, "get before fin")
	assert.Empty(t, c.Symbols())

	require.NoError(t, c.Fin())
	assert.Equal(t, Finalized, c.State())
	double, err := c.Get("s.double")
	require.NoError(t, err)
	quad, err := c.Get("s.quad")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), quad-double)
	assert.Equal(t, []string{"s.double", "s.quad"}, c.Symbols())
	_, err = c.Get("nope")
	require.ErrorIs(t, err, jiterrors.ErrSymbolNotFound)

	require.ErrorIs(t, c.Fin(), jiterrors.ErrInvalidState)
	require.ErrorIs(t, c.AddUncached(arithModule("late")), jiterrors.ErrInvalidState)

	require.NoError(t, c.Close())
	assert.Equal(t, Disposed, c.State())
	require.NoError(t, c.Close())
	_, err = c.Get("s.double")
	require.ErrorIs(t, err, jiterrors.ErrSymbolNotFound)
}

func TestCompilerLinkTable(t *testing.T) {
	link := LinkTable{"host.log": 0x1122334455667788}
	m := &Module{Name: "ext", Funcs: []FuncDef{{
		Name: "ext.load",
		Emit: func(e *jit.Emitter, _ jit.ArgRegs) {
			e.MovSym(jit.RAX, "host.log")
			e.Ret()
		},
	}}}
	c := New(link, "x86-64")
	defer c.Close()
	link["host.log"] = 0 // the session keeps its own copy

	require.NoError(t, c.AddUncached(m))
	require.NoError(t, c.Fin())
	addr, err := c.Get("ext.load")
	require.NoError(t, err)

	// movabs rax, imm64 starts two bytes in
	code := c.region.Bytes(jit.Allocation{Addr: uintptr(addr), Size: 11})
	require.NotNil(t, code)
	assert.Equal(t, []byte{0x48, 0xB8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, 0xC3}, code)
}

func TestCompilerUnresolved(t *testing.T) {
	m := &Module{Name: "u", Funcs: []FuncDef{{
		Name: "u.f",
		Emit: func(e *jit.Emitter, _ jit.ArgRegs) {
			e.CallSym("missing")
			e.Ret()
		},
	}}}
	c := New(nil, "")
	defer c.Close()
	require.NoError(t, c.AddUncached(m))
	require.ErrorIs(t, c.Fin(), jiterrors.ErrSymbolNotFound)
	assert.Equal(t, Finalized, c.State())
	_, err := c.Get("u.f")
	require.ErrorIs(t, err, jiterrors.ErrSymbolNotFound)
}

func TestCompilerDuplicateAcrossObjects(t *testing.T) {
	c := New(nil, "")
	defer c.Close()
	require.NoError(t, c.AddUncached(arithModule("d")))
	require.NoError(t, c.AddUncached(arithModule("d")))
	require.ErrorIs(t, c.Fin(), jiterrors.ErrDuplicateSymbol)
}

func TestCompilerCache(t *testing.T) {
	var compiles atomic.Int32
	counted := func(name string) *Module {
		m := arithModule(name)
		inner := m.Funcs[0].Emit
		m.Funcs[0].Emit = func(e *jit.Emitter, args jit.ArgRegs) {
			compiles.Add(1)
			inner(e, args)
		}
		return m
	}
	path := filepath.Join(t.TempDir(), "c.jjit")

	first := New(nil, "x86-64")
	assert.False(t, first.Check(path), "nothing cached yet")
	require.NoError(t, first.Add(counted("c"), path))
	assert.Equal(t, int32(1), compiles.Load())
	assert.True(t, first.Check(path))
	require.NoError(t, first.Close())

	second := New(nil, "x86-64")
	defer second.Close()
	require.NoError(t, second.Add(counted("c"), path))
	assert.Equal(t, int32(1), compiles.Load(), "served from cache")
	require.NoError(t, second.Fin())
	_, err := second.Get("c.quad")
	require.NoError(t, err)

	// an artifact built for another level is a miss and gets rebuilt
	obj, err := compile(arithModule("c"), LevelV4)
	require.NoError(t, err)
	require.NoError(t, WriteArtifact(path, obj))
	third := New(nil, "x86-64")
	defer third.Close()
	assert.False(t, third.Check(path))
	require.NoError(t, third.Add(counted("c"), path))
	assert.Equal(t, int32(2), compiles.Load())
	assert.True(t, third.Check(path), "rebuilt artifact replaced the stale one")
}

func TestCompilerAddObject(t *testing.T) {
	dir := t.TempDir()
	obj, err := compile(arithModule("pre"), LevelBaseline)
	require.NoError(t, err)
	path := filepath.Join(dir, "pre.jjit")
	require.NoError(t, WriteArtifact(path, obj))

	c := New(nil, "")
	defer c.Close()
	require.NoError(t, c.AddObject(path))
	require.NoError(t, c.AddUncached(arithModule("fresh")))
	require.NoError(t, c.Fin())
	for _, name := range []string{"pre.double", "pre.quad", "fresh.double", "fresh.quad"} {
		_, err := c.Get(name)
		require.NoError(t, err, name)
	}

	require.Error(t, New(nil, "").AddObject(filepath.Join(dir, "missing.jjit")))
	if HostLevel() < 4 {
		hot, err := compile(arithModule("hot"), LevelV4)
		require.NoError(t, err)
		hotPath := filepath.Join(dir, "hot.jjit")
		require.NoError(t, WriteArtifact(hotPath, hot))
		require.ErrorIs(t, New(nil, "").AddObject(hotPath), jiterrors.ErrUnsupported)
	}
}

func TestCompilerAnnouncesAndTraces(t *testing.T) {
	var (
		mu  sync.Mutex
		got = map[string]int{}
	)
	ann := jit.AnnouncerFunc(func(_ uintptr, size int, name string) {
		mu.Lock()
		defer mu.Unlock()
		got[name] = size
	})
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	c := New(nil, "", WithAnnouncer(ann), WithTracerProvider(tp), WithRegionSize(1<<20))
	defer c.Close()
	require.NoError(t, c.AddUncached(arithModule("a")))
	require.NoError(t, c.Fin())

	assert.Equal(t, map[string]int{"a.double": 7, "a.quad": 14}, got)

	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"modcomp.Add", "modcomp.Fin"}, names)
}

func TestCompilerConcurrentGet(t *testing.T) {
	c := New(nil, "")
	defer c.Close()
	require.NoError(t, c.AddUncached(arithModule("g")))
	require.NoError(t, c.Fin())
	want, err := c.Get("g.quad")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				addr, err := c.Lookup("g.quad")
				if !assert.NoError(t, err) || !assert.Equal(t, uintptr(want), addr) {
					return
				}
			}
		}()
	}
	wg.Wait()
}
