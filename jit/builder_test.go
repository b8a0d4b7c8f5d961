//go:build unix

package jit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/jamjit/jiterrors"
)

type announcement struct {
	addr uintptr
	size int
	name string
}

type recordingAnnouncer struct {
	mu  sync.Mutex
	got []announcement
}

func (r *recordingAnnouncer) Announce(addr uintptr, size int, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, announcement{addr, size, name})
}

func (r *recordingAnnouncer) all() []announcement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]announcement(nil), r.got...)
}

func newRegionBuilder(t *testing.T, opts ...BuilderOption) (*Builder, *Region) {
	t.Helper()
	r := newTestRegion(t, 1<<20)
	return NewBuilder(RegionCommitter{Region: r}, opts...), r
}

func emitReturn(v int64) EmitFunc {
	return func(e *Emitter, _ ArgRegs) {
		e.MovRI(RAX, v)
		e.Ret()
	}
}

func TestBuildAnnouncesOnce(t *testing.T) {
	rec := &recordingAnnouncer{}
	b, r := newRegionBuilder(t, WithAnnouncer(rec))

	f, err := b.Build("ret42", emitReturn(42))
	require.NoError(t, err)
	assert.Equal(t, RegionBacked, f.Mode())
	assert.True(t, r.Contains(f.Addr()))
	assert.Equal(t, 6, f.Size())
	assert.Equal(t, []byte{0xB8, 42, 0, 0, 0, 0xC3}, f.Code())

	require.Equal(t, []announcement{{f.Addr(), 6, "ret42"}}, rec.all())

	addr, err := b.Lookup("ret42")
	require.NoError(t, err)
	assert.Equal(t, f.Addr(), addr)
	assert.Equal(t, SymbolMap{"ret42": f.Addr()}, b.Symbols())
	assert.Contains(t, f.Disassemble(), "ret")
}

func TestBuildAssemblyErrorNotAnnounced(t *testing.T) {
	rec := &recordingAnnouncer{}
	b, r := newRegionBuilder(t, WithAnnouncer(rec))

	_, err := b.Build("broken", func(e *Emitter, _ ArgRegs) {
		e.Jmp(e.NewLabel())
	})
	require.ErrorIs(t, err, jiterrors.ErrAssembly)

	_, err = b.Build("empty", func(*Emitter, ArgRegs) {})
	require.ErrorIs(t, err, jiterrors.ErrAssembly)

	assert.Empty(t, rec.all())
	assert.Zero(t, r.Used())
	_, err = b.Lookup("broken")
	require.ErrorIs(t, err, jiterrors.ErrSymbolNotFound)
}

func TestBuildInlineCapacity(t *testing.T) {
	rec := &recordingAnnouncer{}
	b := NewBuilder(InlineCommitter{Capacity: 64}, WithAnnouncer(rec))
	assert.Equal(t, InlineBacked, b.Mode())

	_, err := b.Build("big", func(e *Emitter, _ ArgRegs) {
		for i := 0; i < 199; i++ {
			e.Nop()
		}
		e.Ret()
	})
	require.ErrorIs(t, err, jiterrors.ErrCapacityExceeded)
	assert.Empty(t, rec.all())

	f, err := b.Build("small", emitReturn(7))
	require.NoError(t, err)
	assert.Equal(t, InlineBacked, f.Mode())
	assert.Equal(t, 6, f.Size())
	require.Len(t, rec.all(), 1)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	_, err = b.Lookup("small")
	require.ErrorIs(t, err, jiterrors.ErrSymbolNotFound)
}

func TestBuildExhaustionPropagates(t *testing.T) {
	r := NewRegion("tiny", 64<<10, 0)
	require.NoError(t, r.Initialize())
	t.Cleanup(func() { _ = r.Finalize() })
	b := NewBuilder(RegionCommitter{Region: r})

	var err error
	for i := 0; i < 100 && err == nil; i++ {
		_, err = b.Build("filler", func(e *Emitter, _ ArgRegs) {
			for j := 0; j < 2047; j++ {
				e.Int3()
			}
			e.Ret()
		})
	}
	require.ErrorIs(t, err, jiterrors.ErrAllocationExhausted)

	assert.Panics(t, func() { b.MustBuild("one-more", emitReturn(1)) })
}

func TestBuildAnnouncerPanicIsContained(t *testing.T) {
	b, _ := newRegionBuilder(t, WithAnnouncer(AnnouncerFunc(func(uintptr, int, string) {
		panic("sink down")
	})))
	f, err := b.Build("survives", emitReturn(1))
	require.NoError(t, err)
	assert.NotZero(t, f.Addr())
}

func TestBuildResolvesSymbols(t *testing.T) {
	targets := SymbolMap{"far": 0x1122334455667788}
	b, _ := newRegionBuilder(t, WithResolver(targets))

	f, err := b.Build("loader", func(e *Emitter, _ ArgRegs) {
		e.MovSym(RAX, "far")
		e.Ret()
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x48, 0xB8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, 0xC3}, f.Code())

	_, err = b.Build("dangling", func(e *Emitter, _ ArgRegs) {
		e.CallSym("nowhere")
		e.Ret()
	})
	require.ErrorIs(t, err, jiterrors.ErrAssembly)
	require.ErrorIs(t, err, jiterrors.ErrSymbolNotFound)

	_, err = NewBuilder(InlineCommitter{}).Build("no-resolver", func(e *Emitter, _ ArgRegs) {
		e.MovSym(RAX, "anything")
		e.Ret()
	})
	require.ErrorIs(t, err, jiterrors.ErrAssembly)
	require.ErrorIs(t, err, jiterrors.ErrSymbolNotFound)

	_, err = b.Build("out-of-range", func(e *Emitter, _ ArgRegs) {
		e.CallSym("far")
		e.Ret()
	})
	require.ErrorIs(t, err, jiterrors.ErrRelocationOutOfRange)
}

func TestBuildAlignedPlacement(t *testing.T) {
	b, _ := newRegionBuilder(t)
	_, err := b.Build("odd", func(e *Emitter, _ ArgRegs) { e.Nop(); e.Ret() })
	require.NoError(t, err)
	f, err := b.Build("aligned", func(e *Emitter, _ ArgRegs) {
		e.Align(64)
		e.Ret()
	})
	require.NoError(t, err)
	assert.Zero(t, f.Addr()%64)
}

func TestChainResolvers(t *testing.T) {
	r := ChainResolvers(nil, SymbolMap{"a": 1}, SymbolMap{"a": 2, "b": 3})
	addr, err := r.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, uintptr(1), addr)
	addr, err = r.Lookup("b")
	require.NoError(t, err)
	assert.Equal(t, uintptr(3), addr)
	_, err = r.Lookup("c")
	require.ErrorIs(t, err, jiterrors.ErrSymbolNotFound)
}

func TestApplyRelocsRange(t *testing.T) {
	code := make([]byte, 8)
	relocs := []Reloc{{Offset: 4, Symbol: "x", Kind: RelocRel32, Addend: -4}}
	require.NoError(t, ApplyRelocs(code, 0x1000, relocs, map[string]uintptr{"x": 0x2000}))
	assert.Equal(t, []byte{0, 0, 0, 0, 0xF4, 0x0F, 0, 0}, code)

	err := ApplyRelocs(code, 0x1000, relocs, map[string]uintptr{"x": 0x1000 + 1<<32})
	require.ErrorIs(t, err, jiterrors.ErrRelocationOutOfRange)

	err = ApplyRelocs(code, 0x1000, []Reloc{{Offset: 6, Symbol: "x", Kind: RelocAbs64}}, map[string]uintptr{"x": 1})
	require.Error(t, err)
}
