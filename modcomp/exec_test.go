//go:build linux && amd64

package modcomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/jamjit/jit"
	"github.com/colorfulnotion/jamjit/jit/asm"
)

func TestExecuteLinkedModule(t *testing.T) {
	r := jit.NewRegion("host", 1<<20, 0)
	require.NoError(t, r.Initialize())
	defer r.Finalize()
	b := jit.NewBuilder(jit.RegionCommitter{Region: r})
	plus1000, err := b.Build("plus1000", func(e *jit.Emitter, args jit.ArgRegs) {
		e.MovRR(jit.RAX, args[0])
		e.AddRI(jit.RAX, 1000)
		e.Ret()
	})
	require.NoError(t, err)

	m := arithModule("x")
	m.Funcs = append(m.Funcs, FuncDef{
		Name: "x.external",
		Emit: func(e *jit.Emitter, _ jit.ArgRegs) {
			e.MovSym(jit.R11, "plus1000")
			e.JmpReg(jit.R11)
		},
	})
	c := New(LinkTable{"plus1000": uint64(plus1000.Addr())}, "")
	defer c.Close()
	require.NoError(t, c.AddUncached(m))
	require.NoError(t, c.Fin())

	call := func(name string, arg uintptr) uint64 {
		addr, err := c.Get(name)
		require.NoError(t, err)
		return asm.Call4(uintptr(addr), arg, 0, 0, 0)
	}
	assert.Equal(t, uint64(42), call("x.double", 21))
	assert.Equal(t, uint64(40), call("x.quad", 10))
	assert.Equal(t, uint64(1005), call("x.external", 5))

	// a finalized session resolves symbols for later builds
	later := jit.NewBuilder(jit.InlineCommitter{}, jit.WithResolver(c))
	f, err := later.Build("via-session", func(e *jit.Emitter, _ jit.ArgRegs) {
		e.MovSym(jit.R11, "x.quad")
		e.JmpReg(jit.R11)
	})
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, uint64(12), f.Call1(3))
}
