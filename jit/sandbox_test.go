//go:build unicorn
// +build unicorn

package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

const (
	sandboxCode  = 0x100000
	sandboxStack = 0x200000
	sandboxSize  = 0x10000
)

// runSandboxed executes code under emulation from its first byte until it
// returns to the sentinel address, and hands back the final registers.
func runSandboxed(t *testing.T, code []byte, regs map[int]uint64) uc.Unicorn {
	t.Helper()
	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_64)
	require.NoError(t, err)
	t.Cleanup(func() { mu.Close() })

	require.NoError(t, mu.MemMap(sandboxCode, sandboxSize))
	require.NoError(t, mu.MemMap(sandboxStack, sandboxSize))
	require.NoError(t, mu.MemWrite(sandboxCode, code))

	// ret lands on an int3 placed after the code
	sentinel := uint64(sandboxCode + len(code))
	require.NoError(t, mu.MemWrite(sentinel, []byte{X86_OP_INT3}))
	sp := uint64(sandboxStack + sandboxSize - 64)
	require.NoError(t, mu.MemWrite(sp, []byte{
		byte(sentinel), byte(sentinel >> 8), byte(sentinel >> 16), byte(sentinel >> 24), 0, 0, 0, 0,
	}))
	require.NoError(t, mu.RegWrite(uc.X86_REG_RSP, sp))
	for reg, v := range regs {
		require.NoError(t, mu.RegWrite(reg, v))
	}
	require.NoError(t, mu.Start(sandboxCode, sentinel))
	return mu
}

func finalizeCode(t *testing.T, emit func(e *Emitter)) []byte {
	t.Helper()
	e := NewEmitter()
	emit(e)
	code, err := e.Finalize()
	require.NoError(t, err)
	return code
}

func TestSandboxTransactionEnter(t *testing.T) {
	code := finalizeCode(t, func(e *Emitter) {
		e.MovRI(R11, 0)
		fallback := e.NewLabel()
		fall := BuildTransactionEnter(e, fallback, func() { e.MovRI(R10, 100) })
		body := e.NewLabel()
		e.Test(R11, R11)
		e.Jnz(body)
		e.MovRI(R11, 1)
		e.MovRR(RAX, RDI)
		e.Jmp(fall)
		e.Bind(body)
		e.MovRR(RAX, R10)
		e.AddRI(RAX, 2)
		e.Ret()
		e.Bind(fallback)
		e.MovRI(RAX, 1)
		e.Ret()
	})

	for status, want := range map[uint64]uint64{0: 1, 3: 102} {
		mu := runSandboxed(t, code, map[int]uint64{uc.X86_REG_RDI: status, uc.X86_REG_R10: 0})
		rax, err := mu.RegRead(uc.X86_REG_RAX)
		require.NoError(t, err)
		require.Equal(t, want, rax, "status %d", status)
	}
}

func TestSandboxGetTSCPreservesRegisters(t *testing.T) {
	code := finalizeCode(t, func(e *Emitter) {
		BuildGetTSC(e, RCX)
		e.Ret()
	})
	mu := runSandboxed(t, code, map[int]uint64{
		uc.X86_REG_RAX: 0x1111,
		uc.X86_REG_RDX: 0x2222,
	})
	rax, _ := mu.RegRead(uc.X86_REG_RAX)
	rdx, _ := mu.RegRead(uc.X86_REG_RDX)
	rsp, _ := mu.RegRead(uc.X86_REG_RSP)
	require.Equal(t, uint64(0x1111), rax)
	require.Equal(t, uint64(0x2222), rdx)
	require.Equal(t, uint64(sandboxStack+sandboxSize-56), rsp, "stack is balanced")
}
