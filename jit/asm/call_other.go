//go:build !amd64

package asm

// Supported reports whether Call4 can run native code on this platform.
const Supported = false

// StackBytes is zero: nothing runs.
const StackBytes = 0

// Call4 panics: generated code is x86-64 only.
func Call4(fn, a0, a1, a2, a3 uintptr) uint64 {
	panic("asm: generated x86-64 code cannot run on this architecture")
}
