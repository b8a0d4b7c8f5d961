//go:build amd64

package asm

// Supported reports whether Call4 can run native code on this platform.
const Supported = true

// StackBytes is the stack depth available to the callee.
const StackBytes = 960

// Call4 calls the native function at fn, passing a0..a3 in the first four
// integer argument registers of the host ABI, and returns rax. The callee
// must follow the host ABI and use at most StackBytes of stack.
func Call4(fn, a0, a1, a2, a3 uintptr) uint64
