// Package asm holds the assembly trampolines that call generated code with
// the host C calling convention. It is separate so that no cgo is mixed
// with Go assembly.
package asm
