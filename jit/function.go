package jit

import (
	"fmt"
	"sync/atomic"

	"github.com/colorfulnotion/jamjit/jit/asm"
	"github.com/colorfulnotion/jamjit/jiterrors"
)

// noCopy lets go vet flag copies of a Function.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Function is a committed, directly callable unit of machine code. Its
// identity is its address: it is handed out by pointer and never copied or
// moved.
type Function struct {
	noCopy noCopy

	name  string
	addr  uintptr
	mode  Mode
	view  []byte
	owned []byte

	closed  atomic.Bool
	onClose func()
}

// Name returns the name the function was built under.
func (f *Function) Name() string { return f.name }

// Addr returns the entry address.
func (f *Function) Addr() uintptr { return f.addr }

// Size returns the exact number of committed bytes.
func (f *Function) Size() int { return len(f.view) }

// Mode reports who owns the code bytes.
func (f *Function) Mode() Mode { return f.mode }

// Code returns a copy of the committed bytes.
func (f *Function) Code() []byte {
	return append([]byte(nil), f.view...)
}

// Disassemble renders the committed bytes.
func (f *Function) Disassemble() string {
	return Disassemble(f.Code())
}

func (f *Function) String() string {
	return fmt.Sprintf("%s@0x%x+%d(%s)", f.name, f.addr, len(f.view), f.mode)
}

// Close releases an inline-backed function's buffer. Region-backed code is
// reclaimed only with its region, so Close just detaches it from its builder.
func (f *Function) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	if f.onClose != nil {
		f.onClose()
	}
	if f.owned != nil {
		err := unmap(f.owned)
		f.owned, f.view = nil, nil
		return err
	}
	return nil
}

func (f *Function) call(a0, a1, a2, a3 uintptr) uint64 {
	if f.closed.Load() {
		panic(fmt.Sprintf("jit: call to closed function %s", f.name))
	}
	if !asm.Supported {
		panic(fmt.Errorf("jit: call %s: %w", f.name, jiterrors.ErrUnsupported))
	}
	return asm.Call4(f.addr, a0, a1, a2, a3)
}

// Call0 invokes the function with no arguments and returns rax.
func (f *Function) Call0() uint64 { return f.call(0, 0, 0, 0) }

// Call1 invokes the function with one argument.
func (f *Function) Call1(a0 uintptr) uint64 { return f.call(a0, 0, 0, 0) }

// Call2 invokes the function with two arguments.
func (f *Function) Call2(a0, a1 uintptr) uint64 { return f.call(a0, a1, 0, 0) }

// Call3 invokes the function with three arguments.
func (f *Function) Call3(a0, a1, a2 uintptr) uint64 { return f.call(a0, a1, a2, 0) }

// Call4 invokes the function with four arguments.
func (f *Function) Call4(a0, a1, a2, a3 uintptr) uint64 { return f.call(a0, a1, a2, a3) }
