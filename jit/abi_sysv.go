//go:build !windows

package jit

// HostArgRegs returns the System V AMD64 argument order.
func HostArgRegs() ArgRegs {
	return ArgRegs{RDI, RSI, RDX, RCX}
}

var calleeSaved = []RegID{IDBX, IDBP, IDSP, IDR12, IDR13, IDR14, IDR15}
