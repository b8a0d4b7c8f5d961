package jit

// HostArgRegs returns the Microsoft x64 argument order.
func HostArgRegs() ArgRegs {
	return ArgRegs{RCX, RDX, R8, R9}
}

var calleeSaved = []RegID{IDBX, IDBP, IDDI, IDSI, IDSP, IDR12, IDR13, IDR14, IDR15}
