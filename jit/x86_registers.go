package jit

import "fmt"

// RegID is the hardware encoding of a general purpose register (0..15).
type RegID uint8

const (
	IDAX RegID = iota
	IDCX
	IDDX
	IDBX
	IDSP
	IDBP
	IDSI
	IDDI
	IDR8
	IDR9
	IDR10
	IDR11
	IDR12
	IDR13
	IDR14
	IDR15
)

var regNames64 = [16]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}
var regNames32 = [16]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"}

// Reg is an x86-64 general purpose register at a given operand width.
// Two Regs name the same hardware register when their IDs are equal; the
// zero value is not a valid operand.
type Reg struct {
	id   RegID
	bits uint8 // 32 or 64
}

// Standard x86-64 register definitions
var (
	RAX = Reg{IDAX, 64} // return value, rdtsc low half
	RCX = Reg{IDCX, 64}
	RDX = Reg{IDDX, 64} // rdtsc high half
	RBX = Reg{IDBX, 64}
	RSP = Reg{IDSP, 64}
	RBP = Reg{IDBP, 64}
	RSI = Reg{IDSI, 64}
	RDI = Reg{IDDI, 64}
	R8  = Reg{IDR8, 64}
	R9  = Reg{IDR9, 64}
	R10 = Reg{IDR10, 64}
	R11 = Reg{IDR11, 64}
	R12 = Reg{IDR12, 64}
	R13 = Reg{IDR13, 64}
	R14 = Reg{IDR14, 64}
	R15 = Reg{IDR15, 64}

	EAX  = Reg{IDAX, 32}
	ECX  = Reg{IDCX, 32}
	EDX  = Reg{IDDX, 32}
	EBX  = Reg{IDBX, 32}
	ESI  = Reg{IDSI, 32}
	EDI  = Reg{IDDI, 32}
	R8D  = Reg{IDR8, 32}
	R9D  = Reg{IDR9, 32}
	R10D = Reg{IDR10, 32}
	R11D = Reg{IDR11, 32}
)

// ID returns the register tag, independent of operand width.
func (r Reg) ID() RegID { return r.id }

// Bits returns the operand width.
func (r Reg) Bits() int { return int(r.bits) }

// Valid reports whether r is a usable operand.
func (r Reg) Valid() bool { return (r.bits == 32 || r.bits == 64) && r.id < 16 }

// Is reports whether r and o name the same hardware register.
func (r Reg) Is(o Reg) bool { return r.id == o.id }

// R32 returns the 32-bit view of r.
func (r Reg) R32() Reg { return Reg{r.id, 32} }

// R64 returns the 64-bit view of r.
func (r Reg) R64() Reg { return Reg{r.id, 64} }

func (r Reg) String() string {
	switch {
	case !r.Valid():
		return fmt.Sprintf("reg(%d/%d)", r.id, r.bits)
	case r.bits == 64:
		return regNames64[r.id]
	default:
		return regNames32[r.id]
	}
}

// low 3 bits for ModRM/SIB
func (r Reg) regBits() byte { return byte(r.id) & 7 }

// 1 if the register needs a REX extension bit
func (r Reg) rexBit() byte { return byte(r.id>>3) & 1 }

// ArgRegs is the host ABI's ordered list of the first four integer/pointer
// argument registers.
type ArgRegs [4]Reg

// CalleeSaved reports whether the host ABI requires r to be preserved
// across calls.
func CalleeSaved(r Reg) bool {
	for _, c := range calleeSaved {
		if c == r.id {
			return true
		}
	}
	return false
}
