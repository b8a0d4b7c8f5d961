package jit

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Label marks a code position that jumps can target before it is bound.
type Label int

// NoLabel is never returned by NewLabel.
const NoLabel Label = -1

// RelocKind selects how a symbol address is patched into the code.
type RelocKind uint8

const (
	// RelocAbs64 stores the absolute 64-bit address of the symbol.
	RelocAbs64 RelocKind = iota + 1
	// RelocRel32 stores target - (site + 4) as a signed 32-bit displacement.
	RelocRel32
)

func (k RelocKind) String() string {
	switch k {
	case RelocAbs64:
		return "abs64"
	case RelocRel32:
		return "rel32"
	default:
		return fmt.Sprintf("reloc(%d)", uint8(k))
	}
}

// Reloc is a reference from the code to a named external symbol.
type Reloc struct {
	Offset int       `msgpack:"o"`
	Symbol string    `msgpack:"s"`
	Kind   RelocKind `msgpack:"k"`
	Addend int64     `msgpack:"a"`
}

type fixup struct {
	at    int // offset of the rel32 field
	label Label
}

// Emitter assembles x86-64 machine code into a byte buffer. Errors are
// sticky: the first invalid operation is recorded and returned by Err and
// Finalize, later operations still append bytes but the stream is unusable.
type Emitter struct {
	buf      []byte
	labels   []int
	fixups   []fixup
	relocs   []Reloc
	maxAlign int
	err      error
}

// NewEmitter returns an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{buf: make([]byte, 0, 256), maxAlign: 1}
}

// Err returns the first error recorded by the emitter.
func (e *Emitter) Err() error { return e.err }

// Len returns the number of bytes emitted so far.
func (e *Emitter) Len() int { return len(e.buf) }

// Relocs returns the symbol references recorded so far.
func (e *Emitter) Relocs() []Reloc { return e.relocs }

// MaxAlign returns the largest alignment requested through Align; the code
// must be placed at an address aligned at least this much.
func (e *Emitter) MaxAlign() int { return e.maxAlign }

func (e *Emitter) setErr(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf(format, args...)
	}
}

// NewLabel creates an unbound label.
func (e *Emitter) NewLabel() Label {
	e.labels = append(e.labels, -1)
	return Label(len(e.labels) - 1)
}

// Bind attaches l to the current position.
func (e *Emitter) Bind(l Label) {
	if !e.validLabel(l) {
		e.setErr("bind: invalid label %d", l)
		return
	}
	if e.labels[l] >= 0 {
		e.setErr("bind: label %d already bound at %d", l, e.labels[l])
		return
	}
	e.labels[l] = len(e.buf)
}

// Offset returns the bound position of l, or -1.
func (e *Emitter) Offset(l Label) int {
	if !e.validLabel(l) {
		return -1
	}
	return e.labels[l]
}

func (e *Emitter) validLabel(l Label) bool {
	return l >= 0 && int(l) < len(e.labels)
}

// Finalize resolves label references and returns the code. The returned
// slice aliases the emitter's buffer.
func (e *Emitter) Finalize() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	for _, f := range e.fixups {
		target := e.labels[f.label]
		if target < 0 {
			e.setErr("label %d referenced at %d but never bound", f.label, f.at)
			return nil, e.err
		}
		rel := int64(target) - int64(f.at+4)
		binary.LittleEndian.PutUint32(e.buf[f.at:], uint32(int32(rel)))
	}
	return e.buf, nil
}

func (e *Emitter) emit(b ...byte) {
	e.buf = append(e.buf, b...)
}

func (e *Emitter) emit32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Emitter) emit64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *Emitter) labelRef(l Label) {
	if !e.validLabel(l) {
		e.setErr("reference to invalid label %d", l)
	}
	e.fixups = append(e.fixups, fixup{at: len(e.buf), label: l})
	e.emit32(0)
}

func (e *Emitter) checkRegs(op string, regs ...Reg) bool {
	for _, r := range regs {
		if !r.Valid() {
			e.setErr("%s: invalid register %v", op, r)
			return false
		}
	}
	for _, r := range regs[1:] {
		if r.bits != regs[0].bits {
			e.setErr("%s: operand width mismatch %v, %v", op, regs[0], r)
			return false
		}
	}
	return true
}

// rexFor emits a REX prefix when the operation needs one.
func (e *Emitter) rexFor(w bool, reg, rm Reg) {
	rex := byte(X86_REX)
	if w {
		rex |= X86_REX_W
	}
	rex |= reg.rexBit() << 2
	rex |= rm.rexBit()
	if rex != X86_REX {
		e.emit(rex)
	}
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

// opRR encodes "op r/m, r" with dst in r/m and src in reg.
func (e *Emitter) opRR(name string, opcode byte, dst, src Reg) {
	if !e.checkRegs(name, dst, src) {
		return
	}
	e.rexFor(dst.bits == 64, src, dst)
	e.emit(opcode, modrm(X86_MOD_REGISTER, src.regBits(), dst.regBits()))
}

// MovRR emits mov dst, src.
func (e *Emitter) MovRR(dst, src Reg) { e.opRR("mov", X86_OP_MOV_RM_R, dst, src) }

// AddRR emits add dst, src.
func (e *Emitter) AddRR(dst, src Reg) { e.opRR("add", X86_OP_ADD_RM_R, dst, src) }

// SubRR emits sub dst, src.
func (e *Emitter) SubRR(dst, src Reg) { e.opRR("sub", X86_OP_SUB_RM_R, dst, src) }

// OrRR emits or dst, src.
func (e *Emitter) OrRR(dst, src Reg) { e.opRR("or", X86_OP_OR_RM_R, dst, src) }

// AndRR emits and dst, src.
func (e *Emitter) AndRR(dst, src Reg) { e.opRR("and", X86_OP_AND_RM_R, dst, src) }

// XorRR emits xor dst, src.
func (e *Emitter) XorRR(dst, src Reg) { e.opRR("xor", X86_OP_XOR_RM_R, dst, src) }

// CmpRR emits cmp a, b.
func (e *Emitter) CmpRR(a, b Reg) { e.opRR("cmp", X86_OP_CMP_RM_R, a, b) }

// Test emits test a, b.
func (e *Emitter) Test(a, b Reg) { e.opRR("test", X86_OP_TEST_RM_R, a, b) }

// Xchg emits xchg a, b.
func (e *Emitter) Xchg(a, b Reg) { e.opRR("xchg", X86_OP_XCHG_RM_R, a, b) }

// MovRI loads an immediate, picking the shortest encoding that yields the
// same register value.
func (e *Emitter) MovRI(dst Reg, imm int64) {
	if !e.checkRegs("mov", dst) {
		return
	}
	switch {
	case dst.bits == 32:
		if imm < math.MinInt32 || imm > math.MaxUint32 {
			e.setErr("mov %v: immediate %#x does not fit 32 bits", dst, imm)
			return
		}
		e.rexFor(false, Reg{}, dst)
		e.emit(X86_OP_MOV_R_IMM + dst.regBits())
		e.emit32(uint32(imm))
	case imm >= 0 && imm <= math.MaxUint32:
		// 32-bit move zero-extends
		e.rexFor(false, Reg{}, dst)
		e.emit(X86_OP_MOV_R_IMM + dst.regBits())
		e.emit32(uint32(imm))
	case imm >= math.MinInt32 && imm < 0:
		e.rexFor(true, Reg{}, dst)
		e.emit(X86_OP_MOV_RM_IMM, modrm(X86_MOD_REGISTER, 0, dst.regBits()))
		e.emit32(uint32(int32(imm)))
	default:
		e.rexFor(true, Reg{}, dst)
		e.emit(X86_OP_MOV_R_IMM + dst.regBits())
		e.emit64(uint64(imm))
	}
}

func (e *Emitter) group1(name string, ext byte, dst Reg, imm int32) {
	if !e.checkRegs(name, dst) {
		return
	}
	e.rexFor(dst.bits == 64, Reg{}, dst)
	if imm >= math.MinInt8 && imm <= math.MaxInt8 {
		e.emit(X86_OP_GROUP1_RM_IMM8, modrm(X86_MOD_REGISTER, ext, dst.regBits()), byte(int8(imm)))
		return
	}
	e.emit(X86_OP_GROUP1_RM_IMM32, modrm(X86_MOD_REGISTER, ext, dst.regBits()))
	e.emit32(uint32(imm))
}

// AddRI emits add dst, imm.
func (e *Emitter) AddRI(dst Reg, imm int32) { e.group1("add", X86_EXT_ADD, dst, imm) }

// SubRI emits sub dst, imm.
func (e *Emitter) SubRI(dst Reg, imm int32) { e.group1("sub", X86_EXT_SUB, dst, imm) }

// AndRI emits and dst, imm.
func (e *Emitter) AndRI(dst Reg, imm int32) { e.group1("and", X86_EXT_AND, dst, imm) }

// OrRI emits or dst, imm.
func (e *Emitter) OrRI(dst Reg, imm int32) { e.group1("or", X86_EXT_OR, dst, imm) }

// XorRI emits xor dst, imm.
func (e *Emitter) XorRI(dst Reg, imm int32) { e.group1("xor", X86_EXT_XOR, dst, imm) }

// CmpRI emits cmp dst, imm.
func (e *Emitter) CmpRI(dst Reg, imm int32) { e.group1("cmp", X86_EXT_CMP, dst, imm) }

func (e *Emitter) shift(name string, ext byte, dst Reg, n uint8) {
	if !e.checkRegs(name, dst) {
		return
	}
	if int(n) >= dst.Bits() {
		e.setErr("%s %v: shift count %d out of range", name, dst, n)
		return
	}
	e.rexFor(dst.bits == 64, Reg{}, dst)
	e.emit(X86_OP_GROUP2_RM_IMM8, modrm(X86_MOD_REGISTER, ext, dst.regBits()), n)
}

// ShlRI emits shl dst, n.
func (e *Emitter) ShlRI(dst Reg, n uint8) { e.shift("shl", X86_EXT_SHL, dst, n) }

// ShrRI emits shr dst, n.
func (e *Emitter) ShrRI(dst Reg, n uint8) { e.shift("shr", X86_EXT_SHR, dst, n) }

// SarRI emits sar dst, n.
func (e *Emitter) SarRI(dst Reg, n uint8) { e.shift("sar", X86_EXT_SAR, dst, n) }

// memOperand encodes [base + disp32] for the given reg field.
func (e *Emitter) memOperand(reg byte, base Reg, disp int32) {
	if base.regBits() == X86_RM_SIB {
		// rsp and r12 need a SIB byte
		e.emit(modrm(X86_MOD_INDIRECT_DISP32, reg, X86_RM_SIB), X86_SIB_NO_INDEX)
	} else {
		e.emit(modrm(X86_MOD_INDIRECT_DISP32, reg, base.regBits()))
	}
	e.emit32(uint32(disp))
}

// Load emits mov dst, [base + disp].
func (e *Emitter) Load(dst, base Reg, disp int32) {
	if !e.checkRegs("load", dst) || !e.checkRegs("load", base) {
		return
	}
	if base.bits != 64 {
		e.setErr("load: base %v must be 64-bit", base)
		return
	}
	e.rexFor(dst.bits == 64, dst, base)
	e.emit(X86_OP_MOV_R_RM)
	e.memOperand(dst.regBits(), base, disp)
}

// Store emits mov [base + disp], src.
func (e *Emitter) Store(base Reg, disp int32, src Reg) {
	if !e.checkRegs("store", src) || !e.checkRegs("store", base) {
		return
	}
	if base.bits != 64 {
		e.setErr("store: base %v must be 64-bit", base)
		return
	}
	e.rexFor(src.bits == 64, src, base)
	e.emit(X86_OP_MOV_RM_R)
	e.memOperand(src.regBits(), base, disp)
}

// LeaLabel emits lea dst, [rip + l].
func (e *Emitter) LeaLabel(dst Reg, l Label) {
	if !e.checkRegs("lea", dst) {
		return
	}
	if dst.bits != 64 {
		e.setErr("lea: destination %v must be 64-bit", dst)
		return
	}
	e.rexFor(true, dst, Reg{})
	e.emit(X86_OP_LEA, modrm(X86_MOD_INDIRECT, dst.regBits(), X86_RM_RIP))
	e.labelRef(l)
}

// Push emits push r64.
func (e *Emitter) Push(r Reg) {
	if !e.checkRegs("push", r) {
		return
	}
	e.rexFor(false, Reg{}, r)
	e.emit(X86_OP_PUSH_R + r.regBits())
}

// Pop emits pop r64.
func (e *Emitter) Pop(r Reg) {
	if !e.checkRegs("pop", r) {
		return
	}
	e.rexFor(false, Reg{}, r)
	e.emit(X86_OP_POP_R + r.regBits())
}

// Jmp emits jmp rel32 to l.
func (e *Emitter) Jmp(l Label) {
	e.emit(X86_OP_JMP_REL32)
	e.labelRef(l)
}

// Jcc emits a conditional rel32 jump to l.
func (e *Emitter) Jcc(c Cond, l Label) {
	if c > CondG {
		e.setErr("jcc: invalid condition %#x", byte(c))
		return
	}
	e.emit(X86_PREFIX, X86_OP2_JCC_BASE+byte(c))
	e.labelRef(l)
}

// Jz jumps to l when ZF is set.
func (e *Emitter) Jz(l Label) { e.Jcc(CondZ, l) }

// Jnz jumps to l when ZF is clear.
func (e *Emitter) Jnz(l Label) { e.Jcc(CondNZ, l) }

// Call emits call rel32 to l.
func (e *Emitter) Call(l Label) {
	e.emit(X86_OP_CALL_REL32)
	e.labelRef(l)
}

// CallReg emits call r64.
func (e *Emitter) CallReg(r Reg) {
	if !e.checkRegs("call", r) {
		return
	}
	if r.bits != 64 {
		e.setErr("call: target %v must be 64-bit", r)
		return
	}
	e.rexFor(false, Reg{}, r)
	e.emit(X86_OP_GROUP5_RM, modrm(X86_MOD_REGISTER, X86_EXT_CALL_IND, r.regBits()))
}

// JmpReg emits jmp r64.
func (e *Emitter) JmpReg(r Reg) {
	if !e.checkRegs("jmp", r) {
		return
	}
	if r.bits != 64 {
		e.setErr("jmp: target %v must be 64-bit", r)
		return
	}
	e.rexFor(false, Reg{}, r)
	e.emit(X86_OP_GROUP5_RM, modrm(X86_MOD_REGISTER, X86_EXT_JMP_IND, r.regBits()))
}

// MovSym loads the absolute address of sym into dst; patched at link time.
func (e *Emitter) MovSym(dst Reg, sym string) {
	if !e.checkRegs("movabs", dst) {
		return
	}
	if sym == "" {
		e.setErr("movabs %v: empty symbol", dst)
		return
	}
	e.rexFor(true, Reg{}, dst.R64())
	e.emit(X86_OP_MOV_R_IMM + dst.regBits())
	e.relocs = append(e.relocs, Reloc{Offset: len(e.buf), Symbol: sym, Kind: RelocAbs64})
	e.emit64(0)
}

// CallSym emits call rel32 to sym; the target must lie within the
// relative addressing window of the call site.
func (e *Emitter) CallSym(sym string) {
	e.symRel32("call", X86_OP_CALL_REL32, sym)
}

// JmpSym emits jmp rel32 to sym.
func (e *Emitter) JmpSym(sym string) {
	e.symRel32("jmp", X86_OP_JMP_REL32, sym)
}

func (e *Emitter) symRel32(name string, opcode byte, sym string) {
	if sym == "" {
		e.setErr("%s: empty symbol", name)
		return
	}
	e.emit(opcode)
	e.relocs = append(e.relocs, Reloc{Offset: len(e.buf), Symbol: sym, Kind: RelocRel32})
	e.emit32(0)
}

// Ret emits ret.
func (e *Emitter) Ret() { e.emit(X86_OP_RET) }

// Nop emits a single-byte nop.
func (e *Emitter) Nop() { e.emit(X86_OP_NOP) }

// Int3 emits a breakpoint trap.
func (e *Emitter) Int3() { e.emit(X86_OP_INT3) }

// Rdtsc emits rdtsc: edx:eax = time stamp counter, upper halves cleared.
func (e *Emitter) Rdtsc() { e.emit(X86_PREFIX, X86_OP2_RDTSC) }

// Xbegin starts a hardware transaction; on abort execution resumes at
// fallback with the abort status in eax.
func (e *Emitter) Xbegin(fallback Label) {
	e.emit(X86_OP_MOV_RM_IMM, X86_MODRM_XBEGIN)
	e.labelRef(fallback)
}

// Xend commits the current hardware transaction.
func (e *Emitter) Xend() { e.emit(X86_PREFIX, X86_OP2_GROUP7, X86_MODRM_XEND) }

// Xtest sets ZF when not executing transactionally.
func (e *Emitter) Xtest() { e.emit(X86_PREFIX, X86_OP2_GROUP7, X86_MODRM_XTEST) }

// Xabort aborts the current transaction with an 8-bit code.
func (e *Emitter) Xabort(code uint8) { e.emit(X86_OP_MOV_RM_IMM8, X86_MODRM_XABORT, code) }

// Align pads with nops until the position is a multiple of n (a power of two).
func (e *Emitter) Align(n int) {
	if n <= 0 || n&(n-1) != 0 {
		e.setErr("align: %d is not a power of two", n)
		return
	}
	if n > e.maxAlign {
		e.maxAlign = n
	}
	pad := (n - len(e.buf)%n) % n
	for pad > 0 {
		k := min(pad, len(nopSequences)-1)
		e.emit(nopSequences[k]...)
		pad -= k
	}
}

// Raw appends pre-encoded bytes.
func (e *Emitter) Raw(b ...byte) { e.emit(b...) }
