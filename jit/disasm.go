package jit

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Decode splits machine code into instructions; it stops at the first
// undecodable byte.
func Decode(code []byte) ([]x86asm.Inst, error) {
	var out []x86asm.Inst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return out, fmt.Errorf("decode at 0x%x: %w", off, err)
		}
		out = append(out, inst)
		off += inst.Len
	}
	return out, nil
}

// Disassemble lists code in Intel syntax, one instruction per line, with
// offsets relative to the start of code. A byte that does not decode is
// shown as (bad) and skipped.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for off := 0; off < len(code); {
		insts, err := Decode(code[off:])
		for _, inst := range insts {
			fmt.Fprintf(&sb, "%6x  % -24x %s\n", off, code[off:off+inst.Len], x86asm.IntelSyntax(inst, uint64(off), nil))
			off += inst.Len
		}
		if err != nil {
			fmt.Fprintf(&sb, "%6x  % -24x (bad)\n", off, code[off:off+1])
			off++
		}
	}
	return sb.String()
}
