package jit

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/colorfulnotion/jamjit/jiterrors"
)

// SymbolResolver maps a symbol name to an address. Builders, finalized
// module compilers and link tables all satisfy it.
type SymbolResolver interface {
	Lookup(name string) (uintptr, error)
}

// SymbolMap is a fixed name to address table.
type SymbolMap map[string]uintptr

// Lookup implements SymbolResolver.
func (m SymbolMap) Lookup(name string) (uintptr, error) {
	if addr, ok := m[name]; ok {
		return addr, nil
	}
	return 0, fmt.Errorf("%q: %w", name, jiterrors.ErrSymbolNotFound)
}

// ChainResolvers tries each resolver in order.
func ChainResolvers(rs ...SymbolResolver) SymbolResolver {
	return chain(rs)
}

type chain []SymbolResolver

func (c chain) Lookup(name string) (uintptr, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if addr, err := r.Lookup(name); err == nil {
			return addr, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, jiterrors.ErrSymbolNotFound)
}

// ResolveAll looks up every relocation target up front.
func ResolveAll(relocs []Reloc, r SymbolResolver) (map[string]uintptr, error) {
	targets := make(map[string]uintptr, len(relocs))
	for _, rel := range relocs {
		if _, ok := targets[rel.Symbol]; ok {
			continue
		}
		if r == nil {
			return nil, fmt.Errorf("reloc %s %q: no resolver: %w", rel.Kind, rel.Symbol, jiterrors.ErrSymbolNotFound)
		}
		addr, err := r.Lookup(rel.Symbol)
		if err != nil {
			return nil, err
		}
		targets[rel.Symbol] = addr
	}
	return targets, nil
}

// ApplyRelocs patches code that will execute at base.
func ApplyRelocs(code []byte, base uintptr, relocs []Reloc, targets map[string]uintptr) error {
	for _, rel := range relocs {
		target, ok := targets[rel.Symbol]
		if !ok {
			return fmt.Errorf("reloc %q: %w", rel.Symbol, jiterrors.ErrSymbolNotFound)
		}
		switch rel.Kind {
		case RelocAbs64:
			if rel.Offset < 0 || rel.Offset+8 > len(code) {
				return fmt.Errorf("reloc %q at %d: offset outside code of %d bytes", rel.Symbol, rel.Offset, len(code))
			}
			binary.LittleEndian.PutUint64(code[rel.Offset:], uint64(int64(target)+rel.Addend))
		case RelocRel32:
			if rel.Offset < 0 || rel.Offset+4 > len(code) {
				return fmt.Errorf("reloc %q at %d: offset outside code of %d bytes", rel.Symbol, rel.Offset, len(code))
			}
			site := int64(base) + int64(rel.Offset) + 4
			disp := int64(target) + rel.Addend - site
			if disp < math.MinInt32 || disp > math.MaxInt32 {
				return fmt.Errorf("reloc %q: displacement %#x: %w", rel.Symbol, disp, jiterrors.ErrRelocationOutOfRange)
			}
			binary.LittleEndian.PutUint32(code[rel.Offset:], uint32(int32(disp)))
		default:
			return fmt.Errorf("reloc %q: unknown kind %d", rel.Symbol, rel.Kind)
		}
	}
	return nil
}
