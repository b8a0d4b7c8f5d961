package modcomp

import (
	"fmt"

	"github.com/colorfulnotion/jamjit/jit"
	"github.com/colorfulnotion/jamjit/jiterrors"
)

// FuncDef is one function of a module. Functions may call each other and
// link-table symbols through the emitter's symbol references.
type FuncDef struct {
	Name string
	Emit jit.EmitFunc
}

// Module is a unit of source handed to a Compiler.
type Module struct {
	Name  string
	Funcs []FuncDef
}

// Symbol is a function defined by an Object.
type Symbol struct {
	Name   string `msgpack:"n"`
	Offset int    `msgpack:"o"`
	Size   int    `msgpack:"s"`
}

// Object is compiled, unlinked module code: position independent except
// for the relocations, which are resolved when the compiler finalizes.
type Object struct {
	Module  string      `msgpack:"m"`
	CPU     string      `msgpack:"c"`
	Align   int         `msgpack:"a"`
	Code    []byte      `msgpack:"x"`
	Symbols []Symbol    `msgpack:"y"`
	Relocs  []jit.Reloc `msgpack:"r"`
}

// Lookup returns the symbol named name.
func (o *Object) Lookup(name string) (Symbol, bool) {
	for _, s := range o.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// Validate checks the structural invariants a decoded object must hold.
func (o *Object) Validate() error {
	if o.Align <= 0 || o.Align&(o.Align-1) != 0 {
		return fmt.Errorf("object %s: alignment %d: %w", o.Module, o.Align, jiterrors.ErrMalformedObject)
	}
	seen := make(map[string]bool, len(o.Symbols))
	for _, s := range o.Symbols {
		if s.Name == "" || s.Offset < 0 || s.Size <= 0 || s.Offset+s.Size > len(o.Code) {
			return fmt.Errorf("object %s: symbol %q [%d,+%d): %w", o.Module, s.Name, s.Offset, s.Size, jiterrors.ErrMalformedObject)
		}
		if seen[s.Name] {
			return fmt.Errorf("object %s: %q: %w", o.Module, s.Name, jiterrors.ErrDuplicateSymbol)
		}
		seen[s.Name] = true
	}
	for _, r := range o.Relocs {
		width := 4
		if r.Kind == jit.RelocAbs64 {
			width = 8
		}
		if r.Offset < 0 || r.Offset+width > len(o.Code) || r.Symbol == "" {
			return fmt.Errorf("object %s: reloc %q at %d: %w", o.Module, r.Symbol, r.Offset, jiterrors.ErrMalformedObject)
		}
	}
	return nil
}

// compile emits every function of m and lays them out back to back, each
// at its own alignment.
func compile(m *Module, cpu string) (*Object, error) {
	if m == nil || len(m.Funcs) == 0 {
		return nil, fmt.Errorf("module: no functions: %w", jiterrors.ErrAssembly)
	}
	obj := &Object{Module: m.Name, CPU: cpu, Align: jit.DefaultAlign}
	seen := make(map[string]bool, len(m.Funcs))
	for _, fd := range m.Funcs {
		if fd.Name == "" || fd.Emit == nil {
			return nil, fmt.Errorf("module %s: function %q: %w", m.Name, fd.Name, jiterrors.ErrAssembly)
		}
		if seen[fd.Name] {
			return nil, fmt.Errorf("module %s: %q: %w", m.Name, fd.Name, jiterrors.ErrDuplicateSymbol)
		}
		seen[fd.Name] = true

		e := jit.NewEmitter()
		fd.Emit(e, jit.HostArgRegs())
		code, err := e.Finalize()
		if err == nil && len(code) == 0 {
			err = fmt.Errorf("empty instruction stream")
		}
		if err != nil {
			return nil, fmt.Errorf("module %s: function %q: %w: %w", m.Name, fd.Name, jiterrors.ErrAssembly, err)
		}

		align := max(e.MaxAlign(), jit.DefaultAlign)
		obj.Align = max(obj.Align, align)
		for len(obj.Code)%align != 0 {
			obj.Code = append(obj.Code, jit.X86_OP_INT3)
		}
		off := len(obj.Code)
		obj.Code = append(obj.Code, code...)
		obj.Symbols = append(obj.Symbols, Symbol{Name: fd.Name, Offset: off, Size: len(code)})
		for _, r := range e.Relocs() {
			r.Offset += off
			obj.Relocs = append(obj.Relocs, r)
		}
	}
	return obj, nil
}
