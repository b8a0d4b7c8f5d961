package main

import (
	"github.com/colorfulnotion/jamjit/jit"
	"github.com/colorfulnotion/jamjit/modcomp"
)

// demoModule is a small module with an intra-module call chain, used by
// compile, selftest and serve.
func demoModule() *modcomp.Module {
	return &modcomp.Module{
		Name: "demo",
		Funcs: []modcomp.FuncDef{
			{Name: "demo.add", Emit: func(e *jit.Emitter, args jit.ArgRegs) {
				e.MovRR(jit.RAX, args[0])
				e.AddRR(jit.RAX, args[1])
				e.Ret()
			}},
			{Name: "demo.double", Emit: func(e *jit.Emitter, args jit.ArgRegs) {
				e.MovRR(jit.RAX, args[0])
				e.AddRR(jit.RAX, jit.RAX)
				e.Ret()
			}},
			{Name: "demo.quad", Emit: func(e *jit.Emitter, args jit.ArgRegs) {
				e.CallSym("demo.double")
				e.MovRR(args[0], jit.RAX)
				e.CallSym("demo.double")
				e.Ret()
			}},
			{Name: "demo.tsc", Emit: func(e *jit.Emitter, _ jit.ArgRegs) {
				jit.BuildGetTSC(e, jit.RAX)
				e.Ret()
			}},
		},
	}
}

// emitTSCDelta returns the time stamp counter minus its second argument.
// Whichever argument lives in rdx is moved to r10 first.
func emitTSCDelta(e *jit.Emitter, args jit.ArgRegs) {
	jit.BuildSwapRDXWith(e, &args, jit.R10)
	jit.BuildGetTSC(e, jit.R11)
	e.MovRR(jit.RAX, jit.R11)
	e.SubRR(jit.RAX, args[1])
	e.Ret()
}

// emitTransactionEntry lays out a transaction entry without running it;
// most hosts have rtm disabled.
func emitTransactionEntry(e *jit.Emitter, _ jit.ArgRegs) {
	fallback := e.NewLabel()
	fall := jit.BuildTransactionEnter(e, fallback, func() {
		e.MovRI(jit.RAX, 2)
		e.Ret()
	})
	e.Xbegin(fall)
	e.Xend()
	e.MovRI(jit.RAX, 0)
	e.Ret()
	e.Bind(fallback)
	e.MovRI(jit.RAX, 1)
	e.Ret()
}

// emitApply calls its first argument with its second and returns the result
// plus one. rbx carries the target across the call.
func emitApply(e *jit.Emitter, args jit.ArgRegs) {
	saved := saveRegs(e, jit.RBX)
	e.MovRR(jit.RBX, args[0])
	e.MovRR(args[0], args[1])
	e.CallReg(jit.RBX)
	e.AddRI(jit.RAX, 1)
	restoreRegs(e, saved)
	e.Ret()
}

// saveRegs pushes the registers the host ABI expects preserved and returns
// them for restoreRegs.
func saveRegs(e *jit.Emitter, regs ...jit.Reg) []jit.Reg {
	var saved []jit.Reg
	for _, r := range regs {
		if jit.CalleeSaved(r) {
			e.Push(r)
			saved = append(saved, r)
		}
	}
	return saved
}

func restoreRegs(e *jit.Emitter, saved []jit.Reg) {
	for i := len(saved) - 1; i >= 0; i-- {
		e.Pop(saved[i])
	}
}
