package jit

// BuildTransactionEnter lays out the entry of a hardware transaction and
// returns the landing label the caller must pass to Xbegin. The emitted
// shape is:
//
//	    jmp begin
//	fall:
//	    test eax, eax
//	    jz fallback        ; status 0: interrupt or capacity, not a conflict
//	    <onFailure>
//	    .align 16
//	begin:
//
// Execution continues at begin, where the caller issues Xbegin(fall) after
// any pre-entry checks. onFailure may be nil.
func BuildTransactionEnter(e *Emitter, fallback Label, onFailure func()) Label {
	fall := e.NewLabel()
	begin := e.NewLabel()
	e.Jmp(begin)
	e.Bind(fall)
	e.Test(EAX, EAX)
	e.Jz(fallback)
	if onFailure != nil {
		onFailure()
	}
	e.Align(16)
	e.Bind(begin)
	return fall
}

// BuildSwapRDXWith moves the argument held in rdx into with so rdx can be
// clobbered (by rdtsc, mul or div). args is updated to the new locations.
func BuildSwapRDXWith(e *Emitter, args *ArgRegs, with Reg) {
	with = with.R64()
	if with.Is(RDX) {
		return
	}
	for i, r := range args {
		if !r.Is(RDX) {
			continue
		}
		e.Xchg(RDX, with)
		args[i] = with
		for j, o := range args {
			if j != i && o.Is(with) {
				args[j] = RDX
			}
		}
		return
	}
}

// BuildGetTSC reads the full 64-bit time stamp counter into to. With rax
// or rdx as the target both rax and rdx are clobbered; with any other
// target only to changes.
func BuildGetTSC(e *Emitter, to Reg) {
	to = to.R64()
	switch {
	case to.Is(RAX):
		e.Rdtsc()
		e.ShlRI(RDX, 32)
		e.OrRR(RAX, RDX)
	case to.Is(RDX):
		e.Rdtsc()
		e.ShlRI(RDX, 32)
		e.OrRR(RDX, RAX)
	default:
		e.Xchg(RAX, to)
		e.Push(RDX)
		e.Rdtsc()
		e.ShlRI(RDX, 32)
		e.OrRR(RAX, RDX)
		e.Pop(RDX)
		e.Xchg(RAX, to)
	}
}
