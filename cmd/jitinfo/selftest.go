package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/colorfulnotion/jamjit/announce"
	"github.com/colorfulnotion/jamjit/config"
	"github.com/colorfulnotion/jamjit/jit"
	"github.com/colorfulnotion/jamjit/jit/asm"
	log "github.com/colorfulnotion/jamjit/log"
	"github.com/colorfulnotion/jamjit/modcomp"
)

func newSelftestCmd(g *globals) *cobra.Command {
	var showCode bool
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Build, link and run sample code through the configured runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := g.cfg.AnnounceOptions()
			opts.Stream = false
			sinks, err := announce.Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sinks.Close()
			return selftest(cmd.OutOrStdout(), g.cfg, sinks, showCode)
		},
	}
	cmd.Flags().BoolVar(&showCode, "code", false, "print disassembly of every built function")
	return cmd
}

// selftest exercises the runtime builder and a module compiler session
// against a, running the results when the host can execute them.
func selftest(out io.Writer, cfg *config.Config, a jit.Announcer, showCode bool) error {
	rcfg, err := cfg.RuntimeConfig(a)
	if err != nil {
		return err
	}
	rt, err := jit.InitRuntime(rcfg)
	if err != nil {
		return err
	}
	defer jit.FinalizeRuntime()
	fmt.Fprintf(out, "runtime:  %s strategy, region %dB\n", rt.Strategy(), cfg.Runtime.RegionSize)

	built := map[string]*jit.Function{}
	for _, fn := range []struct {
		name string
		emit jit.EmitFunc
	}{
		{"selftest.mul3", func(e *jit.Emitter, args jit.ArgRegs) {
			e.MovRR(jit.RAX, args[0])
			e.AddRR(jit.RAX, args[0])
			e.AddRR(jit.RAX, args[0])
			e.Ret()
		}},
		{"selftest.apply", emitApply},
		{"selftest.tsc_delta", emitTSCDelta},
		{"selftest.txn_entry", emitTransactionEntry},
	} {
		f, err := rt.Build(fn.name, fn.emit)
		if err != nil {
			return fmt.Errorf("build %s: %w", fn.name, err)
		}
		defer f.Close()
		built[fn.name] = f
		fmt.Fprintf(out, "built:    %s\n", f)
		if showCode {
			fmt.Fprint(out, f.Disassemble())
		}
	}

	c := modcomp.New(nil, cfg.Modcomp.CPU,
		modcomp.WithAnnouncer(a),
		modcomp.WithTracerProvider(otel.GetTracerProvider()),
	)
	defer c.Close()
	if err := c.AddUncached(demoModule()); err != nil {
		return err
	}
	if err := c.Fin(); err != nil {
		return err
	}
	for _, obj := range c.Objects() {
		fmt.Fprintf(out, "object:   %s cpu=%s code=%dB relocs=%d\n", obj.Module, obj.CPU, len(obj.Code), len(obj.Relocs))
	}
	for _, name := range c.Symbols() {
		addr, _ := c.Get(name)
		fmt.Fprintf(out, "linked:   %s @ %#x\n", name, addr)
	}

	if !asm.Supported {
		fmt.Fprintln(out, "run:      skipped, host cannot execute x86-64")
		return nil
	}

	if got := jit.Typed1[int64, int64](built["selftest.mul3"])(14); got != 42 {
		return fmt.Errorf("selftest.mul3(14) = %d, want 42", got)
	}
	mul3 := built["selftest.mul3"].Addr()
	if got := built["selftest.apply"].Call2(mul3, 14); got != 43 {
		return fmt.Errorf("selftest.apply(mul3, 14) = %d, want 43", got)
	}
	start := built["selftest.tsc_delta"].Call2(0, 0)
	delta := built["selftest.tsc_delta"].Call2(0, uintptr(start))
	fmt.Fprintf(out, "run:      tsc %d, delta %d cycles\n", start, delta)

	quad, err := c.Get("demo.quad")
	if err != nil {
		return err
	}
	if got := asm.Call4(uintptr(quad), 5, 0, 0, 0); got != 20 {
		return fmt.Errorf("demo.quad(5) = %d, want 20", got)
	}
	log.Info(log.JitModule, "selftest passed", "functions", len(built), "linked", len(c.Symbols()))
	fmt.Fprintln(out, "run:      ok")
	return nil
}
