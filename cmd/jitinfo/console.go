package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dop251/goja"
	"github.com/spf13/cobra"

	"github.com/colorfulnotion/jamjit/announce"
	"github.com/colorfulnotion/jamjit/config"
	"github.com/colorfulnotion/jamjit/modcomp"
)

func newConsoleCmd(g *globals) *cobra.Command {
	var eval string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "JavaScript console over the inspection helpers",
		Long: "Interactive JavaScript console. Bound functions:\n" +
			"  cpu([name])            host and resolved cpu level\n" +
			"  inspect(path)          artifact summary object\n" +
			"  check(path[, cpu])     whether an artifact matches a cpu\n" +
			"  symbolize(addr)        name+offset from announce.symbol_db\n" +
			"  print(...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newConsole(cmd.OutOrStdout(), g.cfg)
			defer c.Close()
			if eval != "" {
				out, err := c.Eval(eval)
				if err != nil {
					return err
				}
				if out != "" {
					fmt.Fprintln(cmd.OutOrStdout(), out)
				}
				return nil
			}
			return c.Run()
		},
	}
	cmd.Flags().StringVarP(&eval, "eval", "e", "", "evaluate a script and exit")
	return cmd
}

type console struct {
	vm  *goja.Runtime
	out io.Writer
	cfg *config.Config
	idx *announce.SymbolIndex
}

func newConsole(out io.Writer, cfg *config.Config) *console {
	c := &console{vm: goja.New(), out: out, cfg: cfg}
	c.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	c.vm.Set("cpu", func(name string) map[string]any {
		if name == "" {
			name = cfg.Modcomp.CPU
		}
		resolved := modcomp.CPU(name)
		return map[string]any{
			"host":     modcomp.Host().String(),
			"cpu":      resolved,
			"hash":     fmt.Sprintf("%016x", modcomp.FeatureHash(resolved)),
			"features": modcomp.Features(resolved),
		}
	})
	c.vm.Set("inspect", func(path string) artifactSummary {
		s, err := loadSummary(path)
		c.throw(err)
		return s
	})
	c.vm.Set("check", func(path, cpu string) bool {
		if cpu == "" {
			cpu = cfg.Modcomp.CPU
		}
		mc := modcomp.New(nil, cpu)
		defer mc.Close()
		return mc.Check(path)
	})
	c.vm.Set("symbolize", func(v goja.Value) string {
		addr, err := parseAddr(v)
		c.throw(err)
		idx, err := c.symbols()
		c.throw(err)
		return idx.Symbolize(addr)
	})
	c.vm.Set("print", func(args ...goja.Value) {
		parts := make([]string, 0, len(args))
		for _, a := range args {
			parts = append(parts, c.format(a))
		}
		fmt.Fprintln(c.out, strings.Join(parts, " "))
	})
	return c
}

// throw raises err as a JavaScript exception.
func (c *console) throw(err error) {
	if err != nil {
		panic(c.vm.NewGoError(err))
	}
}

func (c *console) symbols() (*announce.SymbolIndex, error) {
	if c.idx != nil {
		return c.idx, nil
	}
	if c.cfg.Announce.SymbolDB == "" {
		return nil, errors.New("announce.symbol_db is not configured")
	}
	idx, err := announce.OpenSymbolIndex(c.cfg.Announce.SymbolDB)
	if err != nil {
		return nil, err
	}
	c.idx = idx
	return idx, nil
}

func parseAddr(v goja.Value) (uint64, error) {
	if s, ok := v.Export().(string); ok {
		return strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	}
	n := v.ToInteger()
	if n < 0 {
		return 0, fmt.Errorf("negative address %d", n)
	}
	return uint64(n), nil
}

// format renders a value the way the console echoes it: strings bare,
// everything else as indented JSON.
func (c *console) format(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return ""
	}
	if goja.IsNull(v) {
		return "null"
	}
	exported := v.Export()
	if s, ok := exported.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(exported, "", "  ")
	if err != nil {
		return v.String()
	}
	return string(b)
}

// Eval runs src and returns the formatted completion value.
func (c *console) Eval(src string) (string, error) {
	v, err := c.vm.RunString(src)
	if err != nil {
		return "", err
	}
	return c.format(v), nil
}

// Run reads lines until EOF.
func (c *console) Run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "jit> ",
		HistoryFile:     filepath.Join(os.TempDir(), "jitinfo_console_history.txt"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          c.out,
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		out, err := c.Eval(line)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(c.out, out)
		}
	}
}

func (c *console) Close() error {
	if c.idx == nil {
		return nil
	}
	return c.idx.Close()
}
