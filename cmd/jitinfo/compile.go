package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/colorfulnotion/jamjit/modcomp"
)

func newCompileCmd(g *globals) *cobra.Command {
	var cpu string
	cmd := &cobra.Command{
		Use:   "compile [artifact]",
		Short: "Compile the demo module into a cache artifact",
		Long: "Compile the built-in demo module for a cpu and store it as a cache artifact.\n" +
			"Without a path the artifact goes to <modcomp.cache_dir>/demo-<cpu>.jjit.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cpu == "" {
				cpu = g.cfg.Modcomp.CPU
			}
			c := modcomp.New(nil, cpu, modcomp.WithTracerProvider(otel.GetTracerProvider()))
			defer c.Close()

			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				if g.cfg.Modcomp.CacheDir == "" {
					return fmt.Errorf("no artifact path and modcomp.cache_dir is unset")
				}
				path = filepath.Join(g.cfg.Modcomp.CacheDir, fmt.Sprintf("demo-%s.jjit", c.CPU()))
			}

			hit := c.Check(path)
			if err := c.Add(demoModule(), path); err != nil {
				return err
			}
			state := "compiled"
			if hit {
				state = "cached"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s for %s\n", path, state, c.CPU())
			return nil
		},
	}
	cmd.Flags().StringVar(&cpu, "cpu", "", "target cpu (default from config)")
	return cmd
}
