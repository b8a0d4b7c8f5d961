package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/jamjit/modcomp"
)

func newCPUCmd(g *globals) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "cpu [name]",
		Short: "Show the host cpu and how a requested cpu name resolves",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			host := modcomp.Host()
			fmt.Fprintf(out, "host:     %s\n", host)

			requested := g.cfg.Modcomp.CPU
			if len(args) == 1 {
				requested = args[0]
			}
			resolved := modcomp.CPU(requested)
			fmt.Fprintf(out, "request:  %q\n", requested)
			fmt.Fprintf(out, "cpu:      %s\n", resolved)
			fmt.Fprintf(out, "hash:     %016x\n", modcomp.FeatureHash(resolved))
			fmt.Fprintf(out, "features: %s\n", strings.Join(modcomp.Features(resolved), " "))

			if all {
				fmt.Fprintln(out, "levels:")
				for _, lvl := range modcomp.Levels() {
					fmt.Fprintf(out, "  %-10s %016x\n", lvl, modcomp.FeatureHash(lvl))
				}
				fmt.Fprintf(out, "host features: %s\n", strings.Join(host.Features, " "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "also list every level and the raw host feature set")
	return cmd
}
