package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/jamjit/modcomp"
)

func newCheckCmd(g *globals) *cobra.Command {
	var cpu string
	cmd := &cobra.Command{
		Use:   "check <artifact>...",
		Short: "Report whether cached artifacts match a cpu",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cpu == "" {
				cpu = g.cfg.Modcomp.CPU
			}
			c := modcomp.New(nil, cpu)
			defer c.Close()

			out := cmd.OutOrStdout()
			stale := 0
			for _, path := range args {
				h, err := modcomp.ReadHeader(path)
				switch {
				case err != nil:
					stale++
					fmt.Fprintf(out, "%s: unreadable: %v\n", path, err)
				case c.Check(path):
					fmt.Fprintf(out, "%s: ok (%s)\n", path, h.CPU)
				default:
					stale++
					fmt.Fprintf(out, "%s: stale (built for %s/%016x, want %s/%016x)\n",
						path, h.CPU, h.FeatureHash, c.CPU(), modcomp.FeatureHash(c.CPU()))
				}
			}
			if stale > 0 {
				return fmt.Errorf("%d of %d artifacts need rebuilding", stale, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cpu, "cpu", "", "cpu to check against (default from config)")
	return cmd
}
