package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

func newDiffCmd(g *globals) *cobra.Command {
	var color bool
	cmd := &cobra.Command{
		Use:   "diff <artifact> <artifact>",
		Short: "Compare the symbols, relocations and code digest of two artifacts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			left, err := loadSummary(args[0])
			if err != nil {
				return err
			}
			right, err := loadSummary(args[1])
			if err != nil {
				return err
			}
			same, err := diffSummaries(cmd.OutOrStdout(), left, right, color)
			if err != nil {
				return err
			}
			if !same {
				return fmt.Errorf("artifacts differ")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&color, "color", false, "ANSI colored output")
	return cmd
}

// diffSummaries writes an ascii JSON diff of two summaries and reports
// whether they match.
func diffSummaries(w io.Writer, left, right artifactSummary, color bool) (bool, error) {
	lb, err := json.Marshal(left)
	if err != nil {
		return false, err
	}
	rb, err := json.Marshal(right)
	if err != nil {
		return false, err
	}
	delta, err := gojsondiff.New().Compare(lb, rb)
	if err != nil {
		return false, fmt.Errorf("diffing summaries: %w", err)
	}
	if !delta.Modified() {
		fmt.Fprintf(w, "identical (%s, digest %s)\n", left.Module, left.Digest)
		return true, nil
	}

	var leftObj map[string]any
	if err := json.Unmarshal(lb, &leftObj); err != nil {
		return false, err
	}
	asciiFmt := formatter.NewAsciiFormatter(leftObj, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       color,
	})
	out, err := asciiFmt.Format(delta)
	if err != nil {
		return false, fmt.Errorf("formatting diff: %w", err)
	}
	fmt.Fprint(w, out)
	return false, nil
}
