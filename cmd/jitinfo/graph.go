package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/spf13/cobra"
)

func newGraphCmd(g *globals) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "graph <artifact>",
		Short: "Render the symbol reference graph of an artifact as HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSummary(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return renderGraph(w, s)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "HTML output file (default stdout)")
	return cmd
}

// renderGraph draws one node per symbol, sized by code bytes, and one link
// per relocation. Targets outside the artifact are drawn grey.
func renderGraph(w io.Writer, s artifactSummary) error {
	nodes, links := graphData(s)

	graph := charts.NewGraph()
	graph.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    s.Module,
			Subtitle: fmt.Sprintf("%s, %d bytes, %d symbols", s.CPU, s.CodeSize, len(s.Symbols)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	graph.AddSeries("symbols", nodes, links).SetSeriesOptions(
		charts.WithGraphChartOpts(opts.GraphChart{
			Force:              &opts.GraphForce{Repulsion: 800, Gravity: 0.2},
			Layout:             "force",
			Roam:               opts.Bool(true),
			EdgeSymbol:         []string{"none", "arrow"},
			FocusNodeAdjacency: opts.Bool(true),
		}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "right", Formatter: "{b}"}),
	)

	page := components.NewPage()
	page.AddCharts(graph)
	return page.Render(w)
}

func graphData(s artifactSummary) ([]opts.GraphNode, []opts.GraphLink) {
	local := make(map[string]bool, len(s.Symbols))
	nodes := make([]opts.GraphNode, 0, len(s.Symbols))
	for _, sym := range s.Symbols {
		local[sym.Name] = true
		nodes = append(nodes, opts.GraphNode{
			Name:       sym.Name,
			SymbolSize: 10 + sym.Size/4,
			ItemStyle:  &opts.ItemStyle{Color: "steelblue"},
			Tooltip: &opts.Tooltip{
				Show:      opts.Bool(true),
				Formatter: types.FuncStr(fmt.Sprintf("%s<br/>+0x%x, %d bytes", sym.Name, sym.Offset, sym.Size)),
			},
		})
	}

	seen := make(map[[2]string]bool)
	var links []opts.GraphLink
	for _, r := range s.Relocs {
		if !local[r.Symbol] {
			local[r.Symbol] = true
			nodes = append(nodes, opts.GraphNode{
				Name:       r.Symbol,
				SymbolSize: 10,
				ItemStyle:  &opts.ItemStyle{Color: "grey"},
			})
		}
		key := [2]string{r.From, r.Symbol}
		if r.From == "" || seen[key] {
			continue
		}
		seen[key] = true
		links = append(links, opts.GraphLink{Source: r.From, Target: r.Symbol})
	}
	return nodes, links
}
