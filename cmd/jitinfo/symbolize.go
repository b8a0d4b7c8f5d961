package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/jamjit/announce"
)

func newSymbolizeCmd(g *globals) *cobra.Command {
	var (
		db      string
		perfMap string
	)
	cmd := &cobra.Command{
		Use:   "symbolize [addr]...",
		Short: "Resolve code addresses to announced symbols",
		Long: "Resolve hex addresses against the symbol index (announce.symbol_db) or a\n" +
			"perf map file. With no addresses every known symbol is listed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs := make([]uint64, 0, len(args))
			for _, a := range args {
				v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(a), "0x"), 16, 64)
				if err != nil {
					return fmt.Errorf("bad address %q: %w", a, err)
				}
				addrs = append(addrs, v)
			}

			var (
				records []announce.Record
				resolve func(uint64) string
			)
			if perfMap != "" {
				recs, err := announce.ParsePerfMap(perfMap)
				if err != nil {
					return err
				}
				records = recs
				resolve = func(addr uint64) string { return symbolizeRecords(recs, addr) }
			} else {
				if db == "" {
					db = g.cfg.Announce.SymbolDB
				}
				if db == "" {
					return fmt.Errorf("no symbol index: set announce.symbol_db or pass --db or --perf-map")
				}
				idx, err := announce.OpenSymbolIndex(db)
				if err != nil {
					return err
				}
				defer idx.Close()
				if len(addrs) == 0 {
					if records, err = idx.Records(); err != nil {
						return err
					}
				}
				resolve = idx.Symbolize
			}

			out := cmd.OutOrStdout()
			if len(addrs) == 0 {
				for _, rec := range records {
					fmt.Fprintln(out, rec.String())
				}
				return nil
			}
			for _, addr := range addrs {
				fmt.Fprintf(out, "%#x %s\n", addr, resolve(addr))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "symbol index directory (default from config)")
	cmd.Flags().StringVar(&perfMap, "perf-map", "", "read a perf-<pid>.map file instead of the index")
	return cmd
}

// symbolizeRecords mirrors SymbolIndex.Symbolize over a perf map; later
// records shadow earlier ones covering the same address.
func symbolizeRecords(recs []announce.Record, addr uint64) string {
	for i := len(recs) - 1; i >= 0; i-- {
		if rec := recs[i]; rec.Contains(addr) {
			if off := addr - rec.Addr; off != 0 {
				return fmt.Sprintf("%s+0x%x", rec.Name, off)
			}
			return rec.Name
		}
	}
	return fmt.Sprintf("0x%x", addr)
}
