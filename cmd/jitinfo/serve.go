package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/jamjit/announce"
	log "github.com/colorfulnotion/jamjit/log"
)

func newServeCmd(g *globals) *cobra.Command {
	var (
		addr     string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Stream code announcements over websocket and export metrics",
		Long: "Serve /announce (websocket stream of JSON announcement records) and\n" +
			"/metrics (prometheus). With --interval the self test runs periodically so\n" +
			"there is something to watch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if addr == "" {
				addr = g.cfg.Announce.StreamAddr
			}
			if addr == "" {
				addr = g.cfg.Telemetry.MetricsAddr
			}
			if addr == "" {
				return fmt.Errorf("no listen address: pass --addr or set announce.stream_addr")
			}

			opts := g.cfg.AnnounceOptions()
			opts.Stream = true
			sinks, err := announce.Open(ctx, opts)
			if err != nil {
				return err
			}
			defer sinks.Close()

			mux := metricsMux()
			mux.Handle("/announce", sinks.Stream)
			log.Info(log.AnnounceModule, "serving", "addr", addr, "sinks", sinks.Len())

			var wg sync.WaitGroup
			defer wg.Wait()
			if interval > 0 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ticker := time.NewTicker(interval)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return
						case <-ticker.C:
							if err := selftest(io.Discard, g.cfg, sinks, false); err != nil {
								log.Warn(log.JitModule, "periodic selftest failed", "err", err)
							}
						}
					}
				}()
			}
			err = serveHTTP(ctx, addr, mux)
			cancel()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default announce.stream_addr)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "run the self test this often, 0 disables")
	return cmd
}
