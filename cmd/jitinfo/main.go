// jitinfo inspects the jamjit runtime: host cpu levels, cached module
// artifacts, announced symbols, and a native self test.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/colorfulnotion/jamjit/config"
	log "github.com/colorfulnotion/jamjit/log"
)

var (
	Version = "dev"
	Commit  = "none"
)

type globals struct {
	configPath string
	logLevel   string
	debug      string
	otlp       string

	cfg *config.Config
	tp  *sdktrace.TracerProvider
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&globals{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "jitinfo: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(g *globals) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "jitinfo",
		Short:         "Inspect jamjit code regions, module caches and symbols",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return g.shutdown(context.Background())
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&g.logLevel, "log-level", "", "log level (overrides config)")
	flags.StringVar(&g.debug, "debug", "", "comma separated modules to log at debug, or 'all'")
	flags.StringVar(&g.otlp, "otlp", "", "OTLP/HTTP trace endpoint host:port (overrides config)")

	rootCmd.AddCommand(
		newCPUCmd(g),
		newCheckCmd(g),
		newCompileCmd(g),
		newInspectCmd(g),
		newSymbolizeCmd(g),
		newSelftestCmd(g),
		newServeCmd(g),
		newDiffCmd(g),
		newGraphCmd(g),
		newConsoleCmd(g),
		newVersionCmd(),
	)
	return rootCmd
}

func (g *globals) setup(ctx context.Context) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.debug != "" {
		cfg.Log.Modules = g.debug
	}
	if g.otlp != "" {
		cfg.Telemetry.OTLPEndpoint = g.otlp
	}
	if err := log.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	g.cfg = cfg

	if cfg.Log.Modules != "" {
		log.EnableModules(cfg.Log.Modules)
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		tp, err := newTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		otel.SetTracerProvider(tp)
		g.tp = tp
	}
	return nil
}

func (g *globals) shutdown(ctx context.Context) error {
	if g.tp == nil {
		return nil
	}
	return g.tp.Shutdown(ctx)
}
