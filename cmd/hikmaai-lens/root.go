// ABOUTME: Root command for hikmaai-lens CLI
// ABOUTME: Sets up global flags, config loading and subcommands

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-lens/internal/config"
	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
)

// errUsage is returned after usage text has already been printed.
var errUsage = errors.New("usage")

// Global flags.
var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hikmaai-lens",
		Short: "HikmaAI Lens - signature-based script content classifier",
		Long: `HikmaAI Lens classifies script and text content against an ordered
table of case-insensitive signatures, the way an antimalware scan
interface provider does for script hosts.

Content is decoded as UTF-16LE when its length is even, UTF-8 otherwise,
and only the first 1 MiB is examined. The first matching signature names
the detection.

Runs as a one-shot scanner, or as a daemon serving HTTP, NATS and
Redis Streams requests.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultConfigPath(), "config file (TOML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text); overrides config")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newSignaturesCmd())
	cmd.AddCommand(newFeedsCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newDaemonCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hikmaai-lens version %s\n", version)
			fmt.Fprintf(out, "  Git SHA:    %s\n", gitSHA)
			fmt.Fprintf(out, "  Build Time: %s\n", buildTime)
		},
	}
}

// loadConfig reads the config file and applies the global log flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

// newLogger builds the process logger. w defaults to stderr so command
// output on stdout stays machine readable.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lc := cfg.Logging
	lc.ServiceName = "hikmaai-lens"
	lc.Version = version
	return observability.NewLogger(lc, w)
}
