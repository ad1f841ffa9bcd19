// ABOUTME: Feed commands: list the configured feeds and run a one-shot update
// ABOUTME: An update builds one ordered set from every feed and persists it

package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-lens/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	"github.com/hikmaai-io/hikmaai-lens/internal/feeds"
)

func newFeedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Manage signature feeds",
		Long: `Commands for the feeds the signature set is built from.

Feeds are concatenated in configured order, so an earlier feed wins
when two patterns match the same content. Formats:
  builtin    - the compiled-in PowerShell table
  testfiles  - EICAR and AMSI test sample signatures
  json, toml - rule files from a path, http(s):// or gs:// URI
  csv        - pattern,name,strength,category rows`,
	}

	cmd.AddCommand(newFeedsListCmd())
	cmd.AddCommand(newFeedsUpdateCmd())

	return cmd
}

func newFeedsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured feeds in probe order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			printFeeds(cmd.OutOrStdout(), cfg.Update.FeedConfigs())
			return nil
		},
	}
}

func printFeeds(w io.Writer, configs []feeds.Config) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tFORMAT\tURI")
	for i, fc := range configs {
		name, format := fc.Name, fc.Format
		if feed, err := feeds.New(fc); err == nil {
			name = feed.Name()
		}
		if format == "" {
			format = "(from extension)"
		}
		uri := fc.URI
		if !fc.NeedsSource() {
			uri = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, name, format, uri)
	}
	_ = tw.Flush()
}

func newFeedsUpdateCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Fetch every feed and store the resulting signature set",
		Long: `Fetch every configured feed, build one ordered signature set and store
it in the signature database. Either every feed is fetched and the set
builds, or nothing is stored.

Example:
  hikmaai-lens feeds update
  hikmaai-lens feeds update --check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			gcsClient, err := openGCS(ctx, cfg, needsGCS(cfg))
			if err != nil {
				return err
			}
			if gcsClient != nil {
				defer gcsClient.Close()
			}

			sources, err := feedSources(cfg, newSourceOptions(cfg, gcsClient))
			if err != nil {
				return err
			}

			db, err := openSignatureDB(cfg, false, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			// The stored set is the baseline, so an unchanged feed set is skipped.
			current, _, err := startupStore(ctx, cfg, db, logger)
			if err != nil {
				return err
			}
			eng := engine.NewEngine(engine.EngineConfig{Store: current, Logger: logger})
			defer eng.Close()

			updater := dbupdater.NewSignatureSetUpdater(dbupdater.SignatureSetUpdaterConfig{
				Feeds:  sources,
				Engine: eng,
				DB:     db,
				Logger: logger,
			})

			out := cmd.OutOrStdout()
			if check {
				res, err := updater.CheckForUpdates(ctx)
				if err != nil {
					return err
				}
				if res.NeedsUpdate() {
					fmt.Fprintf(out, "Update available: %s -> %s (%d signatures)\n",
						dbupdater.ShortFingerprint(res.CurrentFingerprint), dbupdater.ShortFingerprint(res.AvailableFingerprint), res.AvailableCount)
				} else {
					fmt.Fprintln(out, "Signature set is up to date")
				}
				return nil
			}

			res, err := updater.Update(ctx)
			if err != nil {
				return fmt.Errorf("updating signatures: %w", err)
			}
			printUpdateResult(out, res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "only report whether the feeds produce a different set")

	return cmd
}

func printUpdateResult(w io.Writer, res *dbupdater.UpdateResult) {
	switch {
	case res.Installed > 0:
		fmt.Fprintf(w, "Stored signature set %s\n", res.Fingerprint)
	default:
		fmt.Fprintf(w, "Signature set %s unchanged\n", res.Fingerprint)
	}

	names := make([]string, 0, len(res.FeedCounts))
	for name := range res.FeedCounts {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-12s %d signatures\n", name, res.FeedCounts[name])
	}
	fmt.Fprintf(w, "Completed in %v\n", res.Duration)
}
