// ABOUTME: Signature set commands: list, validate, export and import
// ABOUTME: Import persists a rule file as the set the daemon starts with

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-lens/internal/signatures"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

func newSignaturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "signatures",
		Aliases: []string{"sigs"},
		Short:   "Inspect and manage the signature set",
		Long:    `Commands for inspecting, validating, exporting and persisting signature sets.`,
	}

	cmd.AddCommand(newSignaturesListCmd())
	cmd.AddCommand(newSignaturesValidateCmd())
	cmd.AddCommand(newSignaturesExportCmd())
	cmd.AddCommand(newSignaturesImportCmd())

	return cmd
}

// loadActiveStore returns the set a process would start with, without
// creating the signature database when it does not exist yet.
func loadActiveStore(ctx context.Context, w io.Writer) (*signatures.Store, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	logger := newLogger(cfg, w)

	db, err := openSignatureDB(cfg, true, logger)
	if err != nil {
		return nil, "", err
	}
	if db != nil {
		defer db.Close()
	}
	return startupStore(ctx, cfg, db, logger)
}

func newSignaturesListCmd() *cobra.Command {
	var (
		showPatterns bool
		outputJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the active signatures in probe order",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, source, err := loadActiveStore(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outputJSON {
				return printSignaturesJSON(out, store, source, showPatterns)
			}
			printSignatures(out, store, source, showPatterns)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showPatterns, "show-patterns", false, "include match patterns in the output")
	cmd.Flags().BoolVarP(&outputJSON, "json", "j", false, "output as JSON")

	return cmd
}

func printSignatures(w io.Writer, store *signatures.Store, source string, showPatterns bool) {
	fmt.Fprintf(w, "Signature set %s (%d entries, source %s)\n\n", store.Version(), store.Len(), source)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if showPatterns {
		fmt.Fprintln(tw, "#\tNAME\tSTRENGTH\tCATEGORY\tPATTERN")
	} else {
		fmt.Fprintln(tw, "#\tNAME\tSTRENGTH\tCATEGORY")
	}

	i := 0
	for sig := range store.Entries() {
		i++
		if showPatterns {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%q\n", i, sig.Name, sig.Strength, sig.Category, sig.Pattern)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i, sig.Name, sig.Strength, sig.Category)
	}
	_ = tw.Flush()
}

type signatureSetView struct {
	Fingerprint string            `json:"fingerprint"`
	Version     string            `json:"version"`
	Source      string            `json:"source"`
	Count       int               `json:"count"`
	Signatures  []types.Signature `json:"signatures"`
}

func printSignaturesJSON(w io.Writer, store *signatures.Store, source string, showPatterns bool) error {
	view := signatureSetView{
		Fingerprint: store.Fingerprint(),
		Version:     store.Version(),
		Source:      source,
		Count:       store.Len(),
		Signatures:  make([]types.Signature, 0, store.Len()),
	}
	for sig := range store.Entries() {
		if !showPatterns {
			sig.Pattern = ""
		}
		view.Signatures = append(view.Signatures, sig)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func newSignaturesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a rule file builds into a signature set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := signatures.LoadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: OK\n", args[0])
			fmt.Fprintf(out, "  Signatures:  %d\n", store.Len())
			fmt.Fprintf(out, "  Fingerprint: %s\n", store.Fingerprint())
			return nil
		},
	}
}

func newSignaturesExportCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the active signature set as a rule file",
		Long: `Write the active signature set, patterns included, as a JSON or TOML
rule file that validate and import accept.

Example:
  hikmaai-lens signatures export --format toml -o rules.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := signatures.ParseFormat(format)
			if err != nil {
				return err
			}
			store, _, err := loadActiveStore(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return signatures.Encode(cmd.OutOrStdout(), f, store)
			}
			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}
			if err := signatures.Encode(file, f, store); err != nil {
				file.Close()
				return err
			}
			return file.Close()
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "output format (json, toml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func newSignaturesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Persist a rule file as the stored signature set",
		Long: `Validate a rule file and store it in the signature database. With
signatures.load_persisted enabled, every later start uses the stored set
instead of the builtin table and configured files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := signatures.LoadFile(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			db, err := openSignatureDB(cfg, false, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			meta, err := db.Save(cmd.Context(), store, args[0])
			if err != nil {
				return fmt.Errorf("saving signature set: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d signatures into %s\n", meta.Count, cfg.SignatureDBPath())
			fmt.Fprintf(out, "  Fingerprint: %s\n", meta.Fingerprint)
			if !cfg.Signatures.LoadPersisted {
				fmt.Fprintln(out, "  Note: signatures.load_persisted is off; the stored set is not used at startup")
			}
			return nil
		},
	}
}
