// ABOUTME: Scan command: classifies a string, hex bytes or a file through the AMSI-style client
// ABOUTME: Strings go through ScanString (UTF-16LE); bytes go through ScanBuffer

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-lens/internal/amsi"
	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// demoBuffer is the binary sample scanned by --demo-buffer.
var demoBuffer = []byte{0xDE, 0xAD, 0xBE, 0xEF}

type scanOptions struct {
	hexInput    string
	file        string
	demoBuffer  bool
	outputJSON  bool
	appName     string
	contentName string
}

func newScanCmd() *cobra.Command {
	var opts scanOptions

	cmd := &cobra.Command{
		Use:   "scan [string]",
		Short: "Scan a string, hex bytes or a file",
		Long: `Scan content against the active signature set.

A string argument is encoded as UTF-16LE and scanned the way a script
host submits text. --hex and --file scan raw bytes instead, so their
encoding is chosen by length (even: UTF-16LE, odd: UTF-8).

Examples:
  hikmaai-lens scan "Invoke-Expression (Get-Content x.ps1)"
  hikmaai-lens scan --hex 49455820
  hikmaai-lens scan --file suspicious.ps1 --json
  hikmaai-lens scan "Write-Host 'Hello World'" --demo-buffer`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.hexInput == "" && opts.file == "" && !opts.demoBuffer {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Usage: hikmaai-lens scan <string_to_scan>")
				fmt.Fprintln(out, `Example: hikmaai-lens scan "Write-Host 'Hello World'"`)
				return errUsage
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			db, err := openSignatureDB(cfg, true, logger)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}
			store, _, err := startupStore(cmd.Context(), cfg, db, logger)
			if err != nil {
				return err
			}

			eng := engine.NewEngine(engine.EngineConfig{
				Store:      store,
				Classifier: cfg.Classifier.Options(),
				Logger:     logger,
			})
			defer eng.Close()
			return runScan(cmd.Context(), cmd.OutOrStdout(), eng, args, opts, cfg.Classifier.MaxScanSize)
		},
	}

	cmd.Flags().StringVar(&opts.hexInput, "hex", "", "scan hex-encoded bytes")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "scan the bytes of a file (- for stdin)")
	cmd.Flags().BoolVar(&opts.demoBuffer, "demo-buffer", false, "also scan the sample buffer DE AD BE EF")
	cmd.Flags().BoolVarP(&opts.outputJSON, "json", "j", false, "output scan results as JSON")
	cmd.Flags().StringVar(&opts.appName, "app-name", "hikmaai-lens", "application name reported with each scan")
	cmd.Flags().StringVar(&opts.contentName, "content-name", "TestInput", "content name reported with each scan")

	return cmd
}

// scanItem is one piece of content and the client call it goes through.
type scanItem struct {
	label string
	text  *string
	data  []byte
}

func collectItems(args []string, opts scanOptions) ([]scanItem, error) {
	var items []scanItem

	if len(args) > 0 {
		items = append(items, scanItem{label: "AmsiScanString", text: &args[0]})
	}
	if opts.hexInput != "" {
		data, err := hex.DecodeString(strings.ReplaceAll(opts.hexInput, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("decoding --hex: %w", err)
		}
		items = append(items, scanItem{label: "AmsiScanBuffer", data: data})
	}
	if opts.file != "" {
		data, err := readInput(opts.file)
		if err != nil {
			return nil, err
		}
		items = append(items, scanItem{label: "AmsiScanBuffer", data: data})
	}
	if opts.demoBuffer {
		items = append(items, scanItem{label: "AmsiScanBuffer", data: demoBuffer})
	}
	return items, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func runScan(ctx context.Context, out io.Writer, eng *engine.Engine, args []string, opts scanOptions, maxScanSize int) error {
	items, err := collectItems(args, opts)
	if err != nil {
		return err
	}

	if opts.outputJSON {
		return scanJSON(ctx, out, eng, items, opts)
	}

	client, err := amsi.Initialize(opts.appName, amsi.NewProvider(eng, maxScanSize))
	if err != nil {
		return fmt.Errorf("initializing scan context: %w", err)
	}
	defer client.Uninitialize()

	session, err := client.OpenSession()
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer client.CloseSession(session)

	for _, item := range items {
		var strength types.Strength
		if item.text != nil {
			strength, err = session.ScanString(ctx, *item.text, opts.contentName)
		} else {
			strength, err = session.ScanBuffer(ctx, item.data, opts.contentName)
		}
		if err != nil {
			fmt.Fprintf(out, "%s failed: %v\n", item.label, err)
			continue
		}
		fmt.Fprintln(out, formatStrength(item.label, strength))
	}
	return nil
}

// formatStrength renders one verdict line.
func formatStrength(label string, s types.Strength) string {
	if amsi.ResultIsMalware(s) {
		return fmt.Sprintf("%s: MALWARE detected (result=%d)", label, s)
	}
	return fmt.Sprintf("%s: CLEAN (result=%d)", label, s)
}

type jsonScanResult struct {
	Call      string           `json:"call"`
	IsMalware bool             `json:"is_malware"`
	Result    types.ScanResult `json:"result"`
}

func scanJSON(ctx context.Context, out io.Writer, eng *engine.Engine, items []scanItem, opts scanOptions) error {
	results := make([]jsonScanResult, 0, len(items))
	for _, item := range items {
		content := item.data
		if item.text != nil {
			encoded, err := amsi.EncodeUTF16LE(*item.text)
			if err != nil {
				return err
			}
			content = encoded
		}

		res, err := eng.Scan(ctx, types.ScanRequest{
			Content:     content,
			ContentName: opts.contentName,
			AppName:     opts.appName,
			Channel:     "cli",
		})
		if err != nil {
			return fmt.Errorf("%s: %w", item.label, err)
		}
		results = append(results, jsonScanResult{Call: item.label, IsMalware: res.IsMalware(), Result: res})
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
