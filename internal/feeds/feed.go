// ABOUTME: Feed interface for signature sources and the per-format constructor
// ABOUTME: A feed turns a rule document into ordered signature entries

package feeds

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hikmaai-io/hikmaai-lens/internal/signatures"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// Feed represents a signature feed parser.
type Feed interface {
	// Name returns the name of the feed.
	Name() string

	// Parse reads signatures from r in document order.
	Parse(ctx context.Context, r io.Reader) (*FeedResult, error)
}

// FeedStats contains statistics about a parsed feed.
type FeedStats struct {
	Name           string `json:"name"`
	SignatureCount int    `json:"signature_count"`

	// Rows that could not be turned into a signature.
	ErrorCount int `json:"error_count"`
}

// FeedResult contains the result of a feed parse operation.
type FeedResult struct {
	Signatures []types.Signature
	Stats      FeedStats
	Errors     []error
}

// Formats understood by New.
const (
	FormatBuiltin   = "builtin"
	FormatTestFiles = "testfiles"
	FormatJSON      = "json"
	FormatTOML      = "toml"
	FormatCSV       = "csv"
)

// Config describes one configured feed.
type Config struct {
	Name string `toml:"name"`

	// Format is one of builtin, testfiles, json, toml or csv.
	// Empty infers json or toml from the URI extension.
	Format string `toml:"format"`

	// URI is a local path, file://, http(s):// or gs:// location.
	// Ignored by the builtin and testfiles formats.
	URI string `toml:"uri"`

	CSV CSVConfig `toml:"csv"`
}

// NeedsSource reports whether the feed reads a document from URI.
func (c Config) NeedsSource() bool {
	f := strings.ToLower(c.Format)
	return f != FormatBuiltin && f != FormatTestFiles
}

// New returns the parser for cfg.
func New(cfg Config) (Feed, error) {
	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = string(signatures.FormatFromPath(cfg.URI))
	}
	name := cfg.Name
	if name == "" {
		name = format
	}

	switch format {
	case FormatBuiltin:
		return NewStaticFeed(name, signatures.DefaultEntries()), nil
	case FormatTestFiles:
		return NewStaticFeed(name, TestFileSignatures()), nil
	case FormatJSON:
		return NewRuleFileFeed(name, signatures.FormatJSON), nil
	case FormatTOML:
		return NewRuleFileFeed(name, signatures.FormatTOML), nil
	case FormatCSV:
		return NewCSVFeed(name, cfg.CSV), nil
	default:
		return nil, fmt.Errorf("feed %q: unknown format %q", name, cfg.Format)
	}
}
