// ABOUTME: CSV feed parser for spreadsheet-maintained pattern lists
// ABOUTME: Parses rows with configurable column mapping, comments and an optional header

package feeds

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// CSVConfig holds configuration for CSV parsing.
// Column indices are 0-based; -1 means not present.
type CSVConfig struct {
	PatternColumn  int `toml:"pattern_column"`
	NameColumn     int `toml:"name_column"`
	StrengthColumn int `toml:"strength_column"`
	CategoryColumn int `toml:"category_column"`

	// Skip the first record (header).
	SkipHeader bool `toml:"skip_header"`

	// Lines starting with Comment are skipped. Zero means '#'.
	Comment rune `toml:"-"`

	// Delimiter between fields. Zero means ','.
	Delimiter rune `toml:"-"`
}

// DefaultCSVConfig maps pattern,name,strength,category.
func DefaultCSVConfig() CSVConfig {
	return CSVConfig{
		PatternColumn:  0,
		NameColumn:     1,
		StrengthColumn: 2,
		CategoryColumn: 3,
		Comment:        '#',
		Delimiter:      ',',
	}
}

// CSVFeed parses CSV formatted signature feeds.
type CSVFeed struct {
	name   string
	config CSVConfig
}

// NewCSVFeed creates a new CSV feed parser.
func NewCSVFeed(name string, config CSVConfig) *CSVFeed {
	// A zero mapping has pattern and name on the same column.
	if config.PatternColumn == config.NameColumn {
		def := DefaultCSVConfig()
		def.SkipHeader = config.SkipHeader
		def.Comment, def.Delimiter = config.Comment, config.Delimiter
		config = def
	}
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	if config.Comment == 0 {
		config.Comment = '#'
	}

	return &CSVFeed{name: name, config: config}
}

// Name returns the name of the feed.
func (f *CSVFeed) Name() string {
	return f.name
}

// Parse parses signatures from a CSV reader. Bad rows are counted and skipped.
func (f *CSVFeed) Parse(ctx context.Context, r io.Reader) (*FeedResult, error) {
	reader := csv.NewReader(r)
	reader.Comma = f.config.Delimiter
	reader.Comment = f.config.Comment
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	res := &FeedResult{Stats: FeedStats{Name: f.name}}
	first := true

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Errors = append(res.Errors, err)
				continue
			}
			return nil, fmt.Errorf("reading csv feed %s: %w", f.name, err)
		}

		if first {
			first = false
			if f.config.SkipHeader {
				continue
			}
		}

		line, _ := reader.FieldPos(0)
		sig, err := f.parseRecord(record)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		res.Signatures = append(res.Signatures, sig)
	}

	res.Stats.SignatureCount = len(res.Signatures)
	res.Stats.ErrorCount = len(res.Errors)
	return res, nil
}

func (f *CSVFeed) parseRecord(fields []string) (types.Signature, error) {
	sig := types.Signature{
		Pattern:  getField(fields, f.config.PatternColumn),
		Name:     getField(fields, f.config.NameColumn),
		Strength: types.StrengthDetected,
		Category: types.ParseCategory(getField(fields, f.config.CategoryColumn)),
		Source:   f.name,
	}

	if raw := getField(fields, f.config.StrengthColumn); raw != "" {
		n, err := strconv.ParseUint(raw, 0, 32)
		if err != nil {
			return types.Signature{}, fmt.Errorf("invalid strength %q", raw)
		}
		sig.Strength = types.Strength(n)
	}

	if err := sig.Validate(); err != nil {
		return types.Signature{}, err
	}
	return sig, nil
}

// getField returns the trimmed field at index, or "" if absent.
func getField(fields []string, index int) string {
	if index < 0 || index >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[index])
}
