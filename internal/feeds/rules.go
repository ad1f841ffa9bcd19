// ABOUTME: Static and rule-file feeds: built-in tables plus JSON and TOML documents
// ABOUTME: Rule-file entries inherit the feed name as their source when none is set

package feeds

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/hikmaai-io/hikmaai-lens/internal/signatures"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// StaticFeed serves a fixed table and ignores its reader.
type StaticFeed struct {
	name    string
	entries []types.Signature
}

// NewStaticFeed creates a feed over entries.
func NewStaticFeed(name string, entries []types.Signature) *StaticFeed {
	return &StaticFeed{name: name, entries: entries}
}

// Name returns the name of the feed.
func (f *StaticFeed) Name() string {
	return f.name
}

// Parse returns a copy of the table.
func (f *StaticFeed) Parse(ctx context.Context, _ io.Reader) (*FeedResult, error) {
	sigs := slices.Clone(f.entries)
	return &FeedResult{
		Signatures: sigs,
		Stats:      FeedStats{Name: f.name, SignatureCount: len(sigs)},
	}, nil
}

// RuleFileFeed parses JSON or TOML rule documents.
type RuleFileFeed struct {
	name   string
	format signatures.Format
}

// NewRuleFileFeed creates a rule-file parser.
func NewRuleFileFeed(name string, format signatures.Format) *RuleFileFeed {
	return &RuleFileFeed{name: name, format: format}
}

// Name returns the name of the feed.
func (f *RuleFileFeed) Name() string {
	return f.name
}

// Parse decodes the whole document. Invalid entries are reported and skipped.
func (f *RuleFileFeed) Parse(ctx context.Context, r io.Reader) (*FeedResult, error) {
	entries, err := signatures.Decode(r, f.format)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", f.name, err)
	}

	res := &FeedResult{Stats: FeedStats{Name: f.name}}
	for i, sig := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := sig.Validate(); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		if sig.Source == "" {
			sig.Source = f.name
		}
		res.Signatures = append(res.Signatures, sig)
	}

	res.Stats.SignatureCount = len(res.Signatures)
	res.Stats.ErrorCount = len(res.Errors)
	return res, nil
}
