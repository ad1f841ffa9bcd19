// ABOUTME: Updater contract that the Scheduler runs, plus its result types
// ABOUTME: Results and versions render as key=value summaries for logs and the CLI

package dbupdater

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Updater refreshes one installed artifact.
type Updater interface {
	Name() string
	// Update performs one pass. A failed pass returns a result describing it
	// along with the error.
	Update(ctx context.Context) (*UpdateResult, error)
	// CheckForUpdates reports what Update would install without installing it.
	CheckForUpdates(ctx context.Context) (*CheckResult, error)
	GetVersionInfo() VersionInfo
	// IsReady reports whether a usable set is installed.
	IsReady() bool
}

// UpdateResult describes one Update pass.
type UpdateResult struct {
	Success bool
	// Installed and Skipped are 0 or 1: the pass either swapped in a new
	// set or found the active one unchanged.
	Installed int
	Skipped   int
	// Failed counts feeds that could not be fetched or parsed.
	Failed   int
	Duration time.Duration
	Error    string
	// Fingerprint of the set the pass produced.
	Fingerprint string
	// FeedCounts is entries contributed per feed.
	FeedCounts map[string]int
}

func (r *UpdateResult) String() string {
	var b strings.Builder
	if r.Success {
		b.WriteString("success")
	} else {
		b.WriteString("failed")
	}
	fmt.Fprintf(&b, " installed=%d skipped=%d", r.Installed, r.Skipped)
	if r.Failed > 0 {
		fmt.Fprintf(&b, " failed=%d", r.Failed)
	}
	if r.Fingerprint != "" {
		fmt.Fprintf(&b, " fingerprint=%s", ShortFingerprint(r.Fingerprint))
	}
	fmt.Fprintf(&b, " duration=%v", r.Duration)
	if r.Error != "" {
		fmt.Fprintf(&b, " error=%q", r.Error)
	}
	return b.String()
}

// CheckResult compares the active set with what the feeds currently produce.
type CheckResult struct {
	CurrentFingerprint   string
	AvailableFingerprint string
	AvailableCount       int
}

// NeedsUpdate is true when the feeds produce a different set.
func (r *CheckResult) NeedsUpdate() bool {
	return r.AvailableFingerprint != "" && r.AvailableFingerprint != r.CurrentFingerprint
}

func (v VersionInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fingerprint=%s count=%d", ShortFingerprint(v.Fingerprint), v.Count)
	if !v.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, " updated=%s", v.UpdatedAt.Format(time.RFC3339))
	}
	if len(v.Feeds) > 0 {
		feeds := make([]string, 0, len(v.Feeds))
		for _, name := range slices.Sorted(maps.Keys(v.Feeds)) {
			feeds = append(feeds, fmt.Sprintf("%s=%d", name, v.Feeds[name]))
		}
		fmt.Fprintf(&b, " feeds={%s}", strings.Join(feeds, ","))
	}
	return b.String()
}

// ShortFingerprint abbreviates a set fingerprint to 12 characters.
func ShortFingerprint(fp string) string {
	return fp[:min(len(fp), 12)]
}
