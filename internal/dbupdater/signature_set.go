// ABOUTME: Signature set updater: fetches every feed, builds one ordered set, installs it
// ABOUTME: A set that fails to fetch or build is rejected and the active set stays in place

package dbupdater

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	"github.com/hikmaai-io/hikmaai-lens/internal/feeds"
	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
	"github.com/hikmaai-io/hikmaai-lens/internal/signatures"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// SignatureSetUpdaterName is the updater's registered name.
const SignatureSetUpdaterName = "signatures"

// FeedSource pairs a parser with the document it reads.
// Source is nil for feeds that need no document.
type FeedSource struct {
	Feed   feeds.Feed
	Source feeds.Source
}

// Installer activates a signature set. *engine.Engine satisfies it.
type Installer interface {
	Signatures() *signatures.Store
	Swap(ctx context.Context, store *signatures.Store) (bool, error)
}

// SetPersister stores the installed set. *engine.SignatureDB satisfies it.
type SetPersister interface {
	Save(ctx context.Context, store *signatures.Store, source string) (engine.SetMeta, error)
}

// SignatureSetUpdaterConfig configures the signature set updater.
type SignatureSetUpdaterConfig struct {
	// Feeds in probe order. Earlier feeds win first-match ties.
	Feeds []FeedSource

	Engine Installer

	// DB is optional. When set, every installed set is persisted first.
	DB SetPersister

	// MaxConcurrentFetches bounds parallel feed fetches. Zero means 4.
	MaxConcurrentFetches int

	Logger *slog.Logger
	Audit  *observability.AuditLogger
}

// SignatureSetUpdater implements Updater for the active signature set.
type SignatureSetUpdater struct {
	config SignatureSetUpdaterConfig
	logger *slog.Logger
	audit  *observability.AuditLogger

	mu          sync.RWMutex
	lastUpdated time.Time
	feedCounts  map[string]int
}

var _ Updater = (*SignatureSetUpdater)(nil)

// NewSignatureSetUpdater creates a new signature set updater.
func NewSignatureSetUpdater(config SignatureSetUpdaterConfig) *SignatureSetUpdater {
	if config.MaxConcurrentFetches <= 0 {
		config.MaxConcurrentFetches = 4
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Audit == nil {
		config.Audit = observability.NewAuditLogger(config.Logger)
	}

	return &SignatureSetUpdater{
		config: config,
		logger: config.Logger.With(slog.String("updater", SignatureSetUpdaterName)),
		audit:  config.Audit,
	}
}

// Name returns the updater name.
func (u *SignatureSetUpdater) Name() string {
	return SignatureSetUpdaterName
}

// Update fetches all feeds and installs the resulting set when it differs
// from the active one.
func (u *SignatureSetUpdater) Update(ctx context.Context) (*UpdateResult, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "dbupdater.SignatureSet.Update")
	defer span.End()

	store, counts, failed, err := u.build(ctx)
	if err != nil {
		observability.RecordError(span, err)
		u.audit.LogSignatureSetRejected(ctx, u.sourceLabel(), err.Error())
		return &UpdateResult{
			Failed:   failed,
			Duration: time.Since(start),
			Error:    err.Error(),
		}, err
	}

	result := &UpdateResult{
		Success:     true,
		Fingerprint: store.Fingerprint(),
		FeedCounts:  counts,
	}

	current := u.config.Engine.Signatures()
	if current.Fingerprint() == store.Fingerprint() {
		result.Skipped = 1
		result.Duration = time.Since(start)
		u.recordInstalled(counts, false)
		return result, nil
	}

	if u.config.DB != nil {
		if _, err := u.config.DB.Save(ctx, store, u.sourceLabel()); err != nil {
			err = observability.Transient(observability.CodeStoreFailed, "signatures.persist", err)
			observability.RecordError(span, err)
			result.Success = false
			result.Error = err.Error()
			result.Duration = time.Since(start)
			return result, err
		}
	}

	swapped, err := u.config.Engine.Swap(ctx, store)
	if err != nil {
		observability.RecordError(span, err)
		result.Success = false
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, err
	}
	if swapped {
		result.Installed = 1
		u.audit.LogSignatureSetLoaded(ctx, u.sourceLabel(), store.Fingerprint(), store.Len())
	} else {
		result.Skipped = 1
	}

	result.Duration = time.Since(start)
	u.recordInstalled(counts, swapped)
	return result, nil
}

// CheckForUpdates builds the feed set without installing it.
func (u *SignatureSetUpdater) CheckForUpdates(ctx context.Context) (*CheckResult, error) {
	store, _, _, err := u.build(ctx)
	if err != nil {
		return nil, err
	}

	current := u.config.Engine.Signatures().Fingerprint()
	return &CheckResult{
		CurrentFingerprint:   current,
		AvailableFingerprint: store.Fingerprint(),
		AvailableCount:       store.Len(),
	}, nil
}

// GetVersionInfo returns the active set's version.
func (u *SignatureSetUpdater) GetVersionInfo() VersionInfo {
	current := u.config.Engine.Signatures()

	u.mu.RLock()
	defer u.mu.RUnlock()
	return VersionInfo{
		Fingerprint: current.Fingerprint(),
		Count:       current.Len(),
		UpdatedAt:   u.lastUpdated,
		Feeds:       maps.Clone(u.feedCounts),
	}
}

// IsReady returns true when the active set has entries.
func (u *SignatureSetUpdater) IsReady() bool {
	return u.config.Engine.Signatures().Len() > 0
}

// build fetches every feed in parallel and concatenates them in configured order.
func (u *SignatureSetUpdater) build(ctx context.Context) (*signatures.Store, map[string]int, int, error) {
	if len(u.config.Feeds) == 0 {
		return nil, nil, 0, fmt.Errorf("no feeds configured")
	}

	results := make([]*feeds.FeedResult, len(u.config.Feeds))
	var (
		failedMu sync.Mutex
		failed   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.config.MaxConcurrentFetches)
	for i, fs := range u.config.Feeds {
		g.Go(func() error {
			res, err := fetchFeed(gctx, fs)
			if err != nil {
				failedMu.Lock()
				failed++
				failedMu.Unlock()
				return observability.Transient(observability.CodeFeedFetchFailed, "feed."+fs.Feed.Name(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, failed, err
	}

	var entries []types.Signature
	counts := make(map[string]int, len(results))
	for _, res := range results {
		if res.Stats.ErrorCount > 0 {
			u.logger.Warn("feed entries skipped",
				slog.String("feed", res.Stats.Name),
				slog.Int("skipped", res.Stats.ErrorCount),
			)
		}
		counts[res.Stats.Name] += len(res.Signatures)
		entries = append(entries, res.Signatures...)
	}

	store, err := signatures.Build(entries)
	if err != nil {
		return nil, nil, 0, observability.Permanent(observability.CodeSignatureInvalid, "signatures.build", err)
	}
	return store, counts, 0, nil
}

func fetchFeed(ctx context.Context, fs FeedSource) (*feeds.FeedResult, error) {
	if fs.Source == nil {
		return fs.Feed.Parse(ctx, nil)
	}

	r, err := fs.Source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return fs.Feed.Parse(ctx, r)
}

func (u *SignatureSetUpdater) recordInstalled(counts map[string]int, swapped bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.feedCounts = counts
	if swapped || u.lastUpdated.IsZero() {
		u.lastUpdated = time.Now().UTC()
	}
}

func (u *SignatureSetUpdater) sourceLabel() string {
	names := make([]string, len(u.config.Feeds))
	for i, fs := range u.config.Feeds {
		names[i] = fs.Feed.Name()
	}
	return strings.Join(names, ",")
}
