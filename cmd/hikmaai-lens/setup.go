// ABOUTME: Shared wiring for commands: startup signature set and feed sources
// ABOUTME: Builds stores from config, the persisted set and rule files

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/hikmaai-io/hikmaai-lens/internal/config"
	"github.com/hikmaai-io/hikmaai-lens/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	"github.com/hikmaai-io/hikmaai-lens/internal/feeds"
	"github.com/hikmaai-io/hikmaai-lens/internal/gcs"
	"github.com/hikmaai-io/hikmaai-lens/internal/signatures"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// startupStore returns the signature set a process starts with.
// A persisted set wins when load_persisted is on and db is non-nil;
// otherwise the builtin table and rule files are concatenated in order.
func startupStore(ctx context.Context, cfg *config.Config, db *engine.SignatureDB, logger *slog.Logger) (*signatures.Store, string, error) {
	if cfg.Signatures.LoadPersisted && db != nil {
		store, meta, err := db.Load(ctx)
		switch {
		case err == nil:
			logger.Info("loaded persisted signature set",
				slog.String("fingerprint", meta.Fingerprint),
				slog.Int("count", meta.Count),
				slog.String("source", meta.Source),
			)
			return store, meta.Source, nil
		case errors.Is(err, engine.ErrNoSignatureSet):
		default:
			logger.Warn("ignoring persisted signature set", slog.Any("error", err))
		}
	}

	var (
		entries []types.Signature
		sources []string
	)
	if cfg.Signatures.UseBuiltin {
		entries = append(entries, signatures.DefaultEntries()...)
		sources = append(sources, signatures.BuiltinSource)
	}
	for _, path := range cfg.Signatures.Files {
		fileEntries, err := signatures.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", path, err)
		}
		entries = append(entries, fileEntries...)
		sources = append(sources, path)
	}
	if len(entries) == 0 {
		return nil, "", errors.New("no signatures configured")
	}

	store, err := signatures.Build(entries)
	if err != nil {
		return nil, "", fmt.Errorf("building signature set: %w", err)
	}
	return store, strings.Join(sources, ","), nil
}

// openSignatureDB opens the persisted set's database. With mustExist it
// returns (nil, nil) instead of creating a missing directory.
func openSignatureDB(cfg *config.Config, mustExist bool, logger *slog.Logger) (*engine.SignatureDB, error) {
	path := cfg.SignatureDBPath()
	if mustExist {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating signature db directory: %w", err)
	}
	db, err := engine.NewSignatureDB(engine.StoreConfig{Path: path, Logger: engine.NewBadgerLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("opening signature db %s: %w", path, err)
	}
	return db, nil
}

// feedSources builds the updater's feeds in configured order.
func feedSources(cfg *config.Config, opts feeds.SourceOptions) ([]dbupdater.FeedSource, error) {
	configs := cfg.Update.FeedConfigs()
	out := make([]dbupdater.FeedSource, 0, len(configs))

	for _, fc := range configs {
		feed, err := feeds.New(fc)
		if err != nil {
			return nil, err
		}
		fs := dbupdater.FeedSource{Feed: feed}
		if fc.NeedsSource() {
			src, err := feeds.ParseSource(fc.URI, opts)
			if err != nil {
				return nil, fmt.Errorf("feed %s: %w", feed.Name(), err)
			}
			fs.Source = src
		}
		out = append(out, fs)
	}
	return out, nil
}

// needsGCS reports whether any configured feed reads from a bucket.
func needsGCS(cfg *config.Config) bool {
	for _, fc := range cfg.Update.FeedConfigs() {
		if strings.HasPrefix(fc.URI, "gs://") {
			return true
		}
	}
	return false
}

// openGCS returns a bucket client when need is true, else nil.
func openGCS(ctx context.Context, cfg *config.Config, need bool) (*gcs.Client, error) {
	if !need {
		return nil, nil
	}
	client, err := gcs.NewClient(ctx, cfg.GCS)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	return client, nil
}

// newSourceOptions builds the clients feed sources need. client may be nil.
func newSourceOptions(cfg *config.Config, client *gcs.Client) feeds.SourceOptions {
	dl := cfg.Update.Downloader
	opts := feeds.SourceOptions{Downloader: feeds.NewDownloader(&dl)}
	if client != nil {
		opts.GCS = client
	}
	return opts
}

// watchedPaths lists the local rule files a reload depends on: the
// configured files, plus local feed documents when updates are enabled.
func watchedPaths(cfg *config.Config) []string {
	paths := slices.Clone(cfg.Signatures.Files)
	if !cfg.Update.Enabled {
		return paths
	}
	for _, fc := range cfg.Update.FeedConfigs() {
		if !fc.NeedsSource() {
			continue
		}
		src, err := feeds.ParseSource(fc.URI, feeds.SourceOptions{})
		if err != nil {
			continue
		}
		if fs, ok := src.(feeds.FileSource); ok {
			paths = append(paths, string(fs))
		}
	}
	return paths
}
