// ABOUTME: Package dbupdater schedules and applies signature set updates
// ABOUTME: Fetches feeds, builds ordered sets, persists them and hot-swaps the engine

/*
Package dbupdater keeps the engine's signature set current.

Backoff implements exponential backoff with jitter for retries:

	b := dbupdater.NewBackoff(dbupdater.BackoffConfig{
		MaxRetries:     5,
		InitialDelay:   30 * time.Second,
		MaxDelay:       30 * time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	})

SignatureSetUpdater fetches every configured feed in parallel, concatenates
the entries in configured feed order and builds one immutable store. An
unchanged fingerprint is a no-op. A fetch or build failure rejects the whole
set and leaves the active one in place:

	u := dbupdater.NewSignatureSetUpdater(dbupdater.SignatureSetUpdaterConfig{
		Feeds:  []dbupdater.FeedSource{{Feed: builtin}, {Feed: local, Source: file}},
		Engine: eng,
		DB:     sigDB,
	})

Scheduler runs each registered updater on its own interval and retries
failures under the BackoffConfig. StatusTracker exposes per-updater state:

	s := dbupdater.NewScheduler(dbupdater.SchedulerConfig{Logger: logger, RunOnStart: true})
	s.Register(u, time.Hour)
	_ = s.Start(ctx)
	defer s.Stop()

RuleWatcher calls back when a local rule file changes, so an operator edit
reaches the engine without waiting for the next interval.

All components are safe for concurrent use.
*/
package dbupdater
