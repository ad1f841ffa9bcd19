// ABOUTME: Tests for the rule file watcher
// ABOUTME: Uses real files in temporary directories and short debounce windows

package dbupdater

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, paths []string) (*RuleWatcher, <-chan struct{}) {
	t.Helper()

	changed := make(chan struct{}, 8)
	w, err := NewRuleWatcher(RuleWatcherConfig{
		Paths:    paths,
		Debounce: 20 * time.Millisecond,
		OnChange: func(context.Context) { changed <- struct{}{} },
		Logger:   slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewRuleWatcher() error: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, changed
}

func TestNewRuleWatcher_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewRuleWatcher(RuleWatcherConfig{OnChange: func(context.Context) {}}); err == nil {
		t.Error("NewRuleWatcher() without paths expected error")
	}
	if _, err := NewRuleWatcher(RuleWatcherConfig{Paths: []string{"rules.toml"}}); err == nil {
		t.Error("NewRuleWatcher() without OnChange expected error")
	}
	missing := filepath.Join(t.TempDir(), "absent", "rules.toml")
	if _, err := NewRuleWatcher(RuleWatcherConfig{Paths: []string{missing}, OnChange: func(context.Context) {}}); err == nil {
		t.Error("NewRuleWatcher() with a missing directory expected error")
	}
}

func TestRuleWatcher_ReloadsOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.toml")
	if err := os.WriteFile(rules, []byte("# empty\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	w, changed := newTestWatcher(t, []string{rules})
	w.Start(context.Background())

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	select {
	case <-changed:
		t.Fatal("OnChange called for an unwatched file")
	case <-time.After(150 * time.Millisecond):
	}

	// A burst of writes produces one reload.
	for i := range 3 {
		body := []byte("[[signature]]\npattern = \"p\"\nname = \"N" + string(rune('0'+i)) + "\"\n")
		if err := os.WriteFile(rules, body, 0o600); err != nil {
			t.Fatalf("WriteFile() error: %v", err)
		}
	}
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnChange not called after writing the rule file")
	}
	select {
	case <-changed:
		t.Error("OnChange called more than once for one burst")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRuleWatcher_ReplaceByRename(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.json")
	if err := os.WriteFile(rules, []byte("[]"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	w, changed := newTestWatcher(t, []string{rules})
	w.Start(context.Background())

	tmp := filepath.Join(dir, ".rules.json.tmp")
	if err := os.WriteFile(tmp, []byte(`[{"pattern":"p","name":"N"}]`), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if err := os.Rename(tmp, rules); err != nil {
		t.Fatalf("Rename() error: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnChange not called after replacing the rule file")
	}
}

func TestRuleWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	rules := filepath.Join(t.TempDir(), "rules.toml")
	w, _ := newTestWatcher(t, []string{rules})
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}
