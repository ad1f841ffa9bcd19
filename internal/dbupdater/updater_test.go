// ABOUTME: Tests for updater result and version types
// ABOUTME: Covers the key=value summaries and update detection

package dbupdater

import (
	"strings"
	"testing"
	"time"
)

func TestUpdateResult_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result UpdateResult
		want   []string
		absent []string
	}{
		{
			name: "success",
			result: UpdateResult{
				Success:     true,
				Installed:   1,
				Fingerprint: "0123456789abcdef0123",
				Duration:    3 * time.Second,
			},
			want:   []string{"success", "installed=1", "skipped=0", "fingerprint=0123456789ab", "duration=3s"},
			absent: []string{"failed=", "error="},
		},
		{
			name: "failure",
			result: UpdateResult{
				Failed: 2,
				Error:  "fetch failed",
			},
			want:   []string{"failed", "failed=2", `error="fetch failed"`},
			absent: []string{"fingerprint="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			str := tt.result.String()
			for _, w := range tt.want {
				if !strings.Contains(str, w) {
					t.Errorf("String() = %q, missing %q", str, w)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(str, a) {
					t.Errorf("String() = %q, should not contain %q", str, a)
				}
			}
		})
	}
}

func TestVersionInfo_String(t *testing.T) {
	t.Parallel()

	info := VersionInfo{
		Fingerprint: "abc",
		Count:       12,
		UpdatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Feeds: map[string]int{
			"local":   2,
			"builtin": 10,
		},
	}

	want := "fingerprint=abc count=12 updated=2024-01-01T00:00:00Z feeds={builtin=10,local=2}"
	if got := info.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	empty := VersionInfo{}
	if got := empty.String(); got != "fingerprint= count=0" {
		t.Errorf("String() on zero value = %q", got)
	}
}

func TestCheckResult_NeedsUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		current, available string
		want               bool
	}{
		{"a", "b", true},
		{"a", "a", false},
		{"a", "", false},
		{"", "b", true},
	}

	for _, tt := range tests {
		r := CheckResult{CurrentFingerprint: tt.current, AvailableFingerprint: tt.available}
		if got := r.NeedsUpdate(); got != tt.want {
			t.Errorf("NeedsUpdate(%q -> %q) = %v, want %v", tt.current, tt.available, got, tt.want)
		}
	}
}

func TestShortFingerprint(t *testing.T) {
	t.Parallel()

	if got := ShortFingerprint("0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("ShortFingerprint(long) = %q", got)
	}
	if got := ShortFingerprint("abc"); got != "abc" {
		t.Errorf("ShortFingerprint(short) = %q", got)
	}
}
