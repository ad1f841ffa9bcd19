// ABOUTME: Tests for content hash helpers
// ABOUTME: Covers digest computation and hex validation

package types_test

import (
	"strings"
	"testing"

	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

func TestContentHash(t *testing.T) {
	t.Parallel()

	// SHA256 of the empty input.
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	if got := types.ContentHash(nil); got != empty {
		t.Errorf("ContentHash(nil) = %s, want %s", got, empty)
	}
	if got := types.ContentHash([]byte{}); got != empty {
		t.Errorf("ContentHash(empty) = %s, want %s", got, empty)
	}
	if types.ContentHash([]byte("a")) == types.ContentHash([]byte("b")) {
		t.Error("ContentHash() should differ for different inputs")
	}
}

func TestParseContentHash(t *testing.T) {
	t.Parallel()

	valid := strings.Repeat("ab", 32)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "valid", input: valid, want: valid},
		{name: "uppercase normalized", input: strings.ToUpper(valid), want: valid},
		{name: "whitespace trimmed", input: "  " + valid + "\n", want: valid},
		{name: "empty", input: "", wantErr: true},
		{name: "too short", input: "abc", wantErr: true},
		{name: "non hex", input: strings.Repeat("zz", 32), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := types.ParseContentHash(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseContentHash() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseContentHash() = %q, want %q", got, tt.want)
			}
		})
	}
}
