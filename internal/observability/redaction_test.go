// ABOUTME: Tests for log redaction of credentials and scanned payloads
// ABOUTME: Covers free-text scrubbing, key classification and the slog ReplaceAttr hook

package observability

import (
	"log/slog"
	"testing"
)

func TestRedactSensitive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "password", input: "url?password=secret123", want: "url?password=[REDACTED]"},
		{name: "access token", input: "url?access_token=abc", want: "url?access_token=[REDACTED]"},
		{name: "api key with dash", input: "url?api-key=sk-1", want: "url?api-key=[REDACTED]"},
		{name: "several params", input: "u?user=john&password=s&token=abc", want: "u?user=john&password=[REDACTED]&token=[REDACTED]"},
		{name: "scanned text", input: "/api/v1/scan?text=Invoke-Expression&content_name=a.ps1", want: "/api/v1/scan?text=[REDACTED]&content_name=a.ps1"},
		{name: "similar name untouched", input: "url?context=abc", want: "url?context=abc"},
		{name: "bearer", input: "Authorization: Bearer eyJhbGciOi", want: "Authorization: Bearer [REDACTED]"},
		{name: "plain", input: "normal text without secrets", want: "normal text without secrets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RedactSensitive(tt.input); got != tt.want {
				t.Errorf("RedactSensitive(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsSensitiveKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want bool
	}{
		{"content", true},
		{"Text", true},
		{"payload", true},
		{"redis_password", true},
		{"API_KEY", true},
		{"Authorization", true},
		{"credentials_file", true},
		{"content_name", false},
		{"content_hash", false},
		{"data_dir", false},
		{"pattern", false},
		{"signature", false},
	}

	for _, tt := range tests {
		if got := IsSensitiveKey(tt.key); got != tt.want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestRedactAttr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{name: "payload key", attr: slog.String("content", "iex"), want: RedactionPlaceholder},
		{name: "non-string secret", attr: slog.Int("token", 42), want: RedactionPlaceholder},
		{name: "embedded secret", attr: slog.String("query", "a=1&password=x"), want: "a=1&password=" + RedactionPlaceholder},
		{name: "plain value", attr: slog.String("verdict", "detected"), want: "detected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RedactAttr(nil, tt.attr)
			if got.Key != tt.attr.Key {
				t.Errorf("Key = %q, want %q", got.Key, tt.attr.Key)
			}
			if got.Value.String() != tt.want {
				t.Errorf("Value = %q, want %q", got.Value.String(), tt.want)
			}
		})
	}

	if got := RedactAttr(nil, slog.Int("count", 3)); got.Value.Int64() != 3 {
		t.Errorf("RedactAttr() changed a plain int: %v", got.Value)
	}
}
