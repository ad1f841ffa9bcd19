// ABOUTME: Log redaction for credentials and scanned payloads
// ABOUTME: RedactAttr plugs into slog handlers; RedactSensitive scrubs free text and query strings

package observability

import (
	"log/slog"
	"regexp"
	"slices"
	"strings"
)

// RedactionPlaceholder replaces every redacted value.
const RedactionPlaceholder = "[REDACTED]"

var (
	// key=value pairs up to the next space or &.
	secretParam = regexp.MustCompile(
		`(?i)\b(password|passwd|pwd|auth_token|access_token|token|api[_-]?key|client_secret|secret|content|text)=[^\s&]+`)
	bearerToken = regexp.MustCompile(`(?i)\bBearer\s+\S+`)
)

// payloadKeys carry scanned bytes. They are redacted on exact match so that
// metadata such as content_name or content_hash stays visible.
var payloadKeys = []string{"content", "text", "data", "payload"}

// secretKeyParts redact any key containing them.
var secretKeyParts = []string{
	"password", "passwd", "secret", "token", "apikey", "api_key", "api-key",
	"authorization", "credential", "private_key", "privatekey",
}

// RedactSensitive masks credentials and scanned text embedded in s.
func RedactSensitive(s string) string {
	s = secretParam.ReplaceAllString(s, "${1}="+RedactionPlaceholder)
	return bearerToken.ReplaceAllString(s, "Bearer "+RedactionPlaceholder)
}

// IsSensitiveKey reports whether values logged under key must be hidden.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	if slices.Contains(payloadKeys, k) {
		return true
	}
	return slices.ContainsFunc(secretKeyParts, func(part string) bool {
		return strings.Contains(k, part)
	})
}

// RedactAttr is a slog.HandlerOptions.ReplaceAttr hook. Sensitive keys lose
// their value; other string values are passed through RedactSensitive.
// Detection patterns are left alone since logging them is an explicit policy.
func RedactAttr(_ []string, a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, RedactionPlaceholder)
	}
	if a.Value.Kind() == slog.KindString {
		if v := a.Value.String(); strings.ContainsAny(v, "= ") {
			return slog.String(a.Key, RedactSensitive(v))
		}
	}
	return a
}
