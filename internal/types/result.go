// ABOUTME: Scan result types: verdict, graded result strength and ScanResult
// ABOUTME: Strength values follow the AMSI_RESULT convention (0 clean, 32768 detected)

package types

import (
	"fmt"
	"time"
)

// Strength is the graded result value reported to scanning hosts.
type Strength uint32

const (
	// StrengthClean is reported for content known to be clean.
	StrengthClean Strength = 0
	// StrengthNotDetected is defined for hosts; scans report StrengthClean
	// when no signature matched.
	StrengthNotDetected Strength = 1
	// StrengthBlockedByAdminStart is the start of the admin policy range.
	StrengthBlockedByAdminStart Strength = 0x4000
	// StrengthBlockedByAdminEnd is the end of the admin policy range.
	StrengthBlockedByAdminEnd Strength = 0x4fff
	// StrengthDetected is the malware threshold.
	StrengthDetected Strength = 32768
)

// IsMalware reports whether s is at or above the detection threshold.
func (s Strength) IsMalware() bool {
	return s >= StrengthDetected
}

// IsBlockedByAdmin reports whether s falls into the admin policy range.
func (s Strength) IsBlockedByAdmin() bool {
	return s >= StrengthBlockedByAdminStart && s <= StrengthBlockedByAdminEnd
}

// String returns the string representation of the strength.
func (s Strength) String() string {
	switch {
	case s == StrengthClean:
		return "clean"
	case s == StrengthNotDetected:
		return "not_detected"
	case s.IsBlockedByAdmin():
		return fmt.Sprintf("blocked_by_admin(%d)", uint32(s))
	case s.IsMalware():
		return fmt.Sprintf("detected(%d)", uint32(s))
	default:
		return fmt.Sprintf("strength(%d)", uint32(s))
	}
}

// Verdict is the binary decision for one scan.
type Verdict string

const (
	// VerdictClean means no signature matched the examined content.
	VerdictClean Verdict = "clean"
	// VerdictDetected means a signature matched.
	VerdictDetected Verdict = "detected"
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	return string(v)
}

// Encoding names the decoding path used during normalization.
type Encoding string

const (
	EncodingNone    Encoding = "none"
	EncodingUTF16LE Encoding = "utf-16le"
	EncodingUTF8    Encoding = "utf-8"
)

// ScanResult is the outcome of classifying one buffer.
type ScanResult struct {
	Verdict  Verdict  `json:"verdict"`
	Strength Strength `json:"strength"`

	// Name of the first matching signature; empty unless Detected.
	SignatureName string `json:"signature_name,omitempty"`

	// Normalization metadata.
	Encoding      Encoding `json:"encoding"`
	BytesExamined int      `json:"bytes_examined"`
	Truncated     bool     `json:"truncated,omitempty"`

	// SHA256 of the examined prefix, set by the engine.
	ContentHash string `json:"content_hash,omitempty"`

	ScannedAt  time.Time `json:"scanned_at"`
	ScanTimeMs float64   `json:"scan_time_ms,omitempty"`
	CacheHit   bool      `json:"cache_hit,omitempty"`
	BloomHit   bool      `json:"bloom_hit,omitempty"`
}

// NewCleanResult creates a Clean result reporting StrengthNotDetected.
func NewCleanResult(enc Encoding, examined int) ScanResult {
	return ScanResult{
		Verdict:       VerdictClean,
		Strength:      StrengthClean,
		Encoding:      enc,
		BytesExamined: examined,
		ScannedAt:     time.Now().UTC(),
	}
}

// NewDetectedResult creates a Detected result for the matching signature.
func NewDetectedResult(sig Signature, enc Encoding, examined int) ScanResult {
	strength := sig.Strength
	if strength == 0 {
		strength = StrengthDetected
	}
	return ScanResult{
		Verdict:       VerdictDetected,
		Strength:      strength,
		SignatureName: sig.Name,
		Encoding:      enc,
		BytesExamined: examined,
		ScannedAt:     time.Now().UTC(),
	}
}

// IsDetected returns true if a signature matched.
func (r ScanResult) IsDetected() bool {
	return r.Verdict == VerdictDetected
}

// IsMalware applies the strength threshold.
func (r ScanResult) IsMalware() bool {
	return r.Strength.IsMalware()
}

// WithScanTime sets the scan duration and returns the result for chaining.
func (r ScanResult) WithScanTime(ms float64) ScanResult {
	r.ScanTimeMs = ms
	return r
}

// WithTruncated sets the truncation flag and returns the result for chaining.
func (r ScanResult) WithTruncated(truncated bool) ScanResult {
	r.Truncated = truncated
	return r
}

// WithContentHash sets the content hash and returns the result for chaining.
func (r ScanResult) WithContentHash(hash string) ScanResult {
	r.ContentHash = hash
	return r
}

// WithCacheHit sets the cache hit flag and returns the result for chaining.
func (r ScanResult) WithCacheHit(hit bool) ScanResult {
	r.CacheHit = hit
	return r
}

// WithBloomHit sets the bloom filter hit flag and returns the result for chaining.
func (r ScanResult) WithBloomHit(hit bool) ScanResult {
	r.BloomHit = hit
	return r
}
