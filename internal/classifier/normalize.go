// ABOUTME: Buffer normalization into canonical searchable text
// ABOUTME: Caps the examined prefix, decodes UTF-16LE or UTF-8, then case-folds

package classifier

import (
	"unicode/utf16"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/unicode"

	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// DefaultMaxScanSize is the number of leading bytes examined per scan.
const DefaultMaxScanSize = 1 << 20

// Normalized is the searchable form of one buffer.
type Normalized struct {
	Text      string
	Encoding  types.Encoding
	Examined  int
	Truncated bool
}

// Prefix returns the part of content a scan with the given cap examines.
func Prefix(content []byte, maxSize int) []byte {
	if maxSize > 0 && len(content) > maxSize {
		return content[:maxSize]
	}
	return content
}

// Normalize decodes and folds the first maxSize bytes of content.
// Even lengths of at least two bytes are read as UTF-16LE code units;
// everything else is read as UTF-8 with invalid sequences replaced.
// Decoding never fails.
func Normalize(content []byte, maxSize int) Normalized {
	b := Prefix(content, maxSize)
	n := Normalized{
		Examined:  len(b),
		Truncated: len(b) < len(content),
	}

	switch {
	case len(b) == 0:
		n.Encoding = types.EncodingNone
		return n
	case len(b)%2 == 0:
		n.Encoding = types.EncodingUTF16LE
		n.Text = decodeUTF16LE(b)
	default:
		n.Encoding = types.EncodingUTF8
		n.Text = decodeUTF8(b)
	}

	n.Text = Fold(n.Text)
	return n
}

// Fold applies locale-invariant case folding.
// A Caser keeps state, so each call gets its own.
func Fold(s string) string {
	return cases.Fold().String(s)
}

func decodeUTF16LE(b []byte) string {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err == nil {
		return string(out)
	}

	// Unpaired surrogates decode to U+FFFD here.
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return string(utf16.Decode(units))
}

func decodeUTF8(b []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return string([]rune(string(b)))
	}
	return string(out)
}
