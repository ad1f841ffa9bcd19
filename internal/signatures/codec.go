// ABOUTME: JSON and TOML codecs for signature rule files
// ABOUTME: Decoding preserves file order so store priority follows the file

package signatures

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// Format identifies a rule file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTOML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported signature format %q", s)
	}
}

// FormatFromPath infers the format from a file extension.
// Anything other than .toml is treated as JSON.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatJSON
}

// ruleFile is the document shape shared by both encodings.
type ruleFile struct {
	Signatures []types.Signature `json:"signatures" toml:"signature"`
}

// Decode reads signature entries in file order.
// JSON input may be a bare array or an object with a "signatures" array.
func Decode(r io.Reader, format Format) ([]types.Signature, error) {
	switch format {
	case FormatTOML:
		var doc ruleFile
		if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding toml rules: %w", err)
		}
		return doc.Signatures, nil

	case FormatJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading json rules: %w", err)
		}
		data = bytes.TrimSpace(data)
		if len(data) > 0 && data[0] == '[' {
			var list []types.Signature
			if err := json.Unmarshal(data, &list); err != nil {
				return nil, fmt.Errorf("decoding json rules: %w", err)
			}
			return list, nil
		}
		var doc ruleFile
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decoding json rules: %w", err)
		}
		return doc.Signatures, nil

	default:
		return nil, fmt.Errorf("unsupported signature format %q", format)
	}
}

// Encode writes the store's entries in order.
func Encode(w io.Writer, format Format, s *Store) error {
	doc := ruleFile{Signatures: slices.Collect(s.Entries())}

	switch format {
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(doc); err != nil {
			return fmt.Errorf("encoding toml rules: %w", err)
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding json rules: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported signature format %q", format)
	}
}

// LoadFile decodes a rule file and builds a Store from it.
func LoadFile(path string) (*Store, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Build(entries)
}

// ReadFile decodes a rule file without building a Store.
func ReadFile(path string) ([]types.Signature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rule file: %w", err)
	}
	defer f.Close()

	entries, err := Decode(f, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}
