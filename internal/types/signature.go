// ABOUTME: Signature type describing one recognizable threat indicator
// ABOUTME: Holds the match pattern, reporting name, strength and feed metadata

package types

import (
	"errors"
	"fmt"
)

// Category groups signatures by the behaviour their pattern indicates.
type Category int

const (
	// CategoryUnknown represents an uncategorized signature.
	CategoryUnknown Category = iota
	// CategoryScriptExecution covers dynamic script evaluation.
	CategoryScriptExecution
	// CategoryDownloader covers remote payload retrieval.
	CategoryDownloader
	// CategoryProcessLaunch covers spawning child processes.
	CategoryProcessLaunch
	// CategoryObfuscation covers encoded or packed payloads.
	CategoryObfuscation
	// CategoryReflection covers in-memory assembly loading.
	CategoryReflection
	// CategoryTestFile represents test content (e.g., EICAR).
	CategoryTestFile
)

// String returns the string representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryScriptExecution:
		return "script_execution"
	case CategoryDownloader:
		return "downloader"
	case CategoryProcessLaunch:
		return "process_launch"
	case CategoryObfuscation:
		return "obfuscation"
	case CategoryReflection:
		return "reflection"
	case CategoryTestFile:
		return "testfile"
	default:
		return "unknown"
	}
}

// ParseCategory converts a category name back into a Category.
// Unrecognized names map to CategoryUnknown.
func ParseCategory(s string) Category {
	for c := CategoryUnknown; c <= CategoryTestFile; c++ {
		if c.String() == s {
			return c
		}
	}
	return CategoryUnknown
}

// MarshalText encodes the category by name for JSON and TOML rule files.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category name.
func (c *Category) UnmarshalText(text []byte) error {
	*c = ParseCategory(string(text))
	return nil
}

// Validation errors returned by Signature.Validate.
var (
	ErrEmptyPattern = errors.New("signature pattern is empty")
	ErrEmptyName    = errors.New("signature name is empty")
	ErrWeakStrength = errors.New("signature strength is below the blocking range")
)

// Signature represents a single pattern-based detection rule.
type Signature struct {
	// Case-insensitive substring to probe for.
	Pattern string `json:"pattern" toml:"pattern"`

	// Stable identifier reported when the pattern matches.
	Name string `json:"name" toml:"name"`

	// Result strength reported on a match. Zero means Detected; any other
	// value must be at least StrengthBlockedByAdminStart.
	Strength Strength `json:"strength,omitempty" toml:"strength,omitempty"`

	Category Category `json:"category,omitempty" toml:"category,omitempty"`

	// Metadata.
	Source      string   `json:"source,omitempty" toml:"source,omitempty"`
	Description string   `json:"description,omitempty" toml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" toml:"tags,omitempty"`
}

// NewSignature creates a new Signature reporting StrengthDetected.
func NewSignature(pattern, name, source string) (*Signature, error) {
	s := &Signature{
		Pattern:  pattern,
		Name:     name,
		Strength: StrengthDetected,
		Source:   source,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the fields every stored signature must carry.
func (s *Signature) Validate() error {
	if s.Pattern == "" {
		return fmt.Errorf("%w (name %q)", ErrEmptyPattern, s.Name)
	}
	if s.Name == "" {
		return fmt.Errorf("%w (pattern length %d)", ErrEmptyName, len(s.Pattern))
	}
	if s.Strength != 0 && s.Strength < StrengthBlockedByAdminStart {
		return fmt.Errorf("%w: %q has strength %d", ErrWeakStrength, s.Name, uint32(s.Strength))
	}
	return nil
}

// WithCategory sets the category and returns the signature for chaining.
func (s *Signature) WithCategory(c Category) *Signature {
	s.Category = c
	return s
}

// WithStrength sets the strength and returns the signature for chaining.
func (s *Signature) WithStrength(st Strength) *Signature {
	s.Strength = st
	return s
}

// WithDescription sets the description and returns the signature for chaining.
func (s *Signature) WithDescription(desc string) *Signature {
	s.Description = desc
	return s
}
