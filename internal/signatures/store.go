// ABOUTME: Immutable ordered signature store probed in insertion order
// ABOUTME: Build validates entries once; Entries yields them lazily, first match wins

package signatures

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// Build errors.
var (
	// ErrEmptyPattern is returned when an entry has no pattern.
	ErrEmptyPattern = types.ErrEmptyPattern
	// ErrEmptyName is returned when an entry has no name.
	ErrEmptyName = types.ErrEmptyName
	// ErrWeakStrength is returned when an entry would match without blocking.
	ErrWeakStrength = types.ErrWeakStrength
	// ErrDuplicateName is returned when two entries share a name.
	ErrDuplicateName = errors.New("duplicate signature name")
)

// Store is an ordered, read-only list of signatures.
// A Store is safe for concurrent use; nothing mutates it after Build.
type Store struct {
	entries     []types.Signature
	byName      map[string]int
	fingerprint string
}

// Build constructs a Store from entries, preserving their order.
// Entries with a zero strength report StrengthDetected.
func Build(entries []types.Signature) (*Store, error) {
	s := &Store{
		entries: make([]types.Signature, 0, len(entries)),
		byName:  make(map[string]int, len(entries)),
	}

	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if prev, ok := s.byName[e.Name]; ok {
			return nil, fmt.Errorf("entry %d: %w %q (first defined at entry %d)", i, ErrDuplicateName, e.Name, prev)
		}
		if e.Strength == 0 {
			e.Strength = types.StrengthDetected
		}
		e.Tags = slices.Clone(e.Tags)

		s.byName[e.Name] = len(s.entries)
		s.entries = append(s.entries, e)
	}

	s.fingerprint = fingerprint(s.entries)
	return s, nil
}

// MustBuild is like Build but panics on error. Intended for static tables.
func MustBuild(entries []types.Signature) *Store {
	s, err := Build(entries)
	if err != nil {
		panic(fmt.Sprintf("signatures: %v", err))
	}
	return s
}

// Entries returns the signatures in insertion order.
// The sequence can be ranged over any number of times.
func (s *Store) Entries() iter.Seq[types.Signature] {
	return func(yield func(types.Signature) bool) {
		for _, e := range s.entries {
			e.Tags = slices.Clone(e.Tags)
			if !yield(e) {
				return
			}
		}
	}
}

// Len returns the number of signatures.
func (s *Store) Len() int {
	return len(s.entries)
}

// Lookup returns the signature with the given name.
func (s *Store) Lookup(name string) (types.Signature, bool) {
	i, ok := s.byName[name]
	if !ok {
		return types.Signature{}, false
	}
	e := s.entries[i]
	e.Tags = slices.Clone(e.Tags)
	return e, true
}

// Fingerprint returns a hex SHA256 over the ordered entries.
// Stores with the same entries in the same order share a fingerprint.
func (s *Store) Fingerprint() string {
	return s.fingerprint
}

// Version returns a short form of the fingerprint for display.
func (s *Store) Version() string {
	return s.fingerprint[:12]
}

func fingerprint(entries []types.Signature) string {
	h := sha256.New()
	for _, e := range entries {
		// Length-prefixed so adjacent fields cannot run together.
		fmt.Fprintf(h, "%d:%s|%d:%s|%d\n", len(e.Pattern), e.Pattern, len(e.Name), e.Name, uint32(e.Strength))
	}
	return hex.EncodeToString(h.Sum(nil))
}
