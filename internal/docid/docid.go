// Package docid provides the canonical identity type for InkSight documents.
//
// A document is identified on the device by a 128-bit UUID that appears as
// the shared filename prefix of its artifacts (<uuid>.metadata, <uuid>.content,
// <uuid>.pagedata, <uuid>/<pageId>.rm). DocumentID normalizes that UUID to its
// canonical lowercase hyphenated form so the rest of the core can use it as a
// map key and compare values with ==.
package docid

import (
	"database/sql/driver"
	"encoding"
	"fmt"
	"regexp"
	"sort"

	"github.com/google/uuid"
)

// canonicalPattern matches a canonical UUID anchored at the start of a
// string, per spec: [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}.
var canonicalPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// DocumentID is an opaque, immutable, canonicalized document identifier.
// The zero value represents "absent" and is never a valid document ID.
type DocumentID struct {
	value string
}

// Parse validates and canonicalizes a raw UUID string into a DocumentID.
func Parse(raw string) (DocumentID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return DocumentID{}, fmt.Errorf("docid: %q is not a valid document id: %w", raw, err)
	}

	return DocumentID{value: id.String()}, nil
}

// MustParse is like Parse but panics on invalid input. Use only in tests
// and initialization code where the value is known-good.
func MustParse(raw string) DocumentID {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}

	return id
}

// ExtractPrefix reports whether name begins with a canonical UUID and, if so,
// returns the DocumentID it names. Used to recognize device artifact names
// such as "<uuid>.metadata" or "<uuid>/" per the device file selector rule.
func ExtractPrefix(name string) (DocumentID, bool) {
	match := canonicalPattern.FindString(name)
	if match == "" {
		return DocumentID{}, false
	}

	id, err := Parse(match)
	if err != nil {
		return DocumentID{}, false
	}

	return id, true
}

// String returns the canonical "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx" form.
func (d DocumentID) String() string {
	return d.value
}

// IsZero reports whether this is the zero-value DocumentID.
func (d DocumentID) IsZero() bool {
	return d.value == ""
}

// Equal reports whether two DocumentIDs are identical.
func (d DocumentID) Equal(other DocumentID) bool {
	return d.value == other.value
}

// MarshalText implements encoding.TextMarshaler.
func (d DocumentID) MarshalText() ([]byte, error) {
	return []byte(d.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DocumentID) UnmarshalText(text []byte) error {
	id, err := Parse(string(text))
	if err != nil {
		return err
	}

	*d = id

	return nil
}

// Value implements driver.Valuer for use in persistence layers.
func (d DocumentID) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}

	return d.value, nil
}

// SortedStrings returns the String() form of every id, sorted and
// deduplicated. Used by components that must return a deterministic
// "sorted unique list" of document ids (e.g. ListDocumentIds).
func SortedStrings(ids []DocumentID) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id.IsZero() || seen[id.value] {
			continue
		}

		seen[id.value] = true
		out = append(out, id.value)
	}

	sort.Strings(out)

	return out
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = DocumentID{}
	_ encoding.TextUnmarshaler = (*DocumentID)(nil)
	_ fmt.Stringer             = DocumentID{}
	_ driver.Valuer            = DocumentID{}
)
