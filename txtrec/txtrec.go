// Package txtrec converts between DNS-SD TXT record entries and an ordered
// key/value mapping. Entries on the wire are "key=value" strings; a key with
// no '=' is present with an empty value.
package txtrec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// RFC 6763 limits a single TXT entry to one length-prefixed string.
const maxEntryLen = 255

var (
	ErrInvalidKey   = errors.New("txtrec: key must not contain '='")
	ErrEntryTooLong = errors.New("txtrec: entry exceeds 255 bytes")
)

// MARK: Map

// Map is an insertion-ordered key/value mapping with unique keys.
// Setting an existing key overwrites its value in place.
type Map struct {
	entries []Entry
}

// MARK: Entry
type Entry struct {
	Key   string
	Value string
}

// MARK: FromMap
// Builds a Map from a plain Go map, sorted by key for determinism.
func FromMap(m map[string]string) Map {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out Map
	for _, k := range keys {
		out.Set(k, m[k])
	}
	return out
}

// MARK: Set
// Sets a key, overwriting any earlier value for the same key.
func (m *Map) Set(key, value string) {
	for i := range m.entries {
		if m.entries[i].Key == key {
			m.entries[i].Value = value
			return
		}
	}
	m.entries = append(m.entries, Entry{Key: key, Value: value})
}

// MARK: Get
// Returns the value for key and whether the key is present.
func (m Map) Get(key string) (string, bool) {
	for _, e := range m.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// MARK: Len
func (m Map) Len() int {
	return len(m.entries)
}

// MARK: Keys
// Returns the keys in insertion order.
func (m Map) Keys() []string {
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// MARK: Entries
// Returns a copy of the entries in insertion order.
func (m Map) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// MARK: ToMap
// Flattens the mapping into a plain Go map.
func (m Map) ToMap() map[string]string {
	out := make(map[string]string, len(m.entries))
	for _, e := range m.entries {
		out[e.Key] = e.Value
	}
	return out
}

// MARK: Clone
func (m Map) Clone() Map {
	return Map{entries: append([]Entry(nil), m.entries...)}
}

// MARK: Equal
// Compares two mappings by key/value content, ignoring order.
func (m Map) Equal(other Map) bool {
	if len(m.entries) != len(other.entries) {
		return false
	}
	for _, e := range m.entries {
		v, ok := other.Get(e.Key)
		if !ok || v != e.Value {
			return false
		}
	}
	return true
}

// MARK: String
func (m Map) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", e.Key, e.Value)
	}
	b.WriteByte('}')
	return b.String()
}

// MARK: Decode
// Decodes wire TXT entries into a Map. Each entry splits on the first '='; an
// entry with no '=' is a boolean-present key with an empty value; an entry
// whose key repeats overwrites the earlier value. Zero-length entries and
// entries with an empty key are skipped, not errors: peers are not required
// to produce well-formed records and the valid remainder is still useful.
// The second return is the number of entries skipped as malformed.
func Decode(entries []string) (Map, int) {
	var out Map
	skipped := 0

	for _, entry := range entries {
		if len(entry) == 0 {
			skipped++
			continue
		}

		key, value, found := strings.Cut(entry, "=")
		if key == "" {
			skipped++
			continue
		}
		if !found {
			value = ""
		}
		out.Set(key, value)
	}

	return out, skipped
}

// MARK: Encode
// Encodes a Map into wire TXT entries. Empty keys, keys containing '=', and
// entries over the per-string length limit are rejected; otherwise decoding
// the result yields a mapping equal to m.
func Encode(m Map) ([]string, error) {
	entries := make([]string, 0, m.Len())

	for _, e := range m.entries {
		if e.Key == "" || strings.Contains(e.Key, "=") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, e.Key)
		}

		entry := e.Key
		if e.Value != "" {
			entry = e.Key + "=" + e.Value
		}
		if len(entry) > maxEntryLen {
			return nil, fmt.Errorf("%w: key %q", ErrEntryTooLong, e.Key)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
