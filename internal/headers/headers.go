// Package headers implements the case-insensitive, multi-valued header
// store shared by requests and responses.
//
// Stored keys are always lowercased on the way in; callers never see or
// supply mixed-case keys. A fixed set of header names are "multi-value":
// their values are split on commas at parse time and re-joined with ", "
// on write. Everything else keeps its literal value as a single-element
// sequence.
package headers

import (
	"sort"
	"strings"
)

// multiValue is the fixed set of header names whose value is a
// comma-separated list rather than an opaque string.
var multiValue = map[string]bool{
	"accept":             true,
	"accept-charset":     true,
	"accept-encoding":    true,
	"accept-language":    true,
	"cache-control":      true,
	"te":                 true,
	"transfer-encoding":  true,
	"upgrade":            true,
	"via":                true,
}

// Store is a case-insensitive, ordered, multi-valued header map.
//
// The zero value is not usable; construct one with New or From.
type Store struct {
	// order preserves first-insertion order of names, so Names() and
	// Write() are deterministic across a process run.
	order []string
	m     map[string][]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{m: make(map[string][]string)}
}

// From builds a Store from a plain map, skipping validation. It is meant
// for constructing responses from trusted, in-process values; inbound
// wire data must go through Set/SetOne so invalid names/values are
// rejected.
func From(m map[string][]string) *Store {
	s := New()
	for k, vs := range m {
		for _, v := range vs {
			s.add(k, v)
		}
	}
	return s
}

func lower(name string) string { return strings.ToLower(name) }

// IsMultiValue reports whether name belongs to the fixed multi-value
// header set.
func IsMultiValue(name string) bool {
	return multiValue[lower(name)]
}

// Get returns the values stored for name, in insertion order, and
// whether the name is present at all. The returned slice is never empty
// when ok is true.
func (s *Store) Get(name string) (values []string, ok bool) {
	v, ok := s.m[lower(name)]
	return v, ok
}

// GetOne returns the first stored value for name, or "" if absent.
func (s *Store) GetOne(name string) string {
	if v, ok := s.Get(name); ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

// Contains reports whether name has at least one stored value.
func (s *Store) Contains(name string) bool {
	_, ok := s.m[lower(name)]
	return ok
}

// SetOne replaces the stored values for name with a single value. It
// fails (returning false, store unchanged) if name is not an RFC 7230
// token or value contains a character outside the allowed field-value
// character set.
func (s *Store) SetOne(name, value string) bool {
	return s.set(name, []string{value}, true)
}

// Set appends values to those stored for name, splitting on commas
// first if name is a multi-value header. It fails (returning false,
// store unchanged) if name is not a token or any value is invalid.
func (s *Store) Set(name string, values []string) bool {
	return s.set(name, values, false)
}

func (s *Store) set(name string, values []string, replace bool) bool {
	if !isToken(name) {
		return false
	}
	expanded := make([]string, 0, len(values))
	for _, v := range values {
		if IsMultiValue(name) {
			for _, part := range strings.Split(v, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				if !isFieldValue(part) {
					return false
				}
				expanded = append(expanded, part)
			}
		} else {
			v = strings.TrimSpace(v)
			if !isFieldValue(v) {
				return false
			}
			expanded = append(expanded, v)
		}
	}
	if len(expanded) == 0 {
		return false
	}
	key := lower(name)
	if _, existed := s.m[key]; !existed {
		s.order = append(s.order, key)
	}
	if replace {
		s.m[key] = expanded
	} else {
		s.m[key] = append(s.m[key], expanded...)
	}
	return true
}

// add appends a value without validation; used by From.
func (s *Store) add(name, value string) {
	key := lower(name)
	if _, ok := s.m[key]; !ok {
		s.order = append(s.order, key)
	}
	s.m[key] = append(s.m[key], value)
}

// Remove deletes all stored values for name.
func (s *Store) Remove(name string) {
	key := lower(name)
	if _, ok := s.m[key]; !ok {
		return
	}
	delete(s.m, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Names returns the stored header names in first-insertion order, each
// already lowercased.
func (s *Store) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Clone returns an independent copy of s.
func (s *Store) Clone() *Store {
	c := New()
	for _, k := range s.order {
		vs := make([]string, len(s.m[k]))
		copy(vs, s.m[k])
		c.order = append(c.order, k)
		c.m[k] = vs
	}
	return c
}

// Len returns the number of distinct header names.
func (s *Store) Len() int { return len(s.order) }

// Write serializes the store as "Name: v1, v2\r\n" lines in
// first-insertion order, capitalized the conventional way for display
// (the wire format is case-insensitive; this is purely cosmetic).
func (s *Store) Write(sb *strings.Builder) {
	for _, k := range s.order {
		sb.WriteString(displayName(k))
		sb.WriteString(": ")
		sb.WriteString(strings.Join(s.m[k], ", "))
		sb.WriteString("\r\n")
	}
}

// displayName title-cases each hyphen-separated segment of a lowercased
// header name for output, e.g. "content-type" -> "Content-Type".
func displayName(lowerName string) string {
	segs := strings.Split(lowerName, "-")
	for i, seg := range segs {
		if seg == "" {
			continue
		}
		segs[i] = strings.ToUpper(seg[:1]) + seg[1:]
	}
	return strings.Join(segs, "-")
}

// SortedNames returns Names() sorted lexicographically; useful for
// deterministic test output and logging.
func (s *Store) SortedNames() []string {
	names := s.Names()
	sort.Strings(names)
	return names
}

// isToken reports whether v is a valid RFC 7230 "token": one or more
// tchar characters.
func isToken(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if !isTokenChar(v[i]) {
			return false
		}
	}
	return true
}

func isTokenChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// isFieldValue reports whether v contains only visible characters and
// optional interior whitespace, per RFC 7230 field-content.
func isFieldValue(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if b == ' ' || b == '\t' {
			continue
		}
		if b < 0x21 || b == 0x7f {
			return false
		}
	}
	return true
}
