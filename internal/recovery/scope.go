package recovery

import (
	"sort"
	"strings"
	"unicode"
)

// Scope is the call site a failure was reported from, together with the
// facets named by it. "document.save" has the facets document and save.
// Facets match exactly; "documents" does not match document.
type Scope struct {
	Name   string
	facets map[string]struct{}
}

// ParseScope splits a call site name into facets on '.', '/', ':', '-', '_'
// and whitespace. Facets are lower-cased.
func ParseScope(name string) Scope {
	s := Scope{Name: name, facets: make(map[string]struct{})}
	parts := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		switch r {
		case '.', '/', ':', '-', '_':
			return true
		}
		return unicode.IsSpace(r)
	})
	for _, p := range parts {
		s.facets[p] = struct{}{}
	}
	return s
}

// NewScope builds a scope from explicit facets.
func NewScope(name string, facets ...string) Scope {
	s := ParseScope(name)
	for _, f := range facets {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			s.facets[f] = struct{}{}
		}
	}
	return s
}

// Has reports whether the scope names facet.
func (s Scope) Has(facet string) bool {
	_, ok := s.facets[facet]
	return ok
}

// HasAny reports whether the scope names any of facets.
func (s Scope) HasAny(facets ...string) bool {
	for _, f := range facets {
		if s.Has(f) {
			return true
		}
	}
	return false
}

// Facets returns the facets in sorted order.
func (s Scope) Facets() []string {
	out := make([]string, 0, len(s.facets))
	for f := range s.facets {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (s Scope) String() string {
	return s.Name
}
