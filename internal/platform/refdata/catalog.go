// Package refdata supplies the reference code lists RIPS business rules
// check against: document types, countries and departments.
package refdata

import (
	"fmt"
	"sort"
	"strings"
)

// Kind names a code list.
type Kind string

const (
	KindDocumentType Kind = "document_type"
	KindCountry      Kind = "country"
	KindDepartment   Kind = "department"
)

// Kinds lists every supported kind.
func Kinds() []Kind {
	return []Kind{KindDocumentType, KindCountry, KindDepartment}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown reference kind %q", s)
}

// Entry is one reference code.
type Entry struct {
	Kind        Kind   `json:"kind"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

// Catalog is an immutable set of active codes. It implements the rule
// engine's reference data lookups and is safe for concurrent use.
type Catalog struct {
	codes map[Kind]map[string]Entry
}

// NewCatalog indexes the active entries. Codes are compared after trimming
// and upper-casing.
func NewCatalog(entries []Entry) (*Catalog, error) {
	c := &Catalog{codes: make(map[Kind]map[string]Entry, len(Kinds()))}
	for _, e := range entries {
		if _, err := ParseKind(string(e.Kind)); err != nil {
			return nil, err
		}
		code := normalize(e.Code)
		if code == "" {
			return nil, fmt.Errorf("%s: empty code", e.Kind)
		}
		if !e.Active {
			continue
		}
		if c.codes[e.Kind] == nil {
			c.codes[e.Kind] = make(map[string]Entry)
		}
		e.Code = code
		c.codes[e.Kind][code] = e
	}
	return c, nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Catalog) has(kind Kind, code string) bool {
	_, ok := c.codes[kind][normalize(code)]
	return ok
}

// IsDocumentType reports whether code is an active identification document type.
func (c *Catalog) IsDocumentType(code string) bool { return c.has(KindDocumentType, code) }

// IsCountry reports whether code is an active ISO 3166 numeric country code.
func (c *Catalog) IsCountry(code string) bool { return c.has(KindCountry, code) }

// IsDepartment reports whether code is an active DIVIPOLA department code.
func (c *Catalog) IsDepartment(code string) bool { return c.has(KindDepartment, code) }

// Entries returns the active entries of a kind sorted by code.
func (c *Catalog) Entries(kind Kind) []Entry {
	m := c.codes[kind]
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Len counts the active entries of a kind.
func (c *Catalog) Len(kind Kind) int {
	return len(c.codes[kind])
}
