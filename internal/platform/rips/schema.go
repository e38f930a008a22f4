// Package rips implements the RIPS record engine: the schema registry for the
// Resolution 3374 and Resolution 2275 file formats, field validation, the
// business rule engine, fixed-width/delimited/markup encoding, schema diffing
// between format generations and legacy record migration.
package rips

import (
	"fmt"
	"strings"
)

// Format version identifiers.
const (
	Version3374 = "3374"
	Version2275 = "2275"
)

// DateFormat is the only date format RIPS files accept.
const DateFormat = "YYYY-MM-DD"

// dateLayout is the Go layout equivalent of DateFormat.
const dateLayout = "2006-01-02"

// FieldKind is the closed set of field value kinds.
type FieldKind int

const (
	KindString FieldKind = iota + 1
	KindNumber
	KindDate
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	}
	return fmt.Sprintf("FieldKind(%d)", int(k))
}

// ParseFieldKind maps a definition tag to a FieldKind. Unknown tags are an
// error so a typo in a schema definition fails at load time.
func ParseFieldKind(s string) (FieldKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string":
		return KindString, nil
	case "number":
		return KindNumber, nil
	case "date":
		return KindDate, nil
	}
	return 0, fmt.Errorf("unknown field kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k FieldKind) MarshalText() ([]byte, error) {
	switch k {
	case KindString, KindNumber, KindDate:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("invalid field kind %d", int(k))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *FieldKind) UnmarshalText(b []byte) error {
	parsed, err := ParseFieldKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// FieldSpec describes one field of a file type.
type FieldSpec struct {
	Name       string    `json:"name"`
	Kind       FieldKind `json:"kind"`
	Length     int       `json:"length"`
	Required   bool      `json:"required"`
	DateFormat string    `json:"date_format,omitempty"`
}

func (f FieldSpec) check() error {
	if f.Name == "" {
		return fmt.Errorf("field name is required")
	}
	if f.Length <= 0 {
		return fmt.Errorf("field %s: length must be positive, got %d", f.Name, f.Length)
	}
	switch f.Kind {
	case KindString, KindNumber:
		if f.DateFormat != "" {
			return fmt.Errorf("field %s: date_format only applies to date fields", f.Name)
		}
	case KindDate:
		if f.DateFormat != DateFormat {
			return fmt.Errorf("field %s: date format must be %s, got %q", f.Name, DateFormat, f.DateFormat)
		}
		if f.Length != len(DateFormat) {
			return fmt.Errorf("field %s: date length must be %d, got %d", f.Name, len(DateFormat), f.Length)
		}
	default:
		return fmt.Errorf("field %s: invalid kind %d", f.Name, int(f.Kind))
	}
	return nil
}

// FileTypeSchema is the ordered field layout of one RIPS file type.
type FileTypeSchema struct {
	Code            string      `json:"code"`
	Name            string      `json:"name"`
	RequiredInBatch bool        `json:"required_in_batch"`
	Fields          []FieldSpec `json:"fields"`

	index map[string]int
}

// NewFileTypeSchema builds a schema and checks its invariants: every field is
// well formed and names are unique.
func NewFileTypeSchema(code, name string, requiredInBatch bool, fields []FieldSpec) (*FileTypeSchema, error) {
	if code == "" {
		return nil, fmt.Errorf("file type code is required")
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("file type %s: at least one field is required", code)
	}
	s := &FileTypeSchema{
		Code:            code,
		Name:            name,
		RequiredInBatch: requiredInBatch,
		Fields:          make([]FieldSpec, len(fields)),
		index:           make(map[string]int, len(fields)),
	}
	copy(s.Fields, fields)
	for i, f := range s.Fields {
		if err := f.check(); err != nil {
			return nil, fmt.Errorf("file type %s: %w", code, err)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("file type %s: duplicate field %s", code, f.Name)
		}
		s.index[f.Name] = i
	}
	return s, nil
}

// Field returns the spec for name.
func (s *FileTypeSchema) Field(name string) (FieldSpec, bool) {
	i, ok := s.index[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.Fields[i], true
}

// RecordLength is the width of one fixed-width line.
func (s *FileTypeSchema) RecordLength() int {
	n := 0
	for _, f := range s.Fields {
		n += f.Length
	}
	return n
}

// FormatVersion is one regulatory format generation.
type FormatVersion struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	FileTypes []*FileTypeSchema `json:"file_types"`

	byCode map[string]*FileTypeSchema
}

// NewFormatVersion indexes the file types by code.
func NewFormatVersion(id, name string, fileTypes []*FileTypeSchema) (*FormatVersion, error) {
	if id == "" {
		return nil, fmt.Errorf("version id is required")
	}
	v := &FormatVersion{
		ID:        id,
		Name:      name,
		FileTypes: fileTypes,
		byCode:    make(map[string]*FileTypeSchema, len(fileTypes)),
	}
	for _, ft := range fileTypes {
		if _, dup := v.byCode[ft.Code]; dup {
			return nil, fmt.Errorf("version %s: duplicate file type %s", id, ft.Code)
		}
		v.byCode[ft.Code] = ft
	}
	return v, nil
}

// FileType returns the schema for code within this version.
func (v *FormatVersion) FileType(code string) (*FileTypeSchema, bool) {
	ft, ok := v.byCode[code]
	return ft, ok
}

// Codes returns the file type codes in declaration order.
func (v *FormatVersion) Codes() []string {
	codes := make([]string, len(v.FileTypes))
	for i, ft := range v.FileTypes {
		codes[i] = ft.Code
	}
	return codes
}

// Registry holds every known format version. It is built once at startup
// and is read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	versions []*FormatVersion
	byID     map[string]*FormatVersion
}

// NewRegistry indexes versions by id.
func NewRegistry(versions ...*FormatVersion) (*Registry, error) {
	r := &Registry{byID: make(map[string]*FormatVersion, len(versions))}
	for _, v := range versions {
		if _, dup := r.byID[v.ID]; dup {
			return nil, fmt.Errorf("duplicate version %s", v.ID)
		}
		r.byID[v.ID] = v
		r.versions = append(r.versions, v)
	}
	return r, nil
}

// Version returns the whole schema tree of a version.
func (r *Registry) Version(id string) (*FormatVersion, error) {
	v, ok := r.byID[id]
	if !ok {
		return nil, &ConfigurationError{Version: id, Err: ErrUnknownVersion}
	}
	return v, nil
}

// Versions returns the version ids in registration order.
func (r *Registry) Versions() []string {
	ids := make([]string, len(r.versions))
	for i, v := range r.versions {
		ids[i] = v.ID
	}
	return ids
}

// Schema looks up one file type schema.
func (r *Registry) Schema(version, code string) (*FileTypeSchema, error) {
	v, err := r.Version(version)
	if err != nil {
		return nil, err
	}
	ft, ok := v.FileType(code)
	if !ok {
		return nil, &ConfigurationError{Version: version, FileType: code, Err: ErrUnknownFileType}
	}
	return ft, nil
}

// ListFileTypes returns the schemas of a version in declaration order.
func (r *Registry) ListFileTypes(version string) ([]*FileTypeSchema, error) {
	v, err := r.Version(version)
	if err != nil {
		return nil, err
	}
	out := make([]*FileTypeSchema, len(v.FileTypes))
	copy(out, v.FileTypes)
	return out, nil
}
