package rips

import (
	"fmt"
)

// FieldDiff compares one field present by name in both schemas.
type FieldDiff struct {
	Name        string    `json:"name"`
	OldKind     FieldKind `json:"old_kind"`
	NewKind     FieldKind `json:"new_kind"`
	OldLength   int       `json:"old_length"`
	NewLength   int       `json:"new_length"`
	OldRequired bool      `json:"old_required"`
	NewRequired bool      `json:"new_required"`
	Changed     bool      `json:"changed"`
}

// SchemaDiff is the structural difference between a file type and its
// counterpart in another version.
type SchemaDiff struct {
	OldFile       string      `json:"old_file"`
	NewFile       string      `json:"new_file"`
	CommonFields  []FieldDiff `json:"common_fields"`
	RemovedFields []FieldSpec `json:"removed_fields"`
	NewFields     []FieldSpec `json:"new_fields"`
}

// ChangedFields returns the common fields whose length or required flag
// differs.
func (d SchemaDiff) ChangedFields() []FieldDiff {
	var out []FieldDiff
	for _, c := range d.CommonFields {
		if c.Changed {
			out = append(out, c)
		}
	}
	return out
}

// Common returns the diff of a shared field by name.
func (d SchemaDiff) Common(name string) (FieldDiff, bool) {
	for _, c := range d.CommonFields {
		if c.Name == name {
			return c, true
		}
	}
	return FieldDiff{}, false
}

// UnmappedFileType is an old-version file type with no counterpart in the
// correspondence. It is a hole in the migration path.
type UnmappedFileType struct {
	Version string `json:"version"`
	Code    string `json:"code"`
	Name    string `json:"name"`
}

// FilePair maps an old-version code to its new-version code.
type FilePair struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Correspondence is a partial bijection between the file types of two
// versions.
type Correspondence struct {
	From  string
	To    string
	pairs []FilePair
	fwd   map[string]string
}

// NewCorrespondence builds a correspondence and rejects codes mapped twice
// on either side.
func NewCorrespondence(from, to string, pairs ...FilePair) (*Correspondence, error) {
	c := &Correspondence{From: from, To: to, fwd: make(map[string]string, len(pairs))}
	rev := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if p.Old == "" || p.New == "" {
			return nil, fmt.Errorf("correspondence %s->%s: empty code in pair %v", from, to, p)
		}
		if _, dup := c.fwd[p.Old]; dup {
			return nil, fmt.Errorf("correspondence %s->%s: %s mapped twice", from, to, p.Old)
		}
		if _, dup := rev[p.New]; dup {
			return nil, fmt.Errorf("correspondence %s->%s: %s is the target of two codes", from, to, p.New)
		}
		c.fwd[p.Old] = p.New
		rev[p.New] = p.Old
		c.pairs = append(c.pairs, p)
	}
	return c, nil
}

// Lookup returns the new code for an old one.
func (c *Correspondence) Lookup(old string) (string, bool) {
	n, ok := c.fwd[old]
	return n, ok
}

// Pairs returns the pairs in declaration order.
func (c *Correspondence) Pairs() []FilePair {
	return append([]FilePair(nil), c.pairs...)
}

// DefaultCorrespondence maps Resolution 3374 file types onto Resolution
// 2275. The control file CT has no counterpart.
func DefaultCorrespondence() *Correspondence {
	c, err := NewCorrespondence(Version3374, Version2275,
		FilePair{Old: "AF", New: "AFCT"},
		FilePair{Old: "US", New: "ATUS"},
		FilePair{Old: "AC", New: "ACCN"},
		FilePair{Old: "AP", New: "APRC"},
		FilePair{Old: "AU", New: "AURG"},
		FilePair{Old: "AH", New: "AHOS"},
		FilePair{Old: "AN", New: "ARNC"},
		FilePair{Old: "AM", New: "AMED"},
		FilePair{Old: "AT", New: "AOTS"},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// DiffSchemas compares two file type schemas field by field. Common fields
// follow the new schema's order, removed fields the old one's.
func DiffSchemas(oldSchema, newSchema *FileTypeSchema) SchemaDiff {
	d := SchemaDiff{
		OldFile:       oldSchema.Code,
		NewFile:       newSchema.Code,
		CommonFields:  []FieldDiff{},
		RemovedFields: []FieldSpec{},
		NewFields:     []FieldSpec{},
	}
	for _, nf := range newSchema.Fields {
		of, ok := oldSchema.Field(nf.Name)
		if !ok {
			d.NewFields = append(d.NewFields, nf)
			continue
		}
		d.CommonFields = append(d.CommonFields, FieldDiff{
			Name:        nf.Name,
			OldKind:     of.Kind,
			NewKind:     nf.Kind,
			OldLength:   of.Length,
			NewLength:   nf.Length,
			OldRequired: of.Required,
			NewRequired: nf.Required,
			Changed:     of.Length != nf.Length || of.Required != nf.Required,
		})
	}
	for _, of := range oldSchema.Fields {
		if _, ok := newSchema.Field(of.Name); !ok {
			d.RemovedFields = append(d.RemovedFields, of)
		}
	}
	return d
}

// DiffReport is the result of comparing two versions.
type DiffReport struct {
	From     string             `json:"from"`
	To       string             `json:"to"`
	Diffs    []SchemaDiff       `json:"diffs"`
	Unmapped []UnmappedFileType `json:"unmapped"`
}

// Diff returns the diff of one pair by old code.
func (r DiffReport) Diff(oldCode string) (SchemaDiff, bool) {
	for _, d := range r.Diffs {
		if d.OldFile == oldCode {
			return d, true
		}
	}
	return SchemaDiff{}, false
}

// DiffVersions compares every mapped file type of two versions, in the old
// version's declaration order. Old codes outside the correspondence are
// listed in Unmapped. A correspondence naming a code that either version
// lacks is a ConfigurationError.
func DiffVersions(reg *Registry, from, to string, corr *Correspondence) (DiffReport, error) {
	oldV, err := reg.Version(from)
	if err != nil {
		return DiffReport{}, err
	}
	newV, err := reg.Version(to)
	if err != nil {
		return DiffReport{}, err
	}
	if corr == nil || corr.From != from || corr.To != to {
		return DiffReport{}, &ConfigurationError{Version: from + "->" + to, Err: fmt.Errorf("no file type correspondence")}
	}

	report := DiffReport{From: from, To: to, Diffs: []SchemaDiff{}, Unmapped: []UnmappedFileType{}}
	for _, p := range corr.pairs {
		if _, ok := oldV.FileType(p.Old); !ok {
			return DiffReport{}, &ConfigurationError{Version: from, FileType: p.Old, Err: ErrUnknownFileType}
		}
		if _, ok := newV.FileType(p.New); !ok {
			return DiffReport{}, &ConfigurationError{Version: to, FileType: p.New, Err: ErrUnknownFileType}
		}
	}
	for _, oldFT := range oldV.FileTypes {
		newCode, ok := corr.Lookup(oldFT.Code)
		if !ok {
			report.Unmapped = append(report.Unmapped, UnmappedFileType{Version: from, Code: oldFT.Code, Name: oldFT.Name})
			continue
		}
		newFT, _ := newV.FileType(newCode)
		report.Diffs = append(report.Diffs, DiffSchemas(oldFT, newFT))
	}
	return report, nil
}
