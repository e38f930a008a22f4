package rips

import (
	"fmt"
)

// WarningKind classifies migration warnings. Both kinds need a person to
// act; the migrator never resolves them.
type WarningKind string

const (
	WarnManualCompletion WarningKind = "ManualCompletionRequired"
	WarnUnmappedFileType WarningKind = "UnmappedFileType"
)

// MigrationWarning names a gap the migrator left for manual follow-up.
// Record is the zero-based record index, or -1 for file-level warnings.
type MigrationWarning struct {
	Kind     WarningKind `json:"kind"`
	FileType string      `json:"file_type"`
	Field    string      `json:"field,omitempty"`
	Record   int         `json:"record"`
	Message  string      `json:"message"`
}

// Target is "CODE.field", or just the code for file-level warnings.
func (w MigrationWarning) Target() string {
	if w.Field == "" {
		return w.FileType
	}
	return w.FileType + "." + w.Field
}

// MigrationResult holds the new-format records keyed by new file type code.
type MigrationResult struct {
	From     string              `json:"from"`
	To       string              `json:"to"`
	Files    map[string][]Record `json:"files"`
	Warnings []MigrationWarning  `json:"warnings"`
}

// Migrator transports legacy records into a newer format version.
type Migrator struct {
	reg   *Registry
	corrs map[string]*Correspondence
}

// NewMigrator registers the correspondences it can migrate along.
func NewMigrator(reg *Registry, corrs ...*Correspondence) *Migrator {
	m := &Migrator{reg: reg, corrs: make(map[string]*Correspondence, len(corrs))}
	for _, c := range corrs {
		m.corrs[c.From+"->"+c.To] = c
	}
	return m
}

// Correspondence returns the table for a version pair.
func (m *Migrator) Correspondence(from, to string) (*Correspondence, error) {
	c, ok := m.corrs[from+"->"+to]
	if !ok {
		return nil, &ConfigurationError{Version: from + "->" + to, Err: fmt.Errorf("no file type correspondence")}
	}
	return c, nil
}

// Compare diffs two versions using the registered correspondence.
func (m *Migrator) Compare(from, to string) (DiffReport, error) {
	c, err := m.Correspondence(from, to)
	if err != nil {
		return DiffReport{}, err
	}
	return DiffVersions(m.reg, from, to, c)
}

// Migrate copies common fields verbatim, drops removed fields and puts a
// Placeholder in every required field the legacy record cannot fill. Each
// placeholder yields one WarnManualCompletion warning. Legacy files whose
// type has no counterpart yield one WarnUnmappedFileType warning and are
// not migrated. Files are processed in the old version's declaration order.
func (m *Migrator) Migrate(from, to string, legacy map[string][]Record) (MigrationResult, error) {
	report, err := m.Compare(from, to)
	if err != nil {
		return MigrationResult{}, err
	}
	oldV, _ := m.reg.Version(from)
	for code := range legacy {
		if _, ok := oldV.FileType(code); !ok {
			return MigrationResult{}, &ConfigurationError{Version: from, FileType: code, Err: ErrUnknownFileType}
		}
	}

	res := MigrationResult{From: from, To: to, Files: map[string][]Record{}, Warnings: []MigrationWarning{}}
	for _, u := range report.Unmapped {
		if n := len(legacy[u.Code]); n > 0 {
			res.Warnings = append(res.Warnings, MigrationWarning{
				Kind:     WarnUnmappedFileType,
				FileType: u.Code,
				Record:   -1,
				Message:  fmt.Sprintf("%d %s record(s) have no %s counterpart and were not migrated", n, u.Code, to),
			})
		}
	}
	for _, d := range report.Diffs {
		records, ok := legacy[d.OldFile]
		if !ok {
			continue
		}
		migrated := make([]Record, len(records))
		for i, rec := range records {
			out, warnings := migrateRecord(d, i, rec)
			migrated[i] = out
			res.Warnings = append(res.Warnings, warnings...)
		}
		res.Files[d.NewFile] = migrated
	}
	return res, nil
}

func migrateRecord(d SchemaDiff, index int, rec Record) (Record, []MigrationWarning) {
	out := make(Record, len(d.CommonFields)+len(d.NewFields))
	var warnings []MigrationWarning
	pending := func(field string) {
		out[field] = Placeholder{}
		warnings = append(warnings, MigrationWarning{
			Kind:     WarnManualCompletion,
			FileType: d.NewFile,
			Field:    field,
			Record:   index,
			Message:  fmt.Sprintf("%s.%s has no legacy value and must be completed manually", d.NewFile, field),
		})
	}

	for _, c := range d.CommonFields {
		v, ok := rec[c.Name]
		if ok && !isEmpty(v) {
			out[c.Name] = v
			continue
		}
		// Became mandatory while the legacy record left it empty.
		if c.NewRequired && !c.OldRequired {
			pending(c.Name)
		}
	}
	for _, f := range d.NewFields {
		if f.Required {
			pending(f.Name)
		}
	}
	return out, warnings
}
