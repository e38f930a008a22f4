package rips

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity classifies an issue. Error and Critical block encoding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether the severity prevents a record from being encoded.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Issue codes.
const (
	IssueRequired  = "required"
	IssueType      = "type"
	IssueLength    = "length"
	IssuePending   = "pending"
	IssueTruncated = "truncated"
	IssueRule      = "rule"
	IssueBatch     = "batch"
)

// Issue is one finding about a record. Field and Rule are optional.
type Issue struct {
	Field    string   `json:"field,omitempty"`
	Rule     string   `json:"rule,omitempty"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationResult aggregates every issue found for a record. Validity is
// derived from the issues, never stored.
type ValidationResult struct {
	Issues []Issue `json:"issues"`
}

// IsValid is true iff no issue is Error or Critical.
func (r ValidationResult) IsValid() bool {
	for _, is := range r.Issues {
		if is.Severity.Blocking() {
			return false
		}
	}
	return true
}

// Count returns the number of blocking and non-blocking issues.
func (r ValidationResult) Count() (errs, warnings int) {
	for _, is := range r.Issues {
		if is.Severity.Blocking() {
			errs++
		} else if is.Severity == SeverityWarning {
			warnings++
		}
	}
	return errs, warnings
}

// State maps the result onto the record lifecycle.
func (r ValidationResult) State() RecordState {
	errs, warnings := r.Count()
	switch {
	case errs > 0:
		return StateRejected
	case warnings > 0:
		return StateValidatedWithWarnings
	}
	return StateValidatedClean
}

// MarshalJSON includes the derived is_valid flag.
func (r ValidationResult) MarshalJSON() ([]byte, error) {
	issues := r.Issues
	if issues == nil {
		issues = []Issue{}
	}
	return json.Marshal(struct {
		IsValid bool    `json:"is_valid"`
		Issues  []Issue `json:"issues"`
	}{r.IsValid(), issues})
}

// RecordState is the per-record lifecycle position.
type RecordState string

const (
	StateUnvalidated           RecordState = "unvalidated"
	StateValidatedClean        RecordState = "validated"
	StateValidatedWithWarnings RecordState = "validated_with_warnings"
	StateRejected              RecordState = "rejected"
	StateEncoded               RecordState = "encoded"
)

// ValidateRecord checks rec against schema field by field, in schema order.
// It never stops at the first problem so callers get complete feedback in
// one pass. Fields absent from the schema are ignored.
func ValidateRecord(schema *FileTypeSchema, rec Record) ValidationResult {
	var res ValidationResult
	for _, f := range schema.Fields {
		if is, ok := validateField(f, rec); ok {
			res.Issues = append(res.Issues, is)
		}
	}
	return res
}

func validateField(f FieldSpec, rec Record) (Issue, bool) {
	v, present := rec[f.Name]

	if present && IsPlaceholder(v) {
		return Issue{
			Field:    f.Name,
			Code:     IssuePending,
			Message:  fmt.Sprintf("%s requires manual completion", f.Name),
			Severity: SeverityError,
		}, true
	}

	if !present || isEmpty(v) {
		if !f.Required {
			return Issue{}, false
		}
		return Issue{
			Field:    f.Name,
			Code:     IssueRequired,
			Message:  fmt.Sprintf("required field %s is missing", f.Name),
			Severity: SeverityError,
		}, true
	}

	text, err := FormatValue(f, v)
	if err != nil {
		return Issue{
			Field:    f.Name,
			Code:     IssueType,
			Message:  fmt.Sprintf("%s must be a %s: %v", f.Name, f.Kind, err),
			Severity: SeverityError,
		}, true
	}

	n := valueLength(text)
	if n <= f.Length {
		return Issue{}, false
	}
	if f.Kind == KindString {
		return Issue{
			Field:    f.Name,
			Code:     IssueLength,
			Message:  fmt.Sprintf("%s has %d characters, it will be truncated to %d", f.Name, n, f.Length),
			Severity: SeverityWarning,
		}, true
	}
	msg := fmt.Sprintf("%s has length %d, maximum is %d", f.Name, n, f.Length)
	if f.Kind == KindNumber && strings.Contains(text, ".") {
		msg = fmt.Sprintf("%s has length %d including the decimal point, maximum is %d", f.Name, n, f.Length)
	}
	return Issue{
		Field:    f.Name,
		Code:     IssueLength,
		Message:  msg,
		Severity: SeverityError,
	}, true
}
