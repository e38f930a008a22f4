package rips

import (
	"fmt"
	"sort"
	"sync"
)

// RuleSeverity is the business-facing severity scale of a rule.
type RuleSeverity string

const (
	RuleCritical RuleSeverity = "critical"
	RuleHigh     RuleSeverity = "high"
	RuleMedium   RuleSeverity = "medium"
	RuleLow      RuleSeverity = "low"
	RuleInfo     RuleSeverity = "info"
)

// Severity maps the business scale onto the validation axis: Critical and
// High block encoding, the rest do not.
func (s RuleSeverity) Severity() Severity {
	switch s {
	case RuleCritical:
		return SeverityCritical
	case RuleHigh:
		return SeverityError
	case RuleMedium, RuleLow:
		return SeverityWarning
	}
	return SeverityInfo
}

// RuleScope tells the pipeline when a rule may run. Record rules only look
// at their own record and run inside the worker pool; batch rules read
// sibling records and run in a single pass once every record is known.
type RuleScope string

const (
	ScopeRecord RuleScope = "record"
	ScopeBatch  RuleScope = "batch"
)

// Finding is what a rule check reports; the engine stamps rule name and
// severity onto it.
type Finding struct {
	Field   string
	Message string
}

// RuleInput is the read-only view a rule receives. Rules must not mutate
// Record or anything reachable from Batch.
type RuleInput struct {
	FileType string
	Index    int
	Record   Record
	Batch    *BatchContext
}

// CheckFunc is a pure rule body.
type CheckFunc func(in RuleInput) []Finding

// Rule is one named business rule with a fixed severity.
type Rule struct {
	Name        string
	Description string
	Severity    RuleSeverity
	Scope       RuleScope
	Check       CheckFunc
}

// RuleDescriptor is the display form of a Rule.
type RuleDescriptor struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Severity    RuleSeverity `json:"severity"`
	Blocking    bool         `json:"blocking"`
	Scope       RuleScope    `json:"scope"`
}

// ReferenceData is the read-only code catalog rules check against.
type ReferenceData interface {
	IsDocumentType(code string) bool
	IsCountry(code string) bool
	IsDepartment(code string) bool
}

// BatchContext exposes the whole batch, keyed by file type code, to batch
// rules. The records never change; the pipeline marks a record rejected as
// soon as its outcome is known so sibling checks only compare against
// records that will be emitted.
type BatchContext struct {
	files map[string][]Record
	ref   ReferenceData

	mu       sync.RWMutex
	rejected map[string]map[int]bool
}

// NewBatchContext wraps the batch. A nil ref accepts every code.
func NewBatchContext(ref ReferenceData, files map[string][]Record) *BatchContext {
	if ref == nil {
		ref = openReference{}
	}
	return &BatchContext{files: files, ref: ref, rejected: make(map[string]map[int]bool)}
}

// MarkRejected excludes record index of code from sibling checks.
func (b *BatchContext) MarkRejected(code string, index int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rejected == nil {
		b.rejected = make(map[string]map[int]bool)
	}
	if b.rejected[code] == nil {
		b.rejected[code] = make(map[int]bool)
	}
	b.rejected[code][index] = true
}

// Rejected reports whether record index of code has been excluded.
func (b *BatchContext) Rejected(code string, index int) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rejected[code][index]
}

// Records returns the records of one file type in input order.
func (b *BatchContext) Records(code string) []Record {
	if b == nil {
		return nil
	}
	return b.files[code]
}

// Has reports whether the batch carries any record of code, rejected or not.
func (b *BatchContext) Has(code string) bool {
	return len(b.Records(code)) > 0
}

// Reference returns the reference catalog.
func (b *BatchContext) Reference() ReferenceData {
	if b == nil {
		return openReference{}
	}
	return b.ref
}

type openReference struct{}

func (openReference) IsDocumentType(string) bool { return true }
func (openReference) IsCountry(string) bool      { return true }
func (openReference) IsDepartment(string) bool   { return true }

// RuleEngine holds rule sets keyed by file type code. Declaration order is
// preserved and is the order issues are reported in.
type RuleEngine struct {
	sets map[string][]Rule
}

// NewRuleEngine copies sets and checks that every rule is complete and
// uniquely named within its file type.
func NewRuleEngine(sets map[string][]Rule) (*RuleEngine, error) {
	e := &RuleEngine{sets: make(map[string][]Rule, len(sets))}
	for code, rules := range sets {
		seen := make(map[string]bool, len(rules))
		for _, r := range rules {
			if r.Name == "" || r.Check == nil {
				return nil, fmt.Errorf("file type %s: rule %q is incomplete", code, r.Name)
			}
			if r.Scope != ScopeRecord && r.Scope != ScopeBatch {
				return nil, fmt.Errorf("file type %s: rule %s has invalid scope %q", code, r.Name, r.Scope)
			}
			if seen[r.Name] {
				return nil, fmt.Errorf("file type %s: duplicate rule %s", code, r.Name)
			}
			seen[r.Name] = true
		}
		e.sets[code] = append([]Rule(nil), rules...)
	}
	return e, nil
}

// Codes lists the file types that have rules, sorted.
func (e *RuleEngine) Codes() []string {
	codes := make([]string, 0, len(e.sets))
	for code := range e.sets {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Rules returns the rules of a file type in declaration order.
func (e *RuleEngine) Rules(code string) []Rule {
	return append([]Rule(nil), e.sets[code]...)
}

// Descriptors returns display information for the rules of a file type.
func (e *RuleEngine) Descriptors(code string) []RuleDescriptor {
	rules := e.sets[code]
	out := make([]RuleDescriptor, len(rules))
	for i, r := range rules {
		out[i] = RuleDescriptor{
			Name:        r.Name,
			Description: r.Description,
			Severity:    r.Severity,
			Blocking:    r.Severity.Severity().Blocking(),
			Scope:       r.Scope,
		}
	}
	return out
}

// Apply runs every rule of the file type against one record and returns the
// issues in declaration order.
func (e *RuleEngine) Apply(code string, index int, rec Record, batch *BatchContext) []Issue {
	slots := make([][]Issue, len(e.sets[code]))
	e.applyScope(code, ScopeRecord, index, rec, batch, slots)
	e.applyScope(code, ScopeBatch, index, rec, batch, slots)
	return flatten(slots)
}

// applyScope fills the slots of rules with the given scope. Slots are
// indexed by declaration position so that record and batch passes can run
// at different times and still merge deterministically.
func (e *RuleEngine) applyScope(code string, scope RuleScope, index int, rec Record, batch *BatchContext, slots [][]Issue) {
	in := RuleInput{FileType: code, Index: index, Record: rec, Batch: batch}
	for i, r := range e.sets[code] {
		if r.Scope != scope {
			continue
		}
		findings := r.Check(in)
		if len(findings) == 0 {
			continue
		}
		issues := make([]Issue, len(findings))
		for j, f := range findings {
			issues[j] = Issue{
				Field:    f.Field,
				Rule:     r.Name,
				Code:     IssueRule,
				Message:  f.Message,
				Severity: r.Severity.Severity(),
			}
		}
		slots[i] = issues
	}
}

func (e *RuleEngine) slotCount(code string) int {
	return len(e.sets[code])
}

func flatten(slots [][]Issue) []Issue {
	var out []Issue
	for _, s := range slots {
		out = append(out, s...)
	}
	return out
}
