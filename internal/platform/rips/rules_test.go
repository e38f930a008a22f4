package rips

import (
	"testing"
)

type stubReference struct {
	docs map[string]bool
}

func (s stubReference) IsDocumentType(code string) bool { return s.docs[code] }
func (stubReference) IsCountry(code string) bool        { return code == "170" }
func (stubReference) IsDepartment(code string) bool     { return code == "11" }

func TestRuleSeverity_Mapping(t *testing.T) {
	tests := map[RuleSeverity]Severity{
		RuleCritical: SeverityCritical,
		RuleHigh:     SeverityError,
		RuleMedium:   SeverityWarning,
		RuleLow:      SeverityWarning,
		RuleInfo:     SeverityInfo,
	}
	for in, want := range tests {
		if got := in.Severity(); got != want {
			t.Errorf("%s: expected %s, got %s", in, want, got)
		}
	}
	if !RuleHigh.Severity().Blocking() || RuleMedium.Severity().Blocking() {
		t.Error("expected High to block and Medium not to")
	}
}

func TestDefaultRuleEngine_CoversEveryFileType(t *testing.T) {
	e := DefaultRuleEngine()
	reg := testRegistry(t)
	for _, id := range reg.Versions() {
		fts, _ := reg.ListFileTypes(id)
		for _, ft := range fts {
			if len(e.Rules(ft.Code)) == 0 {
				t.Errorf("%s has no rules", ft.Code)
			}
		}
	}
}

func TestDefaultRuleEngine_FieldsExistInSchema(t *testing.T) {
	// Duplicated records and an empty reference catalog make most rules fire.
	e := DefaultRuleEngine()
	reg := testRegistry(t)
	records := map[string]Record{
		"AF":   afRecord("FE1"),
		"AFCT": afctRecord("FE1"),
		"US":   usRecord("1"),
		"AC":   acRecord("FE1", "1"),
	}
	for _, id := range reg.Versions() {
		fts, _ := reg.ListFileTypes(id)
		for _, ft := range fts {
			rec, ok := records[ft.Code]
			if !ok {
				continue
			}
			batch := NewBatchContext(stubReference{}, map[string][]Record{ft.Code: {rec, rec}})
			for _, is := range e.Apply(ft.Code, 1, rec, batch) {
				if _, ok := ft.Field(is.Field); !ok {
					t.Errorf("%s rule %s reports unknown field %q", ft.Code, is.Rule, is.Field)
				}
			}
		}
	}
}

func TestNewRuleEngine_RejectsDuplicates(t *testing.T) {
	check := func(RuleInput) []Finding { return nil }
	_, err := NewRuleEngine(map[string][]Rule{
		"AF": {
			{Name: "a", Severity: RuleLow, Scope: ScopeRecord, Check: check},
			{Name: "a", Severity: RuleLow, Scope: ScopeRecord, Check: check},
		},
	})
	if err == nil {
		t.Fatal("expected error for duplicate rule")
	}
	if _, err := NewRuleEngine(map[string][]Rule{"AF": {{Name: "b", Scope: ScopeRecord}}}); err == nil {
		t.Fatal("expected error for rule without check")
	}
	if _, err := NewRuleEngine(map[string][]Rule{"AF": {{Name: "c", Check: check}}}); err == nil {
		t.Fatal("expected error for rule without scope")
	}
}

func TestRuleEngine_DeclarationOrder(t *testing.T) {
	finding := func(field string) CheckFunc {
		return func(RuleInput) []Finding { return []Finding{{Field: field, Message: field}} }
	}
	e, err := NewRuleEngine(map[string][]Rule{
		"XX": {
			{Name: "first", Severity: RuleLow, Scope: ScopeBatch, Check: finding("a")},
			{Name: "second", Severity: RuleHigh, Scope: ScopeRecord, Check: finding("b")},
			{Name: "third", Severity: RuleInfo, Scope: ScopeBatch, Check: finding("c")},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	issues := e.Apply("XX", 0, Record{}, nil)
	if len(issues) != 3 {
		t.Fatalf("expected 3 issues, got %d", len(issues))
	}
	for i, want := range []string{"first", "second", "third"} {
		if issues[i].Rule != want {
			t.Errorf("issue %d: expected %s, got %s", i, want, issues[i].Rule)
		}
	}
	if issues[1].Severity != SeverityError || issues[1].Code != IssueRule {
		t.Errorf("unexpected issue: %+v", issues[1])
	}
}

func TestRules_UniqueInvoiceFlagsLaterDuplicates(t *testing.T) {
	e := DefaultRuleEngine()
	records := []Record{afRecord("FE1"), afRecord("FE2"), afRecord("FE1")}
	batch := NewBatchContext(nil, map[string][]Record{"AF": records})

	for i, rec := range records {
		got := hasRule(e.Apply("AF", i, rec, batch), "unique_invoice")
		if want := i == 2; got != want {
			t.Errorf("record %d: expected unique_invoice=%v, got %v", i, want, got)
		}
	}
}

func TestRules_InvoiceInBatch(t *testing.T) {
	e := DefaultRuleEngine()
	batch := NewBatchContext(nil, map[string][]Record{
		"AF": {afRecord("FE1")},
		"AC": {acRecord("FE1", "1"), acRecord("FE9", "2")},
	})
	if hasRule(e.Apply("AC", 0, acRecord("FE1", "1"), batch), "invoice_in_batch") {
		t.Error("expected FE1 to be found")
	}
	if !hasRule(e.Apply("AC", 1, acRecord("FE9", "2"), batch), "invoice_in_batch") {
		t.Error("expected FE9 to be flagged")
	}

	alone := NewBatchContext(nil, map[string][]Record{"AC": {acRecord("FE9", "2")}})
	if hasRule(e.Apply("AC", 0, acRecord("FE9", "2"), alone), "invoice_in_batch") {
		t.Error("expected no finding without a transactions file")
	}
}

func TestRules_RejectedSiblingsAreIgnored(t *testing.T) {
	e := DefaultRuleEngine()
	batch := NewBatchContext(nil, map[string][]Record{
		"AF": {afRecord("FE1"), afRecord("FE1")},
		"AC": {acRecord("FE1", "1")},
	})
	batch.MarkRejected("AF", 0)

	if !batch.Rejected("AF", 0) || batch.Rejected("AF", 1) {
		t.Fatal("expected only AF record 0 to be rejected")
	}
	if hasRule(e.Apply("AF", 1, afRecord("FE1"), batch), "unique_invoice") {
		t.Error("expected a rejected record not to claim the invoice")
	}
	if hasRule(e.Apply("AC", 0, acRecord("FE1", "1"), batch), "invoice_in_batch") {
		t.Error("expected FE1 to be found in the accepted AF record")
	}

	batch.MarkRejected("AF", 1)
	if !hasRule(e.Apply("AC", 0, acRecord("FE1", "1"), batch), "invoice_in_batch") {
		t.Error("expected FE1 to be flagged once every AF record is rejected")
	}
}

func TestRules_BillingPeriodOrder(t *testing.T) {
	rec := afRecord("FE1")
	rec["fecha_inicio"] = "2024-04-01"
	rec["fecha_final"] = "2024-03-31"
	rec["fecha_expedicion"] = "2024-04-02"

	issues := DefaultRuleEngine().Apply("AF", 0, rec, nil)
	if !hasRule(issues, "billing_period_order") {
		t.Fatalf("expected billing_period_order, got %+v", issues)
	}
	for _, is := range issues {
		if is.Rule == "billing_period_order" && is.Severity != SeverityError {
			t.Errorf("expected blocking severity, got %s", is.Severity)
		}
	}
}

func TestRules_SkipUnparseableInput(t *testing.T) {
	rec := afRecord("FE1")
	rec["fecha_inicio"] = "2024/13/40"
	if hasRule(DefaultRuleEngine().Apply("AF", 0, rec, nil), "billing_period_order") {
		t.Error("expected rule to skip an unparseable date")
	}
}

func TestRules_ReferenceData(t *testing.T) {
	ref := stubReference{docs: map[string]bool{"CC": true}}
	e := DefaultRuleEngine()

	rec := usRecord("1")
	batch := NewBatchContext(ref, map[string][]Record{"US": {rec}})
	if hasRule(e.Apply("US", 0, rec, batch), "valid_document_type") {
		t.Error("expected CC to be accepted")
	}

	rec = usRecord("1")
	rec["tipo_documento"] = "ZZ"
	rec["codigo_departamento"] = "99"
	issues := e.Apply("US", 0, rec, NewBatchContext(ref, map[string][]Record{"US": {rec}}))
	if !hasRule(issues, "valid_document_type") || !hasRule(issues, "valid_department") {
		t.Errorf("expected document type and department findings, got %+v", issues)
	}
}

func TestRules_TotalMatchesUnits(t *testing.T) {
	rec := Record{
		"numero_factura":   "FE1",
		"tipo_documento":   "CC",
		"tipo_medicamento": "1",
		"numero_unidades":  3,
		"valor_unitario":   "1000.40",
		"valor_total":      3001,
	}
	if hasRule(DefaultRuleEngine().Apply("AM", 0, rec, nil), "total_matches_units") {
		t.Error("expected total within tolerance")
	}
	rec["valor_total"] = 4000
	if !hasRule(DefaultRuleEngine().Apply("AM", 0, rec, nil), "total_matches_units") {
		t.Error("expected mismatch finding")
	}
}

func TestRules_DeathCauseRequired(t *testing.T) {
	rec := Record{"estado_salida": "2", "tipo_documento": "CC"}
	if !hasRule(DefaultRuleEngine().Apply("AURG", 0, rec, nil), "death_cause_required") {
		t.Error("expected death_cause_required")
	}
	rec["causa_muerte"] = "I219"
	if hasRule(DefaultRuleEngine().Apply("AURG", 0, rec, nil), "death_cause_required") {
		t.Error("expected no finding with a cause")
	}
}

func TestRules_CUPSFormatDiffersByVersion(t *testing.T) {
	rec := acRecord("FE1", "1")
	rec["codigo_consulta"] = "89020101"
	e := DefaultRuleEngine()
	if hasRule(e.Apply("AC", 0, rec, nil), "cups_format") {
		t.Error("expected 8 character CUPS to pass in AC")
	}
	if !hasRule(e.Apply("ACCN", 0, rec, nil), "cups_format") {
		t.Error("expected 8 character CUPS to fail in ACCN")
	}
}

func TestRuleEngine_Descriptors(t *testing.T) {
	ds := DefaultRuleEngine().Descriptors("AFCT")
	if len(ds) != 6 {
		t.Fatalf("expected 6 descriptors, got %d", len(ds))
	}
	if ds[0].Name != "unique_invoice" || !ds[0].Blocking || ds[0].Scope != ScopeBatch {
		t.Errorf("unexpected first descriptor: %+v", ds[0])
	}
	if ds[5].Name != "cufe_format" || ds[5].Blocking {
		t.Errorf("unexpected last descriptor: %+v", ds[5])
	}
}
