package rips

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var (
	cie10Pattern = regexp.MustCompile(`^[A-Z][0-9]{2}[0-9X]?$`)
	timePattern  = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
	cufePattern  = regexp.MustCompile(`^[0-9a-f]{96}$`)
)

// DefaultRuleEngine returns the rule sets for every built-in file type of
// both format versions.
func DefaultRuleEngine() *RuleEngine {
	e, err := NewRuleEngine(DefaultRuleSets())
	if err != nil {
		panic(err)
	}
	return e
}

// DefaultRuleSets declares the business rules per file type code.
func DefaultRuleSets() map[string][]Rule {
	return map[string][]Rule{
		"CT":   controlRules(),
		"AF":   transactionRules(),
		"AFCT": append(transactionRules(), patternRule("cufe_format", "CUFE is a 96 character lowercase hex digest", RuleLow, "cufe", cufePattern)),
		"US":   userRules3374(),
		"ATUS": userRules2275(),
		"AC":   consultationRules("AF", `^[0-9A-Z]{6,8}$`),
		"ACCN": consultationRules("AFCT", `^[0-9A-Z]{6}$`),
		"AP":   procedureRules("AF", `^[0-9A-Z]{6,8}$`),
		"APRC": procedureRules("AFCT", `^[0-9A-Z]{6}$`),
		"AU":   emergencyRules("AF"),
		"AURG": emergencyRules("AFCT"),
		"AH":   hospitalizationRules("AF"),
		"AHOS": hospitalizationRules("AFCT"),
		"AN":   newbornRules("AF"),
		"ARNC": newbornRules("AFCT"),
		"AM":   medicationRules("AF", "1", "2"),
		"AMED": medicationRules("AFCT", "01", "02", "03"),
		"AT":   otherServiceRules("AF", "1", "2", "3", "4"),
		"AOTS": otherServiceRules("AFCT", "01", "02", "03", "04"),
	}
}

func controlRules() []Rule {
	return []Rule{
		{
			Name:        "positive_record_count",
			Description: "Control totals must declare at least one record",
			Severity:    RuleMedium,
			Scope:       ScopeRecord,
			Check: func(in RuleInput) []Finding {
				n, ok := valueNumber(in.Record, "total_registros")
				if ok && n < 1 {
					return []Finding{{Field: "total_registros", Message: "total_registros must be greater than zero"}}
				}
				return nil
			},
		},
	}
}

func transactionRules() []Rule {
	return []Rule{
		uniqueRule("unique_invoice", "Invoice numbers are unique within the transactions file", RuleHigh, "numero_factura"),
		documentTypeRule("valid_document_type", RuleHigh, "tipo_identificacion"),
		dateOrderRule("billing_period_order", "Billing period start is not after its end", RuleHigh, "fecha_inicio", "fecha_final"),
		dateOrderRule("issue_date_within_period", "Invoice is not issued before the billing period starts", RuleMedium, "fecha_inicio", "fecha_expedicion"),
		notGreaterRule("discounts_within_total", "Discounts do not exceed the invoice total", RuleMedium, "valor_descuentos", "total_valor"),
	}
}

func userRules3374() []Rule {
	return []Rule{
		uniqueRule("unique_user", "Each user appears once per batch", RuleHigh, "tipo_documento", "numero_documento"),
		documentTypeRule("valid_document_type", RuleHigh, "tipo_documento"),
		oneOfRule("user_type", "User type is a regulated value", RuleMedium, "tipo_usuario", "1", "2", "3", "4", "5", "6", "7", "8"),
		oneOfRule("age_unit", "Age unit is years (1), months (2) or days (3)", RuleMedium, "unidad_medida_edad", "1", "2", "3"),
		oneOfRule("sex", "Sex is M or F", RuleHigh, "sexo", "M", "F"),
		departmentRule("valid_department", RuleLow, "codigo_departamento"),
		oneOfRule("residence_zone", "Residence zone is urban (U) or rural (R)", RuleLow, "zona_residencia", "U", "R"),
	}
}

func userRules2275() []Rule {
	return []Rule{
		uniqueRule("unique_user", "Each user appears once per batch", RuleHigh, "tipo_documento", "numero_documento"),
		documentTypeRule("valid_document_type", RuleHigh, "tipo_documento"),
		oneOfRule("user_type", "User type is a regulated value", RuleMedium, "tipo_usuario", "01", "02", "03", "04", "05", "06", "07", "08", "09", "10", "11", "12"),
		oneOfRule("sex", "Sex is M, F or I", RuleHigh, "sexo", "M", "F", "I"),
		countryRule("valid_residence_country", RuleHigh, "codigo_pais_residencia"),
		countryRule("valid_origin_country", RuleLow, "codigo_pais_origen"),
		departmentRule("valid_department", RuleLow, "codigo_departamento"),
		oneOfRule("residence_zone", "Residence zone is urban (01) or rural (02)", RuleLow, "zona_residencia", "01", "02"),
	}
}

func consultationRules(transactions, cups string) []Rule {
	cupsPattern := regexp.MustCompile(cups)
	return []Rule{
		invoiceRule(transactions),
		documentTypeRule("valid_document_type", RuleHigh, "tipo_documento"),
		patternRule("cups_format", "Consultation code is a CUPS code", RuleHigh, "codigo_consulta", cupsPattern),
		patternRule("principal_diagnosis_format", "Principal diagnosis is a CIE-10 code", RuleHigh, "diagnostico_principal", cie10Pattern),
		patternRule("related_diagnosis_format", "Related diagnoses are CIE-10 codes", RuleMedium, cie10Pattern, "diagnostico_relacionado_1", "diagnostico_relacionado_2", "diagnostico_relacionado_3"),
		oneOfRule("diagnosis_type", "Diagnosis type is impression (1), confirmed new (2) or confirmed repeat (3)", RuleMedium, "tipo_diagnostico_principal", "1", "2", "3"),
		notGreaterRule("moderating_fee_within_value", "Moderating fee does not exceed the consultation value", RuleMedium, "valor_cuota_moderadora", "valor_consulta"),
	}
}

func procedureRules(transactions, cups string) []Rule {
	cupsPattern := regexp.MustCompile(cups)
	return []Rule{
		invoiceRule(transactions),
		documentTypeRule("valid_document_type", RuleHigh, "tipo_documento"),
		patternRule("cups_format", "Procedure code is a CUPS code", RuleHigh, "codigo_procedimiento", cupsPattern),
		patternRule("diagnosis_format", "Diagnoses are CIE-10 codes", RuleMedium, cie10Pattern, "diagnostico_principal", "diagnostico_relacionado", "complicacion"),
	}
}

func emergencyRules(transactions string) []Rule {
	return []Rule{
		invoiceRule(transactions),
		documentTypeRule("valid_document_type", RuleHigh, "tipo_documento"),
		patternRule("discharge_diagnosis_format", "Discharge diagnosis is a CIE-10 code", RuleHigh, "diagnostico_salida", cie10Pattern),
		patternRule("time_format", "Times are HH:MM on a 24 hour clock", RuleMedium, timePattern, "hora_ingreso", "hora_salida"),
		dateOrderRule("discharge_after_admission", "Discharge is not before admission", RuleHigh, "fecha_ingreso", "fecha_salida"),
		deathCauseRule(),
	}
}

func hospitalizationRules(transactions string) []Rule {
	return []Rule{
		invoiceRule(transactions),
		documentTypeRule("valid_document_type", RuleHigh, "tipo_documento"),
		patternRule("diagnosis_format", "Admission and discharge diagnoses are CIE-10 codes", RuleHigh, cie10Pattern, "diagnostico_ingreso", "diagnostico_salida"),
		patternRule("time_format", "Times are HH:MM on a 24 hour clock", RuleMedium, timePattern, "hora_ingreso", "hora_salida"),
		dateOrderRule("discharge_after_admission", "Discharge is not before admission", RuleHigh, "fecha_ingreso", "fecha_salida"),
		deathCauseRule(),
	}
}

func newbornRules(transactions string) []Rule {
	return []Rule{
		invoiceRule(transactions),
		documentTypeRule("valid_document_type", RuleHigh, "tipo_documento_madre"),
		patternRule("birth_time_format", "Birth time is HH:MM on a 24 hour clock", RuleMedium, "hora_nacimiento", timePattern),
		rangeRule("gestational_age_range", "Gestational age is between 20 and 45 weeks", RuleMedium, "edad_gestacional", 20, 45),
		rangeRule("weight_range", "Birth weight is between 300 and 7000 grams", RuleLow, "peso", 300, 7000),
		patternRule("newborn_diagnosis_format", "Newborn diagnosis is a CIE-10 code", RuleHigh, "diagnostico_recien_nacido", cie10Pattern),
		dateOrderRule("death_after_birth", "Date of death is not before birth", RuleHigh, "fecha_nacimiento", "fecha_muerte"),
	}
}

func medicationRules(transactions string, types ...string) []Rule {
	return []Rule{
		invoiceRule(transactions),
		documentTypeRule("valid_document_type", RuleHigh, "tipo_documento"),
		oneOfRule("medication_type", "Medication type is a regulated value", RuleMedium, "tipo_medicamento", types...),
		productRule("total_matches_units", "Total equals units times unit value", RuleMedium, "valor_total", "numero_unidades", "valor_unitario"),
	}
}

func otherServiceRules(transactions string, types ...string) []Rule {
	return []Rule{
		invoiceRule(transactions),
		documentTypeRule("valid_document_type", RuleHigh, "tipo_documento"),
		oneOfRule("service_type", "Service type is a regulated value", RuleMedium, "tipo_servicio", types...),
		productRule("total_matches_units", "Total equals quantity times unit value", RuleMedium, "valor_total", "cantidad", "valor_unitario"),
	}
}

// uniqueRule flags every record whose key fields repeat an earlier accepted
// record of the same file type. The first occurrence is not flagged, and a
// rejected record does not claim its key.
func uniqueRule(name, desc string, sev RuleSeverity, fields ...string) Rule {
	key := func(r Record) (string, bool) {
		parts := make([]string, len(fields))
		for i, f := range fields {
			v, ok := valueText(r, f)
			if !ok {
				return "", false
			}
			parts[i] = v
		}
		return strings.Join(parts, "\x1f"), true
	}
	return Rule{
		Name:        name,
		Description: desc,
		Severity:    sev,
		Scope:       ScopeBatch,
		Check: func(in RuleInput) []Finding {
			k, ok := key(in.Record)
			if !ok {
				return nil
			}
			siblings := in.Batch.Records(in.FileType)
			for j := 0; j < in.Index && j < len(siblings); j++ {
				if in.Batch.Rejected(in.FileType, j) {
					continue
				}
				if other, ok := key(siblings[j]); ok && other == k {
					return []Finding{{
						Field:   fields[len(fields)-1],
						Message: fmt.Sprintf("%s duplicates record %d", strings.Join(fields, "+"), j+1),
					}}
				}
			}
			return nil
		},
	}
}

// invoiceRule checks that a service record's invoice appears in the
// transactions file of the same batch. Rejected transaction records are
// never emitted, so they do not declare anything. Without a transactions
// file in the batch there is nothing to check against.
func invoiceRule(transactions string) Rule {
	return Rule{
		Name:        "invoice_in_batch",
		Description: fmt.Sprintf("Invoice number is declared in the %s file of the batch", transactions),
		Severity:    RuleMedium,
		Scope:       ScopeBatch,
		Check: func(in RuleInput) []Finding {
			invoice, ok := valueText(in.Record, "numero_factura")
			if !ok || !in.Batch.Has(transactions) {
				return nil
			}
			for j, tx := range in.Batch.Records(transactions) {
				if in.Batch.Rejected(transactions, j) {
					continue
				}
				if v, ok := valueText(tx, "numero_factura"); ok && v == invoice {
					return nil
				}
			}
			return []Finding{{
				Field:   "numero_factura",
				Message: fmt.Sprintf("invoice %s is not declared in %s", invoice, transactions),
			}}
		},
	}
}

func documentTypeRule(name string, sev RuleSeverity, field string) Rule {
	return referenceRule(name, "Document type exists in the reference catalog", sev, field, ReferenceData.IsDocumentType)
}

func countryRule(name string, sev RuleSeverity, field string) Rule {
	return referenceRule(name, "Country code exists in the reference catalog", sev, field, ReferenceData.IsCountry)
}

func departmentRule(name string, sev RuleSeverity, field string) Rule {
	return referenceRule(name, "Department code exists in the reference catalog", sev, field, ReferenceData.IsDepartment)
}

func referenceRule(name, desc string, sev RuleSeverity, field string, lookup func(ReferenceData, string) bool) Rule {
	return Rule{
		Name:        name,
		Description: desc,
		Severity:    sev,
		Scope:       ScopeRecord,
		Check: func(in RuleInput) []Finding {
			v, ok := valueText(in.Record, field)
			if !ok || lookup(in.Batch.Reference(), v) {
				return nil
			}
			return []Finding{{Field: field, Message: fmt.Sprintf("%s %q is not a known code", field, v)}}
		},
	}
}

func dateOrderRule(name, desc string, sev RuleSeverity, earlier, later string) Rule {
	return Rule{
		Name:        name,
		Description: desc,
		Severity:    sev,
		Scope:       ScopeRecord,
		Check: func(in RuleInput) []Finding {
			a, okA := valueDate(in.Record, earlier)
			b, okB := valueDate(in.Record, later)
			if !okA || !okB || !b.Before(a) {
				return nil
			}
			return []Finding{{
				Field:   later,
				Message: fmt.Sprintf("%s %s is before %s %s", later, b.Format(dateLayout), earlier, a.Format(dateLayout)),
			}}
		},
	}
}

func notGreaterRule(name, desc string, sev RuleSeverity, part, whole string) Rule {
	return Rule{
		Name:        name,
		Description: desc,
		Severity:    sev,
		Scope:       ScopeRecord,
		Check: func(in RuleInput) []Finding {
			p, okP := valueNumber(in.Record, part)
			w, okW := valueNumber(in.Record, whole)
			if !okP || !okW || p <= w {
				return nil
			}
			return []Finding{{Field: part, Message: fmt.Sprintf("%s exceeds %s", part, whole)}}
		},
	}
}

func productRule(name, desc string, sev RuleSeverity, total, qty, unit string) Rule {
	return Rule{
		Name:        name,
		Description: desc,
		Severity:    sev,
		Scope:       ScopeRecord,
		Check: func(in RuleInput) []Finding {
			t, okT := valueNumber(in.Record, total)
			q, okQ := valueNumber(in.Record, qty)
			u, okU := valueNumber(in.Record, unit)
			if !okT || !okQ || !okU {
				return nil
			}
			// One peso of tolerance absorbs rounding of fractional unit values.
			if math.Abs(q*u-t) <= 1 {
				return nil
			}
			return []Finding{{Field: total, Message: fmt.Sprintf("%s is %s, expected %s x %s", total, trimFloat(t), qty, unit)}}
		},
	}
}

func rangeRule(name, desc string, sev RuleSeverity, field string, min, max float64) Rule {
	return Rule{
		Name:        name,
		Description: desc,
		Severity:    sev,
		Scope:       ScopeRecord,
		Check: func(in RuleInput) []Finding {
			n, ok := valueNumber(in.Record, field)
			if !ok || (n >= min && n <= max) {
				return nil
			}
			return []Finding{{Field: field, Message: fmt.Sprintf("%s %s is outside %s-%s", field, trimFloat(n), trimFloat(min), trimFloat(max))}}
		},
	}
}

func oneOfRule(name, desc string, sev RuleSeverity, field string, allowed ...string) Rule {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	return Rule{
		Name:        name,
		Description: desc,
		Severity:    sev,
		Scope:       ScopeRecord,
		Check: func(in RuleInput) []Finding {
			v, ok := valueText(in.Record, field)
			if !ok || set[v] {
				return nil
			}
			return []Finding{{Field: field, Message: fmt.Sprintf("%s %q must be one of %s", field, v, strings.Join(allowed, ", "))}}
		},
	}
}

// patternRule accepts either (field, pattern) or (pattern, fields...) so
// one rule can cover a family of sibling fields.
func patternRule(name, desc string, sev RuleSeverity, args ...any) Rule {
	var (
		re     *regexp.Regexp
		fields []string
	)
	for _, a := range args {
		switch t := a.(type) {
		case *regexp.Regexp:
			re = t
		case string:
			fields = append(fields, t)
		}
	}
	if re == nil || len(fields) == 0 {
		panic(fmt.Sprintf("rule %s: pattern and at least one field are required", name))
	}
	return Rule{
		Name:        name,
		Description: desc,
		Severity:    sev,
		Scope:       ScopeRecord,
		Check: func(in RuleInput) []Finding {
			var out []Finding
			for _, f := range fields {
				v, ok := valueText(in.Record, f)
				if ok && !re.MatchString(v) {
					out = append(out, Finding{Field: f, Message: fmt.Sprintf("%s %q has an invalid format", f, v)})
				}
			}
			return out
		},
	}
}

// deathCauseRule requires a cause of death when the discharge status is
// deceased (2).
func deathCauseRule() Rule {
	return Rule{
		Name:        "death_cause_required",
		Description: "Cause of death is reported when the patient left deceased",
		Severity:    RuleHigh,
		Scope:       ScopeRecord,
		Check: func(in RuleInput) []Finding {
			status, ok := valueText(in.Record, "estado_salida")
			if !ok || status != "2" {
				return nil
			}
			if _, ok := valueText(in.Record, "causa_muerte"); ok {
				return nil
			}
			return []Finding{{Field: "causa_muerte", Message: "causa_muerte is required when estado_salida is 2"}}
		},
	}
}

func trimFloat(f float64) string {
	s, _ := floatText(math.Abs(f))
	return s
}
