package rips

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	return reg
}

func testSchema(t *testing.T, version, code string) *FileTypeSchema {
	t.Helper()
	s, err := testRegistry(t).Schema(version, code)
	if err != nil {
		t.Fatalf("Schema(%s, %s): %v", version, code, err)
	}
	return s
}

func testPipeline(t *testing.T, workers int) *Pipeline {
	t.Helper()
	p, err := NewPipeline(testRegistry(t), DefaultRuleEngine(), nil, PipelineConfig{Workers: workers}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func afRecord(invoice string) Record {
	return Record{
		"codigo_prestador":      "110010000001",
		"razon_social":          "IPS Salud Total",
		"tipo_identificacion":   "NI",
		"numero_identificacion": "900123456",
		"numero_factura":        invoice,
		"fecha_expedicion":      "2024-03-31",
		"fecha_inicio":          "2024-03-01",
		"fecha_final":           "2024-03-31",
		"codigo_entidad":        "EPS001",
		"nombre_entidad":        "Nueva EPS",
		"valor_copago":          3500,
		"total_valor":           150000,
	}
}

func afctRecord(invoice string) Record {
	r := afRecord(invoice)
	r["numero_contrato"] = "CT-2024-001"
	return r
}

func usRecord(doc string) Record {
	return Record{
		"tipo_documento":      "CC",
		"numero_documento":    doc,
		"codigo_entidad":      "EPS001",
		"tipo_usuario":        "1",
		"primer_apellido":     "Gómez",
		"primer_nombre":       "Ana",
		"edad":                34,
		"unidad_medida_edad":  "1",
		"sexo":                "F",
		"codigo_departamento": "11",
		"codigo_municipio":    "001",
		"zona_residencia":     "U",
	}
}

func acRecord(invoice, doc string) Record {
	return Record{
		"numero_factura":             invoice,
		"codigo_prestador":           "110010000001",
		"tipo_documento":             "CC",
		"numero_documento":           doc,
		"fecha_consulta":             "2024-03-12",
		"codigo_consulta":            "890201",
		"finalidad_consulta":         "10",
		"causa_externa":              "13",
		"diagnostico_principal":      "J069",
		"tipo_diagnostico_principal": "1",
		"valor_consulta":             45000,
		"valor_neto":                 45000,
	}
}

// fieldSlice cuts the fixed-width slice of one field out of an encoded line.
func fieldSlice(t *testing.T, schema *FileTypeSchema, line, name string) string {
	t.Helper()
	r := []rune(line)
	pos := 0
	for _, f := range schema.Fields {
		if f.Name == name {
			return string(r[pos : pos+f.Length])
		}
		pos += f.Length
	}
	t.Fatalf("field %s not in %s", name, schema.Code)
	return ""
}

func issuesFor(issues []Issue, field string) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Field == field {
			out = append(out, is)
		}
	}
	return out
}

func hasRule(issues []Issue, rule string) bool {
	for _, is := range issues {
		if is.Rule == rule {
			return true
		}
	}
	return false
}

func lines(content []byte) []string {
	s := strings.TrimSuffix(string(content), LineEnding)
	if s == "" {
		return nil
	}
	return strings.Split(s, LineEnding)
}
