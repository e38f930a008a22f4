package rips

import (
	"errors"
	"testing"
)

func testMigrator(t *testing.T) *Migrator {
	t.Helper()
	return NewMigrator(testRegistry(t), DefaultCorrespondence())
}

func TestMigrate_ContractNumberNeedsManualCompletion(t *testing.T) {
	res, err := testMigrator(t).Migrate(Version3374, Version2275, map[string][]Record{
		"AF": {afRecord("FE1001")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	migrated := res.Files["AFCT"]
	if len(migrated) != 1 {
		t.Fatalf("expected 1 AFCT record, got %d", len(migrated))
	}
	if !IsPlaceholder(migrated[0]["numero_contrato"]) {
		t.Errorf("expected placeholder, got %#v", migrated[0]["numero_contrato"])
	}

	var manual []MigrationWarning
	for _, w := range res.Warnings {
		if w.Kind == WarnManualCompletion {
			manual = append(manual, w)
		}
	}
	if len(manual) != 1 {
		t.Fatalf("expected exactly 1 ManualCompletionRequired warning, got %+v", res.Warnings)
	}
	if manual[0].Target() != "AFCT.numero_contrato" || manual[0].Record != 0 {
		t.Errorf("unexpected warning: %+v", manual[0])
	}
}

func TestMigrate_CopiesCommonAndDropsRemoved(t *testing.T) {
	legacy := afRecord("FE1001")
	legacy["valor_neto"] = 146500
	legacy["observaciones"] = "free text"

	res, err := testMigrator(t).Migrate(Version3374, Version2275, map[string][]Record{"AF": {legacy}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := res.Files["AFCT"][0]
	if out["numero_factura"] != "FE1001" || out["total_valor"] != 150000 {
		t.Errorf("expected common fields copied verbatim, got %v", out)
	}
	if _, ok := out["valor_neto"]; ok {
		t.Error("expected removed field to be dropped")
	}
	if _, ok := out["observaciones"]; ok {
		t.Error("expected unknown field to be dropped")
	}
	if _, ok := out["cufe"]; ok {
		t.Error("expected optional new field to stay absent")
	}
	if _, ok := legacy["numero_contrato"]; ok {
		t.Error("legacy record was mutated")
	}
}

func TestMigrate_UsersGainRequiredFields(t *testing.T) {
	res, err := testMigrator(t).Migrate(Version3374, Version2275, map[string][]Record{
		"US": {usRecord("1"), usRecord("2")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	targets := map[string]int{}
	for _, w := range res.Warnings {
		targets[w.Target()]++
	}
	if targets["ATUS.fecha_nacimiento"] != 2 || targets["ATUS.codigo_pais_residencia"] != 2 {
		t.Errorf("expected one warning per record and field, got %v", targets)
	}
	if _, ok := res.Files["ATUS"][0]["edad"]; ok {
		t.Error("expected edad to be dropped")
	}
}

func TestMigrate_UnmappedFileTypeIsFlagged(t *testing.T) {
	res, err := testMigrator(t).Migrate(Version3374, Version2275, map[string][]Record{
		"CT": {{"codigo_prestador": "110010000001", "total_registros": 3}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != WarnUnmappedFileType || res.Warnings[0].FileType != "CT" {
		t.Fatalf("expected one UnmappedFileType warning, got %+v", res.Warnings)
	}
	if len(res.Files) != 0 {
		t.Errorf("expected no migrated files, got %v", res.Files)
	}
}

func TestMigrate_MigratedRecordsBlockUntilCompleted(t *testing.T) {
	reg := testRegistry(t)
	res, err := testMigrator(t).Migrate(Version3374, Version2275, map[string][]Record{"AF": {afRecord("FE1001")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	schema, _ := reg.Schema(Version2275, "AFCT")
	rec := res.Files["AFCT"][0]
	if ValidateRecord(schema, rec).IsValid() {
		t.Fatal("expected placeholder to block validation")
	}
	rec["numero_contrato"] = "CT-77"
	if res := ValidateRecord(schema, rec); !res.IsValid() {
		t.Errorf("expected completed record to validate, got %+v", res.Issues)
	}
}

func TestMigrate_UnknownCode(t *testing.T) {
	_, err := testMigrator(t).Migrate(Version3374, Version2275, map[string][]Record{"AFCT": {afctRecord("FE1")}})
	if !errors.Is(err, ErrUnknownFileType) {
		t.Fatalf("expected ErrUnknownFileType, got %v", err)
	}
}

func TestMigrate_NoCorrespondence(t *testing.T) {
	_, err := testMigrator(t).Migrate(Version2275, Version3374, nil)
	if !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
