package rips

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/rips/internal/platform/blobstore"
	"github.com/ehr/rips/internal/platform/refdata"
	core "github.com/ehr/rips/internal/platform/rips"
	"github.com/ehr/rips/pkg/pagination"
)

func newTestServiceWith(t *testing.T, store blobstore.BlobStore) *Service {
	t.Helper()
	reg := core.MustDefaultRegistry()
	p, err := core.NewPipeline(reg, core.DefaultRuleEngine(), refdata.Default(), core.PipelineConfig{Workers: 2}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return NewService(p, core.NewMigrator(reg, core.DefaultCorrespondence()), store, zerolog.Nop())
}

func newTestService(t *testing.T) (*Service, *blobstore.InMemoryBlobStore) {
	t.Helper()
	store := blobstore.NewInMemoryBlobStore()
	return newTestServiceWith(t, store), store
}

func afRecord(invoice string) core.Record {
	return core.Record{
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
		"total_valor":           150000,
	}
}

func usRecord(doc string) core.Record {
	return core.Record{
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

// failingStore refuses uploads for one file type.
type failingStore struct {
	*blobstore.InMemoryBlobStore
	failOn string
}

func (f *failingStore) Upload(ctx context.Context, meta blobstore.Metadata, content io.Reader) (*blobstore.Metadata, error) {
	if meta.FileType == f.failOn {
		return nil, errors.New("disk full")
	}
	return f.InMemoryBlobStore.Upload(ctx, meta, content)
}

func TestService_Versions(t *testing.T) {
	svc, _ := newTestService(t)
	versions := svc.Versions()
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].ID != core.Version3374 || versions[1].ID != core.Version2275 {
		t.Errorf("unexpected order: %s, %s", versions[0].ID, versions[1].ID)
	}
	if len(versions[0].FileTypes) == 0 {
		t.Error("expected file type codes")
	}
}

func TestService_Rules(t *testing.T) {
	svc, _ := newTestService(t)

	set, err := svc.Rules("AF")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var found bool
	for _, d := range set.Rules {
		if d.Name == "unique_invoice" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unique_invoice in %+v", set.Rules)
	}

	if _, err := svc.Rules("ZZ"); !errors.Is(err, core.ErrUnknownFileType) {
		t.Errorf("expected ErrUnknownFileType, got %v", err)
	}
}

func TestService_GenerateStoresArtifacts(t *testing.T) {
	svc, store := newTestService(t)

	job, err := svc.Generate(context.Background(), core.Version3374, map[string][]core.Record{
		"AF": {afRecord("FE1")},
		"US": {usRecord("1001"), usRecord("1002")},
	}, "csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ID == "" || job.Kind != core.OutputDelimited {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(job.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(job.Artifacts))
	}
	if job.Artifacts[0].FileType != "AF" || job.Artifacts[1].FileType != "US" {
		t.Errorf("expected declaration order AF, US; got %s, %s", job.Artifacts[0].FileType, job.Artifacts[1].FileType)
	}
	us := job.Artifacts[1]
	if us.FileName != "US.csv" || us.Records != 2 || us.ContentType != "text/csv; charset=utf-8" {
		t.Errorf("unexpected US metadata %+v", us)
	}

	rc, _, err := store.Download(context.Background(), us.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	buf.ReadFrom(rc)
	if got := strings.Count(buf.String(), core.LineEnding); got != 2 {
		t.Errorf("expected 2 lines, got %d", got)
	}

	_, total, _ := store.List(context.Background(), blobstore.Filter{JobID: job.ID}, pagination.Params{})
	if total != 2 {
		t.Errorf("expected 2 stored artifacts for job, got %d", total)
	}
}

func TestService_GenerateReportsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	bad := afRecord("FE2")
	delete(bad, "total_valor")

	job, err := svc.Generate(context.Background(), core.Version3374, map[string][]core.Record{
		"AF": {afRecord("FE1"), bad},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(job.Rejected) != 1 || job.Rejected[0].Record != 1 {
		t.Fatalf("expected record 1 rejected, got %+v", job.Rejected)
	}
	if len(job.Artifacts) != 1 || job.Artifacts[0].Records != 1 {
		t.Errorf("expected one AF artifact with 1 record, got %+v", job.Artifacts)
	}
	if job.Artifacts[0].FileName != "AF.txt" {
		t.Errorf("expected fixed-width default, got %s", job.Artifacts[0].FileName)
	}
}

func TestService_GenerateCancelledStoresNothing(t *testing.T) {
	svc, store := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Generate(ctx, core.Version3374, map[string][]core.Record{"AF": {afRecord("FE1")}}, "fixed")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, total, _ := store.List(context.Background(), blobstore.Filter{}, pagination.Params{}); total != 0 {
		t.Errorf("expected nothing stored, got %d", total)
	}
}

func TestService_GenerateStoreFailureDiscardsJob(t *testing.T) {
	mem := blobstore.NewInMemoryBlobStore()
	svc := newTestServiceWith(t, &failingStore{InMemoryBlobStore: mem, failOn: "US"})

	_, err := svc.Generate(context.Background(), core.Version3374, map[string][]core.Record{
		"AF": {afRecord("FE1")},
		"US": {usRecord("1001")},
	}, "fixed")
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected store error, got %v", err)
	}
	if _, total, _ := mem.List(context.Background(), blobstore.Filter{}, pagination.Params{}); total != 0 {
		t.Errorf("expected AF artifact to be discarded, got %d stored", total)
	}
}

func TestService_GenerateUnknownFormat(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Generate(context.Background(), core.Version3374, map[string][]core.Record{"AF": {afRecord("FE1")}}, "pdf")
	if !core.IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestService_Validate(t *testing.T) {
	svc, _ := newTestService(t)
	bad := usRecord("1002")
	bad["tipo_documento"] = "XX"

	res, err := svc.Validate(context.Background(), core.Version3374, "US", []core.Record{usRecord("1001"), bad})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Aggregate.Records != 2 || res.Aggregate.Valid != 1 || res.Aggregate.Rejected != 1 {
		t.Errorf("unexpected aggregate %+v", res.Aggregate)
	}
}

func TestService_CompareAndMigrate(t *testing.T) {
	svc, _ := newTestService(t)

	report, err := svc.Compare(core.Version3374, core.Version2275)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := report.Diff("AF")
	if !ok || d.NewFile != "AFCT" {
		t.Fatalf("expected AF->AFCT diff, got %+v", report.Diffs)
	}

	res, err := svc.Migrate(core.Version3374, core.Version2275, map[string][]core.Record{"AF": {afRecord("FE1")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !core.IsPlaceholder(res.Files["AFCT"][0]["numero_contrato"]) {
		t.Error("expected numero_contrato placeholder")
	}

	if _, err := svc.Compare(core.Version2275, core.Version3374); !core.IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError for reverse direction, got %v", err)
	}
}

type fakeRecorder struct {
	validated, rejected int
	files, records      int
	migrated, pending   int
}

func (f *fakeRecorder) RecordValidation(_, _ string, valid, rejected int) {
	f.validated += valid
	f.rejected += rejected
}

func (f *fakeRecorder) RecordGeneration(_, _ string, files, records int, _ time.Duration) {
	f.files += files
	f.records += records
}

func (f *fakeRecorder) RecordMigration(_, _ string, records, warnings int) {
	f.migrated += records
	f.pending += warnings
}

func TestService_RecordsOutcomes(t *testing.T) {
	svc, _ := newTestService(t)
	rec := &fakeRecorder{}
	svc.SetRecorder(rec)
	ctx := context.Background()

	bad := afRecord("FE2")
	delete(bad, "total_valor")
	if _, err := svc.Validate(ctx, core.Version3374, "AF", []core.Record{afRecord("FE1"), bad}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if rec.validated != 1 || rec.rejected != 1 {
		t.Errorf("expected 1 valid and 1 rejected, got %d and %d", rec.validated, rec.rejected)
	}

	if _, err := svc.Generate(ctx, core.Version3374, map[string][]core.Record{
		"AF": {afRecord("FE1")},
		"US": {usRecord("1001"), usRecord("1002")},
	}, "fixed"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rec.files != 2 || rec.records != 3 {
		t.Errorf("expected 2 files and 3 records, got %d and %d", rec.files, rec.records)
	}

	if _, err := svc.Migrate(core.Version3374, core.Version2275, map[string][]core.Record{"US": {usRecord("1001")}}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if rec.migrated != 1 {
		t.Errorf("expected 1 migrated record, got %d", rec.migrated)
	}
}

func TestService_FailedValidationNotRecorded(t *testing.T) {
	svc, _ := newTestService(t)
	rec := &fakeRecorder{}
	svc.SetRecorder(rec)

	if _, err := svc.Validate(context.Background(), "9999", "AF", []core.Record{afRecord("FE1")}); err == nil {
		t.Fatal("expected error for unknown version")
	}
	if rec.validated != 0 || rec.rejected != 0 {
		t.Errorf("expected nothing recorded, got %+v", rec)
	}
}
