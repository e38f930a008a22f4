// Package rips exposes the RIPS engine as a service: schema lookup,
// validation, generation with artifact storage, comparison and migration.
package rips

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/rips/internal/platform/blobstore"
	core "github.com/ehr/rips/internal/platform/rips"
)

// Recorder receives batch outcomes for metrics.
type Recorder interface {
	RecordValidation(version, fileType string, valid, rejected int)
	RecordGeneration(version, kind string, files, records int, d time.Duration)
	RecordMigration(from, to string, records, warnings int)
}

type nopRecorder struct{}

func (nopRecorder) RecordValidation(string, string, int, int) {}
func (nopRecorder) RecordGeneration(string, string, int, int, time.Duration) {}
func (nopRecorder) RecordMigration(string, string, int, int) {}

type Service struct {
	pipeline *core.Pipeline
	migrator *core.Migrator
	store    blobstore.BlobStore
	metrics  Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(pipeline *core.Pipeline, migrator *core.Migrator, store blobstore.BlobStore, logger zerolog.Logger) *Service {
	return &Service{
		pipeline: pipeline,
		migrator: migrator,
		store:    store,
		metrics:  nopRecorder{},
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetRecorder routes batch outcomes to r.
func (s *Service) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.metrics = r
}

func (s *Service) registry() *core.Registry { return s.pipeline.Registry() }

// Versions lists every registered format version with its file type codes.
func (s *Service) Versions() []VersionInfo {
	var out []VersionInfo
	for _, id := range s.registry().Versions() {
		v, _ := s.registry().Version(id)
		out = append(out, VersionInfo{ID: v.ID, Name: v.Name, FileTypes: v.Codes()})
	}
	return out
}

// Structure returns the full schema tree of a version.
func (s *Service) Structure(version string) (*core.FormatVersion, error) {
	return s.registry().Version(version)
}

// Rules describes the business rules of a file type. A code known to some
// version but without rules yields an empty set.
func (s *Service) Rules(code string) (RuleSet, error) {
	known := false
	for _, id := range s.registry().Versions() {
		v, _ := s.registry().Version(id)
		if _, ok := v.FileType(code); ok {
			known = true
			break
		}
	}
	if !known {
		return RuleSet{}, &core.ConfigurationError{FileType: code, Err: core.ErrUnknownFileType}
	}
	descs := s.pipeline.Rules().Descriptors(code)
	if descs == nil {
		descs = []core.RuleDescriptor{}
	}
	return RuleSet{FileType: code, Rules: descs}, nil
}

// Validate checks records of one file type without encoding them.
func (s *Service) Validate(ctx context.Context, version, code string, records []core.Record) (core.BatchValidation, error) {
	res, err := s.pipeline.ValidateData(ctx, version, code, records)
	if err != nil {
		return res, err
	}
	s.metrics.RecordValidation(res.Version, res.FileType, res.Aggregate.Valid, res.Aggregate.Rejected)
	return res, nil
}

// Generate runs a batch through the pipeline and stores every produced
// file under a new job id. When ctx ends before all files are stored the
// ones already stored are removed and the context error is returned.
func (s *Service) Generate(ctx context.Context, version string, files map[string][]core.Record, format string) (*GenerationJob, error) {
	kind, err := core.ParseOutputKind(format)
	if err != nil {
		return nil, &core.ConfigurationError{Version: version, Err: err}
	}
	start := s.now()
	res, err := s.pipeline.Generate(ctx, version, files, kind)
	if err != nil {
		return nil, err
	}

	job := &GenerationJob{
		ID:        uuid.New().String(),
		Version:   res.Version,
		Kind:      res.Kind,
		CreatedAt: s.now(),
		Artifacts: []*blobstore.Metadata{},
		Rejected:  res.Rejected,
		Warnings:  res.Warnings,
		Summary:   res.Summary,
	}
	for _, f := range res.Files {
		meta, err := s.store.Upload(ctx, blobstore.Metadata{
			JobID:       job.ID,
			Version:     res.Version,
			FileType:    f.Code,
			Kind:        string(f.Kind),
			FileName:    f.Name,
			ContentType: ContentType(f.Kind),
			Records:     f.Records,
		}, bytes.NewReader(f.Content))
		if err != nil {
			s.discard(job)
			return nil, fmt.Errorf("store %s: %w", f.Name, err)
		}
		job.Artifacts = append(job.Artifacts, meta)
	}

	records := 0
	for _, sum := range res.Summary {
		records += sum.Records
	}
	s.metrics.RecordGeneration(res.Version, string(res.Kind), len(job.Artifacts), records, s.now().Sub(start))

	s.logger.Info().
		Str("job_id", job.ID).
		Str("version", job.Version).
		Int("artifacts", len(job.Artifacts)).
		Int("rejected", len(job.Rejected)).
		Msg("rips artifacts stored")
	return job, nil
}

func (s *Service) discard(job *GenerationJob) {
	// The request context may already be done.
	ctx := context.Background()
	for _, a := range job.Artifacts {
		if err := s.store.Delete(ctx, a.ID); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Str("artifact_id", a.ID).Msg("discard artifact")
		}
	}
	job.Artifacts = nil
}

// Compare diffs two versions along their registered correspondence.
func (s *Service) Compare(from, to string) (core.DiffReport, error) {
	return s.migrator.Compare(from, to)
}

// Migrate transports legacy records into another version.
func (s *Service) Migrate(from, to string, files map[string][]core.Record) (core.MigrationResult, error) {
	res, err := s.migrator.Migrate(from, to, files)
	if err != nil {
		return core.MigrationResult{}, err
	}
	records := 0
	for _, recs := range files {
		records += len(recs)
	}
	s.metrics.RecordMigration(from, to, records, len(res.Warnings))

	s.logger.Info().
		Str("from", from).
		Str("to", to).
		Int("files", len(res.Files)).
		Int("warnings", len(res.Warnings)).
		Msg("rips batch migrated")
	return res, nil
}
