package rips

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the worker pool size used when none is configured.
const DefaultWorkers = 4

// PipelineConfig tunes a Pipeline.
type PipelineConfig struct {
	Workers int
	Encoder EncoderConfig
}

// Pipeline runs batches through validation, rules and encoding. Per-record
// work runs on a bounded worker pool; rules that read sibling records run
// afterwards in one sequential pass. Output order always follows input
// order.
type Pipeline struct {
	reg     *Registry
	rules   *RuleEngine
	ref     ReferenceData
	enc     *Encoder
	workers int
	logger  zerolog.Logger
}

// NewPipeline wires the engine. A nil ref accepts every reference code.
func NewPipeline(reg *Registry, rules *RuleEngine, ref ReferenceData, cfg PipelineConfig, logger zerolog.Logger) (*Pipeline, error) {
	if reg == nil || rules == nil {
		return nil, errors.New("rips: registry and rule engine are required")
	}
	enc, err := NewEncoder(cfg.Encoder)
	if err != nil {
		return nil, fmt.Errorf("rips: %w", err)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pipeline{reg: reg, rules: rules, ref: ref, enc: enc, workers: workers, logger: logger}, nil
}

// Registry returns the schema registry.
func (p *Pipeline) Registry() *Registry { return p.reg }

// Rules returns the rule engine.
func (p *Pipeline) Rules() *RuleEngine { return p.rules }

// Aggregate counts issues across a batch.
type Aggregate struct {
	Records  int `json:"records"`
	Valid    int `json:"valid"`
	Rejected int `json:"rejected"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

func (a *Aggregate) add(r ValidationResult) {
	errs, warns := r.Count()
	a.Records++
	a.Errors += errs
	a.Warnings += warns
	if errs > 0 {
		a.Rejected++
	} else {
		a.Valid++
	}
}

// BatchValidation is the result of validating one file of records.
type BatchValidation struct {
	Version   string             `json:"version"`
	FileType  string             `json:"file_type"`
	PerRecord []ValidationResult `json:"per_record"`
	Aggregate Aggregate          `json:"aggregate"`
}

// ValidateData validates every record of one file type, field rules and
// business rules included. Unknown version or file type is a
// ConfigurationError; per-record problems are reported in the result.
func (p *Pipeline) ValidateData(ctx context.Context, version, code string, records []Record) (BatchValidation, error) {
	schema, err := p.reg.Schema(version, code)
	if err != nil {
		return BatchValidation{}, err
	}
	batch := NewBatchContext(p.ref, map[string][]Record{code: records})
	results, err := p.validateFile(ctx, schema, records, batch)
	if err != nil {
		return BatchValidation{}, err
	}
	out := BatchValidation{Version: version, FileType: code, PerRecord: results}
	for _, r := range results {
		out.Aggregate.add(r)
	}
	return out, nil
}

// validateFile runs field validation and record-scope rules on the worker
// pool, then batch-scope rules sequentially. Records rejected by the first
// pass are marked on batch before any batch rule runs. Issues are merged
// per record as field issues followed by rule issues in declaration order.
func (p *Pipeline) validateFile(ctx context.Context, schema *FileTypeSchema, records []Record, batch *BatchContext) ([]ValidationResult, error) {
	code := schema.Code
	results := make([]ValidationResult, len(records))
	slots := make([][][]Issue, len(records))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := range records {
		if err := ctx.Err(); err != nil {
			break
		}
		i := i
		g.Go(func() error {
			results[i] = ValidateRecord(schema, records[i])
			slots[i] = make([][]Issue, p.rules.slotCount(code))
			p.rules.applyScope(code, ScopeRecord, i, records[i], batch, slots[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		if !results[i].IsValid() || !(ValidationResult{Issues: flatten(slots[i])}).IsValid() {
			batch.MarkRejected(code, i)
		}
	}

	for i := range records {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		p.rules.applyScope(code, ScopeBatch, i, records[i], batch, slots[i])
		results[i].Issues = append(results[i].Issues, flatten(slots[i])...)
		if !results[i].IsValid() {
			batch.MarkRejected(code, i)
		}
	}
	return results, nil
}

// RecordIssue locates an issue in a batch. Record is -1 for file-level
// issues.
type RecordIssue struct {
	FileType string `json:"file_type"`
	Record   int    `json:"record"`
	Issue
}

// RejectedRecord is a record excluded from the output.
type RejectedRecord struct {
	FileType string  `json:"file_type"`
	Record   int     `json:"record"`
	Issues   []Issue `json:"issues"`
	Error    string  `json:"error"`
}

// FileSummary counts the outcome of one file type.
type FileSummary struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Records  int    `json:"records"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Warnings int    `json:"warnings"`
}

// GenerationResult is the complete outcome of a batch: every produced file,
// every rejected record and every non-blocking warning.
type GenerationResult struct {
	Version  string           `json:"version"`
	Kind     OutputKind       `json:"kind"`
	Files    []EncodedFile    `json:"files"`
	Rejected []RejectedRecord `json:"rejected"`
	Warnings []RecordIssue    `json:"warnings"`
	Summary  []FileSummary    `json:"summary"`
}

// File returns the produced file for code.
func (r GenerationResult) File(code string) (EncodedFile, bool) {
	for _, f := range r.Files {
		if f.Code == code {
			return f, true
		}
	}
	return EncodedFile{}, false
}

// Generate validates and encodes a batch keyed by file type code. Files are
// processed in the version's declaration order; a file is produced only
// when at least one of its records is accepted. On cancellation the context
// error is returned and all output is discarded.
func (p *Pipeline) Generate(ctx context.Context, version string, files map[string][]Record, kind OutputKind) (GenerationResult, error) {
	start := time.Now()
	v, err := p.reg.Version(version)
	if err != nil {
		return GenerationResult{}, err
	}
	for code := range files {
		if _, ok := v.FileType(code); !ok {
			return GenerationResult{}, &ConfigurationError{Version: version, FileType: code, Err: ErrUnknownFileType}
		}
	}
	switch kind {
	case OutputFixedWidth, OutputDelimited, OutputMarkup:
	default:
		return GenerationResult{}, &ConfigurationError{Version: version, Err: fmt.Errorf("unknown output kind %q", kind)}
	}

	res := GenerationResult{
		Version:  version,
		Kind:     kind,
		Files:    []EncodedFile{},
		Rejected: []RejectedRecord{},
		Warnings: []RecordIssue{},
		Summary:  []FileSummary{},
	}
	batch := NewBatchContext(p.ref, files)
	total := 0
	for _, schema := range v.FileTypes {
		records, ok := files[schema.Code]
		if !ok || len(records) == 0 {
			if schema.RequiredInBatch {
				res.Warnings = append(res.Warnings, RecordIssue{
					FileType: schema.Code,
					Record:   -1,
					Issue: Issue{
						Code:     IssueBatch,
						Message:  fmt.Sprintf("batch has no %s (%s) records", schema.Code, schema.Name),
						Severity: SeverityWarning,
					},
				})
			}
			continue
		}
		total += len(records)

		file, summary, err := p.generateFile(ctx, v.ID, schema, records, batch, kind, &res)
		if err != nil {
			p.logger.Warn().Err(err).Str("version", version).Str("file_type", schema.Code).Msg("rips generation cancelled")
			return GenerationResult{}, err
		}
		if file.Records > 0 {
			res.Files = append(res.Files, file)
		}
		res.Summary = append(res.Summary, summary)
	}

	p.logger.Info().
		Str("version", version).
		Str("kind", string(kind)).
		Int("files", len(res.Files)).
		Int("records", total).
		Int("rejected", len(res.Rejected)).
		Int("warnings", len(res.Warnings)).
		Dur("elapsed", time.Since(start)).
		Msg("rips batch generated")
	return res, nil
}

func (p *Pipeline) generateFile(ctx context.Context, version string, schema *FileTypeSchema, records []Record, batch *BatchContext, kind OutputKind, res *GenerationResult) (EncodedFile, FileSummary, error) {
	results, err := p.validateFile(ctx, schema, records, batch)
	if err != nil {
		return EncodedFile{}, FileSummary{}, err
	}

	segments := make([]Segment, len(records))
	encErrs := make([]error, len(records))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := range records {
		if err := ctx.Err(); err != nil {
			break
		}
		if !results[i].IsValid() {
			continue
		}
		i := i
		g.Go(func() error {
			seg, err := p.enc.EncodeValidated(schema, records[i], kind, results[i])
			if err != nil {
				var ee *EncodingError
				if errors.As(err, &ee) {
					ee.Index = i
				}
				encErrs[i] = err
				batch.MarkRejected(schema.Code, i)
				return nil
			}
			segments[i] = seg
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return EncodedFile{}, FileSummary{}, err
	}

	summary := FileSummary{Code: schema.Code, Name: schema.Name, Records: len(records)}
	accepted := make([]Segment, 0, len(records))
	for i, r := range results {
		switch {
		case !r.IsValid():
			res.Rejected = append(res.Rejected, RejectedRecord{
				FileType: schema.Code,
				Record:   i,
				Issues:   r.Issues,
				Error:    (&EncodingError{FileType: schema.Code, Index: i, Err: ErrRecordRejected}).Error(),
			})
			summary.Rejected++
			continue
		case encErrs[i] != nil:
			res.Rejected = append(res.Rejected, RejectedRecord{
				FileType: schema.Code,
				Record:   i,
				Issues:   r.Issues,
				Error:    encErrs[i].Error(),
			})
			summary.Rejected++
			continue
		}
		for _, is := range r.Issues {
			if is.Severity != SeverityInfo {
				res.Warnings = append(res.Warnings, RecordIssue{FileType: schema.Code, Record: i, Issue: is})
				summary.Warnings++
			}
		}
		for _, w := range segments[i].Warnings {
			if w.Code == IssueTruncated && hasLengthIssue(r.Issues, w.Field) {
				continue
			}
			res.Warnings = append(res.Warnings, RecordIssue{FileType: schema.Code, Record: i, Issue: w})
			summary.Warnings++
		}
		accepted = append(accepted, segments[i])
		summary.Accepted++
	}
	return AssembleFile(version, schema.Code, kind, accepted), summary, nil
}

// hasLengthIssue reports whether validation already warned that field would
// be truncated, in which case the encoder's own notice is redundant.
func hasLengthIssue(issues []Issue, field string) bool {
	for _, is := range issues {
		if is.Field == field && is.Code == IssueLength {
			return true
		}
	}
	return false
}
