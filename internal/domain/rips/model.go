package rips

import (
	"time"

	"github.com/ehr/rips/internal/platform/blobstore"
	core "github.com/ehr/rips/internal/platform/rips"
)

// VersionInfo is one entry of the version listing.
type VersionInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	FileTypes []string `json:"file_types"`
}

// RuleSet lists the business rules of one file type.
type RuleSet struct {
	FileType string                `json:"file_type"`
	Rules    []core.RuleDescriptor `json:"rules"`
}

// ValidateRequest is the body of the validate endpoint.
type ValidateRequest struct {
	Records []core.Record `json:"records" validate:"required,max=200000"`
}

// GenerateRequest is the body of the generate endpoint. Format defaults to
// fixed-width.
type GenerateRequest struct {
	Format string                   `json:"format" validate:"omitempty,oneof=fixed fixed-width txt delimited csv markup xml"`
	Files  map[string][]core.Record `json:"files" validate:"required,min=1,dive,keys,required,alphanum,endkeys"`
}

// MigrateRequest is the body of the migrate endpoint.
type MigrateRequest struct {
	From  string                   `json:"from" validate:"required"`
	To    string                   `json:"to" validate:"required,nefield=From"`
	Files map[string][]core.Record `json:"files" validate:"required"`
}

// GenerationJob is a completed generation: the stored artifacts plus the
// pipeline's rejections, warnings and per-file summary.
type GenerationJob struct {
	ID        string                `json:"id"`
	Version   string                `json:"version"`
	Kind      core.OutputKind       `json:"kind"`
	CreatedAt time.Time             `json:"created_at"`
	Artifacts []*blobstore.Metadata `json:"artifacts"`
	Rejected  []core.RejectedRecord `json:"rejected"`
	Warnings  []core.RecordIssue    `json:"warnings"`
	Summary   []core.FileSummary    `json:"summary"`
}

// ContentType is the media type stored with an artifact of kind k.
func ContentType(k core.OutputKind) string {
	switch k {
	case core.OutputDelimited:
		return "text/csv; charset=utf-8"
	case core.OutputMarkup:
		return "application/xml; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}
