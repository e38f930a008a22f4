package refdata

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Repository persists reference codes.
type Repository interface {
	List(ctx context.Context) ([]Entry, error)
	Upsert(ctx context.Context, entries []Entry) error
}

// Load reads the catalog from repo. An empty table is seeded with the
// built-in lists first so a fresh database behaves like the built-in
// catalog.
func Load(ctx context.Context, repo Repository, logger zerolog.Logger) (*Catalog, error) {
	entries, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reference codes: %w", err)
	}
	if len(entries) == 0 {
		entries = DefaultEntries()
		if err := repo.Upsert(ctx, entries); err != nil {
			return nil, fmt.Errorf("seed reference codes: %w", err)
		}
		logger.Info().Int("codes", len(entries)).Msg("seeded reference codes")
	}

	c, err := NewCatalog(entries)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Int("document_types", c.Len(KindDocumentType)).
		Int("countries", c.Len(KindCountry)).
		Int("departments", c.Len(KindDepartment)).
		Msg("reference catalog loaded")
	return c, nil
}
