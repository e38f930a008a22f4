package refdata

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/rips/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG stores reference codes in the reference_code table.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT kind, code, description, active
		FROM reference_code
		ORDER BY kind, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&kind, &e.Code, &e.Description, &e.Active); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) Upsert(ctx context.Context, entries []Entry) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(`
				INSERT INTO reference_code (kind, code, description, active, updated_at)
				VALUES ($1, $2, $3, $4, NOW())
				ON CONFLICT (kind, code) DO UPDATE
				SET description = EXCLUDED.description, active = EXCLUDED.active, updated_at = NOW()`,
				string(e.Kind), e.Code, e.Description, e.Active)
		}
		br := r.conn(ctx).SendBatch(ctx, batch)
		for i := range entries {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("upsert %s %s: %w", entries[i].Kind, entries[i].Code, err)
			}
		}
		return br.Close()
	})
}
