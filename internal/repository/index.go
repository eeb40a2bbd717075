package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/martpoint/promo-engine/internal/domain/promoindex"
)

const (
	getIndexEntrySQL = `SELECT barcode, promotion_ids, last_updated FROM promotion_index WHERE barcode = $1`

	allIndexEntriesSQL = `SELECT barcode, promotion_ids, last_updated FROM promotion_index ORDER BY barcode`

	// Single-statement set add/remove: the stored array is unioned with the
	// additions, deduplicated, stripped of the removals, and kept sorted so
	// repeated applications always produce the same row. Atomicity of the one
	// statement is all the concurrency control index maintenance needs.
	upsertIndexEntrySQL = `INSERT INTO promotion_index (barcode, promotion_ids, last_updated)
		VALUES ($1, ARRAY(SELECT DISTINCT e FROM unnest($2::text[]) AS e WHERE NOT (e = ANY($3::text[])) ORDER BY e), now())
		ON CONFLICT (barcode) DO UPDATE SET
			promotion_ids = ARRAY(
				SELECT DISTINCT e FROM unnest(promotion_index.promotion_ids || $2::text[]) AS e
				WHERE NOT (e = ANY($3::text[])) ORDER BY e
			),
			last_updated = now()`

	deleteIndexEntrySQL = `DELETE FROM promotion_index WHERE barcode = $1`

	deleteReferencingSQL = `UPDATE promotion_index
		SET promotion_ids = array_remove(promotion_ids, $1), last_updated = now()
		WHERE $1 = ANY(promotion_ids)`
)

var _ promoindex.Repository = (*IndexRepository)(nil)

// IndexRepository implements promoindex.Repository backed by PostgreSQL, one
// row per barcode.
type IndexRepository struct {
	pool *pgxpool.Pool
}

// NewIndexRepository returns an IndexRepository that uses the given pool.
func NewIndexRepository(pool *pgxpool.Pool) *IndexRepository {
	return &IndexRepository{pool: pool}
}

// Get returns the index entry for a barcode. Returns promoindex.ErrNotFound
// when the barcode has no entry.
func (r *IndexRepository) Get(ctx context.Context, barcode string) (*promoindex.Entry, error) {
	rows, err := r.pool.Query(ctx, getIndexEntrySQL, barcode)
	if err != nil {
		return nil, fmt.Errorf("getting index entry %q: %w", barcode, err)
	}

	e, err := pgx.CollectExactlyOneRow(rows, scanIndexEntry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promoindex.ErrNotFound
		}
		return nil, fmt.Errorf("getting index entry %q: %w", barcode, err)
	}
	return &e, nil
}

// Upsert applies an idempotent add/remove to one barcode's promotion id set.
func (r *IndexRepository) Upsert(ctx context.Context, barcode string, addIDs, removeIDs []string) error {
	if addIDs == nil {
		addIDs = []string{}
	}
	if removeIDs == nil {
		removeIDs = []string{}
	}
	_, err := r.pool.Exec(ctx, upsertIndexEntrySQL, barcode, addIDs, removeIDs)
	if err != nil {
		return fmt.Errorf("upserting index entry %q: %w", barcode, err)
	}
	return nil
}

// Delete removes the entry for a barcode.
func (r *IndexRepository) Delete(ctx context.Context, barcode string) error {
	_, err := r.pool.Exec(ctx, deleteIndexEntrySQL, barcode)
	if err != nil {
		return fmt.Errorf("deleting index entry %q: %w", barcode, err)
	}
	return nil
}

// DeleteReferencing strips a promotion id from every entry carrying it.
func (r *IndexRepository) DeleteReferencing(ctx context.Context, promotionID string) error {
	_, err := r.pool.Exec(ctx, deleteReferencingSQL, promotionID)
	if err != nil {
		return fmt.Errorf("deleting index references to %q: %w", promotionID, err)
	}
	return nil
}

// All returns every index entry ordered by barcode.
func (r *IndexRepository) All(ctx context.Context) ([]promoindex.Entry, error) {
	rows, err := r.pool.Query(ctx, allIndexEntriesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing index entries: %w", err)
	}
	return pgx.CollectRows(rows, scanIndexEntry)
}

func scanIndexEntry(row pgx.CollectableRow) (promoindex.Entry, error) {
	var e promoindex.Entry
	err := row.Scan(&e.Barcode, &e.PromotionIDs, &e.LastUpdated)
	return e, err
}
