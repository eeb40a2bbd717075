package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/martpoint/promo-engine/internal/domain/promotion"
)

const (
	appendHistorySQL = `INSERT INTO promotion_history (id, promotion_id, action, actor, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	listHistorySQL = `SELECT id, promotion_id, action, actor, detail, at
		FROM promotion_history WHERE promotion_id = $1 ORDER BY at, id`
)

var _ promotion.HistoryRepository = (*HistoryRepository)(nil)

// HistoryRepository stores append-only promotion modification history.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository returns a HistoryRepository that uses the given pool.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// Append inserts one history entry.
func (r *HistoryRepository) Append(ctx context.Context, e promotion.HistoryEntry) error {
	_, err := r.pool.Exec(ctx, appendHistorySQL, e.ID, e.PromotionID, e.Action, e.Actor, e.Detail, e.At)
	if err != nil {
		return fmt.Errorf("appending history for promotion %q: %w", e.PromotionID, err)
	}
	return nil
}

// ListByPromotion returns a promotion's history in chronological order.
func (r *HistoryRepository) ListByPromotion(ctx context.Context, promotionID string) ([]promotion.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, listHistorySQL, promotionID)
	if err != nil {
		return nil, fmt.Errorf("listing history for promotion %q: %w", promotionID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (promotion.HistoryEntry, error) {
		var e promotion.HistoryEntry
		err := row.Scan(&e.ID, &e.PromotionID, &e.Action, &e.Actor, &e.Detail, &e.At)
		return e, err
	})
}
