package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/martpoint/promo-engine/internal/domain/promotion"
)

const (
	promotionColumns = `id, name, promotion_type, buy_quantity, get_quantity,
		applicable_type, applicable_products, applicable_categories, applicable_brands,
		gift_selection, gift_products, gift_categories, gift_brands,
		gift_same_product, gift_cheaper, gift_max_price,
		max_applications, min_purchase_amount, excluded_products,
		status, verification_status, verification_count, dispute_count,
		verified_by, disputed_by, merged_from, merged_into,
		valid_from, valid_to, active, created_at, updated_at`

	getPromotionByIDSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE id = $1`

	getPromotionsByIDsSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE id = ANY($1) ORDER BY created_at, id`

	findPromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE ($1 = '' OR status = $1)
		  AND ($2::timestamptz IS NULL OR (active AND valid_from <= $2 AND valid_to >= $2))
		ORDER BY created_at, id`

	insertPromotionSQL = `INSERT INTO promotions (` + promotionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`

	updatePromotionSQL = `UPDATE promotions SET
		name = $2, promotion_type = $3, buy_quantity = $4, get_quantity = $5,
		applicable_type = $6, applicable_products = $7, applicable_categories = $8, applicable_brands = $9,
		gift_selection = $10, gift_products = $11, gift_categories = $12, gift_brands = $13,
		gift_same_product = $14, gift_cheaper = $15, gift_max_price = $16,
		max_applications = $17, min_purchase_amount = $18, excluded_products = $19,
		status = $20, verification_status = $21, verification_count = $22, dispute_count = $23,
		verified_by = $24, disputed_by = $25, merged_from = $26, merged_into = $27,
		valid_from = $28, valid_to = $29, active = $30, updated_at = $31
		WHERE id = $1`

	deletePromotionSQL = `DELETE FROM promotions WHERE id = $1`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
// Vote identity sets live in TEXT[] columns next to their counters.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// GetByID returns a single promotion. Returns promotion.ErrNotFound when no
// row matches.
func (r *PromotionRepository) GetByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting promotion %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("getting promotion %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns promotions matching any of the given ids.
func (r *PromotionRepository) GetByIDs(ctx context.Context, ids []string) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting promotions by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// Find returns promotions matching the filter, in creation order.
func (r *PromotionRepository) Find(ctx context.Context, filter promotion.Filter) ([]promotion.Promotion, error) {
	var activeAt *time.Time
	if !filter.ActiveAt.IsZero() {
		activeAt = &filter.ActiveAt
	}

	rows, err := r.pool.Query(ctx, findPromotionsSQL, string(filter.Status), activeAt)
	if err != nil {
		return nil, fmt.Errorf("finding promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// Create persists a new promotion.
func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	_, err := r.pool.Exec(ctx, insertPromotionSQL, promotionArgs(p)...)
	if err != nil {
		return fmt.Errorf("creating promotion %q: %w", p.ID, err)
	}
	return nil
}

// Update persists changes to an existing promotion.
func (r *PromotionRepository) Update(ctx context.Context, p *promotion.Promotion) error {
	args := promotionArgs(p)
	// The update statement has no created_at slot.
	args = append(args[:30], p.UpdatedAt)

	tag, err := r.pool.Exec(ctx, updatePromotionSQL, args...)
	if err != nil {
		return fmt.Errorf("updating promotion %q: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

// Delete removes the live promotion document. History rows are untouched.
func (r *PromotionRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deletePromotionSQL, id)
	if err != nil {
		return fmt.Errorf("deleting promotion %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

func promotionArgs(p *promotion.Promotion) []any {
	return []any{
		p.ID, p.Name, string(p.Type), p.BuyQuantity, p.GetQuantity,
		string(p.ApplicableType), p.ApplicableProducts, p.ApplicableCategories, p.ApplicableBrands,
		string(p.GiftSelection), p.GiftProducts, p.GiftCategories, p.GiftBrands,
		p.GiftConstraints.MustBeSameProduct, p.GiftConstraints.MustBeCheaperThanPurchased, p.GiftConstraints.MaxGiftPrice,
		p.Constraints.MaxApplicationsPerCart, p.Constraints.MinPurchaseAmount, p.Constraints.ExcludedProducts,
		string(p.Status), string(p.VerificationStatus), p.VerificationCount, p.DisputeCount,
		p.VerifiedBy, p.DisputedBy, p.MergedFrom, p.MergedInto,
		p.ValidFrom, p.ValidTo, p.IsActive, p.CreatedAt, p.UpdatedAt,
	}
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p              promotion.Promotion
		promoType      string
		applicableType string
		giftSelection  string
		status         string
		verStatus      string
	)
	err := row.Scan(
		&p.ID, &p.Name, &promoType, &p.BuyQuantity, &p.GetQuantity,
		&applicableType, &p.ApplicableProducts, &p.ApplicableCategories, &p.ApplicableBrands,
		&giftSelection, &p.GiftProducts, &p.GiftCategories, &p.GiftBrands,
		&p.GiftConstraints.MustBeSameProduct, &p.GiftConstraints.MustBeCheaperThanPurchased, &p.GiftConstraints.MaxGiftPrice,
		&p.Constraints.MaxApplicationsPerCart, &p.Constraints.MinPurchaseAmount, &p.Constraints.ExcludedProducts,
		&status, &verStatus, &p.VerificationCount, &p.DisputeCount,
		&p.VerifiedBy, &p.DisputedBy, &p.MergedFrom, &p.MergedInto,
		&p.ValidFrom, &p.ValidTo, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Type = promotion.Type(promoType)
	p.ApplicableType = promotion.ApplicableType(applicableType)
	p.GiftSelection = promotion.GiftSelection(giftSelection)
	p.Status = promotion.Status(status)
	p.VerificationStatus = promotion.VerificationStatus(verStatus)
	return p, err
}
