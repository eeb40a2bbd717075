package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/martpoint/promo-engine/internal/domain/rule"
)

const (
	ruleColumns = `id, name, category, value_type, value_config,
		applicable_products, applicable_categories, applicable_brands,
		required_payment_methods, cannot_combine_categories, cannot_combine_ids,
		requires_discount_id, min_purchase_amount, min_quantity,
		max_discount_amount, max_discount_per_item,
		valid_from, valid_to, priority, active, created_at`

	getRulesByIDsSQL = `SELECT ` + ruleColumns + ` FROM discount_rules WHERE id = ANY($1) ORDER BY created_at, id`

	findRulesSQL = `SELECT ` + ruleColumns + ` FROM discount_rules
		WHERE ($1 = '' OR category = $1)
		  AND ($2::timestamptz IS NULL OR (active AND valid_from <= $2 AND valid_to >= $2))
		  AND ($3 = '' OR applicable_products = '{}' OR $3 = ANY(applicable_products))
		ORDER BY created_at, id`

	insertRuleSQL = `INSERT INTO discount_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
)

var _ rule.Repository = (*RuleRepository)(nil)

// RuleRepository implements rule.Repository backed by PostgreSQL. The rule's
// value variant is stored as a (value_type, value_config JSONB) pair.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository returns a RuleRepository that uses the given pool.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// Find returns rules matching the filter, in creation order.
func (r *RuleRepository) Find(ctx context.Context, filter rule.Filter) ([]rule.Rule, error) {
	var activeAt *time.Time
	if !filter.ActiveAt.IsZero() {
		activeAt = &filter.ActiveAt
	}

	rows, err := r.pool.Query(ctx, findRulesSQL, string(filter.Category), activeAt, filter.Barcode)
	if err != nil {
		return nil, fmt.Errorf("finding rules: %w", err)
	}
	return pgx.CollectRows(rows, scanRule)
}

// GetByIDs returns the rules matching any of the given ids.
func (r *RuleRepository) GetByIDs(ctx context.Context, ids []string) ([]rule.Rule, error) {
	rows, err := r.pool.Query(ctx, getRulesByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting rules by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanRule)
}

// Create persists a new rule.
func (r *RuleRepository) Create(ctx context.Context, ru *rule.Rule) error {
	valueType, config, err := encodeValue(ru.Value)
	if err != nil {
		return fmt.Errorf("encoding rule %q config: %w", ru.ID, err)
	}

	_, err = r.pool.Exec(ctx, insertRuleSQL,
		ru.ID, ru.Name, string(ru.Category), valueType, config,
		ru.ApplicableProducts, ru.ApplicableCategories, ru.ApplicableBrands,
		ru.RequiredPaymentMethods, categoryStrings(ru.CannotCombineWithCategories), ru.CannotCombineWithIDs,
		ru.RequiresDiscountID, ru.MinPurchaseAmount, ru.MinQuantity,
		ru.MaxDiscountAmount, ru.MaxDiscountPerItem,
		ru.ValidFrom, ru.ValidTo, ru.Priority, ru.IsActive, ru.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating rule %q: %w", ru.ID, err)
	}
	return nil
}

// valueConfig is the JSONB shape of a rule's value variant. Only the fields
// of the active variant are populated.
type valueConfig struct {
	Percent     decimal.Decimal `json:"percent,omitzero"`
	Amount      decimal.Decimal `json:"amount,omitzero"`
	TierUnit    decimal.Decimal `json:"tierUnit,omitzero"`
	TierAmount  decimal.Decimal `json:"tierAmount,omitzero"`
	PromotionID string          `json:"promotionId,omitempty"`
}

func encodeValue(v rule.Value) (string, []byte, error) {
	var cfg valueConfig
	switch val := v.(type) {
	case rule.Percentage:
		cfg.Percent = val.Percent
	case rule.FixedAmount:
		cfg.Amount = val.Amount
	case rule.TieredAmount:
		cfg.TierUnit = val.TierUnit
		cfg.TierAmount = val.TierAmount
	case rule.VoucherAmount:
		cfg.Amount = val.Amount
	case rule.BuyNGetM:
		cfg.PromotionID = val.PromotionID
	default:
		return "", nil, errors.Errorf("unsupported rule value %T", v)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", nil, err
	}
	return string(v.ValueType()), raw, nil
}

func decodeValue(valueType string, raw []byte) (rule.Value, error) {
	var cfg valueConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	switch rule.ValueType(valueType) {
	case rule.ValuePercentage:
		return rule.Percentage{Percent: cfg.Percent}, nil
	case rule.ValueFixedAmount:
		return rule.FixedAmount{Amount: cfg.Amount}, nil
	case rule.ValueTieredAmount:
		return rule.TieredAmount{TierUnit: cfg.TierUnit, TierAmount: cfg.TierAmount}, nil
	case rule.ValueVoucherAmount:
		return rule.VoucherAmount{Amount: cfg.Amount}, nil
	case rule.ValueBuyNGetM:
		return rule.BuyNGetM{PromotionID: cfg.PromotionID}, nil
	default:
		return nil, errors.Errorf("unknown value type %q", valueType)
	}
}

func scanRule(row pgx.CollectableRow) (rule.Rule, error) {
	var (
		ru        rule.Rule
		category  string
		valueType string
		config    []byte
		exclCats  []string
	)
	err := row.Scan(
		&ru.ID, &ru.Name, &category, &valueType, &config,
		&ru.ApplicableProducts, &ru.ApplicableCategories, &ru.ApplicableBrands,
		&ru.RequiredPaymentMethods, &exclCats, &ru.CannotCombineWithIDs,
		&ru.RequiresDiscountID, &ru.MinPurchaseAmount, &ru.MinQuantity,
		&ru.MaxDiscountAmount, &ru.MaxDiscountPerItem,
		&ru.ValidFrom, &ru.ValidTo, &ru.Priority, &ru.IsActive, &ru.CreatedAt,
	)
	if err != nil {
		return ru, err
	}

	ru.Category = rule.Category(category)
	ru.CannotCombineWithCategories = toCategories(exclCats)
	ru.Value, err = decodeValue(valueType, config)
	if err != nil {
		return ru, fmt.Errorf("decoding rule %q config: %w", ru.ID, err)
	}
	return ru, nil
}

func categoryStrings(cats []rule.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}

func toCategories(ss []string) []rule.Category {
	if len(ss) == 0 {
		return nil
	}
	out := make([]rule.Category, len(ss))
	for i, s := range ss {
		out[i] = rule.Category(s)
	}
	return out
}
