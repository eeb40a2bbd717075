package rule

import "github.com/shopspring/decimal"

// ValueType tags the concrete variant held by a rule's Value.
type ValueType string

const (
	ValuePercentage    ValueType = "percentage"
	ValueFixedAmount   ValueType = "fixed_amount"
	ValueTieredAmount  ValueType = "tiered_amount"
	ValueVoucherAmount ValueType = "voucher_amount"
	ValueBuyNGetM      ValueType = "buy_n_get_m"
)

// Value is the discount configuration variant of a rule. Exactly one concrete
// type exists per ValueType, so a rule can never carry fields that belong to
// a different category's configuration.
type Value interface {
	ValueType() ValueType
}

// Percentage deducts a percentage of the running price.
type Percentage struct {
	// Percent is the discount percentage in [0, 100].
	Percent decimal.Decimal
}

func (Percentage) ValueType() ValueType { return ValuePercentage }

// FixedAmount deducts a flat amount from the running price.
type FixedAmount struct {
	Amount decimal.Decimal
}

func (FixedAmount) ValueType() ValueType { return ValueFixedAmount }

// TieredAmount deducts TierAmount once per full TierUnit of the line's
// original price.
type TieredAmount struct {
	TierUnit   decimal.Decimal
	TierAmount decimal.Decimal
}

func (TieredAmount) ValueType() ValueType { return ValueTieredAmount }

// VoucherAmount deducts a prepaid balance once per line regardless of
// quantity.
type VoucherAmount struct {
	Amount decimal.Decimal
}

func (VoucherAmount) ValueType() ValueType { return ValueVoucherAmount }

// BuyNGetM links the rule to a buy-N-get-M promotion resolved by the
// promotion matcher.
type BuyNGetM struct {
	PromotionID string
}

func (BuyNGetM) ValueType() ValueType { return ValueBuyNGetM }
