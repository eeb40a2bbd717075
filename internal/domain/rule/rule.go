package rule

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Category enumerates the closed set of discount rule categories.
type Category string

const (
	// CategoryPromotion covers buy-N-get-M promotions sourced from crowd data.
	CategoryPromotion Category = "promotion"
	// CategoryCoupon covers single-use and reusable coupon codes.
	CategoryCoupon Category = "coupon"
	// CategoryVoucher covers prepaid voucher balances.
	CategoryVoucher Category = "voucher"
	// CategoryTelecom covers carrier membership discounts.
	CategoryTelecom Category = "telecom"
	// CategoryPaymentEvent covers time-boxed payment provider events.
	CategoryPaymentEvent Category = "payment_event"
	// CategoryPaymentInstant covers instant card discounts applied at charge time.
	CategoryPaymentInstant Category = "payment_instant"
	// CategoryPaymentCompound covers stacked payment benefits.
	CategoryPaymentCompound Category = "payment_compound"
)

// precedence maps each category to its fold-order bucket. Lower buckets fold
// first. The bucket order is part of the pricing contract: moving a category
// changes every mixed-category total.
var precedence = map[Category]int{
	CategoryPromotion:       0,
	CategoryCoupon:          1,
	CategoryVoucher:         2,
	CategoryTelecom:         3,
	CategoryPaymentEvent:    4,
	CategoryPaymentInstant:  5,
	CategoryPaymentCompound: 6,
}

// Precedence returns the fold-order bucket for c. Unknown categories sort last.
func (c Category) Precedence() int {
	if p, ok := precedence[c]; ok {
		return p
	}
	return len(precedence)
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	_, ok := precedence[c]
	return ok
}

// ErrNotFound is returned when a requested discount rule does not exist.
var ErrNotFound = errors.New("discount rule not found")

// Rule is a configured price adjustment with scope, validity window, and
// combination constraints.
type Rule struct {
	ID       string
	Name     string
	Category Category
	Value    Value

	// Scope. Empty slices mean the rule applies universally.
	ApplicableProducts   []string
	ApplicableCategories []string
	ApplicableBrands     []string

	// RequiredPaymentMethods restricts the rule to specific payment methods.
	// Empty means any method.
	RequiredPaymentMethods []string

	// Combination constraints.
	CannotCombineWithCategories []Category
	CannotCombineWithIDs        []string
	RequiresDiscountID          string

	// Gates and caps.
	MinPurchaseAmount  decimal.Decimal
	MinQuantity        int
	MaxDiscountAmount  decimal.Decimal
	MaxDiscountPerItem decimal.Decimal

	ValidFrom time.Time
	ValidTo   time.Time
	Priority  int
	IsActive  bool
	CreatedAt time.Time
}

// EligibleAt reports whether the rule is active and t falls inside its
// validity window.
func (r *Rule) EligibleAt(t time.Time) bool {
	if !r.IsActive {
		return false
	}
	if t.Before(r.ValidFrom) || t.After(r.ValidTo) {
		return false
	}
	return true
}

// AppliesTo reports whether the rule's scope covers an item with the given
// barcode, category, and brand. An empty scope is universal.
func (r *Rule) AppliesTo(barcode, category, brand string) bool {
	if len(r.ApplicableProducts) == 0 && len(r.ApplicableCategories) == 0 && len(r.ApplicableBrands) == 0 {
		return true
	}
	return contains(r.ApplicableProducts, barcode) ||
		contains(r.ApplicableCategories, category) ||
		contains(r.ApplicableBrands, brand)
}

// AllowsPaymentMethod reports whether the rule permits the given payment
// method. Rules without a restriction list accept any method, including none.
func (r *Rule) AllowsPaymentMethod(method string) bool {
	if len(r.RequiredPaymentMethods) == 0 {
		return true
	}
	return contains(r.RequiredPaymentMethods, method)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Filter narrows rule lookups.
type Filter struct {
	Category Category
	ActiveAt time.Time
	Barcode  string
}

// Repository provides lookup of discount rules.
type Repository interface {
	Find(ctx context.Context, filter Filter) ([]Rule, error)
	GetByIDs(ctx context.Context, ids []string) ([]Rule, error)
}
