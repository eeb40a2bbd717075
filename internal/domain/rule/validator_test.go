package rule

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRule(id string, cat Category) Rule {
	return Rule{
		ID:       id,
		Name:     id,
		Category: cat,
		Value:    Percentage{Percent: decimal.NewFromInt(10)},
		IsActive: true,
	}
}

func TestValidate_EmptySelection(t *testing.T) {
	res := Validate(nil, "")
	assert.True(t, res.Valid)
	assert.Empty(t, res.Conflicts)
}

func TestValidate_CompatibleRules(t *testing.T) {
	selected := []Rule{
		newTestRule("coupon-1", CategoryCoupon),
		newTestRule("telecom-1", CategoryTelecom),
	}

	res := Validate(selected, "card")
	assert.True(t, res.Valid)
}

func TestValidate_PaymentMethodRequired(t *testing.T) {
	r := newTestRule("card-only", CategoryPaymentInstant)
	r.RequiredPaymentMethods = []string{"card"}

	res := Validate([]Rule{r}, "")
	require.False(t, res.Valid)
	require.Len(t, res.Conflicts, 1)

	pmc, ok := res.Conflicts[0].(*PaymentMethodConflict)
	require.True(t, ok)
	assert.Equal(t, "card-only", pmc.RuleID)
}

func TestValidate_PaymentMethodMismatch(t *testing.T) {
	r := newTestRule("card-only", CategoryPaymentInstant)
	r.RequiredPaymentMethods = []string{"card"}

	res := Validate([]Rule{r}, "cash")
	require.False(t, res.Valid)

	pmc, ok := res.Conflicts[0].(*PaymentMethodConflict)
	require.True(t, ok)
	assert.Equal(t, "cash", pmc.PaymentMethod)
}

func TestValidate_CategoryExclusion(t *testing.T) {
	coupon := newTestRule("coupon-1", CategoryCoupon)
	coupon.CannotCombineWithCategories = []Category{CategoryVoucher}
	voucher := newTestRule("voucher-1", CategoryVoucher)

	res := Validate([]Rule{coupon, voucher}, "")
	require.False(t, res.Valid)
	require.Len(t, res.Conflicts, 1)

	cc, ok := res.Conflicts[0].(*CategoryConflict)
	require.True(t, ok)
	assert.Equal(t, "coupon-1", cc.RuleID)
	assert.Equal(t, "voucher-1", cc.OtherID)
	assert.Equal(t, CategoryVoucher, cc.Excluded)
}

func TestValidate_IDExclusionIsSymmetric(t *testing.T) {
	// The exclusion is declared on one side only.
	a := newTestRule("a", CategoryCoupon)
	a.CannotCombineWithIDs = []string{"b"}
	b := newTestRule("b", CategoryTelecom)

	res := Validate([]Rule{a, b}, "")
	require.False(t, res.Valid)
	require.Len(t, res.Conflicts, 1)

	// Same verdict with the selection reversed, and still only one conflict.
	res = Validate([]Rule{b, a}, "")
	require.False(t, res.Valid)
	require.Len(t, res.Conflicts, 1)

	ec, ok := res.Conflicts[0].(*ExclusionConflict)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{ec.RuleID, ec.OtherID})
}

func TestValidate_DependencyMissing(t *testing.T) {
	compound := newTestRule("compound-1", CategoryPaymentCompound)
	compound.RequiresDiscountID = "event-1"

	res := Validate([]Rule{compound}, "")
	require.False(t, res.Valid)

	dc, ok := res.Conflicts[0].(*DependencyConflict)
	require.True(t, ok)
	assert.Equal(t, "event-1", dc.RequiresID)
}

func TestValidate_DependencySatisfied(t *testing.T) {
	compound := newTestRule("compound-1", CategoryPaymentCompound)
	compound.RequiresDiscountID = "event-1"
	event := newTestRule("event-1", CategoryPaymentEvent)

	res := Validate([]Rule{compound, event}, "")
	assert.True(t, res.Valid)
}

func TestValidate_CollectsAllConflicts(t *testing.T) {
	a := newTestRule("a", CategoryCoupon)
	a.CannotCombineWithIDs = []string{"b"}
	a.RequiredPaymentMethods = []string{"card"}
	b := newTestRule("b", CategoryVoucher)
	b.RequiresDiscountID = "missing"

	res := Validate([]Rule{a, b}, "cash")
	require.False(t, res.Valid)
	assert.Len(t, res.Conflicts, 3)
}

func TestOrder_CategoryPrecedence(t *testing.T) {
	selected := []Rule{
		newTestRule("compound", CategoryPaymentCompound),
		newTestRule("voucher", CategoryVoucher),
		newTestRule("promo", CategoryPromotion),
		newTestRule("coupon", CategoryCoupon),
	}

	ordered := Order(selected)
	ids := make([]string, len(ordered))
	for i := range ordered {
		ids[i] = ordered[i].ID
	}
	assert.Equal(t, []string{"promo", "coupon", "voucher", "compound"}, ids)
}

func TestOrder_PriorityWithinCategory(t *testing.T) {
	a := newTestRule("a", CategoryCoupon)
	a.Priority = 20
	b := newTestRule("b", CategoryCoupon)
	b.Priority = 10

	ordered := Order([]Rule{a, b})
	assert.Equal(t, "b", ordered[0].ID)
	assert.Equal(t, "a", ordered[1].ID)
}

func TestOrder_CreatedAtThenIDTieBreak(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := newTestRule("zz", CategoryCoupon)
	a.CreatedAt = base
	b := newTestRule("aa", CategoryCoupon)
	b.CreatedAt = base.Add(time.Hour)
	c := newTestRule("mm", CategoryCoupon)
	c.CreatedAt = base

	ordered := Order([]Rule{a, b, c})
	assert.Equal(t, "mm", ordered[0].ID)
	assert.Equal(t, "zz", ordered[1].ID)
	assert.Equal(t, "aa", ordered[2].ID)
}

func TestOrder_DeterministicAcrossInputPermutations(t *testing.T) {
	a := newTestRule("a", CategoryVoucher)
	b := newTestRule("b", CategoryCoupon)
	c := newTestRule("c", CategoryTelecom)

	first := Order([]Rule{a, b, c})
	second := Order([]Rule{c, a, b})
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestOrder_DoesNotMutateInput(t *testing.T) {
	selected := []Rule{
		newTestRule("voucher", CategoryVoucher),
		newTestRule("promo", CategoryPromotion),
	}

	_ = Order(selected)
	assert.Equal(t, "voucher", selected[0].ID)
	assert.Equal(t, "promo", selected[1].ID)
}

func TestAppliesTo_EmptyScopeIsUniversal(t *testing.T) {
	r := newTestRule("any", CategoryCoupon)
	assert.True(t, r.AppliesTo("8801234567890", "beverages", "acme"))
}

func TestAppliesTo_ScopedRule(t *testing.T) {
	r := newTestRule("scoped", CategoryCoupon)
	r.ApplicableCategories = []string{"beverages"}

	assert.True(t, r.AppliesTo("x", "beverages", ""))
	assert.False(t, r.AppliesTo("x", "snacks", ""))
}

func TestEligibleAt_Window(t *testing.T) {
	r := newTestRule("windowed", CategoryCoupon)
	r.ValidFrom = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.ValidTo = time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	assert.True(t, r.EligibleAt(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.False(t, r.EligibleAt(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.False(t, r.EligibleAt(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)))

	r.IsActive = false
	assert.False(t, r.EligibleAt(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
}
