package calc

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/martpoint/promo-engine/internal/domain/promotion"
	"github.com/martpoint/promo-engine/internal/domain/rule"
)

var hundred = decimal.NewFromInt(100)

// Calculator orchestrates the combination validator and promotion matcher
// across all cart lines and folds ordered rules into per-line final prices.
// A calculation is a pure function of (cart, rules, promotions, date); the
// repositories are the only blocking points.
type Calculator struct {
	rules   rule.Repository
	promos  promotion.Repository
	matcher *promotion.Matcher
	now     func() time.Time

	// paymentMethods, when non-empty, is the closed set of accepted payment
	// methods; anything else is rejected as structurally invalid input.
	paymentMethods []string
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithPaymentMethods restricts the accepted payment methods.
func WithPaymentMethods(methods ...string) Option {
	return func(c *Calculator) {
		c.paymentMethods = methods
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		c.now = now
	}
}

// New creates a Calculator with the required dependencies.
func New(rules rule.Repository, promos promotion.Repository, matcher *promotion.Matcher, opts ...Option) *Calculator {
	c := &Calculator{
		rules:   rules,
		promos:  promos,
		matcher: matcher,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lineFold is the per-line working state during a calculation.
type lineFold struct {
	original decimal.Decimal
	running  decimal.Decimal
	applied  []AppliedDiscount

	selected []rule.Rule
	valid    bool
}

// Calculate computes the final price per line and per cart. Structurally
// invalid requests fail outright; rule conflicts and unresolvable promotions
// degrade the affected line to full price and surface as warnings, so one bad
// line never aborts the cart.
func (c *Calculator) Calculate(ctx context.Context, req Request) (*Result, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = c.now()
	}

	res := &Result{Lines: make([]LineResult, len(req.Lines))}

	folds := make([]lineFold, len(req.Lines))
	for i := range req.Lines {
		line := &req.Lines[i]
		qty := decimal.NewFromInt(int64(line.Quantity))
		original := line.UnitPrice.Mul(qty).Truncate(0)
		folds[i] = lineFold{original: original, running: original}
	}

	byID, err := c.fetchSelectedRules(ctx, req.Lines)
	if err != nil {
		// Fetch failure never yields a partial total: every line with a
		// selection falls back to full price.
		res.Warnings = append(res.Warnings, fmt.Sprintf("discount lookup failed, cart priced without discounts: %v", err))
		byID = nil
	}

	// Select, validate, and order rules per line.
	for i := range req.Lines {
		c.resolveLine(req.Lines, i, byID, asOf, req.PaymentMethod, &folds[i], res)
	}

	// Resolve buy-N-get-M applications before folding: promotions occupy the
	// first precedence bucket, and cross gifts may land free units on lines
	// other than the one that selected the rule.
	promoByID, err := c.fetchPromotions(ctx, folds)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("promotion lookup failed, promotions skipped: %v", err))
		promoByID = nil
	}
	c.applyPromotions(req.Lines, folds, promoByID, asOf, res)

	// Fold the remaining ordered rules line by line.
	for i := range folds {
		c.foldLine(req.Lines[i].Quantity, &folds[i])
	}

	totalOriginal := decimal.Zero
	totalFinal := decimal.Zero
	for i := range folds {
		f := &folds[i]
		res.Lines[i] = LineResult{
			Barcode:  req.Lines[i].Barcode,
			Original: f.original,
			Final:    f.running,
			Applied:  f.applied,
		}
		totalOriginal = totalOriginal.Add(f.original)
		totalFinal = totalFinal.Add(f.running)
	}

	discount := totalOriginal.Sub(totalFinal)
	rate := decimal.Zero
	if totalOriginal.IsPositive() {
		rate = discount.Div(totalOriginal).Truncate(4)
	}
	res.Totals = Totals{
		Original:     totalOriginal,
		Final:        totalFinal,
		Discount:     discount,
		DiscountRate: rate,
	}
	return res, nil
}

func (c *Calculator) validateRequest(req Request) error {
	if len(req.Lines) == 0 {
		return ErrEmptyCart
	}
	for i := range req.Lines {
		line := &req.Lines[i]
		if line.Barcode == "" {
			return &ValidationError{Line: i, Field: "barcode", Reason: "missing"}
		}
		if line.Quantity <= 0 {
			return &ValidationError{Line: i, Field: "quantity", Reason: "must be greater than 0"}
		}
		if line.UnitPrice.IsNegative() {
			return &ValidationError{Line: i, Field: "unitPrice", Reason: "must not be negative"}
		}
	}
	if req.PaymentMethod != "" && len(c.paymentMethods) > 0 {
		known := false
		for _, m := range c.paymentMethods {
			if m == req.PaymentMethod {
				known = true
				break
			}
		}
		if !known {
			return &ValidationError{Line: -1, Field: "paymentMethod", Reason: fmt.Sprintf("unknown method %q", req.PaymentMethod)}
		}
	}
	return nil
}

// fetchSelectedRules batch-loads every rule id selected anywhere in the cart.
func (c *Calculator) fetchSelectedRules(ctx context.Context, lines []CartLine) (map[string]rule.Rule, error) {
	var ids []string
	seen := make(map[string]struct{})
	for i := range lines {
		for _, id := range lines[i].SelectedDiscountIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return map[string]rule.Rule{}, nil
	}

	fetched, err := c.rules.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get rules")
	}
	byID := make(map[string]rule.Rule, len(fetched))
	for _, r := range fetched {
		byID[r.ID] = r
	}
	return byID, nil
}

// resolveLine gathers the line's selected rules, drops the ineligible ones,
// validates the combination, and stores the canonical order. An invalid
// combination leaves the line at full price with the conflicts surfaced as
// warnings.
func (c *Calculator) resolveLine(lines []CartLine, idx int, byID map[string]rule.Rule, asOf time.Time, paymentMethod string, f *lineFold, res *Result) {
	line := &lines[idx]
	if len(line.SelectedDiscountIDs) == 0 || byID == nil {
		return
	}

	var selected []rule.Rule
	for _, id := range line.SelectedDiscountIDs {
		r, ok := byID[id]
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("line %d: discount %s not found, skipped", idx, id))
			continue
		}
		if !r.EligibleAt(asOf) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("line %d: discount %s not valid on %s, skipped", idx, id, asOf.Format("2006-01-02")))
			continue
		}
		// Scope and gate mismatches yield zero applications, not warnings.
		if !r.AppliesTo(line.Barcode, line.Category, line.Brand) {
			continue
		}
		if r.MinQuantity > 0 && line.Quantity < r.MinQuantity {
			continue
		}
		if r.MinPurchaseAmount.IsPositive() && f.original.LessThan(r.MinPurchaseAmount) {
			continue
		}
		selected = append(selected, r)
	}
	if len(selected) == 0 {
		return
	}

	verdict := rule.Validate(selected, paymentMethod)
	if !verdict.Valid {
		for _, conflict := range verdict.Conflicts {
			res.Warnings = append(res.Warnings, fmt.Sprintf("line %d: %s", idx, conflict.Error()))
		}
		return
	}

	f.selected = rule.Order(selected)
	f.valid = true
}

// fetchPromotions batch-loads the promotions referenced by the carts'
// buy-N-get-M rules.
func (c *Calculator) fetchPromotions(ctx context.Context, folds []lineFold) (map[string]promotion.Promotion, error) {
	var ids []string
	seen := make(map[string]struct{})
	for i := range folds {
		for _, r := range folds[i].selected {
			v, ok := r.Value.(rule.BuyNGetM)
			if !ok {
				continue
			}
			if _, dup := seen[v.PromotionID]; dup {
				continue
			}
			seen[v.PromotionID] = struct{}{}
			ids = append(ids, v.PromotionID)
		}
	}
	if len(ids) == 0 {
		return map[string]promotion.Promotion{}, nil
	}

	fetched, err := c.promos.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get promotions")
	}
	byID := make(map[string]promotion.Promotion, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}
	return byID, nil
}

// applyPromotions resolves every buy-N-get-M rule in cart order and deducts
// the free units from the lines they land on. Free units are priced at the
// line's own unit price, so they contribute zero to that line's final price
// while paid units keep the prior running price.
func (c *Calculator) applyPromotions(lines []CartLine, folds []lineFold, promoByID map[string]promotion.Promotion, asOf time.Time, res *Result) {
	matchLines := make([]promotion.Line, len(lines))
	for i := range lines {
		matchLines[i] = promotion.Line{
			Barcode:   lines[i].Barcode,
			UnitPrice: lines[i].UnitPrice,
			Quantity:  lines[i].Quantity,
			Category:  lines[i].Category,
			Brand:     lines[i].Brand,
		}
	}

	for i := range folds {
		f := &folds[i]
		if !f.valid {
			continue
		}
		for _, r := range f.selected {
			v, ok := r.Value.(rule.BuyNGetM)
			if !ok {
				continue
			}
			p, found := promoByID[v.PromotionID]
			if !found {
				res.Warnings = append(res.Warnings, fmt.Sprintf("line %d: promotion %s for discount %s not found, skipped", i, v.PromotionID, r.ID))
				continue
			}
			if !p.VerificationStatus.Trusted() {
				res.Warnings = append(res.Warnings, fmt.Sprintf("line %d: promotion %s is disputed, skipped", i, p.ID))
				continue
			}

			app, matched := c.matcher.MatchLine(matchLines, i, &p, asOf)
			if !matched {
				continue
			}

			for _, alloc := range app.Allocations {
				target := &folds[alloc.LineIndex]
				amount := lines[alloc.LineIndex].UnitPrice.Mul(decimal.NewFromInt(int64(alloc.Units)))
				amount = capAmount(&r, amount, lines[alloc.LineIndex].Quantity)
				amount = decimal.Min(amount, target.running).Truncate(0)

				target.running = target.running.Sub(amount)
				target.applied = append(target.applied, AppliedDiscount{
					RuleID:    r.ID,
					Amount:    amount,
					FreeUnits: alloc.Units,
				})
			}
		}
	}
}

// foldLine applies the line's remaining ordered rules left to right over the
// running price. Every step truncates to integral currency units and clamps
// at zero, so cumulative rounding can never under-charge the merchant.
func (c *Calculator) foldLine(quantity int, f *lineFold) {
	if !f.valid {
		return
	}
	for _, r := range f.selected {
		var amount decimal.Decimal
		switch v := r.Value.(type) {
		case rule.Percentage:
			amount = f.running.Mul(v.Percent).Div(hundred)
		case rule.FixedAmount:
			amount = v.Amount
		case rule.TieredAmount:
			if !v.TierUnit.IsPositive() {
				continue
			}
			tiers := f.original.Div(v.TierUnit).Floor()
			amount = tiers.Mul(v.TierAmount)
		case rule.VoucherAmount:
			// Single application regardless of quantity.
			amount = v.Amount
		case rule.BuyNGetM:
			continue // already applied
		default:
			continue
		}

		amount = capAmount(&r, amount, quantity)
		amount = decimal.Min(amount, f.running).Truncate(0)
		if amount.IsNegative() {
			amount = decimal.Zero
		}

		f.running = f.running.Sub(amount)
		f.applied = append(f.applied, AppliedDiscount{RuleID: r.ID, Amount: amount})
	}
}

// capAmount applies a rule's discount caps: an absolute cap per application
// and a per-item cap scaled by the line quantity.
func capAmount(r *rule.Rule, amount decimal.Decimal, quantity int) decimal.Decimal {
	if r.MaxDiscountAmount.IsPositive() {
		amount = decimal.Min(amount, r.MaxDiscountAmount)
	}
	if r.MaxDiscountPerItem.IsPositive() {
		perLine := r.MaxDiscountPerItem.Mul(decimal.NewFromInt(int64(quantity)))
		amount = decimal.Min(amount, perLine)
	}
	return amount
}
