package promotion

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Line is a cart line viewed by the matcher. Callers map their own cart
// representation into this shape.
type Line struct {
	Barcode   string
	UnitPrice decimal.Decimal
	Quantity  int
	Category  string
	Brand     string
}

// GiftPick selects the tie-break policy for locating cross-promotion gift
// lines when no price constraint forces an order.
type GiftPick int

const (
	// PickFirst takes gift lines in cart order.
	PickFirst GiftPick = iota
	// PickCheapest takes the cheapest eligible gift line first.
	PickCheapest
)

// Allocation records free units granted on a specific cart line.
type Allocation struct {
	LineIndex int
	Units     int
}

// Application is the result of matching a promotion against a cart.
type Application struct {
	PromotionID string
	// LineIndex is the purchase line the promotion matched.
	LineIndex int
	// Groups is the number of complete buy+get groups formed.
	Groups int
	// FreeUnits is the total number of units granted for free.
	FreeUnits int
	// ShortfallUnits counts free units the promotion owed but could not
	// satisfy from the gift scope. Shortfall units are charged at full price.
	ShortfallUnits int
	// Allocations lists where the free units land. For same-product gifts
	// this is the purchase line itself.
	Allocations []Allocation
}

// Matcher determines whether a buy-N-get-M promotion is satisfied by a cart
// and which units are paid versus free.
type Matcher struct {
	giftPick GiftPick
}

// NewMatcher creates a Matcher with the given gift pick policy.
func NewMatcher(giftPick GiftPick) *Matcher {
	return &Matcher{giftPick: giftPick}
}

// Match scans the cart for the first line satisfying the promotion's purchase
// scope and delegates to MatchLine. It returns false when no line qualifies.
func (m *Matcher) Match(lines []Line, p *Promotion, asOf time.Time) (*Application, bool) {
	for i := range lines {
		if app, ok := m.MatchLine(lines, i, p, asOf); ok {
			return app, true
		}
	}
	return nil, false
}

// MatchLine matches the promotion against a specific purchase line. It
// returns false when the promotion is ineligible, out of scope for the line,
// or no complete group can be formed.
func (m *Matcher) MatchLine(lines []Line, idx int, p *Promotion, asOf time.Time) (*Application, bool) {
	if idx < 0 || idx >= len(lines) {
		return nil, false
	}
	if p.GroupSize() <= 0 || !p.EligibleAt(asOf) {
		return nil, false
	}

	line := &lines[idx]
	if member(p.Constraints.ExcludedProducts, line.Barcode) {
		return nil, false
	}
	if !p.ScopeMatches(line.Barcode, line.Category, line.Brand) {
		return nil, false
	}
	if p.Constraints.MinPurchaseAmount.IsPositive() &&
		cartSubtotal(lines).LessThan(p.Constraints.MinPurchaseAmount) {
		return nil, false
	}

	groups := line.Quantity / p.GroupSize()
	if max := p.Constraints.MaxApplicationsPerCart; max > 0 && groups > max {
		groups = max
	}
	if groups == 0 {
		return nil, false
	}

	switch p.GiftSelection {
	case GiftSame:
		free := groups * p.GetQuantity
		return &Application{
			PromotionID: p.ID,
			LineIndex:   idx,
			Groups:      groups,
			FreeUnits:   free,
			Allocations: []Allocation{{LineIndex: idx, Units: free}},
		}, true
	case GiftCross, GiftCombo:
		return m.matchGift(lines, idx, p, groups)
	default:
		return nil, false
	}
}

// matchGift resolves free units from the gift scope for cross and combo
// promotions. Cross promotions degrade to shortfall when the gift scope
// cannot supply enough units; combo promotions additionally require the gift
// scope to contribute to every counted group.
func (m *Matcher) matchGift(lines []Line, idx int, p *Promotion, groups int) (*Application, bool) {
	candidates := m.giftCandidates(lines, idx, p)

	available := 0
	for _, c := range candidates {
		available += lines[c].Quantity
	}

	if p.GiftSelection == GiftCombo {
		// Every group needs the paired product present.
		if available < groups {
			groups = available
		}
		if groups == 0 {
			return nil, false
		}
	}

	want := groups * p.GetQuantity
	app := &Application{
		PromotionID: p.ID,
		LineIndex:   idx,
		Groups:      groups,
	}

	remaining := want
	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		units := lines[c].Quantity
		if units > remaining {
			units = remaining
		}
		app.Allocations = append(app.Allocations, Allocation{LineIndex: c, Units: units})
		remaining -= units
	}

	app.FreeUnits = want - remaining
	app.ShortfallUnits = remaining
	return app, true
}

// giftCandidates returns the indexes of lines eligible to supply free units,
// ordered by the active pick policy. A price constraint on the gift forces
// cheapest-first regardless of the configured policy, so the cap binds to the
// least expensive eligible units.
func (m *Matcher) giftCandidates(lines []Line, purchaseIdx int, p *Promotion) []int {
	purchased := lines[purchaseIdx]

	var out []int
	for i := range lines {
		if i == purchaseIdx {
			continue
		}
		l := &lines[i]
		if l.Quantity <= 0 {
			continue
		}
		if member(p.Constraints.ExcludedProducts, l.Barcode) {
			continue
		}
		if !p.GiftScopeMatches(l.Barcode, l.Category, l.Brand) {
			continue
		}
		if p.GiftConstraints.MustBeCheaperThanPurchased && !l.UnitPrice.LessThan(purchased.UnitPrice) {
			continue
		}
		if cap := p.GiftConstraints.MaxGiftPrice; cap.IsPositive() && l.UnitPrice.GreaterThan(cap) {
			continue
		}
		out = append(out, i)
	}

	cheapestFirst := m.giftPick == PickCheapest ||
		p.GiftConstraints.MustBeCheaperThanPurchased ||
		p.GiftConstraints.MaxGiftPrice.IsPositive()
	if cheapestFirst {
		sort.SliceStable(out, func(a, b int) bool {
			return lines[out[a]].UnitPrice.LessThan(lines[out[b]].UnitPrice)
		})
	}

	return out
}

func cartSubtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for i := range lines {
		qty := decimal.NewFromInt(int64(lines[i].Quantity))
		sum = sum.Add(lines[i].UnitPrice.Mul(qty))
	}
	return sum
}
