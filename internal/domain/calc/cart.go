package calc

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrEmptyCart is returned when a calculation request carries no lines.
var ErrEmptyCart = errors.New("cart has no lines")

// ValidationError indicates structurally invalid calculation input. It is the
// only class of error that fails a calculation outright; rule and promotion
// problems degrade per line instead.
type ValidationError struct {
	Line   int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: invalid %s: %s", e.Line, e.Field, e.Reason)
}

// CartLine is one priced cart position submitted for calculation.
type CartLine struct {
	Barcode             string
	UnitPrice           decimal.Decimal
	Quantity            int
	Category            string
	Brand               string
	SelectedDiscountIDs []string
}

// Request is the input to a cart calculation.
type Request struct {
	Lines         []CartLine
	PaymentMethod string
	// AsOf is the calculation date; zero means now.
	AsOf time.Time
}

// AppliedDiscount records one rule's contribution to a line.
type AppliedDiscount struct {
	RuleID string
	Amount decimal.Decimal
	// FreeUnits is the number of units granted for free on this line when the
	// rule is a buy-N-get-M promotion. Zero for plain discounts.
	FreeUnits int
}

// LineResult is the per-line price breakdown.
type LineResult struct {
	Barcode  string
	Original decimal.Decimal
	Final    decimal.Decimal
	Applied  []AppliedDiscount
}

// Totals aggregates the cart-level amounts.
type Totals struct {
	Original decimal.Decimal
	Final    decimal.Decimal
	Discount decimal.Decimal
	// DiscountRate is (Original-Final)/Original, zero when Original is zero.
	DiscountRate decimal.Decimal
}

// Result is the full calculation breakdown. Warnings carry per-line
// degradations (combination conflicts, untrusted promotions, unresolvable
// rules) that did not abort the calculation.
type Result struct {
	Lines    []LineResult
	Totals   Totals
	Warnings []string
}
