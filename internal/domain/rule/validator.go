package rule

import (
	"fmt"
	"sort"
)

// Conflict describes one reason a selected rule set cannot be applied
// together. Each check in Validate produces its own concrete type so callers
// can distinguish failure causes with errors.As.
type Conflict interface {
	error
	conflict()
}

// PaymentMethodConflict indicates a rule requires a payment method the
// request does not use.
type PaymentMethodConflict struct {
	RuleID        string
	PaymentMethod string
}

func (c *PaymentMethodConflict) Error() string {
	if c.PaymentMethod == "" {
		return fmt.Sprintf("rule %s requires a payment method but none was given", c.RuleID)
	}
	return fmt.Sprintf("rule %s does not allow payment method %q", c.RuleID, c.PaymentMethod)
}

func (*PaymentMethodConflict) conflict() {}

// CategoryConflict indicates one selected rule excludes the category of
// another selected rule.
type CategoryConflict struct {
	RuleID   string
	OtherID  string
	Excluded Category
}

func (c *CategoryConflict) Error() string {
	return fmt.Sprintf("rule %s cannot combine with category %q of rule %s", c.RuleID, c.Excluded, c.OtherID)
}

func (*CategoryConflict) conflict() {}

// ExclusionConflict indicates two selected rules are explicitly mutually
// exclusive by id.
type ExclusionConflict struct {
	RuleID  string
	OtherID string
}

func (c *ExclusionConflict) Error() string {
	return fmt.Sprintf("rules %s and %s cannot be combined", c.RuleID, c.OtherID)
}

func (*ExclusionConflict) conflict() {}

// DependencyConflict indicates a rule requires another rule that is not part
// of the selection.
type DependencyConflict struct {
	RuleID     string
	RequiresID string
}

func (c *DependencyConflict) Error() string {
	return fmt.Sprintf("rule %s requires rule %s to be selected", c.RuleID, c.RequiresID)
}

func (*DependencyConflict) conflict() {}

// Result holds the outcome of validating a selected rule set.
type Result struct {
	Valid     bool
	Conflicts []Conflict
}

// Validate decides whether the selected rules may be jointly applied with the
// given payment method (empty when the request carries none). Every failed
// check appends a conflict; the set is valid only when no check fails.
func Validate(selected []Rule, paymentMethod string) Result {
	var conflicts []Conflict

	for i := range selected {
		r := &selected[i]

		if !r.AllowsPaymentMethod(paymentMethod) {
			conflicts = append(conflicts, &PaymentMethodConflict{
				RuleID:        r.ID,
				PaymentMethod: paymentMethod,
			})
		}

		if r.RequiresDiscountID != "" && !selectionContains(selected, r.RequiresDiscountID) {
			conflicts = append(conflicts, &DependencyConflict{
				RuleID:     r.ID,
				RequiresID: r.RequiresDiscountID,
			})
		}

		for j := range selected {
			if i == j {
				continue
			}
			other := &selected[j]

			for _, excluded := range r.CannotCombineWithCategories {
				if other.Category == excluded {
					conflicts = append(conflicts, &CategoryConflict{
						RuleID:   r.ID,
						OtherID:  other.ID,
						Excluded: excluded,
					})
				}
			}

			// Id exclusions are checked in both directions even when declared
			// only on one side: asymmetric authoring must not let the pair slip
			// through.
			if i < j && (contains(r.CannotCombineWithIDs, other.ID) || contains(other.CannotCombineWithIDs, r.ID)) {
				conflicts = append(conflicts, &ExclusionConflict{
					RuleID:  r.ID,
					OtherID: other.ID,
				})
			}
		}
	}

	return Result{Valid: len(conflicts) == 0, Conflicts: conflicts}
}

// Order returns the canonical application order for the selected rules:
// ascending category precedence bucket, then ascending priority, then
// creation time, then id. The sort is total, so repeated calls on the same
// selection always produce the same sequence. Order is computed even for
// selections that fail Validate, to support suggested-order display; callers
// must never fold an invalid set.
func Order(selected []Rule) []Rule {
	ordered := make([]Rule, len(selected))
	copy(ordered, selected)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := &ordered[i], &ordered[j]
		if pa, pb := a.Category.Precedence(), b.Category.Precedence(); pa != pb {
			return pa < pb
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	return ordered
}

func selectionContains(selected []Rule, id string) bool {
	for i := range selected {
		if selected[i].ID == id {
			return true
		}
	}
	return false
}
