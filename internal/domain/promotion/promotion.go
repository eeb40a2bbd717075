package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported buy-N-get-M shapes. The quantities are always
// carried explicitly; the type is a display label except for TypeCustom,
// which admits arbitrary quantities.
type Type string

const (
	TypeOnePlusOne   Type = "1+1"
	TypeTwoPlusOne   Type = "2+1"
	TypeThreePlusOne Type = "3+1"
	TypeCustom       Type = "custom"
)

// ApplicableType selects which scoping field of a promotion is in effect.
type ApplicableType string

const (
	ApplicableProducts   ApplicableType = "products"
	ApplicableCategories ApplicableType = "categories"
	ApplicableBrands     ApplicableType = "brands"
)

// GiftSelection is the policy for which product the free units are drawn from.
type GiftSelection string

const (
	// GiftSame requires the free unit to be an instance of the purchased product.
	GiftSame GiftSelection = "same"
	// GiftCross satisfies free units from a disjoint gift scope.
	GiftCross GiftSelection = "cross"
	// GiftCombo is cross selection with a paired-product requirement: both
	// scopes must contribute to every group.
	GiftCombo GiftSelection = "combo"
)

// Status is the lifecycle state of a promotion.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusArchived Status = "archived"
	StatusMerged   Status = "merged"
)

// ErrNotFound is returned when a requested promotion does not exist.
var ErrNotFound = errors.New("promotion not found")

// GiftConstraints restricts which units may serve as the free units.
type GiftConstraints struct {
	MustBeSameProduct          bool
	MustBeCheaperThanPurchased bool
	// MaxGiftPrice caps the unit price of a gift line. Zero means no cap.
	MaxGiftPrice decimal.Decimal
}

// Constraints gates and caps promotion applicability per cart.
type Constraints struct {
	// MaxApplicationsPerCart limits the number of complete groups counted.
	// Zero means unlimited.
	MaxApplicationsPerCart int
	// MinPurchaseAmount gates applicability of the whole promotion on the
	// cart subtotal.
	MinPurchaseAmount decimal.Decimal
	// ExcludedProducts removes matching lines from eligibility pre-emptively.
	ExcludedProducts []string
}

// Promotion is a crowd-sourced buy-N-get-M rule with its own scope, gift
// policy, and verification trust state.
type Promotion struct {
	ID          string
	Name        string
	Type        Type
	BuyQuantity int
	GetQuantity int

	ApplicableType       ApplicableType
	ApplicableProducts   []string
	ApplicableCategories []string
	ApplicableBrands     []string

	GiftSelection  GiftSelection
	GiftProducts   []string
	GiftCategories []string
	GiftBrands     []string

	GiftConstraints GiftConstraints
	Constraints     Constraints

	Status             Status
	VerificationStatus VerificationStatus
	VerificationCount  int
	DisputeCount       int
	VerifiedBy         []string
	DisputedBy         []string

	MergedFrom []string
	MergedInto string

	ValidFrom time.Time
	ValidTo   time.Time
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GroupSize returns the number of units forming one complete promotion group.
func (p *Promotion) GroupSize() int {
	return p.BuyQuantity + p.GetQuantity
}

// EligibleAt reports whether the promotion may participate in a calculation
// dated t: active flag set, status active, and t inside the validity window.
func (p *Promotion) EligibleAt(t time.Time) bool {
	if !p.IsActive || p.Status != StatusActive {
		return false
	}
	if t.Before(p.ValidFrom) || t.After(p.ValidTo) {
		return false
	}
	return true
}

// ScopeMatches reports whether the promotion's purchase scope covers an item
// with the given barcode, category, and brand.
func (p *Promotion) ScopeMatches(barcode, category, brand string) bool {
	switch p.ApplicableType {
	case ApplicableProducts:
		return member(p.ApplicableProducts, barcode)
	case ApplicableCategories:
		return member(p.ApplicableCategories, category)
	case ApplicableBrands:
		return member(p.ApplicableBrands, brand)
	default:
		return false
	}
}

// GiftScopeMatches reports whether a line may supply free units for a cross
// or combo promotion.
func (p *Promotion) GiftScopeMatches(barcode, category, brand string) bool {
	return member(p.GiftProducts, barcode) ||
		member(p.GiftCategories, category) ||
		member(p.GiftBrands, brand)
}

// Barcodes returns the barcodes the reverse index should map to this
// promotion. Only product-scoped promotions are indexable; category and brand
// scopes resolve through the catalog, not the index.
func (p *Promotion) Barcodes() []string {
	if p.ApplicableType != ApplicableProducts {
		return nil
	}
	return p.ApplicableProducts
}

// Indexable reports whether the promotion should currently appear in the
// reverse index: it must not be merged and must carry at least one barcode.
func (p *Promotion) Indexable() bool {
	return p.Status != StatusMerged && len(p.Barcodes()) > 0
}

func member(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Filter narrows promotion lookups.
type Filter struct {
	Status   Status
	ActiveAt time.Time
}

// Repository provides lookup and mutation of promotions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Promotion, error)
	GetByIDs(ctx context.Context, ids []string) ([]Promotion, error)
	Find(ctx context.Context, filter Filter) ([]Promotion, error)
	Create(ctx context.Context, p *Promotion) error
	Update(ctx context.Context, p *Promotion) error
	Delete(ctx context.Context, id string) error
}
