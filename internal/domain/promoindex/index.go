// Package promoindex maintains the barcode reverse index: for every barcode,
// the set of promotion ids currently applicable to it. The index is derived
// state over the promotions table with a first-class rebuild procedure, never
// an independent source of truth.
package promoindex

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a barcode has no index entry.
var ErrNotFound = errors.New("index entry not found")

// Entry is the index document for one barcode.
type Entry struct {
	Barcode      string
	PromotionIDs []string
	LastUpdated  time.Time
}

// Repository provides atomic single-document operations on index entries.
// Upsert must be idempotent: adding an id already present or removing one
// already absent is a no-op, which makes every call safe to retry and makes
// concurrent upserts on the same barcode commute.
type Repository interface {
	Get(ctx context.Context, barcode string) (*Entry, error)
	Upsert(ctx context.Context, barcode string, addIDs, removeIDs []string) error
	Delete(ctx context.Context, barcode string) error
	DeleteReferencing(ctx context.Context, promotionID string) error
	All(ctx context.Context) ([]Entry, error)
}
