package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Indexer maintains the barcode reverse index. Both operations are idempotent
// single-document set updates: safe to retry and safe to apply out of order.
type Indexer interface {
	Upsert(ctx context.Context, barcode string, addIDs, removeIDs []string) error
	DeleteReferencing(ctx context.Context, promotionID string) error
}

// HistoryEntry is one append-only record of a promotion mutation.
type HistoryEntry struct {
	ID          string
	PromotionID string
	Action      string
	Actor       string
	Detail      string
	At          time.Time
}

// HistoryRepository appends promotion modification history. History survives
// deletion of the live document.
type HistoryRepository interface {
	Append(ctx context.Context, e HistoryEntry) error
	ListByPromotion(ctx context.Context, promotionID string) ([]HistoryEntry, error)
}

// Service owns the promotion write path: every mutation appends history and
// keeps the reverse index consistent with the promotion's current barcodes.
// Multi-barcode operations are not atomic as a whole; a partially applied
// merge is corrected by re-running the same idempotent upserts or by a full
// index rebuild.
type Service struct {
	promos  Repository
	history HistoryRepository
	index   Indexer
	now     func() time.Time
}

// NewService creates a promotion Service with the required dependencies.
func NewService(promos Repository, history HistoryRepository, index Indexer) *Service {
	return &Service{
		promos:  promos,
		history: history,
		index:   index,
		now:     time.Now,
	}
}

// Create persists a new promotion and registers its barcodes in the index.
func (s *Service) Create(ctx context.Context, p *Promotion, actor string) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.VerificationStatus == "" {
		p.VerificationStatus = Unverified
	}

	if err := s.promos.Create(ctx, p); err != nil {
		return errors.Wrap(err, "create promotion")
	}
	if err := s.appendHistory(ctx, p.ID, "create", actor, p.Name); err != nil {
		return err
	}

	if p.Indexable() {
		for _, barcode := range p.Barcodes() {
			if err := s.index.Upsert(ctx, barcode, []string{p.ID}, nil); err != nil {
				return errors.Wrapf(err, "index barcode %s", barcode)
			}
		}
	}
	return nil
}

// Update persists changes to an existing promotion. Barcodes dropped from the
// scope are removed from the index; new ones are added.
func (s *Service) Update(ctx context.Context, p *Promotion, actor string) error {
	prev, err := s.promos.GetByID(ctx, p.ID)
	if err != nil {
		return errors.Wrap(err, "load promotion")
	}
	if prev.Status == StatusMerged {
		return errors.Errorf("promotion %s is merged into %s and cannot be updated", prev.ID, prev.MergedInto)
	}

	p.CreatedAt = prev.CreatedAt
	p.UpdatedAt = s.now()
	if err := s.promos.Update(ctx, p); err != nil {
		return errors.Wrap(err, "update promotion")
	}
	if err := s.appendHistory(ctx, p.ID, "update", actor, p.Name); err != nil {
		return err
	}

	return s.reconcileBarcodes(ctx, prev, p)
}

// Delete removes the live promotion document and purges its index entries.
// History is retained.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	if err := s.index.DeleteReferencing(ctx, id); err != nil {
		return errors.Wrap(err, "purge index entries")
	}
	if err := s.promos.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete promotion")
	}
	return s.appendHistory(ctx, id, "delete", actor, "")
}

// Merge folds the source promotions into target. Sources become merged and
// inactive, their lineage fields are set, and every barcode they contributed
// resolves to the target afterwards. The target is created when it does not
// exist yet.
func (s *Service) Merge(ctx context.Context, sourceIDs []string, target *Promotion, actor string) error {
	sources, err := s.promos.GetByIDs(ctx, sourceIDs)
	if err != nil {
		return errors.Wrap(err, "load source promotions")
	}
	if len(sources) != len(sourceIDs) {
		return errors.Errorf("merge: %d of %d source promotions found", len(sources), len(sourceIDs))
	}

	target.MergedFrom = append([]string(nil), sourceIDs...)
	if _, err := s.promos.GetByID(ctx, target.ID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return errors.Wrap(err, "load target promotion")
		}
		if err := s.Create(ctx, target, actor); err != nil {
			return err
		}
	} else {
		if err := s.Update(ctx, target, actor); err != nil {
			return err
		}
	}

	for i := range sources {
		src := &sources[i]
		src.Status = StatusMerged
		src.IsActive = false
		src.MergedInto = target.ID
		src.UpdatedAt = s.now()

		if err := s.promos.Update(ctx, src); err != nil {
			return errors.Wrapf(err, "mark promotion %s merged", src.ID)
		}
		if err := s.appendHistory(ctx, src.ID, "merge", actor, "merged into "+target.ID); err != nil {
			return err
		}

		// Former barcodes must stop resolving to the source and start
		// resolving to the target.
		for _, barcode := range src.Barcodes() {
			if err := s.index.Upsert(ctx, barcode, []string{target.ID}, []string{src.ID}); err != nil {
				return errors.Wrapf(err, "reindex barcode %s", barcode)
			}
		}
	}

	return nil
}

// Verify records a crowd verification vote and runs the state machine before
// returning. A repeated vote from the same identity is a no-op.
func (s *Service) Verify(ctx context.Context, id, identity string) (*Promotion, error) {
	p, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load promotion")
	}
	if !p.CastVerify(identity) {
		return p, nil
	}
	p.UpdatedAt = s.now()
	if err := s.promos.Update(ctx, p); err != nil {
		return nil, errors.Wrap(err, "save vote")
	}
	return p, s.appendHistory(ctx, id, "verify", identity, string(p.VerificationStatus))
}

// Dispute records a dispute vote with an optional reason and runs the state
// machine before returning.
func (s *Service) Dispute(ctx context.Context, id, identity, reason string) (*Promotion, error) {
	p, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load promotion")
	}
	if !p.CastDispute(identity) {
		return p, nil
	}
	p.UpdatedAt = s.now()
	if err := s.promos.Update(ctx, p); err != nil {
		return nil, errors.Wrap(err, "save vote")
	}
	return p, s.appendHistory(ctx, id, "dispute", identity, reason)
}

// AdminVerify marks the promotion verified immediately, bypassing the vote
// thresholds.
func (s *Service) AdminVerify(ctx context.Context, id, identity string) (*Promotion, error) {
	p, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load promotion")
	}
	p.CastAdminVerify(identity)
	p.UpdatedAt = s.now()
	if err := s.promos.Update(ctx, p); err != nil {
		return nil, errors.Wrap(err, "save admin verify")
	}
	return p, s.appendHistory(ctx, id, "admin_verify", identity, "")
}

// reconcileBarcodes applies the index delta between two versions of a
// promotion.
func (s *Service) reconcileBarcodes(ctx context.Context, prev, next *Promotion) error {
	prevCodes := prev.Barcodes()
	nextCodes := next.Barcodes()
	if !next.Indexable() {
		nextCodes = nil
	}

	for _, barcode := range nextCodes {
		if err := s.index.Upsert(ctx, barcode, []string{next.ID}, nil); err != nil {
			return errors.Wrapf(err, "index barcode %s", barcode)
		}
	}
	for _, barcode := range prevCodes {
		if member(nextCodes, barcode) {
			continue
		}
		if err := s.index.Upsert(ctx, barcode, nil, []string{next.ID}); err != nil {
			return errors.Wrapf(err, "unindex barcode %s", barcode)
		}
	}
	return nil
}

func (s *Service) appendHistory(ctx context.Context, promotionID, action, actor, detail string) error {
	err := s.history.Append(ctx, HistoryEntry{
		ID:          uuid.New().String(),
		PromotionID: promotionID,
		Action:      action,
		Actor:       actor,
		Detail:      detail,
		At:          s.now(),
	})
	if err != nil {
		return errors.Wrap(err, "append history")
	}
	return nil
}
