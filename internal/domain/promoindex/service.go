package promoindex

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/martpoint/promo-engine/internal/domain/promotion"
)

const (
	// filterCapacity sizes the bloom prefilter for the expected number of
	// indexed barcodes; filterFPR is the target false positive rate. False
	// positives cost one extra entry fetch, false negatives cannot occur.
	filterCapacity = 1_000_000
	filterFPR      = 0.01

	rebuildWorkers = 8
)

// Service answers "which promotions apply to this barcode" in one entry fetch
// and keeps the index consistent through idempotent upserts. A bloom
// prefilter short-circuits lookups for barcodes that definitely have no
// promotions.
type Service struct {
	entries Repository
	promos  promotion.Repository
	lg      *zap.Logger

	mu     sync.RWMutex
	filter *bloom.BloomFilter

	// staleSkips counts promotion ids found in the index but not resolvable
	// to a live, non-merged promotion. A non-zero count signals the repair
	// path: rebuild from the promotions table.
	staleSkips atomic.Int64
}

// New creates an index Service. Call WarmFilter (or Rebuild) before serving
// lookups so the prefilter reflects the stored index.
func New(entries Repository, promos promotion.Repository, lg *zap.Logger) *Service {
	return &Service{
		entries: entries,
		promos:  promos,
		lg:      lg,
		filter:  bloom.NewWithEstimates(filterCapacity, filterFPR),
	}
}

// WarmFilter loads every indexed barcode into the bloom prefilter.
func (s *Service) WarmFilter(ctx context.Context) error {
	all, err := s.entries.All(ctx)
	if err != nil {
		return errors.Wrap(err, "load index entries")
	}

	f := bloom.NewWithEstimates(filterCapacity, filterFPR)
	for i := range all {
		f.AddString(all[i].Barcode)
	}

	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
	return nil
}

// Lookup resolves the promotions applicable to a barcode. Stale ids in the
// entry (promotions deleted or merged after the entry was written) are
// skipped, logged, and counted; the entry itself is left for the repair path
// rather than mutated at query time.
func (s *Service) Lookup(ctx context.Context, barcode string) ([]promotion.Promotion, error) {
	s.mu.RLock()
	miss := !s.filter.TestString(barcode)
	s.mu.RUnlock()
	if miss {
		return nil, nil
	}

	entry, err := s.entries.Get(ctx, barcode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get index entry")
	}
	if len(entry.PromotionIDs) == 0 {
		return nil, nil
	}

	promos, err := s.promos.GetByIDs(ctx, entry.PromotionIDs)
	if err != nil {
		return nil, errors.Wrap(err, "get promotions")
	}

	live := make(map[string]promotion.Promotion, len(promos))
	for _, p := range promos {
		if p.Status == promotion.StatusMerged {
			continue
		}
		live[p.ID] = p
	}

	// Preserve entry order for deterministic output.
	out := make([]promotion.Promotion, 0, len(live))
	for _, id := range entry.PromotionIDs {
		p, ok := live[id]
		if !ok {
			s.staleSkips.Add(1)
			s.lg.Warn("index entry references stale promotion",
				zap.String("barcode", barcode),
				zap.String("promotion_id", id),
			)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Upsert applies an idempotent add/remove to one barcode's entry and keeps
// the prefilter superset-correct.
func (s *Service) Upsert(ctx context.Context, barcode string, addIDs, removeIDs []string) error {
	if err := s.entries.Upsert(ctx, barcode, addIDs, removeIDs); err != nil {
		return errors.Wrapf(err, "upsert index entry %s", barcode)
	}
	if len(addIDs) > 0 {
		s.mu.Lock()
		s.filter.AddString(barcode)
		s.mu.Unlock()
	}
	return nil
}

// DeleteReferencing removes a promotion id from every entry that carries it.
func (s *Service) DeleteReferencing(ctx context.Context, promotionID string) error {
	if err := s.entries.DeleteReferencing(ctx, promotionID); err != nil {
		return errors.Wrapf(err, "delete index references to %s", promotionID)
	}
	return nil
}

// StaleSkips reports how many stale ids lookups have skipped since start.
func (s *Service) StaleSkips() int64 {
	return s.staleSkips.Load()
}

// Rebuild recomputes the whole index from the source of truth: every
// non-merged promotion contributes its barcodes, every entry is replaced by
// an idempotent upsert, and entries for barcodes no promotion references any
// more are deleted. It returns the number of barcodes indexed. Rebuild is the
// recovery path for partially applied multi-barcode operations, so it only
// uses operations that are themselves safe to re-run.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	promos, err := s.promos.Find(ctx, promotion.Filter{})
	if err != nil {
		return 0, errors.Wrap(err, "list promotions")
	}

	desired := make(map[string][]string)
	for i := range promos {
		p := &promos[i]
		if !p.Indexable() {
			continue
		}
		for _, barcode := range p.Barcodes() {
			desired[barcode] = append(desired[barcode], p.ID)
		}
	}

	existing, err := s.entries.All(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "load index entries")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rebuildWorkers)

	for barcode, ids := range desired {
		g.Go(func() error {
			return s.entries.Upsert(gctx, barcode, ids, staleIDs(existing, barcode, ids))
		})
	}
	for i := range existing {
		barcode := existing[i].Barcode
		if _, ok := desired[barcode]; ok {
			continue
		}
		g.Go(func() error {
			return s.entries.Delete(gctx, barcode)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, errors.Wrap(err, "rebuild index")
	}

	if err := s.WarmFilter(ctx); err != nil {
		return 0, err
	}
	s.staleSkips.Store(0)
	s.lg.Info("reverse index rebuilt", zap.Int("barcodes", len(desired)))
	return len(desired), nil
}

// staleIDs returns ids present in the stored entry for barcode but absent
// from the desired set.
func staleIDs(existing []Entry, barcode string, desired []string) []string {
	for i := range existing {
		if existing[i].Barcode != barcode {
			continue
		}
		var stale []string
		for _, id := range existing[i].PromotionIDs {
			if !memberOf(desired, id) {
				stale = append(stale, id)
			}
		}
		return stale
	}
	return nil
}

func memberOf(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
