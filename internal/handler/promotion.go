package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/martpoint/promo-engine/internal/domain/promotion"
)

// LookupPromotions answers "which promotions apply to this barcode" from the
// reverse index.
func (h *Handler) LookupPromotions(w http.ResponseWriter, r *http.Request) {
	barcode := r.PathValue("barcode")
	if barcode == "" {
		writeError(w, r, http.StatusBadRequest, "barcode required")
		return
	}

	promos, err := h.index.Lookup(r.Context(), barcode)
	if err != nil {
		zctx.From(r.Context()).Error("lookup promotions", zap.String("barcode", barcode), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("barcode")
		e.Str(barcode)
		e.FieldStart("promotions")
		e.ArrStart()
		for i := range promos {
			encodePromotion(e, &promos[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// Verify casts a crowd verification vote on a promotion.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	h.castVote(w, r, func(id string, v voteRequest) (*promotion.Promotion, error) {
		return h.promotions.Verify(r.Context(), id, v.Identity)
	})
}

// Dispute casts a dispute vote on a promotion.
func (h *Handler) Dispute(w http.ResponseWriter, r *http.Request) {
	h.castVote(w, r, func(id string, v voteRequest) (*promotion.Promotion, error) {
		return h.promotions.Dispute(r.Context(), id, v.Identity, v.Reason)
	})
}

// AdminVerify marks a promotion verified immediately, bypassing the vote
// thresholds.
func (h *Handler) AdminVerify(w http.ResponseWriter, r *http.Request) {
	h.castVote(w, r, func(id string, v voteRequest) (*promotion.Promotion, error) {
		return h.promotions.AdminVerify(r.Context(), id, v.Identity)
	})
}

// RebuildIndex recomputes the reverse index from the promotions table.
func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	count, err := h.index.Rebuild(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("rebuild index", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "rebuild failed")
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("barcodes")
		e.Int(count)
		e.ObjEnd()
	})
}

type voteRequest struct {
	Identity string
	Reason   string
}

func (h *Handler) castVote(w http.ResponseWriter, r *http.Request, cast func(id string, v voteRequest) (*promotion.Promotion, error)) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "promotion id required")
		return
	}

	var vote voteRequest
	d := jx.Decode(http.MaxBytesReader(nil, r.Body, maxBodySize), 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "identity":
			v, err := d.Str()
			vote.Identity = v
			return err
		case "reason":
			v, err := d.Str()
			vote.Reason = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	if vote.Identity == "" {
		writeError(w, r, http.StatusBadRequest, "identity required")
		return
	}

	p, err := cast(id, vote)
	if err != nil {
		if errors.Is(err, promotion.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "promotion not found")
			return
		}
		zctx.From(r.Context()).Error("cast vote", zap.String("promotion_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "vote failed")
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		encodePromotion(e, p)
	})
}

func encodePromotion(e *jx.Encoder, p *promotion.Promotion) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("promotionType")
	e.Str(string(p.Type))
	e.FieldStart("buyQuantity")
	e.Int(p.BuyQuantity)
	e.FieldStart("getQuantity")
	e.Int(p.GetQuantity)
	e.FieldStart("giftSelectionType")
	e.Str(string(p.GiftSelection))
	e.FieldStart("status")
	e.Str(string(p.Status))
	e.FieldStart("verificationStatus")
	e.Str(string(p.VerificationStatus))
	e.FieldStart("verificationCount")
	e.Int(p.VerificationCount)
	e.FieldStart("disputeCount")
	e.Int(p.DisputeCount)
	e.FieldStart("validFrom")
	e.Str(p.ValidFrom.Format(time.RFC3339))
	e.FieldStart("validTo")
	e.Str(p.ValidTo.Format(time.RFC3339))
	e.ObjEnd()
}
