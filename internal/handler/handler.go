// Package handler exposes the engine over HTTP. Request and response bodies
// are encoded with go-faster/jx against the fixed field contract of the
// calculation and promotion endpoints.
package handler

import (
	"net/http"

	"github.com/martpoint/promo-engine/internal/domain/calc"
	"github.com/martpoint/promo-engine/internal/domain/promoindex"
	"github.com/martpoint/promo-engine/internal/domain/promotion"
	"github.com/martpoint/promo-engine/pkg/httpmiddleware"
)

// Handler serves the API routes, delegating business logic to the calculator,
// index, and promotion services.
type Handler struct {
	calculator *calc.Calculator
	index      *promoindex.Service
	promotions *promotion.Service
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(calculator *calc.Calculator, index *promoindex.Service, promotions *promotion.Service) *Handler {
	return &Handler{
		calculator: calculator,
		index:      index,
		promotions: promotions,
	}
}

// Routes returns the API route table. Mutating promotion endpoints and the
// index rebuild are guarded by the given auth middleware; calculation and
// lookup are open.
func (h *Handler) Routes(authed httpmiddleware.Middleware) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/calculate", h.Calculate)
	mux.HandleFunc("GET /api/v1/promotions/{barcode}", h.LookupPromotions)

	mux.Handle("POST /api/v1/promotions/{id}/verify", authed(http.HandlerFunc(h.Verify)))
	mux.Handle("POST /api/v1/promotions/{id}/dispute", authed(http.HandlerFunc(h.Dispute)))
	mux.Handle("POST /api/v1/promotions/{id}/admin-verify", authed(http.HandlerFunc(h.AdminVerify)))
	mux.Handle("POST /api/v1/index/rebuild", authed(http.HandlerFunc(h.RebuildIndex)))

	return mux
}
