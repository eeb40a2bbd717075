package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/martpoint/promo-engine/internal/domain/auth"
	"github.com/martpoint/promo-engine/internal/domain/calc"
	"github.com/martpoint/promo-engine/internal/domain/promoindex"
	"github.com/martpoint/promo-engine/internal/domain/promotion"
	"github.com/martpoint/promo-engine/internal/domain/rule"
)

// --- Mock implementations ---

type mockRuleRepo struct {
	byID map[string]rule.Rule
}

func (m *mockRuleRepo) Find(_ context.Context, _ rule.Filter) ([]rule.Rule, error) {
	return nil, nil
}

func (m *mockRuleRepo) GetByIDs(_ context.Context, ids []string) ([]rule.Rule, error) {
	var out []rule.Rule
	for _, id := range ids {
		if r, ok := m.byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockPromoRepo struct {
	byID map[string]*promotion.Promotion
}

func (m *mockPromoRepo) GetByID(_ context.Context, id string) (*promotion.Promotion, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, promotion.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPromoRepo) GetByIDs(_ context.Context, ids []string) ([]promotion.Promotion, error) {
	var out []promotion.Promotion
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockPromoRepo) Find(_ context.Context, _ promotion.Filter) ([]promotion.Promotion, error) {
	var out []promotion.Promotion
	for _, p := range m.byID {
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockPromoRepo) Create(_ context.Context, p *promotion.Promotion) error {
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *mockPromoRepo) Update(_ context.Context, p *promotion.Promotion) error {
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *mockPromoRepo) Delete(_ context.Context, id string) error {
	delete(m.byID, id)
	return nil
}

type mockEntryRepo struct {
	entries map[string]*promoindex.Entry
}

func (m *mockEntryRepo) Get(_ context.Context, barcode string) (*promoindex.Entry, error) {
	e, ok := m.entries[barcode]
	if !ok {
		return nil, promoindex.ErrNotFound
	}
	return e, nil
}

func (m *mockEntryRepo) Upsert(_ context.Context, barcode string, addIDs, removeIDs []string) error {
	e, ok := m.entries[barcode]
	if !ok {
		e = &promoindex.Entry{Barcode: barcode}
		m.entries[barcode] = e
	}
	for _, id := range addIDs {
		found := false
		for _, have := range e.PromotionIDs {
			if have == id {
				found = true
				break
			}
		}
		if !found {
			e.PromotionIDs = append(e.PromotionIDs, id)
		}
	}
	var kept []string
	for _, id := range e.PromotionIDs {
		drop := false
		for _, rm := range removeIDs {
			if rm == id {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, id)
		}
	}
	e.PromotionIDs = kept
	return nil
}

func (m *mockEntryRepo) Delete(_ context.Context, barcode string) error {
	delete(m.entries, barcode)
	return nil
}

func (m *mockEntryRepo) DeleteReferencing(_ context.Context, _ string) error { return nil }

func (m *mockEntryRepo) All(_ context.Context) ([]promoindex.Entry, error) {
	var out []promoindex.Entry
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out, nil
}

type mockHistory struct {
	entries []promotion.HistoryEntry
}

func (m *mockHistory) Append(_ context.Context, e promotion.HistoryEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockHistory) ListByPromotion(_ context.Context, _ string) ([]promotion.HistoryEntry, error) {
	return m.entries, nil
}

type mockAPIKeys struct {
	byHash map[string]*auth.APIKeyInfo
}

func (m *mockAPIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}

// --- Fixture ---

var handlerDate = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	server *httptest.Server
	promos *mockPromoRepo
	index  *promoindex.Service
}

func passthrough(next http.Handler) http.Handler { return next }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	samePromo := &promotion.Promotion{
		ID:                 "promo-1",
		Name:               "Cola 2+1",
		Type:               promotion.TypeTwoPlusOne,
		BuyQuantity:        2,
		GetQuantity:        1,
		ApplicableType:     promotion.ApplicableProducts,
		ApplicableProducts: []string{"8801111111111"},
		GiftSelection:      promotion.GiftSame,
		Status:             promotion.StatusActive,
		VerificationStatus: promotion.Verified,
		ValidFrom:          handlerDate.AddDate(0, -1, 0),
		ValidTo:            handlerDate.AddDate(0, 1, 0),
		IsActive:           true,
	}

	promos := &mockPromoRepo{byID: map[string]*promotion.Promotion{"promo-1": samePromo}}
	rules := &mockRuleRepo{byID: map[string]rule.Rule{
		"coupon-10": {
			ID:        "coupon-10",
			Name:      "10% off",
			Category:  rule.CategoryCoupon,
			Value:     rule.Percentage{Percent: decimal.NewFromInt(10)},
			ValidFrom: handlerDate.AddDate(0, -1, 0),
			ValidTo:   handlerDate.AddDate(0, 1, 0),
			IsActive:  true,
		},
		"bngm-1": {
			ID:        "bngm-1",
			Name:      "Cola 2+1",
			Category:  rule.CategoryPromotion,
			Value:     rule.BuyNGetM{PromotionID: "promo-1"},
			ValidFrom: handlerDate.AddDate(0, -1, 0),
			ValidTo:   handlerDate.AddDate(0, 1, 0),
			IsActive:  true,
		},
	}}

	indexSvc := promoindex.New(&mockEntryRepo{entries: make(map[string]*promoindex.Entry)}, promos, zaptest.NewLogger(t))
	require.NoError(t, indexSvc.Upsert(context.Background(), "8801111111111", []string{"promo-1"}, nil))

	promoSvc := promotion.NewService(promos, &mockHistory{}, indexSvc)
	calculator := calc.New(rules, promos, promotion.NewMatcher(promotion.PickFirst),
		calc.WithPaymentMethods("cash", "card"),
		calc.WithClock(func() time.Time { return handlerDate }),
	)

	h := NewHandler(calculator, indexSvc, promoSvc)
	server := httptest.NewServer(h.Routes(passthrough))
	t.Cleanup(server.Close)

	return &fixture{server: server, promos: promos, index: indexSvc}
}

func (f *fixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// --- Tests ---

func TestCalculate_EndToEnd(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/v1/calculate", `{
		"lines": [
			{"barcode": "8801111111111", "unitPrice": 1000, "quantity": 6, "selectedDiscountIds": ["bngm-1"]},
			{"barcode": "8802222222222", "unitPrice": 500, "quantity": 1, "selectedDiscountIds": ["coupon-10"]}
		],
		"paymentMethod": "card"
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)

	totals := body["totals"].(map[string]any)
	assert.Equal(t, float64(6500), totals["original"])
	// Two free cola units (2000) plus 10% of 500 (50).
	assert.Equal(t, float64(4450), totals["final"])

	lines := body["lines"].([]any)
	require.Len(t, lines, 2)
	first := lines[0].(map[string]any)
	applied := first["appliedDiscounts"].([]any)
	require.Len(t, applied, 1)
	assert.Equal(t, float64(2), applied[0].(map[string]any)["freeUnits"])
}

func TestCalculate_AsOfDateOutsideWindow(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/v1/calculate", `{
		"lines": [{"barcode": "8802222222222", "unitPrice": 1000, "quantity": 1, "selectedDiscountIds": ["coupon-10"]}],
		"asOfDate": "2027-01-01T00:00:00Z"
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	totals := body["totals"].(map[string]any)
	assert.Equal(t, float64(1000), totals["final"])
	assert.NotEmpty(t, body["warnings"])
}

func TestCalculate_MalformedBody(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/v1/calculate", `{"lines": [`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["message"], "malformed")
}

func TestCalculate_EmptyCart(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/api/v1/calculate", `{"lines": []}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCalculate_InvalidQuantity(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/v1/calculate", `{
		"lines": [{"barcode": "8801111111111", "unitPrice": 1000, "quantity": 0}]
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body["message"], "quantity")
}

func TestLookupPromotions(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/api/v1/promotions/8801111111111")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "8801111111111", body["barcode"])
	promos := body["promotions"].([]any)
	require.Len(t, promos, 1)
	p := promos[0].(map[string]any)
	assert.Equal(t, "promo-1", p["id"])
	assert.Equal(t, "2+1", p["promotionType"])
	assert.Equal(t, "verified", p["verificationStatus"])
}

func TestLookupPromotions_UnknownBarcode(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/api/v1/promotions/0000000000000")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["promotions"])
}

func TestVerify(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/v1/promotions/promo-1/verify", `{"identity": "alice"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["verificationCount"])
}

func TestVerify_MissingIdentity(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/api/v1/promotions/promo-1/verify", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerify_UnknownPromotion(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/api/v1/promotions/ghost/verify", `{"identity": "alice"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDispute(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/v1/promotions/promo-1/dispute", `{"identity": "mallory", "reason": "wrong price"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["disputeCount"])
}

func TestAdminVerify(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/v1/promotions/promo-1/admin-verify", `{"identity": "admin"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "verified", body["verificationStatus"])
}

func TestRebuildIndex(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/v1/index/rebuild", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["barcodes"])
}

func TestRequireAPIKey(t *testing.T) {
	pepper := []byte("test-pepper")
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte("secret-key"))
	hash := hex.EncodeToString(mac.Sum(nil))

	apikeys := &mockAPIKeys{byHash: map[string]*auth.APIKeyInfo{
		hash: {ID: "k1", KeyHash: hash, Name: "test key"},
	}}

	var gotKey *auth.APIKeyInfo
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey, _ = APIKeyFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	protected := RequireAPIKey(apikeys, pepper)(inner)

	t.Run("missing key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("api_key", "not-the-key")
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid key header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("api_key", "secret-key")
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, gotKey)
		assert.Equal(t, "k1", gotKey.ID)
	})

	t.Run("bearer token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer secret-key")
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
