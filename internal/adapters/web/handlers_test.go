package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crm-finance/internal/adapters/web"
	"crm-finance/internal/app"
	"crm-finance/internal/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// stubService implements only what each test needs; anything else panics and
// is turned into a 500 by the recoverer.
type stubService struct {
	app.ApplicationService

	previewErr  error
	lastPayment app.PaymentRequest
	replayed    bool
	lastAction  app.TransitionRequest
	reconcile   func(kind string, id int, req app.ReconcileRequest) (*core.ReconcileResult, error)
}

func (s *stubService) ReferenceRates(ctx context.Context) *app.RatesResult {
	return &app.RatesResult{
		Rates:     map[core.Currency]decimal.Decimal{core.CurrencyUSD: decimal.NewFromInt(83)},
		UpdatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *stubService) PreviewTax(ctx context.Context, req app.OrderRequest) (*core.TaxBreakdown, error) {
	if s.previewErr != nil {
		return nil, s.previewErr
	}
	b, err := core.ComputeTax(req.BaseAmount, core.TaxContext{
		SellerState:       "Haryana",
		CounterpartyState: req.IndianState,
		SaleType:          core.SaleType(req.TypeOfSale),
		CustomerType:      core.CustomerIndian,
		PaymentCurrency:   core.CurrencyINR,
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *stubService) SubmitPayment(ctx context.Context, req app.PaymentRequest) (*core.ConversionResult, error) {
	s.lastPayment = req
	return &core.ConversionResult{Order: &core.Order{ID: 7}, Converted: !s.replayed, Replayed: s.replayed}, nil
}

func (s *stubService) TransitionOrder(ctx context.Context, ref string, req app.TransitionRequest) (*app.OrderResult, error) {
	s.lastAction = req
	return &app.OrderResult{Order: &core.Order{ID: 1, Status: core.StatusApproved}}, nil
}

func (s *stubService) Reconcile(ctx context.Context, kind string, id int, req app.ReconcileRequest) (*core.ReconcileResult, error) {
	return s.reconcile(kind, id, req)
}

func (s *stubService) GetOrder(ctx context.Context, ref string) (*app.OrderResult, error) {
	return nil, &core.PersistenceError{Op: "fetch order", Err: errors.New("connection refused")}
}

func newTestHandler(t *testing.T, svc app.ApplicationService, rateLimit string) http.Handler {
	t.Helper()
	h, err := web.NewHandler(svc, zerolog.Nop(), web.Options{JWTSecret: testSecret, RateLimit: rateLimit})
	require.NoError(t, err)
	return h
}

func token(t *testing.T, username, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id":  1,
		"username": username,
		"role":     role,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(h http.Handler, method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestHandler(t, &stubService{}, "")
	rec := do(h, http.MethodGet, "/api/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestHandler(t, &stubService{}, "")

	rec := do(h, http.MethodGet, "/api/rates", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodGet, "/api/rates", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodGet, "/api/rates", "", token(t, "asha", "sales"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPreviewTax(t *testing.T) {
	h := newTestHandler(t, &stubService{}, "")
	body := `{"legal_name":"Acme","indian_state":"Karnataka","category_of_sale":"Corporate","type_of_sale":"Tour","base_amount":"100000"}`
	rec := do(h, http.MethodPost, "/api/tax/preview", body, token(t, "asha", "sales"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var b core.TaxBreakdown
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.True(t, b.GST.IGST.Equal(decimal.NewFromInt(5000)), "inter-state tour is 5%% IGST, got %s", b.GST.IGST)
	assert.True(t, b.FinalAmount.Equal(decimal.NewFromInt(105000)))
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &core.ValidationError{Field: "base_amount", Message: "must not be negative"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"jurisdiction", &core.JurisdictionAmbiguityError{Reason: "missing state"}, http.StatusUnprocessableEntity, "JURISDICTION_AMBIGUOUS"},
		{"version", core.ErrVersionConflict, http.StatusConflict, "VERSION_CONFLICT"},
		{"not found", core.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"store", &core.PersistenceError{Op: "insert order", Err: errors.New("timeout")}, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{previewErr: tc.err}, "")
			rec := do(h, http.MethodPost, "/api/tax/preview", `{"legal_name":"Acme"}`, token(t, "asha", "sales"))

			assert.Equal(t, tc.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tc.code, body["code"])
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestPersistenceErrorIsRetryable(t *testing.T) {
	h := newTestHandler(t, &stubService{}, "")
	rec := do(h, http.MethodGet, "/api/orders/ORD-2504-00001", "", token(t, "asha", "sales"))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, true, body["retryable"])
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	h := newTestHandler(t, &stubService{}, "")
	rec := do(h, http.MethodPost, "/api/tax/preview", `{"legal_nam":"typo"}`, token(t, "asha", "sales"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitPaymentIdempotencyHeader(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, "")
	req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader(`{"lead_id":42,"amount_paid":"1000","order":{"legal_name":"Acme"}}`))
	req.Header.Set("Authorization", "Bearer "+token(t, "asha", "sales"))
	req.Header.Set("Idempotency-Key", "pay-42-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pay-42-1", svc.lastPayment.IdempotencyKey)
	assert.Equal(t, "asha", svc.lastPayment.SubmittedBy)

	svc.replayed = true
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader(`{"idempotency_key":"pay-42-1","lead_id":42,"amount_paid":"1000","order":{"legal_name":"Acme"}}`))
	req.Header.Set("Authorization", "Bearer "+token(t, "asha", "sales"))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"replayed":true`)
}

func TestFinanceOnlyRoutes(t *testing.T) {
	svc := &stubService{
		reconcile: func(kind string, id int, req app.ReconcileRequest) (*core.ReconcileResult, error) {
			assert.Equal(t, "payables", kind)
			assert.Equal(t, 9, id)
			assert.Equal(t, "meera", req.SettledBy)
			return &core.ReconcileResult{Outcome: core.OutcomeSettled, Closed: true}, nil
		},
	}
	h := newTestHandler(t, svc, "")
	body := `{"amount_paid":"500","rate":"83.5"}`

	rec := do(h, http.MethodPost, "/api/payables/9/reconcile", body, token(t, "asha", "sales"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPost, "/api/payables/9/reconcile", body, token(t, "meera", "finance"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"outcome":"settled"`)

	rec = do(h, http.MethodPost, "/api/receivables/abc/reconcile", body, token(t, "meera", "finance"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveRequiresFinance(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, "")

	rec := do(h, http.MethodPost, "/api/orders/1/transition", `{"action":"approve"}`, token(t, "asha", "sales"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPost, "/api/orders/1/transition", `{"action":"submit"}`, token(t, "asha", "sales"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/api/orders/1/transition", `{"action":"approve"}`, token(t, "meera", "finance"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "meera", svc.lastAction.By)
}

func TestUnimplementedStubRecovers(t *testing.T) {
	h := newTestHandler(t, &stubService{}, "")
	rec := do(h, http.MethodGet, "/api/reports/summary", "", token(t, "asha", "sales"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec)["code"])
}

func TestRateLimit(t *testing.T) {
	h := newTestHandler(t, &stubService{}, "2-M")
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", "", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/api/health", "", "").Code)
}

func TestInvalidRateLimitFormat(t *testing.T) {
	_, err := web.NewHandler(&stubService{}, zerolog.Nop(), web.Options{RateLimit: "lots"})
	assert.Error(t, err)
}

func TestRequestSchema(t *testing.T) {
	h := newTestHandler(t, &stubService{}, "")

	rec := do(h, http.MethodGet, "/api/schemas/reconcile", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"amount_paid"`)

	rec = do(h, http.MethodGet, "/api/schemas/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
