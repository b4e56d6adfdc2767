package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"crm-finance/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Options configures the HTTP handler.
type Options struct {
	AllowedOrigins string
	JWTSecret      string
	RateLimit      string // limiter format, e.g. "100-M"; empty disables limiting
}

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	log       zerolog.Logger
	jwtSecret string
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, log zerolog.Logger, opts Options) (http.Handler, error) {
	h := &Handler{
		svc:       svc,
		log:       log,
		jwtSecret: opts.JWTSecret,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(h.Logger)
	r.Use(h.Recoverer)
	r.Use(CORS(opts.AllowedOrigins))
	if opts.RateLimit != "" {
		limit, err := h.RateLimit(opts.RateLimit)
		if err != nil {
			return nil, err
		}
		r.Use(limit)
	}

	// ── Public ────────────────────────────────────────────────────────────────
	r.Get("/api/health", h.health)
	r.Get("/api/schemas", h.listSchemas)
	r.Get("/api/schemas/{name}", h.getSchema)

	// ── Protected API routes (401 JSON if unauthenticated) ──────────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		r.Get("/api/auth/me", h.me)

		// Tax & rates
		r.Post("/api/tax/preview", h.apiPreviewTax)
		r.Get("/api/rates", h.apiGetRates)

		// Orders
		r.Get("/api/orders", h.apiListOrders)
		r.Post("/api/orders", h.apiCreateOrder)
		r.Post("/api/proformas", h.apiCreateProforma)
		r.Get("/api/orders/{ref}", h.apiGetOrder)
		r.Patch("/api/orders/{ref}", h.apiUpdateOrder)
		r.Post("/api/orders/{ref}/transition", h.apiTransitionOrder)
		r.Post("/api/orders/{ref}/invoice", h.apiIssueInvoice)
		r.Get("/api/orders/{ref}/invoices", h.apiListInvoices)
		r.Get("/api/invoices/{number}/pdf", h.apiInvoicePDF)

		// Payment collection (sales and finance both submit these)
		r.Post("/api/payments", h.apiSubmitPayment)

		r.Route("/api/receivables", func(r chi.Router) {
			h.openItemRoutes(r, "receivables")
			r.Get("/{id}/reminders", h.apiListReminders)
			r.Post("/{id}/reminders", h.apiRecordReminder)
		})
		r.Route("/api/payables", func(r chi.Router) {
			r.Use(financeOnly)
			h.openItemRoutes(r, "payables")
		})

		// Reporting
		r.Get("/api/reports/summary", h.apiSummary)
		r.Get("/api/settlements", h.apiListSettlements)

		// ── Finance only ──────────────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(financeOnly)
			r.Post("/api/rates", h.apiPublishRates)
			r.Post("/api/orders/{ref}/hand-back", h.apiHandBack)
		})
	})

	h.router = r
	return r, nil
}

var financeOnly = RequireRole(RoleFinance, RoleAdmin)

// openItemRoutes registers the shared receivable/payable routes. Reads are open
// to every authenticated user; changes are finance only.
func (h *Handler) openItemRoutes(r chi.Router, kind string) {
	r.Get("/", h.apiListOpenItems(kind))
	r.Get("/{id}", h.apiGetOpenItem(kind))
	r.Get("/{id}/ledger", h.apiItemLedger(kind))
	r.With(financeOnly).Post("/", h.apiCreateOpenItem(kind))
	r.With(financeOnly).Patch("/{id}", h.apiUpdateOpenItem(kind))
	r.With(financeOnly).Delete("/{id}", h.apiDeleteOpenItem(kind))
	r.With(financeOnly).Get("/{id}/propose-rate", h.apiProposeRate(kind))
	r.With(financeOnly).Post("/{id}/reconcile", h.apiReconcile(kind))
}

// health reports liveness and the age of the reference rates.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	rates := h.svc.ReferenceRates(r.Context())

	type response struct {
		Status         string    `json:"status"`
		RatesUpdatedAt time.Time `json:"rates_updated_at"`
	}
	writeJSON(w, response{Status: "ok", RatesUpdatedAt: rates.UpdatedAt})
}

func (h *Handler) listSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"schemas": app.SchemaNames()})
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	s := app.RequestSchema(chi.URLParam(r, "name"))
	if s == nil {
		writeError(w, r, "unknown schema", "NOT_FOUND", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	_ = json.NewEncoder(w).Encode(s)
}

// pathID parses an integer URL parameter, writing 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid "+name, "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (*int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
