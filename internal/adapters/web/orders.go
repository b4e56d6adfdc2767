package web

import (
	"bytes"
	"net/http"
	"strings"

	"crm-finance/internal/app"

	"github.com/go-chi/chi/v5"
)

// orderRef extracts the {ref} URL parameter: numeric ID or order number.
func orderRef(r *http.Request) string {
	return chi.URLParam(r, "ref")
}

// ── Tax & rates ──────────────────────────────────────────────────────────────

func (h *Handler) apiPreviewTax(w http.ResponseWriter, r *http.Request) {
	var req app.OrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := h.svc.PreviewTax(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, b)
}

func (h *Handler) apiGetRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.ReferenceRates(r.Context()))
}

func (h *Handler) apiPublishRates(w http.ResponseWriter, r *http.Request) {
	var req app.RatesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.PublishRates(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// ── Orders ───────────────────────────────────────────────────────────────────

func (h *Handler) apiListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := app.OrderListRequest{
		Status:      q.Get("status"),
		InvoiceType: q.Get("invoice_type"),
		AssignedTo:  q.Get("assigned_to"),
	}
	var err error
	if req.LeadID, err = queryInt(r, "lead_id"); err != nil {
		writeError(w, r, "invalid lead_id", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, "invalid limit", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if limit != nil {
		req.Limit = *limit
	}

	result, err := h.svc.ListOrders(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetOrder(r.Context(), orderRef(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) apiCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req app.OrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AssignedTo == "" {
		req.AssignedTo = actor(r, "")
	}
	result, err := h.svc.CreateOrder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

func (h *Handler) apiCreateProforma(w http.ResponseWriter, r *http.Request) {
	var req app.OrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AssignedTo == "" {
		req.AssignedTo = actor(r, "")
	}
	result, err := h.svc.CreateProforma(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

func (h *Handler) apiUpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req app.OrderPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.UpdateOrder(r.Context(), orderRef(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiTransitionOrder handles POST /api/orders/{ref}/transition. Approval is
// limited to finance and admin users.
func (h *Handler) apiTransitionOrder(w http.ResponseWriter, r *http.Request) {
	var req app.TransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.EqualFold(req.Action, "approve") || strings.EqualFold(req.Action, "reject") {
		c := authFromContext(r.Context())
		if c == nil || (c.Role != RoleFinance && c.Role != RoleAdmin) {
			writeError(w, r, "only finance can approve or reject orders", "FORBIDDEN", http.StatusForbidden)
			return
		}
	}
	req.By = actor(r, req.By)

	result, err := h.svc.TransitionOrder(r.Context(), orderRef(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) apiHandBack(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	result, err := h.svc.HandBack(r.Context(), orderRef(r), body.Note)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiSubmitPayment handles POST /api/payments. The idempotency key may be sent
// in the body or the Idempotency-Key header.
func (h *Handler) apiSubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req app.PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	req.SubmittedBy = actor(r, req.SubmittedBy)

	result, err := h.svc.SubmitPayment(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSONStatus(w, status, result)
}

// ── Invoices ─────────────────────────────────────────────────────────────────

func (h *Handler) apiIssueInvoice(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.IssueInvoice(r.Context(), orderRef(r), actor(r, ""))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Issued {
		status = http.StatusCreated
	}
	writeJSONStatus(w, status, result)
}

func (h *Handler) apiListInvoices(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListInvoices(r.Context(), orderRef(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiInvoicePDF renders into a buffer first so a failure can still be reported as JSON.
func (h *Handler) apiInvoicePDF(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	var buf bytes.Buffer
	if err := h.svc.RenderInvoicePDF(r.Context(), number, &buf); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+number+`.pdf"`)
	_, _ = buf.WriteTo(w)
}
