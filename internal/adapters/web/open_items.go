package web

import (
	"net/http"

	"crm-finance/internal/app"
)

// ── Receivables & payables ───────────────────────────────────────────────────
// kind is "receivables" or "payables", fixed when the route is registered.

func (h *Handler) apiListOpenItems(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := app.OpenItemListRequest{
			Status:       q.Get("status"),
			Counterparty: q.Get("counterparty"),
			OverdueOnly:  q.Get("overdue") == "true",
		}
		var err error
		if req.OrderID, err = queryInt(r, "order_id"); err != nil {
			writeError(w, r, "invalid order_id", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		if req.InventoryID, err = queryInt(r, "inventory_id"); err != nil {
			writeError(w, r, "invalid inventory_id", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		result, err := h.svc.ListOpenItems(r.Context(), kind, req)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, result)
	}
}

func (h *Handler) apiGetOpenItem(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		item, err := h.svc.GetOpenItem(r.Context(), kind, id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, item)
	}
}

func (h *Handler) apiCreateOpenItem(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req app.OpenItemRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Kind = kind
		if req.AssignedTo == "" {
			req.AssignedTo = actor(r, "")
		}
		item, err := h.svc.CreateOpenItem(r.Context(), req)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, item)
	}
}

func (h *Handler) apiUpdateOpenItem(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req app.OpenItemPatchRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		item, err := h.svc.UpdateOpenItem(r.Context(), kind, id, req)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, item)
	}
}

func (h *Handler) apiDeleteOpenItem(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		reason := r.URL.Query().Get("reason")
		if err := h.svc.DeleteOpenItem(r.Context(), kind, id, reason, actor(r, "")); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) apiItemLedger(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		ledger, err := h.svc.ItemLedger(r.Context(), kind, id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, ledger)
	}
}

// ── Reconciliation ───────────────────────────────────────────────────────────

func (h *Handler) apiProposeRate(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		sug, err := h.svc.ProposeRate(r.Context(), kind, id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, sug)
	}
}

func (h *Handler) apiReconcile(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req app.ReconcileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.SettledBy = actor(r, req.SettledBy)

		result, err := h.svc.Reconcile(r.Context(), kind, id, req)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, result)
	}
}

// ── Reminders ────────────────────────────────────────────────────────────────

func (h *Handler) apiRecordReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req app.ReminderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.SentBy = actor(r, req.SentBy)
	rem, err := h.svc.RecordReminder(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, rem)
}

func (h *Handler) apiListReminders(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	reminders, err := h.svc.ListReminders(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"reminders": reminders})
}

// ── Reporting ────────────────────────────────────────────────────────────────

func (h *Handler) apiSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context(), r.URL.Query().Get("as_of"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, sum)
}

func (h *Handler) apiListSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.svc.ListSettlements(r.Context(), r.URL.Query().Get("kind"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"settlements": settlements})
}
