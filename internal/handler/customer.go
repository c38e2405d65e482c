package handler

import (
	"net/http"
	"strings"

	"github.com/Dan9191/installment-service/internal/models"
)

// Calculate previews a plan and its schedule.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req models.CalculatorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.svc.Calculate(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": result.Plan, "schedule": result.Schedule})
}

// ListCustomers handles GET /api/customers?q=&status=&passport=&limit=&offset=
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := models.CustomerFilter{
		Query:  strings.TrimSpace(q.Get("q")),
		Status: q.Get("status"),
		Limit:  limit,
		Offset: offset,
	}

	customers, total, err := h.svc.ListCustomers(r.Context(), filter, q.Get("passport"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customers": customers,
		"total":     total,
	})
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var in models.CustomerInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.svc.CreateCustomer(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": c})
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.svc.GetCustomer(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": c})
}

func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in models.CustomerInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.svc.UpdateCustomer(r.Context(), id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": c})
}

func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteCustomer(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "customer deleted"})
}

// ListPayments returns the payment ledger of a customer, oldest first.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	payments, err := h.svc.Payments(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}
