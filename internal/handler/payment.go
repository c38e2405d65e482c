package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Dan9191/installment-service/internal/models"
	"github.com/Dan9191/installment-service/internal/report"
	"github.com/Dan9191/installment-service/internal/service"
)

// ApplyPayment handles POST /api/customers/{id}/payment. The idempotency key
// may come from the body or the Idempotency-Key header.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req models.PaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if header := strings.TrimSpace(r.Header.Get("Idempotency-Key")); header != "" {
		if req.IdempotencyKey != "" && req.IdempotencyKey != header {
			h.writeError(w, r, fmt.Errorf("%w: Idempotency-Key header does not match idempotencyKey", errBadRequest))
			return
		}
		req.IdempotencyKey = header
	}

	receipt, err := h.svc.ApplyPayment(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Idempotency-Key", receipt.Payment.IdempotencyKey)
	writeJSON(w, http.StatusOK, map[string]any{
		"customer": receipt.Customer,
		"payment":  receipt.Outcome,
		"replayed": receipt.Replayed,
	})
}

type callNoteRequest struct {
	CallNote string `json:"callNote"`
	Version  *int   `json:"version"`
}

// UpdateCallNote records the result of a follow-up call.
func (h *Handler) UpdateCallNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req callNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.svc.UpdateCallNote(r.Context(), id, req.CallNote, req.Version)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": c})
}

// debtorList serves one follow-up bucket. An empty bucket reads ?bucket=
// and defaults to all of them.
func (h *Handler) debtorList(bucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := bucket
		if b == "" {
			b = r.URL.Query().Get("bucket")
		}
		entries, err := h.svc.Debtors(r.Context(), b)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"customers": entries,
			"count":     len(entries),
		})
	}
}

// ExportDebtors downloads a bucket as an Excel workbook.
func (h *Handler) ExportDebtors(w http.ResponseWriter, r *http.Request) {
	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		bucket = service.BucketAll
	}
	entries, err := h.svc.Debtors(r.Context(), bucket)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data, err := report.DebtorsWorkbook(entries, h.svc.Location())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	attachment(w, report.ContentType, report.FileName(bucket, h.now().In(h.svc.Location())), data)
}

// Stats returns the dashboard totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}
