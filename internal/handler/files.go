package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Dan9191/installment-service/internal/contract"
)

const multipartOverhead = 1 << 20

// contractDownload renders a contract of the given kind for the customer.
func (h *Handler) contractDownload(kind contract.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		data, err := h.contracts.Generate(kind, c, h.now())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.log.Infof("Contract %s generated for customer %d", kind, id)
		attachment(w, contract.ContentType, contract.FileName(kind, c), data)
	}
}

// Upload stores a multipart "file" field under ?type= (profile by default).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("type")
	if category == "" {
		category = "profile"
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			h.writeError(w, r, err)
			return
		}
		h.writeError(w, r, fmt.Errorf("%w: invalid multipart form: %v", errBadRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: file field is required", errBadRequest))
		return
	}
	defer file.Close()

	url, err := h.uploads.SaveImage(category, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"file": map[string]string{"url": url}})
}
