package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Dan9191/installment-service/internal/contract"
	"github.com/Dan9191/installment-service/internal/installment"
	"github.com/Dan9191/installment-service/internal/middleware"
	"github.com/Dan9191/installment-service/internal/repository"
	"github.com/Dan9191/installment-service/internal/service"
	"github.com/Dan9191/installment-service/internal/storage"
	"github.com/gorilla/mux"
)

const maxJSONBody = 1 << 20

var errBadRequest = errors.New("bad request")

// writeJSON wraps body in the success envelope.
func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	body["success"] = true
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeStatus(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":   false,
		"message":   message,
		"code":      code,
		"requestId": middleware.RequestIDFromContext(r.Context()),
	})
}

// writeError maps domain errors to HTTP statuses. Unknown errors are logged
// and reported as 500 without their details.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.WithField("request_id", middleware.RequestIDFromContext(r.Context())).
			Errorf("%s %s failed: %v", r.Method, r.URL.Path, err)
		message = "internal server error"
	}
	h.writeStatus(w, r, status, message, code)
}

func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, installment.ErrCreditClosed):
		return http.StatusConflict, "CREDIT_CLOSED"
	case errors.Is(err, service.ErrIdempotencyReused):
		return http.StatusConflict, "IDEMPOTENCY_KEY_REUSED"
	case errors.Is(err, repository.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT"
	case errors.Is(err, repository.ErrDuplicate), errors.Is(err, repository.ErrDuplicatePayment):
		return http.StatusConflict, "DUPLICATE"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, service.ErrValidation), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, contract.ErrNoGuarantor):
		return http.StatusBadRequest, "NO_GUARANTOR"
	case errors.Is(err, storage.ErrUnsupportedType), errors.Is(err, storage.ErrUnknownCategory):
		return http.StatusBadRequest, "INVALID_FILE"
	case errors.Is(err, storage.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, service.ErrRegistrationClosed):
		return http.StatusForbidden, "FORBIDDEN"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", errBadRequest)
		}
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", errBadRequest)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}

func attachment(w http.ResponseWriter, contentType, fileName string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, fileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
