package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Dan9191/installment-service/internal/service"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type requestIDKey struct{}

var validRequestID = regexp.MustCompile(`^[a-zA-Z0-9\-]{1,64}$`)

// TokenVerifier resolves a bearer token to an operator id.
type TokenVerifier interface {
	VerifyToken(token string) (int64, error)
}

// RequestIDFromContext returns the request ID from ctx, or empty string.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// RequestID tags each request with X-Request-ID. Unsafe or missing client
// values are replaced with a fresh UUID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the operator id in the request context.
func AuthMiddleware(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeUnauthorized(w, r, "authentication required")
				return
			}
			id, err := v.VerifyToken(token)
			if err != nil {
				writeUnauthorized(w, r, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(service.ContextWithUserID(r.Context(), id)))
		})
	}
}

// OptionalAuth is AuthMiddleware without the rejection: a valid token
// authenticates the request, anything else passes through anonymously.
func OptionalAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := bearerToken(r); token != "" {
				if id, err := v.VerifyToken(token); err == nil {
					r = r.WithContext(service.ContextWithUserID(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter for EventSource clients, which cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// Logger writes one access log line per request.
func Logger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			entry := log.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  RequestIDFromContext(r.Context()),
			})
			if id, ok := service.UserIDFromContext(r.Context()); ok {
				entry = entry.WithField("user_id", id)
			}
			switch {
			case rec.status >= 500:
				entry.Error("Request failed")
			case rec.status >= 400:
				entry.Warn("Request rejected")
			default:
				entry.Info("Request handled")
			}
		})
	}
}

// Recoverer turns a panic into a 500 response.
func Recoverer(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rv := recover(); rv != nil {
					log.WithFields(logrus.Fields{
						"request_id": RequestIDFromContext(r.Context()),
						"stack":      string(debug.Stack()),
					}).Errorf("panic: %v", rv)
					writeError(w, r, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS allows the configured comma-separated origins. An empty list
// disables CORS headers entirely.
func CORS(allowedOrigins string) func(http.Handler) http.Handler {
	origins := map[string]bool{}
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (origins[origin] || origins["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder wraps ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Flush keeps server-sent events streaming through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	writeError(w, r, http.StatusUnauthorized, message, "UNAUTHORIZED")
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":   false,
		"message":   message,
		"code":      code,
		"requestId": RequestIDFromContext(r.Context()),
	})
}
