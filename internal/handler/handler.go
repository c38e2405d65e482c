package handler

import (
	"net/http"
	"time"

	"github.com/Dan9191/installment-service/internal/contract"
	"github.com/Dan9191/installment-service/internal/events"
	"github.com/Dan9191/installment-service/internal/middleware"
	"github.com/Dan9191/installment-service/internal/service"
	"github.com/Dan9191/installment-service/internal/storage"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler exposes the service over HTTP
type Handler struct {
	svc         *service.Service
	contracts   *contract.Generator
	uploads     *storage.Local
	bus         *events.Bus
	log         *logrus.Logger
	corsOrigins string
	now         func() time.Time
}

// NewHandler wires the HTTP layer.
func NewHandler(svc *service.Service, contracts *contract.Generator, uploads *storage.Local, bus *events.Bus, log *logrus.Logger, corsOrigins string) *Handler {
	return &Handler{
		svc:         svc,
		contracts:   contracts,
		uploads:     uploads,
		bus:         bus,
		log:         log,
		corsOrigins: corsOrigins,
		now:         time.Now,
	}
}

// Router builds the full route table with middleware applied.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeStatus(w, r, http.StatusNotFound, "route not found", "NOT_FOUND")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeStatus(w, r, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.PathPrefix(h.uploads.URLPath() + "/").Handler(h.uploads.Handler()).Methods("GET", "HEAD")

	api := r.PathPrefix("/api").Subrouter()
	// Public routes
	api.Handle("/auth/register", middleware.OptionalAuth(h.svc)(http.HandlerFunc(h.Register))).Methods("POST")
	api.HandleFunc("/auth/login", h.Login).Methods("POST")

	// Protected routes
	auth := api.NewRoute().Subrouter()
	auth.Use(middleware.AuthMiddleware(h.svc))

	auth.HandleFunc("/calculator", h.Calculate).Methods("POST")

	auth.HandleFunc("/customers", h.ListCustomers).Methods("GET")
	auth.HandleFunc("/customers", h.CreateCustomer).Methods("POST")
	auth.HandleFunc("/customers/due-today", h.debtorList("due-today")).Methods("GET")
	auth.HandleFunc("/customers/due-soon", h.debtorList("due-soon")).Methods("GET")
	auth.HandleFunc("/customers/overdue-1-day", h.debtorList("overdue-1-day")).Methods("GET")
	auth.HandleFunc("/customers/overdue-3-days", h.debtorList("overdue-3-days")).Methods("GET")
	auth.HandleFunc("/customers/debtors", h.debtorList("")).Methods("GET")
	auth.HandleFunc("/customers/debtors/export", h.ExportDebtors).Methods("GET")
	auth.HandleFunc("/customers/{id:[0-9]+}", h.GetCustomer).Methods("GET")
	auth.HandleFunc("/customers/{id:[0-9]+}", h.UpdateCustomer).Methods("PUT")
	auth.HandleFunc("/customers/{id:[0-9]+}", h.DeleteCustomer).Methods("DELETE")
	auth.HandleFunc("/customers/{id:[0-9]+}/payment", h.ApplyPayment).Methods("POST")
	auth.HandleFunc("/customers/{id:[0-9]+}/payments", h.ListPayments).Methods("GET")
	auth.HandleFunc("/customers/{id:[0-9]+}/call-note", h.UpdateCallNote).Methods("PUT")

	auth.HandleFunc("/contracts/generate-customer/{id:[0-9]+}", h.contractDownload(contract.KindCustomer)).Methods("POST")
	auth.HandleFunc("/contracts/generate-guarantor/{id:[0-9]+}", h.contractDownload(contract.KindGuarantor)).Methods("POST")

	auth.HandleFunc("/upload", h.Upload).Methods("POST")
	auth.HandleFunc("/dashboard/stats", h.Stats).Methods("GET")
	auth.HandleFunc("/events", h.Events).Methods("GET")

	var handler http.Handler = r
	handler = middleware.CORS(h.corsOrigins)(handler)
	handler = middleware.Recoverer(h.log)(handler)
	handler = middleware.Logger(h.log)(handler)
	handler = middleware.RequestID(handler)
	return handler
}

// Health reports that the process is serving requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
