package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Dan9191/installment-service/internal/config"
	"github.com/Dan9191/installment-service/internal/events"
	"github.com/Dan9191/installment-service/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrRegistrationClosed = errors.New("registration requires an authenticated operator")
	ErrIdempotencyReused  = errors.New("idempotency key was already used for a different payment")
)

// Store is the persistence the service needs. *repository.Repository
// implements it.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CountUsers(ctx context.Context) (int, error)

	CreateCustomer(ctx context.Context, c *models.Customer) error
	GetCustomer(ctx context.Context, id int64) (*models.Customer, error)
	ListCustomers(ctx context.Context, f models.CustomerFilter) ([]*models.Customer, int, error)
	ListOpenCredits(ctx context.Context) ([]*models.Customer, error)
	UpdateCustomer(ctx context.Context, c *models.Customer) error
	UpdateCallNote(ctx context.Context, id int64, version int, note string, at time.Time) error
	DeleteCustomer(ctx context.Context, id int64) error

	ApplyPayment(ctx context.Context, c *models.Customer, p *models.Payment) error
	FindPaymentByKey(ctx context.Context, customerID int64, key string) (*models.Payment, error)
	ListPayments(ctx context.Context, customerID int64) ([]*models.Payment, error)
	SumPayments(ctx context.Context, customerID int64) (decimal.Decimal, error)
}

// Fingerprinter derives the lookup key of a passport series.
type Fingerprinter interface {
	Fingerprint(value string) string
}

// Service handles business logic
type Service struct {
	repo   Store
	log    *logrus.Logger
	config *config.Config
	bus    *events.Bus
	prints Fingerprinter
	loc    *time.Location
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithFingerprinter enables passport lookups and duplicate warnings.
func WithFingerprinter(f Fingerprinter) Option {
	return func(s *Service) { s.prints = f }
}

// NewService initializes a new service
func NewService(repo Store, log *logrus.Logger, cfg *config.Config, bus *events.Bus, opts ...Option) *Service {
	s := &Service{repo: repo, log: log, config: cfg, bus: bus, now: time.Now}
	loc, err := cfg.Location()
	if err != nil {
		log.Warnf("Falling back to UTC: %v", err)
		loc = time.UTC
	}
	s.loc = loc
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the time zone calendar days are counted in.
func (s *Service) Location() *time.Location {
	return s.loc
}

type userIDKey struct{}

// ContextWithUserID stores the authenticated operator in ctx.
func ContextWithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserIDFromContext returns the authenticated operator, if any.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok && id > 0
}

// Register creates a new operator with a hashed password. The first operator
// can register freely; after that only an authenticated operator can add more.
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	switch {
	case username == "":
		return nil, fmt.Errorf("%w: username is required", ErrValidation)
	case !strings.Contains(email, "@"):
		return nil, fmt.Errorf("%w: email is invalid", ErrValidation)
	case len(password) < 8:
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}

	if _, ok := UserIDFromContext(ctx); !ok {
		n, err := s.repo.CountUsers(ctx)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, ErrRegistrationClosed
		}
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s", user.Email)
	return user, nil
}

// Login authenticates an operator and returns a JWT token
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.repo.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		s.log.Debugf("Login failed for %s: %v", email, err)
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.config.JWTTTL)),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("User logged in: %s", user.Email)
	return tokenString, nil
}

// VerifyToken checks a bearer token and returns the operator id it was issued to.
func (s *Service) VerifyToken(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

func (s *Service) publish(kind string, customerID int64, data any) {
	if s.bus == nil {
		return
	}
	n := s.bus.Publish(events.Event{Type: kind, CustomerID: customerID, Data: data, At: s.now()})
	s.log.WithFields(logrus.Fields{"event": kind, "customer_id": customerID, "subscribers": n}).Debug("Event published")
}
