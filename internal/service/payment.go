package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dan9191/installment-service/internal/events"
	"github.com/Dan9191/installment-service/internal/installment"
	"github.com/Dan9191/installment-service/internal/models"
	"github.com/Dan9191/installment-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	maxPaymentAttempts   = 3
	maxIdempotencyKeyLen = 128
)

// ApplyPayment records a payment against a customer's credit and
// re-amortizes the remaining balance. Submitting the same idempotency key
// again returns the stored result instead of charging twice. A concurrent
// edit of the customer is retried a few times before ErrVersionConflict is
// returned.
func (s *Service) ApplyPayment(ctx context.Context, customerID int64, req models.PaymentRequest) (*models.PaymentReceipt, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		return nil, fmt.Errorf("%w: idempotency key is longer than %d characters", ErrValidation, maxIdempotencyKeyLen)
	}
	if key == "" {
		key = uuid.NewString()
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, fmt.Errorf("%w: amount has more than two decimal places", ErrValidation)
	}
	method := installment.Method(strings.ToLower(strings.TrimSpace(req.Method)))

	var lastErr error
	for attempt := 1; attempt <= maxPaymentAttempts; attempt++ {
		receipt, err := s.applyPaymentOnce(ctx, customerID, key, method, req)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) && !errors.Is(err, repository.ErrDuplicatePayment) {
			return nil, err
		}
		lastErr = err
		s.log.WithFields(logrus.Fields{
			"customer_id": customerID,
			"attempt":     attempt,
		}).Warnf("Payment raced with another update: %v", err)
	}
	return nil, lastErr
}

func (s *Service) applyPaymentOnce(ctx context.Context, customerID int64, key string, method installment.Method, req models.PaymentRequest) (*models.PaymentReceipt, error) {
	existing, err := s.repo.FindPaymentByKey(ctx, customerID, key)
	switch {
	case err == nil:
		return s.replay(ctx, existing, req, method)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	c, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	pos, err := installment.ApplyPayment(installment.Credit{
		SellingPrice:    c.Product.SellingPrice,
		InitialPayment:  c.CreditInfo.InitialPayment,
		RemainingAmount: c.CreditInfo.RemainingAmount,
		MonthlyPayment:  c.Product.MonthlyPayment,
		Months:          c.Product.InstallmentMonths,
		StartDate:       c.CreditInfo.StartDate.In(s.loc),
	}, req.Amount, method)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	now := s.now()
	applyPosition(c, pos)
	c.UpdatedAt = now

	userID, _ := UserIDFromContext(ctx)
	p := &models.Payment{
		CustomerID:           c.ID,
		Amount:               req.Amount,
		Method:               string(method),
		Notes:                strings.TrimSpace(req.Notes),
		IdempotencyKey:       key,
		RemainingAfter:       pos.RemainingAmount,
		MonthlyPaymentAfter:  pos.MonthlyPayment,
		RemainingMonthsAfter: pos.RemainingMonths,
		CreatedBy:            userID,
		CreatedAt:            now,
	}
	if err := s.repo.ApplyPayment(ctx, c, p); err != nil {
		return nil, err
	}

	receipt := &models.PaymentReceipt{Customer: c, Payment: p, Outcome: outcomeOf(p)}
	s.log.WithFields(logrus.Fields{
		"customer_id": c.ID,
		"payment_id":  p.ID,
		"amount":      p.Amount.String(),
		"method":      p.Method,
		"remaining":   p.RemainingAfter.String(),
		"closed":      c.IsClosed(),
	}).Info("Payment applied")
	s.publish(events.PaymentApplied, c.ID, receipt)
	return receipt, nil
}

// replay answers a repeated submission from the ledger snapshot.
// The key must come back with the same amount and method.
func (s *Service) replay(ctx context.Context, p *models.Payment, req models.PaymentRequest, method installment.Method) (*models.PaymentReceipt, error) {
	if !p.Amount.Equal(req.Amount) || p.Method != string(method) {
		return nil, fmt.Errorf("key %s was used for %s by %s: %w", p.IdempotencyKey, p.Amount, p.Method, ErrIdempotencyReused)
	}
	c, err := s.repo.GetCustomer(ctx, p.CustomerID)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"customer_id": p.CustomerID, "payment_id": p.ID}).Info("Payment replayed")
	return &models.PaymentReceipt{Customer: c, Payment: p, Outcome: outcomeOf(p), Replayed: true}, nil
}

func outcomeOf(p *models.Payment) models.PaymentOutcome {
	return models.PaymentOutcome{
		RemainingAmount:   p.RemainingAfter,
		NewMonthlyPayment: p.MonthlyPaymentAfter,
		RemainingMonths:   p.RemainingMonthsAfter,
	}
}
