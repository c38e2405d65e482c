package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Dan9191/installment-service/internal/installment"
	"github.com/Dan9191/installment-service/internal/models"
	"github.com/Dan9191/installment-service/internal/repository"
	"github.com/shopspring/decimal"
)

// conflictingStore fails the first ApplyPayment calls as if another request
// had updated the customer in between.
type conflictingStore struct {
	*repository.Repository
	conflicts int
	calls     int
}

func (s *conflictingStore) ApplyPayment(ctx context.Context, c *models.Customer, p *models.Payment) error {
	s.calls++
	if s.calls <= s.conflicts {
		return repository.ErrVersionConflict
	}
	return s.Repository.ApplyPayment(ctx, c, p)
}

func TestService_ApplyPayment(t *testing.T) {
	svc, _ := newTestService(t, newTestRepository(t))
	ctx := ContextWithUserID(context.Background(), 42)

	c, err := svc.CreateCustomer(ctx, tenMonthInput("Payment Test", "2025-04-10"))
	if err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}

	receipt, err := svc.ApplyPayment(ctx, c.ID, models.PaymentRequest{
		Amount:         decimal.NewFromInt(100000),
		Method:         "Cash",
		IdempotencyKey: "pay-1",
	})
	if err != nil {
		t.Fatalf("Failed to apply payment: %v", err)
	}
	if receipt.Replayed {
		t.Error("First submission must not be a replay")
	}
	if !receipt.Outcome.RemainingAmount.Equal(decimal.NewFromInt(900000)) {
		t.Errorf("Expected remaining 900000, got %s", receipt.Outcome.RemainingAmount)
	}
	if receipt.Outcome.RemainingMonths != 9 {
		t.Errorf("Expected 9 remaining months, got %d", receipt.Outcome.RemainingMonths)
	}
	if !receipt.Outcome.NewMonthlyPayment.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("Expected monthly 100000, got %s", receipt.Outcome.NewMonthlyPayment)
	}
	if receipt.Customer.CreditInfo.NextPaymentDate.Format("2006-01-02") != "2025-06-10" {
		t.Errorf("Expected next payment 2025-06-10, got %v", receipt.Customer.CreditInfo.NextPaymentDate)
	}
	if receipt.Payment.CreatedBy != 42 || receipt.Payment.Method != "cash" {
		t.Errorf("Unexpected payment row: %+v", receipt.Payment)
	}

	replay, err := svc.ApplyPayment(ctx, c.ID, models.PaymentRequest{
		Amount:         decimal.NewFromInt(100000),
		Method:         "cash",
		IdempotencyKey: "pay-1",
	})
	if err != nil {
		t.Fatalf("Failed to replay payment: %v", err)
	}
	if !replay.Replayed || replay.Payment.ID != receipt.Payment.ID {
		t.Errorf("Expected replay of payment %d, got %+v", receipt.Payment.ID, replay)
	}
	if !replay.Customer.CreditInfo.RemainingAmount.Equal(decimal.NewFromInt(900000)) {
		t.Errorf("Replay must not apply the payment twice, remaining %s", replay.Customer.CreditInfo.RemainingAmount)
	}

	_, err = svc.ApplyPayment(ctx, c.ID, models.PaymentRequest{
		Amount:         decimal.NewFromInt(5000),
		Method:         "cash",
		IdempotencyKey: "pay-1",
	})
	if !errors.Is(err, ErrIdempotencyReused) {
		t.Errorf("Expected reused key error, got %v", err)
	}

	_, err = svc.ApplyPayment(ctx, c.ID, models.PaymentRequest{
		Amount:         decimal.NewFromInt(100000),
		Method:         "card",
		IdempotencyKey: "pay-1",
	})
	if !errors.Is(err, ErrIdempotencyReused) {
		t.Errorf("Expected reused key error for a different method, got %v", err)
	}

	payments, err := svc.Payments(ctx, c.ID)
	if err != nil {
		t.Fatalf("Failed to list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Errorf("Expected 1 payment in the ledger, got %d", len(payments))
	}
}

func TestService_ApplyPaymentRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t, newTestRepository(t))
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, tenMonthInput("Invalid Payments", "2025-04-10"))
	if err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}

	tests := []struct {
		name   string
		req    models.PaymentRequest
		target error
	}{
		{"zero", models.PaymentRequest{Amount: decimal.Zero, Method: "cash"}, installment.ErrInvalidAmount},
		{"negative", models.PaymentRequest{Amount: decimal.NewFromInt(-5), Method: "cash"}, installment.ErrInvalidAmount},
		{"over balance", models.PaymentRequest{Amount: decimal.NewFromInt(1000001), Method: "card"}, installment.ErrAmountExceedsBalance},
		{"unknown method", models.PaymentRequest{Amount: decimal.NewFromInt(10), Method: "barter"}, installment.ErrInvalidMethod},
		{"fractional cents", models.PaymentRequest{Amount: decimal.RequireFromString("10.005"), Method: "cash"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ApplyPayment(ctx, c.ID, tt.req); !errors.Is(err, tt.target) {
				t.Errorf("Expected %v, got %v", tt.target, err)
			}
		})
	}

	if _, err := svc.ApplyPayment(ctx, 9999, models.PaymentRequest{Amount: decimal.NewFromInt(10), Method: "cash"}); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestService_ApplyPaymentClosesCredit(t *testing.T) {
	svc, _ := newTestService(t, newTestRepository(t))
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, tenMonthInput("Close Test", "2025-04-10"))
	if err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}

	receipt, err := svc.ApplyPayment(ctx, c.ID, models.PaymentRequest{Amount: decimal.NewFromInt(1000000), Method: "card"})
	if err != nil {
		t.Fatalf("Failed to apply payment: %v", err)
	}
	if !receipt.Customer.IsClosed() {
		t.Errorf("Expected closed credit, got %s", receipt.Customer.Status)
	}
	if receipt.Customer.CreditInfo.NextPaymentDate != nil {
		t.Errorf("Expected no next payment date, got %v", receipt.Customer.CreditInfo.NextPaymentDate)
	}
	if !receipt.Outcome.RemainingAmount.IsZero() || receipt.Outcome.RemainingMonths != 0 {
		t.Errorf("Expected zero balance, got %+v", receipt.Outcome)
	}

	_, err = svc.ApplyPayment(ctx, c.ID, models.PaymentRequest{Amount: decimal.NewFromInt(1), Method: "cash"})
	if !errors.Is(err, installment.ErrCreditClosed) {
		t.Errorf("Expected closed credit error, got %v", err)
	}
}

func TestService_ApplyPaymentRetriesVersionConflict(t *testing.T) {
	store := &conflictingStore{Repository: newTestRepository(t), conflicts: 2}
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, tenMonthInput("Retry Test", "2025-04-10"))
	if err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}

	receipt, err := svc.ApplyPayment(ctx, c.ID, models.PaymentRequest{Amount: decimal.NewFromInt(100000), Method: "cash"})
	if err != nil {
		t.Fatalf("Expected payment to succeed after retries, got %v", err)
	}
	if store.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", store.calls)
	}
	if !receipt.Outcome.RemainingAmount.Equal(decimal.NewFromInt(900000)) {
		t.Errorf("Expected remaining 900000, got %s", receipt.Outcome.RemainingAmount)
	}
}

func TestService_ApplyPaymentGivesUpAfterConflicts(t *testing.T) {
	store := &conflictingStore{Repository: newTestRepository(t), conflicts: maxPaymentAttempts}
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, tenMonthInput("Conflict Test", "2025-04-10"))
	if err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}

	_, err = svc.ApplyPayment(ctx, c.ID, models.PaymentRequest{Amount: decimal.NewFromInt(100000), Method: "cash"})
	if !errors.Is(err, repository.ErrVersionConflict) {
		t.Errorf("Expected version conflict, got %v", err)
	}
	fetched, _ := svc.GetCustomer(ctx, c.ID)
	if !fetched.CreditInfo.RemainingAmount.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("Expected untouched balance, got %s", fetched.CreditInfo.RemainingAmount)
	}
}

func TestService_RemainingNeverNegative(t *testing.T) {
	svc, _ := newTestService(t, newTestRepository(t))
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, tenMonthInput("Property Test", "2025-04-10"))
	if err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}

	amounts := []int64{1, 99999, 250000, 33333, 400000, 216667}
	for _, a := range amounts {
		receipt, err := svc.ApplyPayment(ctx, c.ID, models.PaymentRequest{Amount: decimal.NewFromInt(a), Method: "cash"})
		if err != nil {
			t.Fatalf("Failed to apply payment of %d: %v", a, err)
		}
		if receipt.Outcome.RemainingAmount.IsNegative() {
			t.Fatalf("Remaining went negative after %d: %s", a, receipt.Outcome.RemainingAmount)
		}
		paid := decimal.Zero
		payments, _ := svc.Payments(ctx, c.ID)
		for _, p := range payments {
			paid = paid.Add(p.Amount)
		}
		expected := decimal.NewFromInt(1000000).Sub(paid)
		if !receipt.Customer.CreditInfo.RemainingAmount.Equal(expected) {
			t.Fatalf("Expected remaining %s to equal financed minus ledger %s", receipt.Customer.CreditInfo.RemainingAmount, expected)
		}
	}
	fetched, _ := svc.GetCustomer(ctx, c.ID)
	if !fetched.IsClosed() {
		t.Errorf("Expected credit closed after paying 1000000, got %s", fetched.CreditInfo.RemainingAmount)
	}
}

func TestService_ConcurrentSameKeyAppliesOnce(t *testing.T) {
	svc, _ := newTestService(t, newTestRepository(t))
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, tenMonthInput("Double Submit", "2025-04-10"))
	if err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}

	const n = 20
	receipts := make([]*models.PaymentReceipt, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = svc.ApplyPayment(ctx, c.ID, models.PaymentRequest{
				Amount:         decimal.NewFromInt(100000),
				Method:         "cash",
				IdempotencyKey: "double-submit",
			})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Submission %d failed: %v", i, errs[i])
		}
		if !receipts[i].Replayed {
			fresh++
		}
		if receipts[i].Payment.ID != receipts[0].Payment.ID {
			t.Errorf("Submission %d returned payment %d, expected %d", i, receipts[i].Payment.ID, receipts[0].Payment.ID)
		}
	}
	if fresh != 1 {
		t.Errorf("Expected exactly one applied submission, got %d", fresh)
	}

	payments, err := svc.Payments(ctx, c.ID)
	if err != nil {
		t.Fatalf("Failed to list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Errorf("Expected 1 payment in the ledger, got %d", len(payments))
	}
	fetched, err := svc.GetCustomer(ctx, c.ID)
	if err != nil {
		t.Fatalf("Failed to get customer: %v", err)
	}
	if !fetched.CreditInfo.RemainingAmount.Equal(decimal.NewFromInt(900000)) {
		t.Errorf("Expected remaining 900000, got %s", fetched.CreditInfo.RemainingAmount)
	}
}

func TestService_ConcurrentPaymentsNeverOverdraw(t *testing.T) {
	svc, _ := newTestService(t, newTestRepository(t))
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, tenMonthInput("Racing Payments", "2025-04-10"))
	if err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}

	// 12 x 100,000 against a financed 1,000,000: some of them must lose.
	const n = 12
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ApplyPayment(ctx, c.ID, models.PaymentRequest{
				Amount:         decimal.NewFromInt(100000),
				Method:         "card",
				IdempotencyKey: fmt.Sprintf("race-%d", i),
			})
		}(i)
	}
	wg.Wait()

	applied := 0
	for i, err := range errs {
		switch {
		case err == nil:
			applied++
		case errors.Is(err, ErrValidation), errors.Is(err, repository.ErrVersionConflict):
		default:
			t.Errorf("Payment %d failed unexpectedly: %v", i, err)
		}
	}
	if applied > 10 {
		t.Errorf("Expected at most 10 applied payments, got %d", applied)
	}

	payments, err := svc.Payments(ctx, c.ID)
	if err != nil {
		t.Fatalf("Failed to list payments: %v", err)
	}
	if len(payments) != applied {
		t.Errorf("Expected %d ledger rows, got %d", applied, len(payments))
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}

	fetched, err := svc.GetCustomer(ctx, c.ID)
	if err != nil {
		t.Fatalf("Failed to get customer: %v", err)
	}
	remaining := fetched.CreditInfo.RemainingAmount
	if remaining.IsNegative() {
		t.Fatalf("Remaining went negative: %s", remaining)
	}
	if !remaining.Add(paid).Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("Expected remaining %s plus ledger %s to equal 1000000", remaining, paid)
	}
}
