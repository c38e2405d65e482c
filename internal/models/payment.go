package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is an immutable ledger entry. The *After fields snapshot the
// credit right after the payment so a replayed request gets the same answer.
type Payment struct {
	ID                   int64           `json:"id"`
	CustomerID           int64           `json:"customerId"`
	Amount               decimal.Decimal `json:"amount"`
	Method               string          `json:"method"`
	Notes                string          `json:"notes,omitempty"`
	IdempotencyKey       string          `json:"idempotencyKey"`
	RemainingAfter       decimal.Decimal `json:"remainingAfter"`
	MonthlyPaymentAfter  decimal.Decimal `json:"monthlyPaymentAfter"`
	RemainingMonthsAfter int             `json:"remainingMonthsAfter"`
	CreatedBy            int64           `json:"createdBy,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// PaymentRequest is the body of POST /api/customers/{id}/payment
type PaymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method"`
	Notes          string          `json:"notes"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// PaymentOutcome summarizes the credit after a payment
type PaymentOutcome struct {
	RemainingAmount   decimal.Decimal `json:"remainingAmount"`
	NewMonthlyPayment decimal.Decimal `json:"newMonthlyPayment"`
	RemainingMonths   int             `json:"remainingMonths"`
}

// PaymentReceipt is returned by the payment operation.
type PaymentReceipt struct {
	Customer *Customer      `json:"customer"`
	Payment  *Payment       `json:"-"`
	Outcome  PaymentOutcome `json:"payment"`
	Replayed bool           `json:"replayed"`
}
