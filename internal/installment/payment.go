package installment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount        = errors.New("payment amount must be positive")
	ErrAmountExceedsBalance = errors.New("payment amount exceeds remaining balance")
	ErrInvalidMethod        = errors.New("payment method must be cash or card")
	ErrCreditClosed         = errors.New("credit is already closed")
)

// Method is how a payment was received.
type Method string

const (
	MethodCash Method = "cash"
	MethodCard Method = "card"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	return m == MethodCash || m == MethodCard
}

// Credit is the part of a customer record payment application reads.
type Credit struct {
	SellingPrice    decimal.Decimal
	InitialPayment  decimal.Decimal
	RemainingAmount decimal.Decimal
	MonthlyPayment  decimal.Decimal
	Months          int
	StartDate       time.Time
}

// FinancedAmount is the part of the selling price paid in installments.
func (c Credit) FinancedAmount() decimal.Decimal {
	return c.SellingPrice.Sub(c.InitialPayment)
}

// Position is the state of a credit after re-amortization.
type Position struct {
	RemainingAmount decimal.Decimal
	MonthlyPayment  decimal.Decimal
	RemainingMonths int
	MonthsPassed    int
	TotalPaid       decimal.Decimal
	NextPaymentDate *time.Time
	Closed          bool
}

// ApplyPayment validates amount against the credit and returns the position
// after it is paid.
func ApplyPayment(c Credit, amount decimal.Decimal, method Method) (Position, error) {
	if !method.Valid() {
		return Position{}, ErrInvalidMethod
	}
	if !amount.IsPositive() {
		return Position{}, ErrInvalidAmount
	}
	if !c.RemainingAmount.IsPositive() {
		return Position{}, ErrCreditClosed
	}
	if amount.GreaterThan(c.RemainingAmount) {
		return Position{}, ErrAmountExceedsBalance
	}
	return Reamortize(c, c.RemainingAmount.Sub(amount)), nil
}

// Reamortize spreads remaining over the months left. Months already passed
// are estimated as floor(totalPaid / c.MonthlyPayment), so a payment larger
// than one installment advances the schedule by several months.
//
// When the estimate exhausts the term while a balance is left, the whole
// balance becomes due as the next payment.
func Reamortize(c Credit, remaining decimal.Decimal) Position {
	totalPaid := c.FinancedAmount().Sub(remaining)
	if totalPaid.IsNegative() {
		totalPaid = decimal.Zero
	}

	pos := Position{
		RemainingAmount: remaining,
		TotalPaid:       totalPaid,
	}

	if !remaining.IsPositive() {
		pos.RemainingAmount = decimal.Zero
		pos.MonthlyPayment = decimal.Zero
		pos.MonthsPassed = c.Months
		pos.Closed = true
		return pos
	}

	monthsPassed := c.Months
	if c.MonthlyPayment.IsPositive() {
		monthsPassed = int(totalPaid.Div(c.MonthlyPayment).Floor().IntPart())
	}
	remainingMonths := c.Months - monthsPassed
	if remainingMonths < 0 {
		remainingMonths = 0
	}

	pos.MonthsPassed = monthsPassed
	pos.RemainingMonths = remainingMonths
	if remainingMonths > 0 {
		pos.MonthlyPayment = remaining.Div(decimal.NewFromInt(int64(remainingMonths))).Ceil()
	} else {
		pos.MonthlyPayment = remaining
	}

	if !c.StartDate.IsZero() {
		next := AddMonths(c.StartDate, monthsPassed+1)
		if monthsPassed >= c.Months {
			next = AddMonths(c.StartDate, c.Months)
		}
		pos.NextPaymentDate = &next
	}
	return pos
}
