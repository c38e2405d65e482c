// Package installment holds the arithmetic of installment credits: the
// selling-price and monthly-payment plan, payment application with
// re-amortization of the remaining balance, and debtor classification.
//
// Everything here is pure; callers own persistence and the clock.
package installment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrice          = errors.New("original price must be positive")
	ErrInvalidMarkup         = errors.New("markup must not be negative")
	ErrMarkupConflict        = errors.New("profit percentage and markup amount are mutually exclusive")
	ErrInvalidMonths         = errors.New("installment months must be at least 1")
	ErrInvalidInitialPayment = errors.New("initial payment must be between zero and the selling price")
)

var hundred = decimal.NewFromInt(100)

// PlanInput describes a sale on installments. At most one of
// ProfitPercentage and MarkupAmount may be set; with neither the item is
// sold at its original price.
type PlanInput struct {
	OriginalPrice    decimal.Decimal
	ProfitPercentage *decimal.Decimal
	MarkupAmount     *decimal.Decimal
	InitialPayment   decimal.Decimal
	Months           int
}

// Plan is the result of ComputePlan.
type Plan struct {
	Markup         decimal.Decimal `json:"markup"`
	SellingPrice   decimal.Decimal `json:"sellingPrice"`
	InitialPayment decimal.Decimal `json:"initialPayment"`
	FinancedAmount decimal.Decimal `json:"financedAmount"`
	MonthlyPayment decimal.Decimal `json:"monthlyPayment"`
	Months         int             `json:"installmentMonths"`
}

// ComputePlan derives the selling price and the monthly payment.
// Markup and the monthly payment are rounded half-up to two decimal places.
func ComputePlan(in PlanInput) (Plan, error) {
	if !in.OriginalPrice.IsPositive() {
		return Plan{}, ErrInvalidPrice
	}
	if in.ProfitPercentage != nil && in.MarkupAmount != nil {
		return Plan{}, ErrMarkupConflict
	}
	if in.Months < 1 {
		return Plan{}, ErrInvalidMonths
	}

	markup := decimal.Zero
	switch {
	case in.ProfitPercentage != nil:
		if in.ProfitPercentage.IsNegative() {
			return Plan{}, ErrInvalidMarkup
		}
		markup = Markup(in.OriginalPrice, *in.ProfitPercentage).Round(2)
	case in.MarkupAmount != nil:
		if in.MarkupAmount.IsNegative() {
			return Plan{}, ErrInvalidMarkup
		}
		markup = *in.MarkupAmount
	}

	selling := in.OriginalPrice.Add(markup)
	if in.InitialPayment.IsNegative() || in.InitialPayment.GreaterThan(selling) {
		return Plan{}, ErrInvalidInitialPayment
	}

	financed := selling.Sub(in.InitialPayment)
	return Plan{
		Markup:         markup,
		SellingPrice:   selling,
		InitialPayment: in.InitialPayment,
		FinancedAmount: financed,
		MonthlyPayment: financed.Div(decimal.NewFromInt(int64(in.Months))).Round(2),
		Months:         in.Months,
	}, nil
}

// Markup returns originalPrice * percent / 100.
func Markup(originalPrice, percent decimal.Decimal) decimal.Decimal {
	return originalPrice.Mul(percent).Div(hundred)
}

// Installment is one row of a payment schedule.
type Installment struct {
	Number  int             `json:"number"`
	DueDate time.Time       `json:"dueDate"`
	Amount  decimal.Decimal `json:"amount"`
}

// Schedule lays out the plan month by month starting one month after start.
// The last installment absorbs rounding so the rows sum to the financed amount.
func Schedule(plan Plan, start time.Time) []Installment {
	rows := make([]Installment, 0, plan.Months)
	left := plan.FinancedAmount
	for i := 1; i <= plan.Months; i++ {
		amount := plan.MonthlyPayment
		if i == plan.Months || amount.GreaterThan(left) {
			amount = left
		}
		rows = append(rows, Installment{
			Number:  i,
			DueDate: AddMonths(start, i),
			Amount:  amount,
		})
		left = left.Sub(amount)
	}
	return rows
}

// AddMonths moves t by n calendar months, clamping to the last day of the
// target month (Jan 31 + 1 month is Feb 28/29, not Mar 3).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
