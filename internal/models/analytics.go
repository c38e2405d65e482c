package models

import (
	"github.com/Dan9191/installment-service/internal/installment"
	"github.com/shopspring/decimal"
)

// PortfolioStats represents dashboard totals over all credits
type PortfolioStats struct {
	Customers       int                        `json:"customers"`
	ActiveCredits   int                        `json:"activeCredits"`
	ClosedCredits   int                        `json:"closedCredits"`
	TotalSold       decimal.Decimal            `json:"totalSold"`
	TotalCollected  decimal.Decimal            `json:"totalCollected"`
	Outstanding     decimal.Decimal            `json:"outstanding"`
	ExpectedMonthly decimal.Decimal            `json:"expectedMonthly"`
	OverdueAmount   decimal.Decimal            `json:"overdueAmount"`
	Buckets         map[installment.Bucket]int `json:"buckets"`
}

// CalculatorRequest is the body of POST /api/calculator
type CalculatorRequest struct {
	OriginalPrice     decimal.Decimal  `json:"originalPrice"`
	ProfitPercentage  *decimal.Decimal `json:"profitPercentage"`
	MarkupAmount      *decimal.Decimal `json:"markupAmount"`
	InitialPayment    decimal.Decimal  `json:"initialPayment"`
	InstallmentMonths int              `json:"installmentMonths"`
	StartDate         string           `json:"startDate,omitempty"`
}

// CalculatorResult is a plan preview with its month-by-month schedule
type CalculatorResult struct {
	Plan     installment.Plan          `json:"plan"`
	Schedule []installment.Installment `json:"schedule"`
}
