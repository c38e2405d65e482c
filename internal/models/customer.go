package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer status values
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Product is the item sold on installments together with its plan.
type Product struct {
	Name              string           `json:"name"`
	OriginalPrice     decimal.Decimal  `json:"originalPrice"`
	ProfitPercentage  *decimal.Decimal `json:"profitPercentage,omitempty"`
	MarkupAmount      *decimal.Decimal `json:"markupAmount,omitempty"`
	SellingPrice      decimal.Decimal  `json:"sellingPrice"`
	InstallmentMonths int              `json:"installmentMonths"`
	MonthlyPayment    decimal.Decimal  `json:"monthlyPayment"`
}

// CreditInfo is the materialized balance of a customer's credit.
// RemainingAmount always equals SellingPrice - InitialPayment - TotalPaid.
type CreditInfo struct {
	StartDate       time.Time       `json:"startDate"`
	InitialPayment  decimal.Decimal `json:"initialPayment"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
	RemainingMonths int             `json:"remainingMonths"`
	TotalPaid       decimal.Decimal `json:"totalPaid"`
	NextPaymentDate *time.Time      `json:"nextPaymentDate"`
}

// Guarantor is the co-signer liable for the credit
type Guarantor struct {
	FullName       string `json:"fullName"`
	Phone          string `json:"phone"`
	PassportSeries string `json:"passportSeries"`
	Region         string `json:"region"`
	District       string `json:"district"`
	Address        string `json:"address"`
	Relation       string `json:"relation,omitempty"`
}

// Customer represents a buyer and their installment credit
type Customer struct {
	ID             int64      `json:"id"`
	FullName       string     `json:"fullName"`
	Phone          string     `json:"phone"`
	PassportSeries string     `json:"passportSeries"`
	Region         string     `json:"region"`
	District       string     `json:"district"`
	Address        string     `json:"address"`
	ProfileImages  []string   `json:"profileImages"`
	Product        Product    `json:"product"`
	CreditInfo     CreditInfo `json:"creditInfo"`
	Guarantor      *Guarantor `json:"guarantor,omitempty"`
	CallNote       string     `json:"callNote,omitempty"`
	LastCallDate   *time.Time `json:"lastCallDate,omitempty"`
	Status         string     `json:"status"`
	Version        int        `json:"version"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsClosed reports whether the credit is fully paid.
func (c *Customer) IsClosed() bool {
	return c.Status == StatusClosed
}

// ProductInput carries the plan inputs of a sale.
type ProductInput struct {
	Name              string           `json:"name"`
	OriginalPrice     decimal.Decimal  `json:"originalPrice"`
	ProfitPercentage  *decimal.Decimal `json:"profitPercentage"`
	MarkupAmount      *decimal.Decimal `json:"markupAmount"`
	InstallmentMonths int              `json:"installmentMonths"`
}

// CustomerInput is the request body for creating or editing a customer.
// StartDate accepts YYYY-MM-DD or RFC 3339. Version, when set on edit,
// must match the stored record.
type CustomerInput struct {
	FullName       string          `json:"fullName"`
	Phone          string          `json:"phone"`
	PassportSeries string          `json:"passportSeries"`
	Region         string          `json:"region"`
	District       string          `json:"district"`
	Address        string          `json:"address"`
	ProfileImages  []string        `json:"profileImages"`
	Product        ProductInput    `json:"product"`
	InitialPayment decimal.Decimal `json:"initialPayment"`
	StartDate      string          `json:"startDate"`
	Guarantor      *Guarantor      `json:"guarantor"`
	Version        *int            `json:"version,omitempty"`
}

// CustomerFilter narrows a customer listing.
type CustomerFilter struct {
	Query               string
	Status              string
	PassportFingerprint string
	Limit               int
	Offset              int
}
