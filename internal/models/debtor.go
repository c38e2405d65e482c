package models

import (
	"time"

	"github.com/Dan9191/installment-service/internal/installment"
)

// DebtorEntry is a customer annotated with its follow-up classification.
type DebtorEntry struct {
	*Customer
	Bucket       installment.Bucket `json:"bucket"`
	OverdueDays  int                `json:"overdueDays"`
	DaysUntilDue int                `json:"daysUntilDue"`
}

// DebtorDigest is the daily follow-up summary
type DebtorDigest struct {
	Date     time.Time                  `json:"date"`
	Counts   map[installment.Bucket]int `json:"counts"`
	DueToday []DebtorEntry              `json:"dueToday"`
	DueSoon  []DebtorEntry              `json:"dueSoon"`
	Overdue  []DebtorEntry              `json:"overdue"`
}

// Empty reports whether there is nobody to follow up with.
func (d *DebtorDigest) Empty() bool {
	return len(d.DueToday) == 0 && len(d.DueSoon) == 0 && len(d.Overdue) == 0
}
