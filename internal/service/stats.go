package service

import (
	"context"

	"github.com/Dan9191/installment-service/internal/installment"
	"github.com/Dan9191/installment-service/internal/models"
	"github.com/shopspring/decimal"
)

// Stats aggregates the dashboard totals over every customer.
func (s *Service) Stats(ctx context.Context) (*models.PortfolioStats, error) {
	customers, total, err := s.repo.ListCustomers(ctx, models.CustomerFilter{})
	if err != nil {
		return nil, err
	}

	stats := &models.PortfolioStats{
		Customers:       total,
		TotalSold:       decimal.Zero,
		TotalCollected:  decimal.Zero,
		Outstanding:     decimal.Zero,
		ExpectedMonthly: decimal.Zero,
		OverdueAmount:   decimal.Zero,
		Buckets:         make(map[installment.Bucket]int, len(installment.DebtorBuckets)),
	}
	for _, b := range installment.DebtorBuckets {
		stats.Buckets[b] = 0
	}

	now := s.now()
	for _, c := range customers {
		stats.TotalSold = stats.TotalSold.Add(c.Product.SellingPrice)
		stats.TotalCollected = stats.TotalCollected.Add(c.CreditInfo.InitialPayment).Add(c.CreditInfo.TotalPaid)
		if c.IsClosed() {
			stats.ClosedCredits++
			continue
		}
		stats.ActiveCredits++
		stats.Outstanding = stats.Outstanding.Add(c.CreditInfo.RemainingAmount)
		stats.ExpectedMonthly = stats.ExpectedMonthly.Add(c.Product.MonthlyPayment)

		if c.CreditInfo.NextPaymentDate == nil {
			continue
		}
		cl := installment.Classify(now, *c.CreditInfo.NextPaymentDate, s.loc)
		if cl.Bucket == installment.BucketNone {
			continue
		}
		stats.Buckets[cl.Bucket]++
		if cl.OverdueDays > 0 {
			stats.OverdueAmount = stats.OverdueAmount.Add(decimal.Min(c.Product.MonthlyPayment, c.CreditInfo.RemainingAmount))
		}
	}
	return stats, nil
}
