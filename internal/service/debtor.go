package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Dan9191/installment-service/internal/events"
	"github.com/Dan9191/installment-service/internal/installment"
	"github.com/Dan9191/installment-service/internal/models"
	"github.com/Dan9191/installment-service/internal/repository"
	"github.com/sirupsen/logrus"
)

// BucketAll selects every debtor bucket.
const BucketAll = "all"

const maxCallNoteLen = 2000

// Debtors returns the customers in one follow-up bucket, or in all of them
// for BucketAll, most overdue first.
func (s *Service) Debtors(ctx context.Context, bucket string) ([]models.DebtorEntry, error) {
	want := map[installment.Bucket]bool{}
	if bucket == "" || bucket == BucketAll {
		for _, b := range installment.DebtorBuckets {
			want[b] = true
		}
	} else {
		b, ok := installment.ParseBucket(bucket)
		if !ok {
			return nil, fmt.Errorf("%w: unknown bucket %q", ErrValidation, bucket)
		}
		want[b] = true
	}

	classified, err := s.classifyOpenCredits(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(classified))
	entries := make([]models.DebtorEntry, 0)
	for _, e := range classified {
		if !want[e.Bucket] || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		entries = append(entries, e)
	}
	return entries, nil
}

// DebtorDigest groups today's follow-ups for the daily e-mail.
func (s *Service) DebtorDigest(ctx context.Context) (*models.DebtorDigest, error) {
	classified, err := s.classifyOpenCredits(ctx)
	if err != nil {
		return nil, err
	}

	digest := &models.DebtorDigest{
		Date:   s.now().In(s.loc),
		Counts: make(map[installment.Bucket]int, len(installment.DebtorBuckets)),
	}
	for _, b := range installment.DebtorBuckets {
		digest.Counts[b] = 0
	}
	for _, e := range classified {
		switch e.Bucket {
		case installment.BucketDueToday:
			digest.DueToday = append(digest.DueToday, e)
		case installment.BucketDueSoon:
			digest.DueSoon = append(digest.DueSoon, e)
		case installment.BucketOverdue1Day, installment.BucketOverdue3Days:
			digest.Overdue = append(digest.Overdue, e)
		default:
			continue
		}
		digest.Counts[e.Bucket]++
	}
	return digest, nil
}

// UpdateCallNote records the outcome of a follow-up call. With a nil
// version the note is written against the latest record.
func (s *Service) UpdateCallNote(ctx context.Context, id int64, note string, version *int) (*models.Customer, error) {
	note = strings.TrimSpace(note)
	if len(note) > maxCallNoteLen {
		return nil, fmt.Errorf("%w: call note is longer than %d characters", ErrValidation, maxCallNoteLen)
	}

	var err error
	for attempt := 1; attempt <= maxPaymentAttempts; attempt++ {
		var c *models.Customer
		c, err = s.repo.GetCustomer(ctx, id)
		if err != nil {
			return nil, err
		}
		expected := c.Version
		if version != nil {
			expected = *version
		}

		err = s.repo.UpdateCallNote(ctx, id, expected, note, s.now())
		if err == nil {
			updated, err := s.repo.GetCustomer(ctx, id)
			if err != nil {
				return nil, err
			}
			s.log.WithFields(logrus.Fields{"customer_id": id}).Info("Call note updated")
			s.publish(events.CallNoteUpdated, id, updated)
			return updated, nil
		}
		if version != nil || !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, err
}

func (s *Service) classifyOpenCredits(ctx context.Context) ([]models.DebtorEntry, error) {
	customers, err := s.repo.ListOpenCredits(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	entries := make([]models.DebtorEntry, 0, len(customers))
	for _, c := range customers {
		if c.CreditInfo.NextPaymentDate == nil || c.IsClosed() {
			continue
		}
		cl := installment.Classify(now, *c.CreditInfo.NextPaymentDate, s.loc)
		entries = append(entries, models.DebtorEntry{
			Customer:     c,
			Bucket:       cl.Bucket,
			OverdueDays:  cl.OverdueDays,
			DaysUntilDue: cl.DaysUntilDue,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].DaysUntilDue != entries[j].DaysUntilDue {
			return entries[i].DaysUntilDue < entries[j].DaysUntilDue
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}
