// Package scheduler runs the periodic debtor digest.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/installment-service/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const runTimeout = 2 * time.Minute

// DigestSource builds the current debtor digest.
type DigestSource interface {
	DebtorDigest(ctx context.Context) (*models.DebtorDigest, error)
}

// DigestSender delivers a digest.
type DigestSender interface {
	SendDebtorDigest(digest *models.DebtorDigest) error
}

// Scheduler triggers the digest on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	source DigestSource
	sender DigestSender
	log    *logrus.Logger
}

// New registers the digest job under spec, evaluated in loc.
func New(spec string, loc *time.Location, source DigestSource, sender DigestSender, log *logrus.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cron.PrintfLogger(log)),
		),
		source: source,
		sender: sender,
		log:    log,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Debtor digest scheduler started")
}

// Stop prevents new runs and waits for a running one to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Debtor digest scheduler stopped")
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if err := s.RunDigest(ctx); err != nil {
		s.log.Errorf("Debtor digest failed: %v", err)
	}
}

// RunDigest builds the digest and mails it. Nothing is sent when there is
// nobody to follow up with.
func (s *Scheduler) RunDigest(ctx context.Context) error {
	digest, err := s.source.DebtorDigest(ctx)
	if err != nil {
		return fmt.Errorf("failed to build digest: %w", err)
	}
	if digest.Empty() {
		s.log.Info("No debtors to report, digest skipped")
		return nil
	}
	if err := s.sender.SendDebtorDigest(digest); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"due_today": len(digest.DueToday),
		"due_soon":  len(digest.DueSoon),
		"overdue":   len(digest.Overdue),
	}).Info("Debtor digest sent")
	return nil
}
