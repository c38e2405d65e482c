package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/Dan9191/installment-service/internal/config"
	"github.com/Dan9191/installment-service/internal/models"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// sendFunc delivers a prepared message; tests replace it.
type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   sendFunc
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// SendDebtorDigest mails the daily follow-up list to the configured recipients.
func (s *Sender) SendDebtorDigest(digest *models.DebtorDigest) error {
	if len(s.cfg.DigestRecipients) == 0 {
		return fmt.Errorf("no digest recipients configured")
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = s.cfg.DigestRecipients
	e.Subject = fmt.Sprintf("%s: debtors for %s", s.cfg.CompanyName, digest.Date.Format("02.01.2006"))
	if len(digest.Overdue) > 0 {
		e.Subject += fmt.Sprintf(" (%d overdue)", len(digest.Overdue))
	}
	e.Text = []byte(digestBody(s.cfg.CompanyName, digest))

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send debtor digest to %s: %v", strings.Join(e.To, ", "), err)
		return fmt.Errorf("failed to send debtor digest: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", strings.Join(e.To, ", "), e.Subject)
	return nil
}

func digestBody(company string, d *models.DebtorDigest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Debtor follow-up for %s\n\n", d.Date.Format("02.01.2006"))
	fmt.Fprintf(&b, "Due today:        %d\n", len(d.DueToday))
	fmt.Fprintf(&b, "Due in 2 days:    %d\n", len(d.DueSoon))
	fmt.Fprintf(&b, "Overdue:          %d\n", len(d.Overdue))

	section := func(title string, entries []models.DebtorEntry) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s\n", title)
		for _, e := range entries {
			line := fmt.Sprintf("  #%d %s, %s: %s due", e.ID, e.FullName, e.Phone, money(e.Product.MonthlyPayment))
			if e.OverdueDays > 0 {
				line += fmt.Sprintf(", %d days overdue", e.OverdueDays)
			}
			if e.CallNote != "" {
				line += fmt.Sprintf(" (last note: %s)", e.CallNote)
			}
			b.WriteString(line + "\n")
		}
	}
	section("Overdue", d.Overdue)
	section("Due today", d.DueToday)
	section("Due in 2 days", d.DueSoon)

	fmt.Fprintf(&b, "\nBest regards,\n%s\n", company)
	return b.String()
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
