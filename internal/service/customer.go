package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/installment-service/internal/events"
	"github.com/Dan9191/installment-service/internal/installment"
	"github.com/Dan9191/installment-service/internal/models"
	"github.com/Dan9191/installment-service/internal/repository"
	"github.com/Dan9191/installment-service/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxPageSize = 200

// Calculate previews a plan without storing anything.
func (s *Service) Calculate(req models.CalculatorRequest) (*models.CalculatorResult, error) {
	plan, err := installment.ComputePlan(installment.PlanInput{
		OriginalPrice:    req.OriginalPrice,
		ProfitPercentage: req.ProfitPercentage,
		MarkupAmount:     req.MarkupAmount,
		InitialPayment:   req.InitialPayment,
		Months:           req.InstallmentMonths,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	start, err := s.parseStartDate(req.StartDate)
	if err != nil {
		return nil, err
	}
	return &models.CalculatorResult{
		Plan:     plan,
		Schedule: installment.Schedule(plan, start),
	}, nil
}

// CreateCustomer validates the input, computes the plan and stores the customer.
func (s *Service) CreateCustomer(ctx context.Context, in models.CustomerInput) (*models.Customer, error) {
	if err := validateCustomerInput(in); err != nil {
		return nil, err
	}
	plan, err := planFor(in)
	if err != nil {
		return nil, err
	}
	start, err := s.parseStartDate(in.StartDate)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := &models.Customer{CreatedAt: now, UpdatedAt: now}
	applyInput(c, in, plan, start)
	openPlan(c, plan)

	s.warnOnDuplicatePassport(ctx, c)
	if err := s.repo.CreateCustomer(ctx, c); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"customer_id":   c.ID,
		"selling_price": c.Product.SellingPrice.String(),
		"months":        c.Product.InstallmentMonths,
	}).Info("Customer created")
	s.publish(events.CustomerCreated, c.ID, c)
	return c, nil
}

// GetCustomer returns one customer.
func (s *Service) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListCustomers returns a page of customers and the total count. A
// passport filter is matched by fingerprint.
func (s *Service) ListCustomers(ctx context.Context, f models.CustomerFilter, passport string) ([]*models.Customer, int, error) {
	if f.Limit <= 0 || f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != "" && f.Status != models.StatusActive && f.Status != models.StatusClosed {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if passport = strings.TrimSpace(passport); passport != "" {
		if s.prints == nil {
			return nil, 0, fmt.Errorf("%w: passport search is not available", ErrValidation)
		}
		f.PassportFingerprint = s.prints.Fingerprint(passport)
	}
	return s.repo.ListCustomers(ctx, f)
}

// UpdateCustomer edits a customer. When plan inputs change the plan is
// recomputed and the balance is re-derived from the payment ledger; otherwise
// the current schedule is kept and only the contact fields are written.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, in models.CustomerInput) (*models.Customer, error) {
	if err := validateCustomerInput(in); err != nil {
		return nil, err
	}
	plan, err := planFor(in)
	if err != nil {
		return nil, err
	}
	start, err := s.parseStartDate(in.StartDate)
	if err != nil {
		return nil, err
	}

	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Version != nil && *in.Version != c.Version {
		return nil, fmt.Errorf("customer %d has version %d, got %d: %w", id, c.Version, *in.Version, repository.ErrVersionConflict)
	}

	if !s.planChanged(c, in, start) {
		applyContact(c, in)
		c.UpdatedAt = s.now()
		if err := s.repo.UpdateCustomer(ctx, c); err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{"customer_id": c.ID, "version": c.Version}).Info("Customer updated")
		s.publish(events.CustomerUpdated, c.ID, c)
		return c, nil
	}

	paid, err := s.repo.SumPayments(ctx, id)
	if err != nil {
		return nil, err
	}
	remaining := plan.FinancedAmount.Sub(paid)
	if remaining.IsNegative() {
		return nil, fmt.Errorf("%w: payments of %s exceed the financed amount %s", ErrValidation, paid, plan.FinancedAmount)
	}

	applyInput(c, in, plan, start)
	if paid.IsZero() {
		openPlan(c, plan)
	} else {
		pos := installment.Reamortize(installment.Credit{
			SellingPrice:   plan.SellingPrice,
			InitialPayment: plan.InitialPayment,
			MonthlyPayment: plan.MonthlyPayment,
			Months:         plan.Months,
			StartDate:      start,
		}, remaining)
		applyPosition(c, pos)
	}
	c.UpdatedAt = s.now()

	if err := s.repo.UpdateCustomer(ctx, c); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"customer_id": c.ID, "version": c.Version}).Info("Customer updated")
	s.publish(events.CustomerUpdated, c.ID, c)
	return c, nil
}

// DeleteCustomer removes a customer and its payment history.
func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.log.Infof("Customer deleted: %d", id)
	s.publish(events.CustomerDeleted, id, nil)
	return nil
}

// Payments returns the payment history of a customer.
func (s *Service) Payments(ctx context.Context, id int64) ([]*models.Payment, error) {
	if _, err := s.repo.GetCustomer(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, id)
}

func validateCustomerInput(in models.CustomerInput) error {
	var problems []string
	if strings.TrimSpace(in.FullName) == "" {
		problems = append(problems, "fullName is required")
	}
	if strings.TrimSpace(in.Phone) == "" {
		problems = append(problems, "phone is required")
	}
	if strings.TrimSpace(in.Product.Name) == "" {
		problems = append(problems, "product name is required")
	}
	if g := in.Guarantor; g != nil {
		if strings.TrimSpace(g.FullName) == "" || strings.TrimSpace(g.Phone) == "" {
			problems = append(problems, "guarantor fullName and phone are required")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func planFor(in models.CustomerInput) (installment.Plan, error) {
	plan, err := installment.ComputePlan(installment.PlanInput{
		OriginalPrice:    in.Product.OriginalPrice,
		ProfitPercentage: in.Product.ProfitPercentage,
		MarkupAmount:     in.Product.MarkupAmount,
		InitialPayment:   in.InitialPayment,
		Months:           in.Product.InstallmentMonths,
	})
	if err != nil {
		return installment.Plan{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return plan, nil
}

// parseStartDate accepts YYYY-MM-DD (midnight in the business time zone) or
// RFC 3339. Empty means today.
func (s *Service) parseStartDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		y, m, d := s.now().In(s.loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, s.loc), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", v, s.loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: startDate must be YYYY-MM-DD or RFC 3339", ErrValidation)
	}
	return t, nil
}

// planChanged reports whether an edit touches anything the schedule is
// derived from. The start date is compared as a calendar day.
func (s *Service) planChanged(c *models.Customer, in models.CustomerInput, start time.Time) bool {
	if !in.Product.OriginalPrice.Equal(c.Product.OriginalPrice) ||
		!in.InitialPayment.Equal(c.CreditInfo.InitialPayment) ||
		in.Product.InstallmentMonths != c.Product.InstallmentMonths ||
		!sameDecimal(in.Product.ProfitPercentage, c.Product.ProfitPercentage) ||
		!sameDecimal(in.Product.MarkupAmount, c.Product.MarkupAmount) {
		return true
	}
	y1, m1, d1 := start.In(s.loc).Date()
	y2, m2, d2 := c.CreditInfo.StartDate.In(s.loc).Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

func sameDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// applyContact copies the fields an edit may change without touching the
// credit: identity, address, images, guarantor and the product name.
func applyContact(c *models.Customer, in models.CustomerInput) {
	c.FullName = strings.TrimSpace(in.FullName)
	c.Phone = strings.TrimSpace(in.Phone)
	c.PassportSeries = utils.NormalizeDocument(in.PassportSeries)
	c.Region = in.Region
	c.District = in.District
	c.Address = in.Address
	c.ProfileImages = in.ProfileImages
	if c.ProfileImages == nil {
		c.ProfileImages = []string{}
	}
	c.Product.Name = strings.TrimSpace(in.Product.Name)

	c.Guarantor = nil
	if in.Guarantor != nil {
		g := *in.Guarantor
		g.FullName = strings.TrimSpace(g.FullName)
		g.PassportSeries = utils.NormalizeDocument(g.PassportSeries)
		c.Guarantor = &g
	}
}

func applyInput(c *models.Customer, in models.CustomerInput, plan installment.Plan, start time.Time) {
	applyContact(c, in)

	c.Product = models.Product{
		Name:              c.Product.Name,
		OriginalPrice:     in.Product.OriginalPrice,
		ProfitPercentage:  in.Product.ProfitPercentage,
		MarkupAmount:      in.Product.MarkupAmount,
		SellingPrice:      plan.SellingPrice,
		InstallmentMonths: plan.Months,
		MonthlyPayment:    plan.MonthlyPayment,
	}
	c.CreditInfo.StartDate = start
	c.CreditInfo.InitialPayment = plan.InitialPayment
}

// openPlan sets the balance of a credit nothing has been paid on yet.
func openPlan(c *models.Customer, plan installment.Plan) {
	c.CreditInfo.TotalPaid = decimal.Zero
	c.CreditInfo.RemainingAmount = plan.FinancedAmount
	if !plan.FinancedAmount.IsPositive() {
		c.Status = models.StatusClosed
		c.CreditInfo.RemainingMonths = 0
		c.CreditInfo.NextPaymentDate = nil
		c.Product.MonthlyPayment = decimal.Zero
		return
	}
	next := installment.AddMonths(c.CreditInfo.StartDate, 1)
	c.Status = models.StatusActive
	c.CreditInfo.RemainingMonths = plan.Months
	c.CreditInfo.NextPaymentDate = &next
}

func applyPosition(c *models.Customer, pos installment.Position) {
	c.CreditInfo.RemainingAmount = pos.RemainingAmount
	c.CreditInfo.RemainingMonths = pos.RemainingMonths
	c.CreditInfo.TotalPaid = pos.TotalPaid
	c.Product.MonthlyPayment = pos.MonthlyPayment
	if pos.Closed {
		c.Status = models.StatusClosed
		c.CreditInfo.NextPaymentDate = nil
		return
	}
	c.Status = models.StatusActive
	c.CreditInfo.NextPaymentDate = pos.NextPaymentDate
}

func (s *Service) warnOnDuplicatePassport(ctx context.Context, c *models.Customer) {
	if s.prints == nil || c.PassportSeries == "" {
		return
	}
	existing, n, err := s.repo.ListCustomers(ctx, models.CustomerFilter{
		Status:              models.StatusActive,
		PassportFingerprint: s.prints.Fingerprint(c.PassportSeries),
		Limit:               1,
	})
	if err != nil {
		s.log.Warnf("Failed to check passport duplicates: %v", err)
		return
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{"existing_customer_id": existing[0].ID}).
			Warn("Customer with this passport already has an active credit")
	}
}
