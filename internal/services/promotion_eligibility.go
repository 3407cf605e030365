package services

import (
	"context"
	"errors"
	"slices"
	"time"

	domain "github.com/finitefield/pos-api/internal/domain"
	"github.com/finitefield/pos-api/internal/repositories"
)

// Eligibility reasons returned to callers.
const (
	ReasonInactive             = "promotion is inactive"
	ReasonNotStarted           = "promotion has not started"
	ReasonExpired              = "promotion has expired"
	ReasonUsageExhausted       = "promotion usage limit reached"
	ReasonCustomerRequired     = "promotion requires a registered customer"
	ReasonCustomerLimitReached = "customer usage limit reached"
	ReasonWalkInExcluded       = "promotion does not apply to walk-in customers"
	ReasonCustomerNotInScope   = "customer is not eligible for this promotion"
	ReasonMinimumOrderValue    = "order subtotal below minimum order value"
)

// EligibilityContext is the order-side input of an eligibility check.
type EligibilityContext struct {
	Subtotal int64
	At       time.Time
}

// EligibilityResult is the outcome of an eligibility check.
type EligibilityResult struct {
	Eligible bool
	Reason   string
}

// eligibilityCheck returns an empty reason when the predicate holds.
type eligibilityCheck func(p domain.Promotion, c *domain.Customer, in EligibilityContext, customerUsage int) string

// PromotionEligibilityEvaluator runs ordered eligibility predicates and reports the first failure.
type PromotionEligibilityEvaluator struct {
	usage  repositories.PromotionUsageRepository
	checks []eligibilityCheck
}

// NewPromotionEligibilityEvaluator builds the evaluator over the usage ledger.
func NewPromotionEligibilityEvaluator(usage repositories.PromotionUsageRepository) (*PromotionEligibilityEvaluator, error) {
	if usage == nil {
		return nil, errors.New("promotion eligibility: usage repository is required")
	}
	return &PromotionEligibilityEvaluator{
		usage: usage,
		checks: []eligibilityCheck{
			checkActive,
			checkWindow,
			checkTotalUsage,
			checkCustomerUsage,
			checkCustomerScope,
			checkMinimumOrderValue,
		},
	}, nil
}

// Evaluate checks the promotion against the customer (nil for walk-ins) and the order context.
func (e *PromotionEligibilityEvaluator) Evaluate(ctx context.Context, promotion domain.Promotion, customer *domain.Customer, in EligibilityContext) (EligibilityResult, error) {
	usage := 0
	if promotion.MaxUsagePerCustomer != nil && *promotion.MaxUsagePerCustomer > 0 && customer != nil {
		count, err := e.usage.CountUsage(ctx, promotion.ID, customer.ID)
		if err != nil {
			return EligibilityResult{}, mapRepositoryError(err)
		}
		usage = count
	}

	for _, check := range e.checks {
		if reason := check(promotion, customer, in, usage); reason != "" {
			return EligibilityResult{Reason: reason}, nil
		}
	}
	return EligibilityResult{Eligible: true}, nil
}

func checkActive(p domain.Promotion, _ *domain.Customer, _ EligibilityContext, _ int) string {
	if !p.Active {
		return ReasonInactive
	}
	return ""
}

func checkWindow(p domain.Promotion, _ *domain.Customer, in EligibilityContext, _ int) string {
	if p.StartsAt != nil && in.At.Before(*p.StartsAt) {
		return ReasonNotStarted
	}
	if p.EndsAt != nil && in.At.After(*p.EndsAt) {
		return ReasonExpired
	}
	return ""
}

func checkTotalUsage(p domain.Promotion, _ *domain.Customer, _ EligibilityContext, _ int) string {
	if p.MaxTotalUsage != nil && *p.MaxTotalUsage > 0 && p.UsageCount >= *p.MaxTotalUsage {
		return ReasonUsageExhausted
	}
	return ""
}

func checkCustomerUsage(p domain.Promotion, c *domain.Customer, _ EligibilityContext, usage int) string {
	if p.MaxUsagePerCustomer == nil || *p.MaxUsagePerCustomer <= 0 {
		return ""
	}
	if c == nil {
		return ReasonCustomerRequired
	}
	if usage >= *p.MaxUsagePerCustomer {
		return ReasonCustomerLimitReached
	}
	return ""
}

func checkCustomerScope(p domain.Promotion, c *domain.Customer, _ EligibilityContext, _ int) string {
	scope := p.Customers
	if c == nil {
		if scope.ApplyToWalkIn {
			return ""
		}
		return ReasonWalkInExcluded
	}
	switch {
	case scope.AllCustomers, scope.AllCustomerGroups:
		return ""
	case slices.Contains(scope.CustomerIDs, c.ID):
		return ""
	case c.GroupID != nil && slices.Contains(scope.CustomerGroupIDs, *c.GroupID):
		return ""
	}
	return ReasonCustomerNotInScope
}

func checkMinimumOrderValue(p domain.Promotion, _ *domain.Customer, in EligibilityContext, _ int) string {
	if p.MinOrderValue != nil && in.Subtotal < *p.MinOrderValue {
		return ReasonMinimumOrderValue
	}
	return ""
}
