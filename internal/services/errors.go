package services

import (
	"errors"
	"fmt"

	"github.com/finitefield/pos-api/internal/repositories"
)

var (
	// ErrValidation signals the caller provided malformed input.
	ErrValidation = errors.New("order: invalid input")
	// ErrResourceNotFound indicates an order, item, promotion, combo or table could not be located.
	ErrResourceNotFound = errors.New("order: resource not found")
	// ErrOrderClosed indicates a mutation was attempted on a COMPLETED or CANCELLED order.
	ErrOrderClosed = errors.New("order: order is closed")
	// ErrInvalidStatusTransition indicates the order or item state machine rejected the change.
	ErrInvalidStatusTransition = errors.New("order: invalid status transition")
	// ErrConflict indicates concurrent modification or occupied resources.
	ErrConflict = errors.New("order: conflict")
	// ErrComboMembership indicates an item is not sellable inside the named combo.
	ErrComboMembership = errors.New("combo: item is not a member of the combo")
	// ErrPromotionIneligible is the sentinel behind PromotionIneligibleError.
	ErrPromotionIneligible = errors.New("promotion: not eligible")
	// ErrPromotionAlreadyApplied indicates the order already carries a promotion.
	ErrPromotionAlreadyApplied = errors.New("promotion: order already has a promotion")
	// ErrPromotionNotApplied indicates the promotion to remove is not the one on the order.
	ErrPromotionNotApplied = errors.New("promotion: promotion is not applied to the order")
	// ErrInsufficientGiftCondition indicates no gift policy is satisfied by the order.
	ErrInsufficientGiftCondition = errors.New("promotion: gift conditions not met")
	// ErrInsufficientPayment indicates the tendered amount is below the order total.
	ErrInsufficientPayment = errors.New("checkout: insufficient payment")
	// ErrPaymentVerification indicates the card processor did not confirm the payment.
	ErrPaymentVerification = errors.New("checkout: payment could not be verified")
	// ErrUnavailable indicates a backing store could not be reached.
	ErrUnavailable = errors.New("order: repository unavailable")
)

// PromotionIneligibleError carries the first failing eligibility reason.
type PromotionIneligibleError struct {
	PromotionID string
	Reason      string
}

func (e *PromotionIneligibleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", ErrPromotionIneligible.Error(), e.Reason)
}

// Unwrap allows errors.Is(err, ErrPromotionIneligible).
func (e *PromotionIneligibleError) Unwrap() error {
	return ErrPromotionIneligible
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrResourceNotFound, kind, id)
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrResourceNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return err
}
