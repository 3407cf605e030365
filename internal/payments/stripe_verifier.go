package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/finitefield/pos-api/internal/services"
)

// StripeLogger defines the logging contract for Stripe verifier operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
}

// StripeVerifierConfig configures the StripeVerifier.
type StripeVerifierConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	// CaptureAuthorized captures intents still in requires_capture instead of rejecting them.
	CaptureAuthorized bool

	intents stripePaymentIntentAPI
}

// StripeVerifier confirms card payments taken on the terminal against their PaymentIntent.
type StripeVerifier struct {
	intents stripePaymentIntentAPI
	capture bool
	logger  StripeLogger
}

var _ services.PaymentVerifier = (*StripeVerifier)(nil)

// NewStripeVerifier constructs a verifier using the given configuration.
func NewStripeVerifier(cfg StripeVerifierConfig) (*StripeVerifier, error) {
	intents := cfg.intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeVerifier{intents: intents, capture: cfg.CaptureAuthorized, logger: logger}, nil
}

// VerifyPayment checks that the referenced PaymentIntent has settled the exact order total. Every
// rejection wraps services.ErrPaymentVerification.
func (v *StripeVerifier) VerifyPayment(ctx context.Context, req services.PaymentVerification) error {
	if v == nil {
		return errors.New("stripe: verifier is nil")
	}
	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		return fmt.Errorf("%w: payment reference is required", services.ErrPaymentVerification)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := v.intents.Get(ref, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return fmt.Errorf("%w: payment intent %s not found", services.ErrPaymentVerification, ref)
		}
		return fmt.Errorf("stripe: get payment intent: %w", err)
	}

	if orderID := intent.Metadata["order_id"]; orderID != "" && req.OrderID != "" && orderID != req.OrderID {
		return fmt.Errorf("%w: intent %s belongs to order %s", services.ErrPaymentVerification, ref, orderID)
	}
	if currency := strings.ToUpper(string(intent.Currency)); currency != "" && req.Currency != "" && currency != strings.ToUpper(req.Currency) {
		return fmt.Errorf("%w: currency %s does not match %s", services.ErrPaymentVerification, currency, req.Currency)
	}
	if intent.Amount != req.Amount {
		return fmt.Errorf("%w: intent amount %d does not match total %d", services.ErrPaymentVerification, intent.Amount, req.Amount)
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return nil
	case stripe.PaymentIntentStatusRequiresCapture:
		if !v.capture {
			break
		}
		captureParams := &stripe.PaymentIntentCaptureParams{AmountToCapture: stripe.Int64(req.Amount)}
		captureParams.Context = ctx
		captureParams.SetIdempotencyKey("pos-capture-" + ref)
		captured, err := v.intents.Capture(ref, captureParams)
		if err != nil {
			return fmt.Errorf("stripe: capture payment intent: %w", err)
		}
		v.logger(ctx, "payments.stripe.captured", map[string]any{
			"intentId": captured.ID,
			"orderId":  req.OrderID,
			"amount":   captured.AmountReceived,
		})
		if captured.Status == stripe.PaymentIntentStatusSucceeded {
			return nil
		}
		intent = captured
	}
	return fmt.Errorf("%w: intent %s is %s", services.ErrPaymentVerification, ref, intent.Status)
}
