package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"

	"github.com/finitefield/pos-api/internal/services"
)

type fakeIntents struct {
	intent     *stripe.PaymentIntent
	captured   *stripe.PaymentIntent
	err        error
	captureIDs []string
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.intent, nil
}

func (f *fakeIntents) Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	f.captureIDs = append(f.captureIDs, id)
	return f.captured, nil
}

func newTestVerifier(t *testing.T, intents *fakeIntents, capture bool) *StripeVerifier {
	t.Helper()
	v, err := NewStripeVerifier(StripeVerifierConfig{intents: intents, CaptureAuthorized: capture})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func request() services.PaymentVerification {
	return services.PaymentVerification{Reference: "pi_123", Amount: 250000, Currency: "VND", OrderID: "ord_1"}
}

func TestStripeVerifierAcceptsSucceededIntent(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{
		ID:       "pi_123",
		Amount:   250000,
		Currency: "vnd",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{"order_id": "ord_1"},
	}}
	if err := newTestVerifier(t, intents, false).VerifyPayment(context.Background(), request()); err != nil {
		t.Fatalf("expected verification to pass, got %v", err)
	}
}

func TestStripeVerifierRejectsMismatches(t *testing.T) {
	cases := map[string]*stripe.PaymentIntent{
		"amount":     {ID: "pi_123", Amount: 240000, Currency: "vnd", Status: stripe.PaymentIntentStatusSucceeded},
		"currency":   {ID: "pi_123", Amount: 250000, Currency: "usd", Status: stripe.PaymentIntentStatusSucceeded},
		"order":      {ID: "pi_123", Amount: 250000, Currency: "vnd", Status: stripe.PaymentIntentStatusSucceeded, Metadata: map[string]string{"order_id": "ord_9"}},
		"status":     {ID: "pi_123", Amount: 250000, Currency: "vnd", Status: stripe.PaymentIntentStatusProcessing},
		"uncaptured": {ID: "pi_123", Amount: 250000, Currency: "vnd", Status: stripe.PaymentIntentStatusRequiresCapture},
	}
	for name, intent := range cases {
		t.Run(name, func(t *testing.T) {
			err := newTestVerifier(t, &fakeIntents{intent: intent}, false).VerifyPayment(context.Background(), request())
			if !errors.Is(err, services.ErrPaymentVerification) {
				t.Fatalf("expected ErrPaymentVerification, got %v", err)
			}
		})
	}
}

func TestStripeVerifierCapturesAuthorizedIntent(t *testing.T) {
	intents := &fakeIntents{
		intent:   &stripe.PaymentIntent{ID: "pi_123", Amount: 250000, Currency: "vnd", Status: stripe.PaymentIntentStatusRequiresCapture},
		captured: &stripe.PaymentIntent{ID: "pi_123", Amount: 250000, AmountReceived: 250000, Status: stripe.PaymentIntentStatusSucceeded},
	}
	if err := newTestVerifier(t, intents, true).VerifyPayment(context.Background(), request()); err != nil {
		t.Fatalf("expected capture to settle payment, got %v", err)
	}
	if len(intents.captureIDs) != 1 || intents.captureIDs[0] != "pi_123" {
		t.Fatalf("expected one capture call, got %v", intents.captureIDs)
	}
}

func TestStripeVerifierErrors(t *testing.T) {
	if _, err := NewStripeVerifier(StripeVerifierConfig{}); err == nil {
		t.Fatalf("expected missing api key error")
	}

	v := newTestVerifier(t, &fakeIntents{err: &stripe.Error{HTTPStatusCode: 404}}, false)
	if err := v.VerifyPayment(context.Background(), request()); !errors.Is(err, services.ErrPaymentVerification) {
		t.Fatalf("expected not found to fail verification, got %v", err)
	}

	outage := errors.New("connection reset")
	v = newTestVerifier(t, &fakeIntents{err: outage}, false)
	if err := v.VerifyPayment(context.Background(), request()); !errors.Is(err, outage) {
		t.Fatalf("expected transport error to propagate, got %v", err)
	}

	req := request()
	req.Reference = " "
	if err := v.VerifyPayment(context.Background(), req); !errors.Is(err, services.ErrPaymentVerification) {
		t.Fatalf("expected missing reference to fail, got %v", err)
	}
}
