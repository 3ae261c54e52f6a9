package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// intents is the part of the PaymentIntent API the client uses.
type intents interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

// StripeClient charges priced parking sessions through PaymentIntent
// hold/capture/cancel flows.
type StripeClient struct {
	intents intents
}

// NewStripeClient returns a client bound to apiKey rather than the global stripe.Key.
func NewStripeClient(apiKey string) *StripeClient {
	return &StripeClient{intents: &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: apiKey}}
}

// MinorUnits converts a two-decimal currency amount to cents, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, reference string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	if reference != "" {
		params.AddMetadata("session_id", reference)
	}
	pi, err := s.intents.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := s.intents.Capture(paymentIntentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := s.intents.Cancel(paymentIntentID, params)
	return err
}

// Charge holds and immediately captures amount. A failed capture releases
// the hold.
func (s *StripeClient) Charge(ctx context.Context, amount decimal.Decimal, currency, reference string) (string, error) {
	cents := MinorUnits(amount)
	if cents <= 0 {
		return "", fmt.Errorf("charge %s %s: amount must be positive", amount, currency)
	}
	id, err := s.Hold(ctx, cents, currency, reference)
	if err != nil {
		return "", fmt.Errorf("hold %d %s: %w", cents, currency, err)
	}
	if err := s.Capture(ctx, id); err != nil {
		if cerr := s.Cancel(ctx, id); cerr != nil {
			err = errors.Join(err, fmt.Errorf("release hold: %w", cerr))
		}
		return "", fmt.Errorf("capture %s: %w", id, err)
	}
	return id, nil
}
