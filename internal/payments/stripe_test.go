package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v74"
)

type fakeIntents struct {
	created    []*stripe.PaymentIntentParams
	captured   []string
	cancelled  []string
	captureErr error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = append(f.created, params)
	return &stripe.PaymentIntent{ID: "pi_1"}, nil
}

func (f *fakeIntents) Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	f.captured = append(f.captured, id)
	return &stripe.PaymentIntent{ID: id}, f.captureErr
}

func (f *fakeIntents) Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	f.cancelled = append(f.cancelled, id)
	return &stripe.PaymentIntent{ID: id}, nil
}

func TestMinorUnits(t *testing.T) {
	cases := map[string]int64{"2.50": 250, "5": 500, "0.005": 1, "12.344": 1234}
	for in, want := range cases {
		if got := MinorUnits(decimal.RequireFromString(in)); got != want {
			t.Fatalf("MinorUnits(%s) = %d, want %d", in, got, want)
		}
	}
}

func TestChargeHoldsThenCaptures(t *testing.T) {
	f := &fakeIntents{}
	c := &StripeClient{intents: f}

	ref, err := c.Charge(context.Background(), decimal.RequireFromString("7.50"), "usd", "sess-1")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if ref != "pi_1" {
		t.Fatalf("ref = %q", ref)
	}
	if len(f.created) != 1 || *f.created[0].Amount != 750 || *f.created[0].Currency != "usd" {
		t.Fatalf("unexpected hold params: %+v", f.created)
	}
	if *f.created[0].CaptureMethod != string(stripe.PaymentIntentCaptureMethodManual) {
		t.Fatalf("hold must use manual capture")
	}
	if f.created[0].Metadata["session_id"] != "sess-1" {
		t.Fatalf("missing session metadata: %v", f.created[0].Metadata)
	}
	if len(f.captured) != 1 || len(f.cancelled) != 0 {
		t.Fatalf("captured %v cancelled %v", f.captured, f.cancelled)
	}
}

func TestChargeReleasesHoldWhenCaptureFails(t *testing.T) {
	f := &fakeIntents{captureErr: errors.New("card_declined")}
	c := &StripeClient{intents: f}

	if _, err := c.Charge(context.Background(), decimal.NewFromInt(3), "usd", "sess-2"); err == nil {
		t.Fatal("expected capture error")
	}
	if len(f.cancelled) != 1 || f.cancelled[0] != "pi_1" {
		t.Fatalf("hold not released: %v", f.cancelled)
	}
}

func TestChargeRejectsZeroAmount(t *testing.T) {
	f := &fakeIntents{}
	c := &StripeClient{intents: f}
	if _, err := c.Charge(context.Background(), decimal.Zero, "usd", "sess-3"); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if len(f.created) != 0 {
		t.Fatal("no intent should be created")
	}
}
