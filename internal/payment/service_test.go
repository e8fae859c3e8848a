package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus/bustest"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/clock"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/events"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/payment"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/storage/memory"
)

const secret = "whsec_test"

type countingGateway struct {
	*payment.Sandbox
	mu    sync.Mutex
	calls int
}

func (g *countingGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency, orderID string) (payment.Intent, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.Sandbox.CreateIntent(ctx, amount, currency, orderID)
}

func (g *countingGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fixture struct {
	svc   *payment.Service
	repo  *memory.PaymentStore
	gw    *countingGateway
	rec   *bustest.Recorder
	clock *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  memory.NewPaymentStore(),
		gw:    &countingGateway{Sandbox: payment.NewSandbox(secret)},
		rec:   &bustest.Recorder{},
		clock: clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.svc = payment.NewService(f.repo, f.gw, bus.NewEmitter(f.rec, "payment"), f.clock, zap.NewNop(), secret)
	return f
}

func command(orderID string) events.CreatePaymentCommand {
	return events.CreatePaymentCommand{
		OrderID:  orderID,
		UserID:   "u-1",
		StoreID:  "s-1",
		Amount:   decimal.RequireFromString("42.50"),
		Currency: "USD",
	}
}

func (f *fixture) webhook(t *testing.T, eventID, typ, intentID string) error {
	t.Helper()
	body, sig := f.gw.Webhook(eventID, typ, intentID, f.clock.Now())
	return f.svc.HandleWebhook(context.Background(), body, sig)
}

func TestCreatePaymentOpensIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.CreatePayment(ctx, command("o-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	p, err := f.svc.GetPayment(ctx, "o-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Status != payment.StatusRequiresConfirmation || p.IntentID == "" || p.ClientSecret == "" {
		t.Fatalf("unexpected payment %+v", p)
	}
	if !p.Amount.Equal(decimal.RequireFromString("42.5")) {
		t.Fatalf("expected amount 42.5, got %s", p.Amount)
	}
	if len(f.rec.Messages()) != 0 {
		t.Fatalf("nothing should be published before the webhook")
	}
}

func TestCreatePaymentIdempotencyGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.CreatePayment(ctx, command("o-1")); err != nil {
		t.Fatal(err)
	}
	first, _ := f.svc.GetPayment(ctx, "o-1")

	t.Run("open intent is not recreated", func(t *testing.T) {
		if err := f.svc.CreatePayment(ctx, command("o-1")); err != nil {
			t.Fatal(err)
		}
		if f.gw.Calls() != 1 {
			t.Fatalf("expected 1 gateway call, got %d", f.gw.Calls())
		}
		again, _ := f.svc.GetPayment(ctx, "o-1")
		if again.ID != first.ID || again.IntentID != first.IntentID {
			t.Fatalf("payment changed: %+v vs %+v", again, first)
		}
	})

	t.Run("succeeded payment is never charged again", func(t *testing.T) {
		if err := f.webhook(t, "evt-1", payment.EventIntentSucceeded, first.IntentID); err != nil {
			t.Fatal(err)
		}
		if err := f.svc.CreatePayment(ctx, command("o-1")); err != nil {
			t.Fatal(err)
		}
		if f.gw.Calls() != 1 {
			t.Fatalf("expected 1 gateway call, got %d", f.gw.Calls())
		}
		if n := len(f.repo.Attempts("o-1")); n != 1 {
			t.Fatalf("expected one payment row, got %d", n)
		}
	})
}

func TestGatewayFailureIsRecordedNotPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.FailNext(errors.New("connection reset"))

	if err := f.svc.CreatePayment(ctx, command("o-1")); err != nil {
		t.Fatalf("gateway failure should not fail the handler, got %v", err)
	}
	p, _ := f.svc.GetPayment(ctx, "o-1")
	if p.Status != payment.StatusFailed || p.FailureMessage == "" {
		t.Fatalf("expected failed payment, got %+v", p)
	}
	if len(f.rec.Messages()) != 0 {
		t.Fatalf("gateway failure must not publish")
	}

	// a redelivered command waits for an operator decision
	if err := f.svc.CreatePayment(ctx, command("o-1")); err != nil {
		t.Fatal(err)
	}
	if f.gw.Calls() != 1 {
		t.Fatalf("expected no new gateway call, got %d", f.gw.Calls())
	}

	t.Run("retry supersedes the failed attempt", func(t *testing.T) {
		next, err := f.svc.RetryPayment(ctx, "o-1")
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if next.ID == p.ID || next.Status != payment.StatusRequiresConfirmation {
			t.Fatalf("unexpected retry result %+v", next)
		}
		attempts := f.repo.Attempts("o-1")
		if len(attempts) != 2 {
			t.Fatalf("expected 2 attempts, got %d", len(attempts))
		}
		for _, a := range attempts {
			if a.ID == p.ID && !a.Superseded {
				t.Fatalf("old attempt should be superseded")
			}
		}
	})

	t.Run("retry refuses an open intent", func(t *testing.T) {
		if _, err := f.svc.RetryPayment(ctx, "o-1"); !errors.Is(err, payment.ErrNotRetryable) {
			t.Fatalf("expected ErrNotRetryable, got %v", err)
		}
	})
}

func TestWebhookOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		status  payment.Status
		publish string
	}{
		{"succeeded", payment.EventIntentSucceeded, payment.StatusSucceeded, events.PaymentSucceeded},
		{"failed", payment.EventIntentFailed, payment.StatusFailed, events.PaymentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if err := f.svc.CreatePayment(ctx, command("o-1")); err != nil {
				t.Fatal(err)
			}
			p, _ := f.svc.GetPayment(ctx, "o-1")

			if err := f.webhook(t, "evt-1", tt.typ, p.IntentID); err != nil {
				t.Fatalf("webhook: %v", err)
			}
			got, _ := f.svc.GetPayment(ctx, "o-1")
			if got.Status != tt.status {
				t.Fatalf("expected %s, got %s", tt.status, got.Status)
			}
			if n := len(f.rec.ByKey(tt.publish)); n != 1 {
				t.Fatalf("expected one %s, got %d", tt.publish, n)
			}

			// a redelivered webhook with a new event id republishes the same outcome
			if err := f.webhook(t, "evt-2", tt.typ, p.IntentID); err != nil {
				t.Fatal(err)
			}
			if n := len(f.rec.ByKey(tt.publish)); n != 2 {
				t.Fatalf("expected republish, got %d", n)
			}
		})
	}
}

func TestWebhookSuccessPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.CreatePayment(ctx, command("o-9"))
	p, _ := f.svc.GetPayment(ctx, "o-9")

	if err := f.webhook(t, "evt-1", payment.EventIntentSucceeded, p.IntentID); err != nil {
		t.Fatal(err)
	}
	got := bustest.Payloads[events.PaymentSucceededEvent](t, f.rec, events.PaymentSucceeded)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	e := got[0]
	if e.OrderID != "o-9" || e.PaymentID != p.ID || e.IntentID != p.IntentID || e.Currency != "USD" {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestWebhookRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.CreatePayment(ctx, command("o-1"))
	p, _ := f.svc.GetPayment(ctx, "o-1")
	body, sig := f.gw.Webhook("evt-1", payment.EventIntentSucceeded, p.IntentID, f.clock.Now())

	t.Run("tampered body", func(t *testing.T) {
		tampered := append([]byte(nil), body...)
		tampered[len(tampered)-2] = 'x'
		err := f.svc.HandleWebhook(ctx, tampered, sig)
		if !errors.Is(err, payment.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old, oldSig := f.gw.Webhook("evt-1", payment.EventIntentSucceeded, p.IntentID, f.clock.Now().Add(-10*time.Minute))
		if err := f.svc.HandleWebhook(ctx, old, oldSig); !errors.Is(err, payment.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("unknown intent", func(t *testing.T) {
		err := f.webhook(t, "evt-3", payment.EventIntentSucceeded, "pi_unknown")
		if !errors.Is(err, payment.ErrPaymentNotFound) {
			t.Fatalf("expected ErrPaymentNotFound, got %v", err)
		}
	})

	if len(f.rec.Messages()) != 0 {
		t.Fatalf("rejected webhooks must not publish")
	}
}

func TestWebhookConflictingOutcomeIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.CreatePayment(ctx, command("o-1"))
	p, _ := f.svc.GetPayment(ctx, "o-1")

	if err := f.webhook(t, "evt-1", payment.EventIntentSucceeded, p.IntentID); err != nil {
		t.Fatal(err)
	}
	if err := f.webhook(t, "evt-2", payment.EventIntentFailed, p.IntentID); err != nil {
		t.Fatal(err)
	}
	got, _ := f.svc.GetPayment(ctx, "o-1")
	if got.Status != payment.StatusSucceeded {
		t.Fatalf("succeeded payment must stay succeeded, got %s", got.Status)
	}
	if len(f.rec.ByKey(events.PaymentFailed)) != 0 {
		t.Fatalf("no failure may be published after success")
	}
}

func TestAbandonPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.FailNext(errors.New("connection reset"))
	_ = f.svc.CreatePayment(ctx, command("o-1"))

	p, err := f.svc.AbandonPayment(ctx, "o-1", "customer left")
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if p.Status != payment.StatusFailed {
		t.Fatalf("expected FAILED, got %s", p.Status)
	}
	failed := bustest.Payloads[events.PaymentFailedEvent](t, f.rec, events.PaymentFailed)
	if len(failed) != 1 || failed[0].Reason != "customer left" {
		t.Fatalf("unexpected events %+v", failed)
	}

	if _, err := f.svc.AbandonPayment(ctx, "unknown", ""); !errors.Is(err, payment.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestAbandonOpenIntentIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.CreatePayment(ctx, command("o-1"))
	p, _ := f.svc.GetPayment(ctx, "o-1")

	if _, err := f.svc.AbandonPayment(ctx, "o-1", "customer left"); !errors.Is(err, payment.ErrIntentOpen) {
		t.Fatalf("expected ErrIntentOpen, got %v", err)
	}
	if n := len(f.rec.Messages()); n != 0 {
		t.Fatalf("a refused abandon must not publish, got %d", n)
	}

	// the customer can still pay, and the saga hears about it
	if err := f.webhook(t, "evt-1", payment.EventIntentSucceeded, p.IntentID); err != nil {
		t.Fatal(err)
	}
	got, _ := f.svc.GetPayment(ctx, "o-1")
	if got.Status != payment.StatusSucceeded || len(f.rec.ByKey(events.PaymentSucceeded)) != 1 {
		t.Fatalf("expected the charge to reach the saga, got %s", got.Status)
	}
}

// stallingGateway holds the first CreateIntent call until release is closed.
type stallingGateway struct {
	*payment.Sandbox
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	calls   int
	intents []payment.Intent
}

func newStallingGateway() *stallingGateway {
	return &stallingGateway{
		Sandbox: payment.NewSandbox(secret),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *stallingGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency, orderID string) (payment.Intent, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
		<-g.release
	}
	in, err := g.Sandbox.CreateIntent(ctx, amount, currency, orderID)
	if err == nil {
		g.mu.Lock()
		g.intents = append(g.intents, in)
		g.mu.Unlock()
	}
	return in, err
}

func (g *stallingGateway) lastIntent() payment.Intent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intents[len(g.intents)-1]
}

type stalledFixture struct {
	*fixture
	gw      *stallingGateway
	stalled chan error
}

// newStalledFixture starts a CreatePayment for o-1 that is stuck inside the gateway.
func newStalledFixture(t *testing.T) *stalledFixture {
	t.Helper()
	f := &stalledFixture{
		fixture: newFixture(t),
		gw:      newStallingGateway(),
		stalled: make(chan error, 1),
	}
	f.svc = payment.NewService(f.repo, f.gw, bus.NewEmitter(f.rec, "payment"), f.clock, zap.NewNop(), secret)
	go func() { f.stalled <- f.svc.CreatePayment(context.Background(), command("o-1")) }()
	select {
	case <-f.gw.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first delivery never reached the gateway")
	}
	return f
}

func (f *stalledFixture) finishStalled(t *testing.T) {
	t.Helper()
	close(f.gw.release)
	select {
	case err := <-f.stalled:
		if err != nil {
			t.Fatalf("stalled delivery: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stalled delivery never finished")
	}
}

func (f *stalledFixture) signedWebhook(t *testing.T, eventID, typ, intentID string) error {
	t.Helper()
	body, sig := f.gw.Webhook(eventID, typ, intentID, f.clock.Now())
	return f.svc.HandleWebhook(context.Background(), body, sig)
}

func TestLateGatewayAnswerDoesNotReopenSucceededPayment(t *testing.T) {
	f := newStalledFixture(t)
	ctx := context.Background()

	// a redelivery opens the intent and the customer pays while the first delivery is stuck
	if err := f.svc.CreatePayment(ctx, command("o-1")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	p, _ := f.svc.GetPayment(ctx, "o-1")
	if err := f.signedWebhook(t, "evt-1", payment.EventIntentSucceeded, p.IntentID); err != nil {
		t.Fatal(err)
	}

	f.finishStalled(t)

	got, _ := f.svc.GetPayment(ctx, "o-1")
	if got.Status != payment.StatusSucceeded || got.IntentID != p.IntentID {
		t.Fatalf("succeeded payment was overwritten: %+v", got)
	}
	if n := len(f.rec.ByKey(events.PaymentSucceeded)); n != 1 {
		t.Fatalf("expected one success event, got %d", n)
	}
}

func TestLateGatewayAnswerDoesNotReviveAbandonedPayment(t *testing.T) {
	f := newStalledFixture(t)
	ctx := context.Background()

	if _, err := f.svc.AbandonPayment(ctx, "o-1", "gateway timed out"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	f.finishStalled(t)

	got, _ := f.svc.GetPayment(ctx, "o-1")
	if got.Status != payment.StatusFailed || got.IntentID != "" {
		t.Fatalf("abandoned payment was revived: %+v", got)
	}

	// the intent the provider opened late was never recorded, so its webhook finds nothing
	err := f.signedWebhook(t, "evt-1", payment.EventIntentSucceeded, f.gw.lastIntent().ID)
	if !errors.Is(err, payment.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
	if s, fl := len(f.rec.ByKey(events.PaymentSucceeded)), len(f.rec.ByKey(events.PaymentFailed)); s != 0 || fl != 1 {
		t.Fatalf("published succeeded=%d failed=%d, want 0 and 1", s, fl)
	}
}

func TestAbandonSucceededPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.svc.CreatePayment(ctx, command("o-1"))
	p, _ := f.svc.GetPayment(ctx, "o-1")
	_ = f.webhook(t, "evt-1", payment.EventIntentSucceeded, p.IntentID)

	if _, err := f.svc.AbandonPayment(ctx, "o-1", ""); !errors.Is(err, payment.ErrAlreadySucceeded) {
		t.Fatalf("expected ErrAlreadySucceeded, got %v", err)
	}
}

func TestSandboxAutoConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	done := make(chan struct{}, 1)
	f.gw.AutoConfirm(func(ctx context.Context, body []byte, sig string) error {
		// the sandbox signs with wall clock time
		err := payment.VerifySignature(secret, sig, body, time.Now(), time.Minute)
		if err == nil {
			done <- struct{}{}
		}
		return err
	}, time.Millisecond)

	if err := f.svc.CreatePayment(ctx, command("o-1")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sandbox never delivered a webhook")
	}
	f.gw.Wait()
}

func TestHandleCreatePaymentRejectsMalformed(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleCreatePayment(context.Background(), bus.Message{Body: []byte("{")})
	if !errors.Is(err, bus.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
