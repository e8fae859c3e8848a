package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Intent struct {
	ID           string
	ClientSecret string
}

// Gateway is the payment provider. The order id is passed as the provider side idempotency
// key, so asking twice for the same order yields the same open intent.
type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency, orderID string) (Intent, error)
}

// WebhookSink receives signed provider callbacks.
type WebhookSink func(ctx context.Context, body []byte, signature string) error

// Sandbox is a local stand-in for the provider. With a sink and AutoConfirm it confirms every
// intent shortly after creating it, by posting a signed webhook the way the provider would.
type Sandbox struct {
	secret string
	delay  time.Duration

	mu       sync.Mutex
	intents  map[string]Intent // order id -> open intent
	failNext error
	sink     WebhookSink
	decline  map[string]bool // order ids whose confirmation fails
	wg       sync.WaitGroup
}

func NewSandbox(secret string) *Sandbox {
	return &Sandbox{secret: secret, delay: 50 * time.Millisecond, intents: map[string]Intent{}, decline: map[string]bool{}}
}

// AutoConfirm makes the sandbox deliver a webhook for each new intent.
func (s *Sandbox) AutoConfirm(sink WebhookSink, delay time.Duration) {
	s.mu.Lock()
	s.sink = sink
	if delay > 0 {
		s.delay = delay
	}
	s.mu.Unlock()
}

// FailNext makes the next CreateIntent call return err.
func (s *Sandbox) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Decline makes auto confirmation report a failed charge for orderID.
func (s *Sandbox) Decline(orderID string) {
	s.mu.Lock()
	s.decline[orderID] = true
	s.mu.Unlock()
}

func (s *Sandbox) CreateIntent(_ context.Context, amount decimal.Decimal, currency, orderID string) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return Intent{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if !amount.IsPositive() {
		return Intent{}, fmt.Errorf("amount must be positive, got %s %s", amount, currency)
	}
	if in, ok := s.intents[orderID]; ok {
		return in, nil
	}
	id := "pi_" + uuid.NewString()
	in := Intent{ID: id, ClientSecret: id + "_secret_" + uuid.NewString()[:8]}
	s.intents[orderID] = in

	if s.sink != nil {
		typ := EventIntentSucceeded
		if s.decline[orderID] {
			typ = EventIntentFailed
		}
		s.wg.Add(1)
		go s.confirm(in.ID, typ, s.sink, s.delay)
	}
	return in, nil
}

func (s *Sandbox) confirm(intentID, typ string, sink WebhookSink, delay time.Duration) {
	defer s.wg.Done()
	time.Sleep(delay)

	body, sig := s.Webhook(uuid.NewString(), typ, intentID, time.Now())
	// the provider retries until it gets a 2xx
	for i := 0; i < 5; i++ {
		if err := sink(context.Background(), body, sig); err == nil {
			return
		}
		time.Sleep(delay)
	}
}

// Webhook builds a signed webhook body the way the provider sends it.
func (s *Sandbox) Webhook(eventID, typ, intentID string, at time.Time) (body []byte, signature string) {
	evt := WebhookEvent{ID: eventID, Type: typ}
	evt.Data.IntentID = intentID
	if typ == EventIntentFailed {
		evt.Data.FailureMessage = "card_declined"
	}
	body, _ = json.Marshal(evt)
	return body, Sign(s.secret, at, body)
}

// Wait blocks until every pending auto confirmation was delivered.
func (s *Sandbox) Wait() { s.wg.Wait() }
