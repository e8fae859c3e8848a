package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/clock"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/events"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// GetActive returns the non-superseded payment of an order, locked, or nil.
	GetActive(ctx context.Context, orderID string) (*Payment, error)
	GetByIntent(ctx context.Context, intentID string) (Payment, error)
	// Create fails with ErrDuplicatePayment when the order already has an active payment.
	Create(ctx context.Context, p Payment) error
	Update(ctx context.Context, p Payment) error
}

const webhookConsumer = "payment.webhook"

type Service struct {
	repo      Repository
	gateway   Gateway
	emit      *bus.Emitter
	seen      bus.DedupStore
	clock     clock.Clock
	log       *zap.Logger
	secret    string
	tolerance time.Duration
}

type Option func(*Service)

// WithWebhookDedup skips provider events that were already processed.
func WithWebhookDedup(store bus.DedupStore) Option {
	return func(s *Service) {
		if store != nil {
			s.seen = store
		}
	}
}

func WithWebhookTolerance(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tolerance = d
		}
	}
}

func NewService(repo Repository, gw Gateway, emit *bus.Emitter, clk clock.Clock, log *zap.Logger, secret string, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		gateway:   gw,
		emit:      emit,
		seen:      noDedup{},
		clock:     clk,
		log:       log,
		secret:    secret,
		tolerance: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePayment opens an intent for the order unless one was already opened or paid. A
// failed gateway call is recorded and left for RetryPayment or AbandonPayment.
func (s *Service) CreatePayment(ctx context.Context, cmd events.CreatePaymentCommand) error {
	var (
		p    Payment
		skip string
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetActive(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		switch {
		case cur == nil:
			p = s.newAttempt(cmd)
			return s.repo.Create(ctx, p)
		case cur.Status == StatusSucceeded:
			skip = "already succeeded"
		case cur.IntentID != "":
			skip = "intent already open"
		case cur.Status == StatusFailed:
			skip = "previous attempt failed, waiting for retry or abandon"
		default:
			p = *cur
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create payment for order %s: %w", cmd.OrderID, err)
	}
	if skip != "" {
		s.log.Info("create payment skipped", zap.String("order_id", cmd.OrderID), zap.String("reason", skip))
		return nil
	}
	_, err = s.openIntent(ctx, p)
	return err
}

func (s *Service) newAttempt(cmd events.CreatePaymentCommand) Payment {
	now := s.clock.Now()
	return Payment{
		ID:        uuid.NewString(),
		OrderID:   cmd.OrderID,
		UserID:    cmd.UserID,
		StoreID:   cmd.StoreID,
		Amount:    cmd.Amount,
		Currency:  cmd.Currency,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// openIntent asks the gateway for an intent and records the answer on attempt p. The answer is
// only written while p is still the active, PENDING attempt without an intent: a redelivered
// command, a webhook or an abandon may have moved the row while the gateway call was in flight.
func (s *Service) openIntent(ctx context.Context, p Payment) (Payment, error) {
	intent, gwErr := s.gateway.CreateIntent(ctx, p.Amount, p.Currency, p.OrderID)

	var stale string
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetActive(ctx, p.OrderID)
		if err != nil {
			return err
		}
		switch {
		case cur == nil || cur.ID != p.ID:
			stale = "attempt superseded"
			return nil
		case cur.Status != StatusPending || cur.IntentID != "":
			stale = "attempt already " + string(cur.Status)
			p = *cur
			return nil
		}
		p = *cur
		p.UpdatedAt = s.clock.Now()
		if gwErr != nil {
			p.Status = StatusFailed
			p.FailureMessage = gwErr.Error()
		} else {
			p.Status = StatusRequiresConfirmation
			p.IntentID = intent.ID
			p.ClientSecret = intent.ClientSecret
		}
		return s.repo.Update(ctx, p)
	})
	if err != nil {
		return p, fmt.Errorf("store payment %s: %w", p.ID, err)
	}
	if stale != "" {
		s.log.Warn("gateway answer dropped",
			zap.String("order_id", p.OrderID), zap.String("payment_id", p.ID), zap.String("reason", stale))
		return p, nil
	}
	if gwErr != nil {
		s.log.Error("payment gateway failed", zap.String("order_id", p.OrderID), zap.String("payment_id", p.ID), zap.Error(gwErr))
		return p, nil
	}
	s.log.Info("payment intent created", zap.String("order_id", p.OrderID), zap.String("intent_id", p.IntentID))
	return p, nil
}

// HandleWebhook applies a provider callback and tells the saga about the outcome.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if err := VerifySignature(s.secret, signature, body, s.clock.Now(), s.tolerance); err != nil {
		return err
	}
	evt, err := parseWebhook(body)
	if err != nil {
		return err
	}
	if seen, err := s.seen.Seen(ctx, webhookConsumer, evt.ID); err == nil && seen {
		return nil
	}

	target := StatusSucceeded
	if evt.Type == EventIntentFailed {
		target = StatusFailed
	}

	var (
		p       Payment
		publish bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetByIntent(ctx, evt.Data.IntentID)
		if err != nil {
			return err
		}
		p = cur
		switch {
		case p.Status == target:
			publish = true
		case CanTransition(p.Status, target):
			p.Status = target
			p.FailureMessage = evt.Data.FailureMessage
			p.UpdatedAt = s.clock.Now()
			publish = true
			return s.repo.Update(ctx, p)
		default:
			s.log.Warn("webhook conflicts with payment state",
				zap.String("payment_id", p.ID), zap.String("status", string(p.Status)), zap.String("event", evt.Type))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("webhook %s: %w", evt.ID, err)
	}
	if publish && !p.Superseded {
		if err := s.publishOutcome(ctx, p); err != nil {
			return err
		}
	}
	if err := s.seen.Mark(ctx, webhookConsumer, evt.ID); err != nil {
		s.log.Warn("webhook dedup mark failed", zap.String("event_id", evt.ID), zap.Error(err))
	}
	return nil
}

func (s *Service) publishOutcome(ctx context.Context, p Payment) error {
	key := events.PartitionKey(p.OrderID)
	if p.Status == StatusSucceeded {
		return s.emit.Emit(ctx, events.PaymentSucceeded, key, events.PaymentSucceededEvent{
			OrderID: p.OrderID, PaymentID: p.ID, IntentID: p.IntentID, Amount: p.Amount, Currency: p.Currency,
		})
	}
	return s.emit.Emit(ctx, events.PaymentFailed, key, events.PaymentFailedEvent{
		OrderID: p.OrderID, PaymentID: p.ID, Reason: p.FailureMessage,
	})
}

// RetryPayment starts a new attempt after the gateway failed to open an intent.
func (s *Service) RetryPayment(ctx context.Context, orderID string) (Payment, error) {
	var next Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetActive(ctx, orderID)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrPaymentNotFound
		}
		if cur.Status != StatusFailed || cur.IntentID != "" {
			return fmt.Errorf("%w: status %s", ErrNotRetryable, cur.Status)
		}
		cur.Superseded = true
		cur.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, *cur); err != nil {
			return err
		}
		next = s.newAttempt(events.CreatePaymentCommand{
			OrderID: cur.OrderID, UserID: cur.UserID, StoreID: cur.StoreID, Amount: cur.Amount, Currency: cur.Currency,
		})
		return s.repo.Create(ctx, next)
	})
	if err != nil {
		return Payment{}, err
	}
	return s.openIntent(ctx, next)
}

// AbandonPayment gives up on collecting the order and lets the saga cancel it. It resolves an
// attempt the gateway never opened an intent for; an open intent is settled by its webhook.
func (s *Service) AbandonPayment(ctx context.Context, orderID, reason string) (Payment, error) {
	if reason == "" {
		reason = "abandoned"
	}
	var p Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetActive(ctx, orderID)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrPaymentNotFound
		}
		p = *cur
		switch {
		case p.Status == StatusSucceeded:
			return ErrAlreadySucceeded
		case p.IntentID != "":
			return fmt.Errorf("%w: intent %s is %s", ErrIntentOpen, p.IntentID, p.Status)
		}
		p.Status = StatusFailed
		p.FailureMessage = reason
		p.UpdatedAt = s.clock.Now()
		return s.repo.Update(ctx, p)
	})
	if err != nil {
		return Payment{}, err
	}
	s.log.Info("payment abandoned", zap.String("order_id", orderID), zap.String("reason", p.FailureMessage))
	return p, s.publishOutcome(ctx, p)
}

func (s *Service) GetPayment(ctx context.Context, orderID string) (Payment, error) {
	var p *Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetActive(ctx, orderID)
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	if p == nil {
		return Payment{}, ErrPaymentNotFound
	}
	return *p, nil
}

// Routes binds the payment side of the saga.
func (s *Service) Routes() []bus.Route {
	return []bus.Route{
		{Binding: bus.Binding{RoutingKey: events.CreatePayment, Queue: "payment.create-payment"}, Handler: s.HandleCreatePayment},
	}
}

func (s *Service) HandleCreatePayment(ctx context.Context, msg bus.Message) error {
	_, cmd, err := bus.Decode[events.CreatePaymentCommand](msg)
	if err != nil {
		return err
	}
	return s.CreatePayment(ctx, cmd)
}

type noDedup struct{}

func (noDedup) Seen(context.Context, string, string) (bool, error) { return false, nil }
func (noDedup) Mark(context.Context, string, string) error         { return nil }
