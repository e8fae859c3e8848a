package bus

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds redelivery of a failing message. Once MaxAttempts is spent the driver
// dead-letters the message and acknowledges it.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialInterval: 200 * time.Millisecond, MaxInterval: 10 * time.Second}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	exp.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Process runs h until it succeeds or the policy gives up, stamping msg.Attempt each time.
// A non-nil result means the message should be dead-lettered, unless ctx is done.
func (p RetryPolicy) Process(ctx context.Context, h HandlerFunc, msg Message) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		msg.Attempt = attempt
		err := h(ctx, msg)
		if errors.Is(err, ErrMalformed) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
}
