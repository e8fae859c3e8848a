package httpx

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/payment"
)

type fakePayments struct {
	p         payment.Payment
	err       error
	signature string
	body      string
	reason    string
}

func (f *fakePayments) HandleWebhook(_ context.Context, body []byte, signature string) error {
	f.body, f.signature = string(body), signature
	return f.err
}

func (f *fakePayments) RetryPayment(context.Context, string) (payment.Payment, error) {
	return f.p, f.err
}

func (f *fakePayments) AbandonPayment(_ context.Context, _ string, reason string) (payment.Payment, error) {
	f.reason = reason
	return f.p, f.err
}

func (f *fakePayments) GetPayment(context.Context, string) (payment.Payment, error) {
	return f.p, f.err
}

func TestWebhookEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"stored", nil, http.StatusNoContent},
		{"bad signature", fmt.Errorf("%w: no matching signature", payment.ErrInvalidSignature), http.StatusUnauthorized},
		{"bad payload", payment.ErrInvalidWebhook, http.StatusBadRequest},
		{"intent not stored yet", payment.ErrPaymentNotFound, http.StatusNotFound},
		{"database down", fmt.Errorf("webhook evt: %w", context.DeadlineExceeded), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakePayments{err: tt.err}
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set(payment.SignatureHeader, "t=1,v1=abc")
			rec := do(NewPaymentsHandler(fake, zap.NewNop()), req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d (%s)", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if fake.signature != "t=1,v1=abc" || fake.body != `{"id":"evt_1"}` {
				t.Fatalf("handler got %q %q", fake.signature, fake.body)
			}
		})
	}
}

func TestPaymentOperations(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		err            error
		expectedStatus int
	}{
		{"get", http.MethodGet, "/payments/o-1", "", nil, http.StatusOK},
		{"get missing", http.MethodGet, "/payments/o-1", "", payment.ErrPaymentNotFound, http.StatusNotFound},
		{"retry", http.MethodPost, "/payments/o-1/retry", "", nil, http.StatusAccepted},
		{"retry open intent", http.MethodPost, "/payments/o-1/retry", "", payment.ErrNotRetryable, http.StatusConflict},
		{"abandon", http.MethodPost, "/payments/o-1/abandon", `{"reason":"customer left"}`, nil, http.StatusOK},
		{"abandon without body", http.MethodPost, "/payments/o-1/abandon", "", nil, http.StatusOK},
		{"abandon paid", http.MethodPost, "/payments/o-1/abandon", "", payment.ErrAlreadySucceeded, http.StatusConflict},
		{"abandon open intent", http.MethodPost, "/payments/o-1/abandon", "", payment.ErrIntentOpen, http.StatusConflict},
		{"abandon bad json", http.MethodPost, "/payments/o-1/abandon", `{"reason":`, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakePayments{p: payment.Payment{ID: "pay-1", OrderID: "o-1"}, err: tt.err}
			rec := do(NewPaymentsHandler(fake, zap.NewNop()), httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d (%s)", tt.expectedStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAbandonPassesReason(t *testing.T) {
	fake := &fakePayments{}
	req := httptest.NewRequest(http.MethodPost, "/payments/o-1/abandon", strings.NewReader(`{"reason":"customer left"}`))
	do(NewPaymentsHandler(fake, zap.NewNop()), req)
	if fake.reason != "customer left" {
		t.Fatalf("expected reason to be passed, got %q", fake.reason)
	}
}
