package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"

	guardpkg "github.com/lunamail/billing-backend/internal/webhooks"
)

func TestStripeWebhook_AcksThenProcesses(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := newFakeStripeWebhookService(nil)
	store := newInMemoryStore()
	guard, err := guardpkg.NewIdempotencyGuard(store, time.Minute, "stripe")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); !bytes.Contains([]byte(body), []byte(`"received":true`)) {
		t.Fatalf("expected received ack, got %s", body)
	}

	service.waitForCall(t)
	if got := service.callCount(); got != 1 {
		t.Fatalf("expected service called once, got %d", got)
	}

	// replay the same delivery
	req2 := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req2.Header.Set("Stripe-Signature", header)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if got := service.callCount(); got != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", got)
	}
}

func TestStripeWebhook_InvalidSignatureRejected(t *testing.T) {
	payload, _ := buildSignedEvent(t)
	service := newFakeStripeWebhookService(nil)
	store := newInMemoryStore()
	guard, err := guardpkg.NewIdempotencyGuard(store, time.Minute, "stripe")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=invalid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %d", rec.Code)
	}
	if got := service.callCount(); got != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestStripeWebhook_ProcessingFailureReleasesMark(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := newFakeStripeWebhookService(fmt.Errorf("boom"))
	store := newInMemoryStore()
	guard, err := guardpkg.NewIdempotencyGuard(store, time.Minute, "stripe")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failure must not change the ack, got %d", rec.Code)
	}

	service.waitForCall(t)

	// the mark is dropped so the redelivery gets processed again
	deadline := time.Now().Add(2 * time.Second)
	for store.size() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected idempotency mark to be released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func buildSignedEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	subscription := &stripe.Subscription{
		ID:     "sub_" + uuid.NewString(),
		Status: stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{
			ID: "cus_" + uuid.NewString(),
		},
	}
	rawSub, err := json.Marshal(subscription)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	event := &stripe.Event{
		ID:     "evt_" + uuid.NewString(),
		Type:   "customer.subscription.created",
		Object: "event",
		Data: &stripe.EventData{
			Raw: rawSub,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	header := buildStripeSignatureHeader(payload, "whsec_test", time.Now().Unix())
	return payload, header
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeStripeWebhookService struct {
	mu     sync.Mutex
	calls  int
	err    error
	called chan struct{}
}

func newFakeStripeWebhookService(err error) *fakeStripeWebhookService {
	return &fakeStripeWebhookService{
		err:    err,
		called: make(chan struct{}, 8),
	}
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.called <- struct{}{}
	return f.err
}

func (f *fakeStripeWebhookService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStripeWebhookService) waitForCall(t *testing.T) {
	t.Helper()
	select {
	case <-f.called:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event processing")
	}
}

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		data: make(map[string]string),
	}
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *inMemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
