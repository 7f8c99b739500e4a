package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brightsales/webhook-service/internal/domain"
)

func TestBuildHeaders(t *testing.T) {
	payload := []byte(`{"event":"opportunity.won"}`)

	t.Run("reserved headers set", func(t *testing.T) {
		sub := domain.Subscription{ID: "sub-1", Secret: "secret"}
		h := BuildHeaders(sub, domain.EventOpportunityWon, "del-1", payload)

		if h.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", h.Get("Content-Type"))
		}
		if h.Get(HeaderEvent) != domain.EventOpportunityWon {
			t.Errorf("event header = %q", h.Get(HeaderEvent))
		}
		if h.Get(HeaderDelivery) != "del-1" {
			t.Errorf("delivery header = %q", h.Get(HeaderDelivery))
		}
		if h.Get(HeaderSignature) != Sign(payload, "secret") {
			t.Errorf("signature header = %q", h.Get(HeaderSignature))
		}
	})

	t.Run("no secret omits signature header", func(t *testing.T) {
		sub := domain.Subscription{ID: "sub-1"}
		h := BuildHeaders(sub, domain.EventOpportunityWon, "del-1", payload)

		if _, ok := h[HeaderSignature]; ok {
			t.Error("signature header must be absent when no secret is configured")
		}
	})

	t.Run("custom headers merged", func(t *testing.T) {
		sub := domain.Subscription{
			ID: "sub-1",
			CustomHeaders: map[string]string{
				"Authorization": "Bearer tok",
				"X-Tenant-Id":   "acme",
			},
		}
		h := BuildHeaders(sub, domain.EventOpportunityWon, "del-1", payload)

		if h.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", h.Get("Authorization"))
		}
		if h.Get("X-Tenant-Id") != "acme" {
			t.Errorf("X-Tenant-Id = %q", h.Get("X-Tenant-Id"))
		}
	})

	t.Run("custom headers cannot clobber reserved ones", func(t *testing.T) {
		sub := domain.Subscription{
			ID:     "sub-1",
			Secret: "secret",
			CustomHeaders: map[string]string{
				"content-type":            "text/plain",
				"x-webhook-signature-256": "sha256=forged",
				"X-Webhook-Event":         "spoofed.event",
			},
		}
		h := BuildHeaders(sub, domain.EventOpportunityWon, "del-1", payload)

		if h.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type clobbered: %q", h.Get("Content-Type"))
		}
		if h.Get(HeaderSignature) != Sign(payload, "secret") {
			t.Errorf("signature clobbered: %q", h.Get(HeaderSignature))
		}
		if h.Get(HeaderEvent) != domain.EventOpportunityWon {
			t.Errorf("event header clobbered: %q", h.Get(HeaderEvent))
		}
	})
}

func newTestDeliverer(ledger Ledger) *Deliverer {
	return NewDeliverer(NewTransport(), ledger, nil, nil, nil, testLogger())
}

func storedDelivery(sub domain.Subscription, attempt int) domain.Delivery {
	return domain.Delivery{
		ID:             "del-1",
		SubscriptionID: sub.ID,
		Event:          domain.EventOpportunityWon,
		Payload:        json.RawMessage(`{"event":"opportunity.won","data":{}}`),
		Status:         domain.StatusPending,
		Attempt:        attempt,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestAttempt_FailureSchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	sub := testSubscription(server.URL, "", domain.EventOpportunityWon)
	sub.RetryCount = 3
	del := storedDelivery(sub, 1)

	ledger := newMemLedger()
	ledger.CreateDelivery(context.Background(), del)

	before := time.Now().UTC()
	newTestDeliverer(ledger).Attempt(context.Background(), sub, del, 1)

	got := ledger.all()[0]
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", got.Attempt)
	}
	if got.ResponseCode == nil || *got.ResponseCode != http.StatusServiceUnavailable {
		t.Errorf("response code = %v, want 503", got.ResponseCode)
	}
	if got.Error == nil || !strings.HasPrefix(*got.Error, "HTTP 503:") {
		t.Errorf("error = %v, want HTTP 503 prefix", got.Error)
	}
	if got.NextRetryAt == nil {
		t.Fatal("next retry not scheduled")
	}
	// First failure backs off 2^1 minutes.
	delay := got.NextRetryAt.Sub(before)
	if delay < 119*time.Second || delay > 121*time.Second {
		t.Errorf("retry delay = %v, want ~2m", delay)
	}
}

func TestAttempt_SuccessDoesNotBumpAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := testSubscription(server.URL, "", domain.EventOpportunityWon)
	del := storedDelivery(sub, 2)
	retryAt := time.Now().UTC().Add(4 * time.Minute)
	del.Status = domain.StatusFailed
	del.NextRetryAt = &retryAt

	ledger := newMemLedger()
	ledger.CreateDelivery(context.Background(), del)

	newTestDeliverer(ledger).Attempt(context.Background(), sub, del, 3)

	got := ledger.all()[0]
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q, want success", got.Status)
	}
	// The attempt counter records failed sends only; a retry that succeeds
	// leaves it at the last failure's value.
	if got.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", got.Attempt)
	}
	if got.DeliveredAt == nil {
		t.Error("delivered_at not set")
	}
	if got.NextRetryAt != nil {
		t.Error("next_retry_at should be cleared on success")
	}
}

func TestAttempt_ExhaustionStopsScheduling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := testSubscription(server.URL, "", domain.EventOpportunityWon)
	sub.RetryCount = 3
	del := storedDelivery(sub, 2)

	ledger := newMemLedger()
	ledger.CreateDelivery(context.Background(), del)

	// Third and final attempt for a retry count of 3.
	newTestDeliverer(ledger).Attempt(context.Background(), sub, del, 3)

	got := ledger.all()[0]
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", got.Attempt)
	}
	if got.NextRetryAt != nil {
		t.Errorf("exhausted delivery must not schedule a retry, got %v", got.NextRetryAt)
	}
}

func TestAttempt_ErrorBodyTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer server.Close()

	sub := testSubscription(server.URL, "", domain.EventOpportunityWon)
	del := storedDelivery(sub, 1)

	ledger := newMemLedger()
	ledger.CreateDelivery(context.Background(), del)

	newTestDeliverer(ledger).Attempt(context.Background(), sub, del, 1)

	got := ledger.all()[0]
	if got.ResponseBody == nil {
		t.Fatal("response body not recorded")
	}
	if len(*got.ResponseBody) > MaxResponseBytes {
		t.Errorf("response body length = %d, want <= %d", len(*got.ResponseBody), MaxResponseBytes)
	}
}

func TestAttempt_TimeoutRecordedAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := testSubscription(server.URL, "", domain.EventOpportunityWon)
	sub.TimeoutSeconds = 1
	del := storedDelivery(sub, 1)

	ledger := newMemLedger()
	ledger.CreateDelivery(context.Background(), del)

	newTestDeliverer(ledger).Attempt(context.Background(), sub, del, 1)

	got := ledger.all()[0]
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.ResponseCode != nil {
		t.Errorf("timeout should record no response code, got %v", got.ResponseCode)
	}
	if got.Error == nil || *got.Error == "" {
		t.Error("timeout should record an error")
	}
	if got.NextRetryAt == nil {
		t.Error("timeout failure should schedule a retry")
	}
}
