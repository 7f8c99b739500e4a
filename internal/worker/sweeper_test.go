package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/brightsales/webhook-service/internal/domain"
	"github.com/brightsales/webhook-service/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeStore is an in-memory ledger implementing both the deliverer's write
// interface and the sweeper's claim interface.
type fakeStore struct {
	mu         sync.Mutex
	deliveries map[string]*domain.Delivery
	subs       map[string]domain.Subscription
	claimErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deliveries: make(map[string]*domain.Delivery),
		subs:       make(map[string]domain.Subscription),
	}
}

func (f *fakeStore) CreateDelivery(_ context.Context, d domain.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := d
	f.deliveries[d.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateDelivery(_ context.Context, id string, patch domain.DeliveryPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return fmt.Errorf("delivery %s not found", id)
	}
	if patch.Status != nil {
		d.Status = *patch.Status
	}
	if patch.Attempt != nil {
		d.Attempt = *patch.Attempt
	}
	if patch.ResponseCode != nil {
		d.ResponseCode = patch.ResponseCode
	}
	if patch.ResponseBody != nil {
		d.ResponseBody = patch.ResponseBody
	}
	if patch.Error != nil {
		d.Error = patch.Error
	}
	if patch.DeliveredAt != nil {
		d.DeliveredAt = patch.DeliveredAt
	}
	if patch.NextRetryAt != nil {
		d.NextRetryAt = patch.NextRetryAt
	} else if patch.ClearNextRetryAt {
		d.NextRetryAt = nil
	}
	return nil
}

// ClaimDueRetries mimics the atomic claim: due failed rows flip to pending
// and are returned joined with their subscription.
func (f *fakeStore) ClaimDueRetries(_ context.Context, limit int) ([]domain.DueDelivery, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	var out []domain.DueDelivery
	for _, d := range f.deliveries {
		if len(out) >= limit {
			break
		}
		if d.Status != domain.StatusFailed || d.NextRetryAt == nil || d.NextRetryAt.After(now) {
			continue
		}
		sub, ok := f.subs[d.SubscriptionID]
		if !ok || !sub.Active {
			continue
		}
		d.Status = domain.StatusPending
		out = append(out, domain.DueDelivery{Delivery: *d, Subscription: sub})
	}
	return out, nil
}

func (f *fakeStore) get(id string) domain.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.deliveries[id]
}

func seedSubscription(f *fakeStore, url string) domain.Subscription {
	sub := domain.Subscription{
		ID:             "sub-1",
		Name:           "retry target",
		URL:            url,
		Events:         []string{domain.EventOpportunityWon},
		Active:         true,
		RetryCount:     3,
		TimeoutSeconds: 5,
	}
	f.subs[sub.ID] = sub
	return sub
}

func seedDelivery(f *fakeStore, sub domain.Subscription, attempt int, retryAt *time.Time) domain.Delivery {
	d := domain.Delivery{
		ID:             "del-1",
		SubscriptionID: sub.ID,
		Event:          domain.EventOpportunityWon,
		Payload:        json.RawMessage(`{"event":"opportunity.won","data":{"opportunityId":"op_1"}}`),
		Status:         domain.StatusFailed,
		Attempt:        attempt,
		NextRetryAt:    retryAt,
		CreatedAt:      time.Now().UTC(),
	}
	f.CreateDelivery(context.Background(), d)
	return d
}

func newTestSweeper(store *fakeStore) *Sweeper {
	logger := testLogger()
	deliverer := engine.NewDeliverer(engine.NewTransport(), store, nil, nil, nil, logger)
	return NewSweeper(store, deliverer, 2, time.Minute, 10, logger)
}

func TestSweeper_ExhaustedFinalizedWithoutSend(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := newFakeStore()
	sub := seedSubscription(store, server.URL)
	past := time.Now().UTC().Add(-time.Minute)
	del := seedDelivery(store, sub, 3, &past)

	s := newTestSweeper(store)
	s.process(context.Background(), domain.DueDelivery{Delivery: del, Subscription: sub})

	got := store.get(del.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.NextRetryAt != nil {
		t.Error("finalized delivery must have no retry scheduled")
	}
	if hits != 0 {
		t.Errorf("exhausted delivery must not touch the endpoint, got %d requests", hits)
	}
}

func TestSweeper_FailedRetryIncrementsAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := newFakeStore()
	sub := seedSubscription(store, server.URL)
	past := time.Now().UTC().Add(-time.Minute)
	del := seedDelivery(store, sub, 1, &past)

	before := time.Now().UTC()
	s := newTestSweeper(store)
	s.process(context.Background(), domain.DueDelivery{Delivery: del, Subscription: sub})

	got := store.get(del.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", got.Attempt)
	}
	if got.NextRetryAt == nil {
		t.Fatal("retry not rescheduled")
	}
	// Second failure backs off 2^2 minutes.
	delay := got.NextRetryAt.Sub(before)
	if delay < 239*time.Second || delay > 241*time.Second {
		t.Errorf("retry delay = %v, want ~4m", delay)
	}
}

// Exercises the full lifecycle of a delivery against a flaky endpoint:
// initial send fails, first retry fails, second retry succeeds. Verifies
// attempt accounting, backoff growth, and that every attempt resends the
// original payload byte for byte under the same signature.
func TestSweeper_RetryLifecycle(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	var signatures []string
	responses := []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		signatures = append(signatures, r.Header.Get("X-Webhook-Signature-256"))
		code := responses[len(bodies)-1]
		mu.Unlock()
		w.WriteHeader(code)
	}))
	defer server.Close()

	store := newFakeStore()
	sub := seedSubscription(store, server.URL)
	sub.Secret = "whsec_lifecycle"
	store.subs[sub.ID] = sub

	del := domain.Delivery{
		ID:             "del-1",
		SubscriptionID: sub.ID,
		Event:          domain.EventOpportunityWon,
		Payload:        json.RawMessage(`{"event":"opportunity.won","data":{"opportunityId":"op_1","amount":5000}}`),
		Status:         domain.StatusPending,
		Attempt:        1,
		CreatedAt:      time.Now().UTC(),
	}
	store.CreateDelivery(context.Background(), del)

	logger := testLogger()
	deliverer := engine.NewDeliverer(engine.NewTransport(), store, nil, nil, nil, logger)
	s := NewSweeper(store, deliverer, 2, time.Minute, 10, logger)
	ctx := context.Background()

	// Initial send: 503.
	deliverer.Attempt(ctx, sub, del, 1)

	got := store.get(del.ID)
	if got.Status != domain.StatusFailed || got.Attempt != 1 {
		t.Fatalf("after initial send: status=%q attempt=%d, want failed/1", got.Status, got.Attempt)
	}
	if got.NextRetryAt == nil {
		t.Fatal("after initial send: no retry scheduled")
	}

	// First sweep retry: 503 again.
	s.process(ctx, domain.DueDelivery{Delivery: got, Subscription: sub})

	got = store.get(del.ID)
	if got.Status != domain.StatusFailed || got.Attempt != 2 {
		t.Fatalf("after first retry: status=%q attempt=%d, want failed/2", got.Status, got.Attempt)
	}
	if got.NextRetryAt == nil {
		t.Fatal("after first retry: no retry scheduled")
	}

	// Second sweep retry: endpoint recovers.
	s.process(ctx, domain.DueDelivery{Delivery: got, Subscription: sub})

	got = store.get(del.ID)
	if got.Status != domain.StatusSuccess {
		t.Fatalf("after second retry: status = %q, want success", got.Status)
	}
	if got.Attempt != 2 {
		t.Errorf("attempt = %d, want 2 (success does not bump the counter)", got.Attempt)
	}
	if got.DeliveredAt == nil {
		t.Error("delivered_at not set")
	}
	if got.NextRetryAt != nil {
		t.Error("next_retry_at should be cleared on success")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(bodies))
	}
	for i := 1; i < 3; i++ {
		if string(bodies[i]) != string(bodies[0]) {
			t.Errorf("request %d payload differs from the original", i+1)
		}
		if signatures[i] != signatures[0] {
			t.Errorf("request %d signature differs from the original", i+1)
		}
	}
	if want := engine.Sign(bodies[0], sub.Secret); signatures[0] != want {
		t.Errorf("signature = %q, want %q", signatures[0], want)
	}
}

func TestSweeper_SweepRunsClaimedJobs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := newFakeStore()
	sub := seedSubscription(store, server.URL)
	past := time.Now().UTC().Add(-time.Minute)

	for i := 0; i < 3; i++ {
		d := domain.Delivery{
			ID:             fmt.Sprintf("del-%d", i),
			SubscriptionID: sub.ID,
			Event:          domain.EventOpportunityWon,
			Payload:        json.RawMessage(`{}`),
			Status:         domain.StatusFailed,
			Attempt:        1,
			NextRetryAt:    &past,
			CreatedAt:      time.Now().UTC(),
		}
		store.CreateDelivery(context.Background(), d)
	}

	s := newTestSweeper(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.pool.Start(ctx)

	s.Sweep(ctx)
	s.pool.Stop()

	for i := 0; i < 3; i++ {
		got := store.get(fmt.Sprintf("del-%d", i))
		if got.Status != domain.StatusSuccess {
			t.Errorf("del-%d status = %q, want success", i, got.Status)
		}
	}
}

func TestSweeper_ClaimErrorDoesNotPanic(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("db unavailable")

	s := newTestSweeper(store)
	s.Sweep(context.Background())
}
