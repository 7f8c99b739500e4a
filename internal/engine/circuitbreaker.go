package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// CircuitBreaker guards each subscription endpoint with a closed → open →
// half-open state machine kept in a Redis hash, so the state is shared
// across service instances.
//
// - Closed: normal operation, failures are counted.
// - Open: attempts are short-circuited into failures without touching the
//   endpoint. Transitions to half-open after the cooldown.
// - Half-open: one probe attempt is allowed. Success closes the circuit,
//   failure re-opens it.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
}

// CircuitBreakerState is the externally visible state of one subscription's
// circuit, surfaced on the health endpoints.
type CircuitBreakerState struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

func NewCircuitBreaker(redisClient *redis.Client, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: 5,
		cooldownPeriod:   30 * time.Second,
	}
}

func cbKey(subscriptionID string) string {
	return fmt.Sprintf("cb:%s", subscriptionID)
}

// AllowRequest checks whether a delivery to this subscription may proceed.
// Returns the current state and the decision.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, subscriptionID string) (string, bool) {
	key := cbKey(subscriptionID)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		// No state yet — circuit is closed (default)
		return StateClosed, true
	}

	state := data["state"]
	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)

	switch state {
	case StateOpen:
		if time.Now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds()) {
			// Cooldown elapsed — allow one probe
			cb.redisClient.HSet(ctx, key, "state", StateHalfOpen)
			cb.logger.Info("circuit breaker half-open", "subscription_id", subscriptionID)
			return StateHalfOpen, true
		}
		return StateOpen, false

	case StateHalfOpen:
		return StateHalfOpen, true

	default:
		return StateClosed, true
	}
}

// RecordSuccess resets the circuit to closed.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, subscriptionID string) {
	key := cbKey(subscriptionID)

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	cb.redisClient.HSet(ctx, key,
		"state", StateClosed,
		"failures", 0,
	)

	if state == StateHalfOpen {
		cb.logger.Info("circuit breaker closed (recovered)", "subscription_id", subscriptionID)
	}
}

// RecordFailure counts a failed delivery and opens the circuit once the
// threshold is reached.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, subscriptionID string) {
	key := cbKey(subscriptionID)

	failures, err := cb.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		cb.logger.Error("failed to record circuit breaker failure", "error", err)
		return
	}

	cb.redisClient.HSet(ctx, key, "last_failed_at", time.Now().Unix())

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	switch {
	case state == StateHalfOpen:
		// Probe failed — back to open
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("circuit breaker re-opened (probe failed)",
			"subscription_id", subscriptionID,
		)
	case failures >= int64(cb.failureThreshold):
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.logger.Warn("circuit breaker opened",
			"subscription_id", subscriptionID,
			"failures", failures,
			"threshold", cb.failureThreshold,
		)
	case state == "":
		cb.redisClient.HSet(ctx, key, "state", StateClosed)
	}
}

// GetState returns the current circuit state for a subscription.
func (cb *CircuitBreaker) GetState(ctx context.Context, subscriptionID string) CircuitBreakerState {
	key := cbKey(subscriptionID)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		return CircuitBreakerState{State: StateClosed}
	}

	failures, _ := strconv.Atoi(data["failures"])
	state := data["state"]
	if state == "" {
		state = StateClosed
	}

	if state == StateOpen {
		lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
		if time.Now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds()) {
			state = StateHalfOpen
		}
	}

	result := CircuitBreakerState{
		State:    state,
		Failures: failures,
	}

	if ts, ok := data["last_failed_at"]; ok && ts != "" {
		lastFailed, _ := strconv.ParseInt(ts, 10, 64)
		if lastFailed > 0 {
			result.LastFailedAt = time.Unix(lastFailed, 0).Format(time.RFC3339)
		}
	}

	return result
}
