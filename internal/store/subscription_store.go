package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/brightsales/webhook-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id, name, url, events, secret, active, retry_count, timeout_seconds, rate_limit_per_second, custom_headers, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.Name, &sub.URL, &sub.Events, &sub.Secret, &sub.Active,
		&sub.RetryCount, &sub.TimeoutSeconds, &sub.RateLimitPerSecond,
		&sub.CustomHeaders, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	retryCount := req.RetryCount
	if retryCount == 0 {
		retryCount = 3
	}
	timeoutSeconds := req.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = 10
	}
	headers := req.CustomHeaders
	if headers == nil {
		headers = map[string]string{}
	}

	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (name, url, events, secret, retry_count, timeout_seconds, rate_limit_per_second, custom_headers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+subscriptionColumns,
		req.Name, req.URL, req.Events, req.Secret,
		retryCount, timeoutSeconds, req.RateLimitPerSecond, headers,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subscriptions := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subscriptions = append(subscriptions, *sub)
	}

	return subscriptions, rows.Err()
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, id string, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	set := func(column string, value interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if req.Name != nil {
		set("name", *req.Name)
	}
	if req.URL != nil {
		set("url", *req.URL)
	}
	if req.Events != nil {
		set("events", *req.Events)
	}
	if req.Secret != nil {
		set("secret", *req.Secret)
	}
	if req.Active != nil {
		set("active", *req.Active)
	}
	if req.RetryCount != nil {
		set("retry_count", *req.RetryCount)
	}
	if req.TimeoutSeconds != nil {
		set("timeout_seconds", *req.TimeoutSeconds)
	}
	if req.RateLimitPerSecond != nil {
		set("rate_limit_per_second", *req.RateLimitPerSecond)
	}
	if req.CustomHeaders != nil {
		set("custom_headers", *req.CustomHeaders)
	}

	if len(setClauses) == 0 {
		return s.GetSubscription(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE subscriptions SET %s
		WHERE id = $%d
		RETURNING %s
	`, strings.Join(setClauses, ", "), argIdx, subscriptionColumns)
	args = append(args, id)

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("updating subscription: %w", err)
	}

	return sub, nil
}

// DeleteSubscription removes a subscription; associated delivery history is
// removed with it via the foreign key cascade.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting subscription: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// FindActiveSubscriptionsFor returns every active subscription whose event
// set contains the given event name.
func (s *PostgresStore) FindActiveSubscriptionsFor(ctx context.Context, event string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE active = true AND $1 = ANY(events)`,
		event)
	if err != nil {
		return nil, fmt.Errorf("finding subscriptions for event: %w", err)
	}
	defer rows.Close()

	subscriptions := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subscriptions = append(subscriptions, *sub)
	}

	return subscriptions, rows.Err()
}
