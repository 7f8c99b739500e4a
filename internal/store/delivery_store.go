package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/brightsales/webhook-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

const deliveryColumns = `id, subscription_id, event, payload, status, attempt, response_code, response_body, error, delivered_at, next_retry_at, created_at`

func scanDelivery(row pgx.Row) (*domain.Delivery, error) {
	var d domain.Delivery
	var payload string
	err := row.Scan(
		&d.ID, &d.SubscriptionID, &d.Event, &payload, &d.Status, &d.Attempt,
		&d.ResponseCode, &d.ResponseBody, &d.Error,
		&d.DeliveredAt, &d.NextRetryAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Payload = []byte(payload)
	return &d, nil
}

// CreateDelivery inserts a pending delivery record. The payload is stored as
// text so the exact serialized bytes survive for retries.
func (s *PostgresStore) CreateDelivery(ctx context.Context, d domain.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deliveries (id, subscription_id, event, payload, status, attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.SubscriptionID, d.Event, string(d.Payload), d.Status, d.Attempt, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

// UpdateDelivery applies a partial update to an existing delivery row.
func (s *PostgresStore) UpdateDelivery(ctx context.Context, id string, patch domain.DeliveryPatch) error {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	set := func(column string, value interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if patch.Status != nil {
		set("status", *patch.Status)
	}
	if patch.Attempt != nil {
		set("attempt", *patch.Attempt)
	}
	if patch.ResponseCode != nil {
		set("response_code", *patch.ResponseCode)
	}
	if patch.ResponseBody != nil {
		set("response_body", *patch.ResponseBody)
	}
	if patch.Error != nil {
		set("error", *patch.Error)
	}
	if patch.DeliveredAt != nil {
		set("delivered_at", *patch.DeliveredAt)
	}
	if patch.NextRetryAt != nil {
		set("next_retry_at", *patch.NextRetryAt)
	} else if patch.ClearNextRetryAt {
		setClauses = append(setClauses, "next_retry_at = NULL")
	}

	if len(setClauses) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE deliveries SET %s WHERE id = $%d`,
		strings.Join(setClauses, ", "), argIdx)
	args = append(args, id)

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("delivery %s not found", id)
	}
	return nil
}

func (s *PostgresStore) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	d, err := scanDelivery(s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries returns delivery records, newest first, with optional
// filtering by subscription, event name and status.
func (s *PostgresStore) ListDeliveries(ctx context.Context, subscriptionID, event, status string, limit int) ([]domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if subscriptionID != "" {
		conditions = append(conditions, fmt.Sprintf("subscription_id = $%d", argIdx))
		args = append(args, subscriptionID)
		argIdx++
	}
	if event != "" {
		conditions = append(conditions, fmt.Sprintf("event = $%d", argIdx))
		args = append(args, event)
		argIdx++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, status)
		argIdx++
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []domain.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}

	return deliveries, rows.Err()
}

// ClaimDueRetries atomically claims up to limit failed deliveries whose
// next_retry_at has passed and whose subscription is still active, flipping
// them to pending so that overlapping sweep runs cannot double-send the same
// row. Deliveries of deactivated subscriptions are left untouched.
func (s *PostgresStore) ClaimDueRetries(ctx context.Context, limit int) ([]domain.DueDelivery, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT d.id
			FROM deliveries d
			JOIN subscriptions s ON s.id = d.subscription_id
			WHERE d.status = 'failed'
			  AND d.next_retry_at IS NOT NULL
			  AND d.next_retry_at <= NOW()
			  AND s.active = true
			ORDER BY d.next_retry_at
			LIMIT $1
			FOR UPDATE OF d SKIP LOCKED
		)
		UPDATE deliveries SET status = 'pending'
		FROM due, subscriptions s
		WHERE deliveries.id = due.id
		  AND s.id = deliveries.subscription_id
		RETURNING
			deliveries.id, deliveries.subscription_id, deliveries.event,
			deliveries.payload, deliveries.status, deliveries.attempt,
			deliveries.response_code, deliveries.response_body, deliveries.error,
			deliveries.delivered_at, deliveries.next_retry_at, deliveries.created_at,
			s.id, s.name, s.url, s.events, s.secret, s.active,
			s.retry_count, s.timeout_seconds, s.rate_limit_per_second,
			s.custom_headers, s.created_at, s.updated_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming due retries: %w", err)
	}
	defer rows.Close()

	due := []domain.DueDelivery{}
	for rows.Next() {
		var d domain.Delivery
		var sub domain.Subscription
		var payload string
		err := rows.Scan(
			&d.ID, &d.SubscriptionID, &d.Event, &payload, &d.Status, &d.Attempt,
			&d.ResponseCode, &d.ResponseBody, &d.Error,
			&d.DeliveredAt, &d.NextRetryAt, &d.CreatedAt,
			&sub.ID, &sub.Name, &sub.URL, &sub.Events, &sub.Secret, &sub.Active,
			&sub.RetryCount, &sub.TimeoutSeconds, &sub.RateLimitPerSecond,
			&sub.CustomHeaders, &sub.CreatedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning due retry: %w", err)
		}
		d.Payload = []byte(payload)
		due = append(due, domain.DueDelivery{Delivery: d, Subscription: sub})
	}

	return due, rows.Err()
}
