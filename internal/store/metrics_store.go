package store

import (
	"context"
	"fmt"
)

// DeliveryMetrics holds aggregated delivery statistics for the dashboard.
type DeliveryMetrics struct {
	TotalDeliveries     int     `json:"total_deliveries"`
	SuccessCount        int     `json:"success_count"`
	FailedCount         int     `json:"failed_count"`
	PendingCount        int     `json:"pending_count"`
	ExhaustedCount      int     `json:"exhausted_count"`
	DueRetries          int     `json:"due_retries"`
	SuccessRate         float64 `json:"success_rate"`
	ActiveSubscriptions int     `json:"active_subscriptions"`
}

// GetDeliveryMetrics returns aggregated delivery statistics from the ledger.
func (s *PostgresStore) GetDeliveryMetrics(ctx context.Context) (*DeliveryMetrics, error) {
	var m DeliveryMetrics

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'success') AS success,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'failed' AND next_retry_at IS NULL) AS exhausted,
			COUNT(*) FILTER (WHERE status = 'failed' AND next_retry_at <= NOW()) AS due
		FROM deliveries
	`).Scan(&m.TotalDeliveries, &m.SuccessCount, &m.FailedCount, &m.PendingCount, &m.ExhaustedCount, &m.DueRetries)
	if err != nil {
		return nil, fmt.Errorf("querying delivery metrics: %w", err)
	}

	if m.TotalDeliveries > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalDeliveries) * 100
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM subscriptions WHERE active = true
	`).Scan(&m.ActiveSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("querying active subscriptions: %w", err)
	}

	return &m, nil
}
