package engine

import "time"

// NextRetryAt computes when a failed delivery becomes eligible for its next
// attempt: now + 2^attempt minutes (attempt 1 ⇒ 2m, attempt 2 ⇒ 4m, ...).
// Returns nil once attempt reaches maxAttempts — the delivery is permanently
// failed and no retry is scheduled. Pure given its inputs.
func NextRetryAt(now time.Time, attempt, maxAttempts int) *time.Time {
	if attempt >= maxAttempts {
		return nil
	}
	delay := time.Duration(1<<uint(attempt)) * time.Minute
	at := now.Add(delay)
	return &at
}
