package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxResponseBytes caps how much of an endpoint's response body is captured
// and stored on the delivery record.
const MaxResponseBytes = 1000

// Result is the outcome of a single HTTP delivery attempt that got a
// response. Transport-level failures (timeout, DNS, connection refused) are
// returned as errors instead.
type Result struct {
	StatusCode int
	Body       string
}

// OK reports whether the endpoint accepted the delivery.
func (r *Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport performs single bounded-timeout POST attempts. It never mutates
// stored state; callers classify the result and write the ledger.
type Transport struct {
	client *http.Client
}

// NewTransport creates a transport around a shared HTTP client. Per-attempt
// timeouts come from each subscription, so the client itself has none.
func NewTransport() *Transport {
	return &Transport{
		client: &http.Client{},
	}
}

// Send POSTs body to url with the given headers, aborting after timeout.
// A timed-out attempt surfaces as an error, identical to any other
// connection failure; there is no partial-success state.
func (t *Transport) Send(ctx context.Context, url string, headers http.Header, body []byte, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	}, nil
}

// Truncate caps s at MaxResponseBytes for storage in the ledger.
func Truncate(s string) string {
	if len(s) > MaxResponseBytes {
		return s[:MaxResponseBytes]
	}
	return s
}
