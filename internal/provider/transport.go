// Package provider holds the transports that deliver outbox items to
// external services. The dispatcher treats transports as opaque: it only
// inspects ProviderError.Status for 429 to pick a backoff policy.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ProviderError is the common failure shape all transports translate
// provider-specific errors into. RetryAfter is zero unless the provider
// named a wait in a Retry-After header.
type ProviderError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.Status, e.Message)
}

// IsRateLimited reports whether err is a provider 429.
func IsRateLimited(err error) bool {
	pe, ok := err.(*ProviderError)
	return ok && pe.Status == http.StatusTooManyRequests
}

// RetryAfter returns the provider's requested wait, or zero when the error
// carries none.
func RetryAfter(err error) time.Duration {
	pe, ok := err.(*ProviderError)
	if !ok {
		return 0
	}
	return pe.RetryAfter
}

// Transport performs one integration-specific delivery.
type Transport interface {
	Send(ctx context.Context, operation string, payload json.RawMessage) (json.RawMessage, error)
}

// Registry maps integration ids to transports. Registrations happen at
// startup; lookups afterwards are read-only.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

func (r *Registry) Register(integrationID string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[integrationID] = t
}

func (r *Registry) Lookup(integrationID string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[integrationID]
	return t, ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.transports))
	for id := range r.transports {
		ids = append(ids, id)
	}
	return ids
}

// httpClient is shared across HTTP transports; per-call deadlines come from
// the dispatcher's context.
var httpClient = &http.Client{
	Timeout: 60 * time.Second,
}

// doJSON posts a JSON body and decodes the response, translating non-2xx
// statuses into *ProviderError.
func doJSON(ctx context.Context, method, url string, headers map[string]string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return execute(req)
}

func execute(req *http.Request) (json.RawMessage, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{
			Status:     resp.StatusCode,
			Message:    truncate(string(respBody), 512),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if len(respBody) == 0 || !json.Valid(respBody) {
		// Some providers answer with empty or non-JSON bodies on success.
		return json.RawMessage(fmt.Sprintf(`{"http_status":%d}`, resp.StatusCode)), nil
	}
	return json.RawMessage(respBody), nil
}

// parseRetryAfter understands the delta-seconds form. The HTTP-date form is
// rare among these providers and falls back to zero.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
