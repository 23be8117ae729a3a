package provider

import (
	"context"
	"encoding/json"

	"github.com/relaykit/relay-api/pkg/circuitbreaker"
)

type breakerTransport struct {
	next Transport
	cb   *circuitbreaker.CircuitBreaker
}

// WithBreaker wraps a transport in a circuit breaker so a dead provider
// stops eating dispatch attempts. A 429 does not count toward the trip
// threshold; it is the provider shedding load, not failing.
func WithBreaker(name string, next Transport) Transport {
	return &breakerTransport{
		next: next,
		cb:   circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{Name: name}),
	}
}

func (t *breakerTransport) Send(ctx context.Context, operation string, payload json.RawMessage) (json.RawMessage, error) {
	var resp json.RawMessage
	var sendErr error

	cbErr := t.cb.Execute(func() error {
		resp, sendErr = t.next.Send(ctx, operation, payload)
		if IsRateLimited(sendErr) {
			return nil
		}
		return sendErr
	})
	if cbErr != nil {
		return nil, cbErr
	}
	if sendErr != nil {
		return nil, sendErr
	}
	return resp, nil
}
