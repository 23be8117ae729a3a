package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusQueued     OutboxStatus = "queued"
	OutboxStatusSent       OutboxStatus = "sent"
	OutboxStatusFailed     OutboxStatus = "failed"
	OutboxStatusDeadLetter OutboxStatus = "dead_letter"
	OutboxStatusThrottled  OutboxStatus = "throttled"
)

// MaxAttempts is the delivery attempt ceiling. An attempt that brings the
// count to this value dead-letters the item.
const MaxAttempts = 5

// OutboxItem is one attempted unit of outbound work. sent and dead_letter
// are terminal; queued and failed re-enter dispatch once next_attempt_at
// has passed.
type OutboxItem struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	IntegrationID    string          `db:"integration_id" json:"integration_id"`
	Operation        string          `db:"operation" json:"operation"`
	StableResourceID string          `db:"stable_resource_id" json:"stable_resource_id"`
	Payload          json.RawMessage `db:"payload" json:"payload"`
	IdempotencyKey   string          `db:"idempotency_key" json:"idempotency_key"`
	Status           OutboxStatus    `db:"status" json:"status"`
	AttemptCount     int             `db:"attempt_count" json:"attempt_count"`
	NextAttemptAt    time.Time       `db:"next_attempt_at" json:"next_attempt_at"`
	LastError        *string         `db:"last_error" json:"last_error,omitempty"`
	ProviderResponse json.RawMessage `db:"provider_response" json:"provider_response,omitempty"`
	CriticalError    bool            `db:"critical_error" json:"critical_error"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the item can never be dispatched again.
func (i *OutboxItem) Terminal() bool {
	return i.Status == OutboxStatusSent || i.Status == OutboxStatusDeadLetter
}

// EnqueueRequest is the caller-facing enqueue contract. All four fields are
// required; they are the inputs of the idempotency key.
type EnqueueRequest struct {
	IntegrationID    string          `json:"integration_id" binding:"required" validate:"required"`
	Operation        string          `json:"operation" binding:"required" validate:"required"`
	StableResourceID string          `json:"stable_resource_id" binding:"required" validate:"required"`
	Payload          json.RawMessage `json:"payload" binding:"required" validate:"required"`
}

// EnqueueResult reports the item an enqueue resolved to.
type EnqueueResult struct {
	OutboxID  uuid.UUID `json:"outbox_id"`
	Duplicate bool      `json:"duplicate"`
}

// DispatchReport summarizes one dispatch sweep.
type DispatchReport struct {
	Processed   int `json:"processed"`
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	RateLimited int `json:"ratelimited"`
}

// OutboxFilter narrows list queries.
type OutboxFilter struct {
	IntegrationID string
	Status        OutboxStatus
	Limit         int
}
