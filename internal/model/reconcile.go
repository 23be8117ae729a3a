package model

import (
	"time"

	"github.com/google/uuid"
)

type ReconcileStatus string

const (
	ReconcileStatusRunning ReconcileStatus = "running"
	ReconcileStatusSuccess ReconcileStatus = "success"
	ReconcileStatusPartial ReconcileStatus = "partial"
	ReconcileStatusFailed  ReconcileStatus = "failed"
)

// ReconcileRun records one reconciliation sweep for one integration. The row
// is created eagerly with status=running so a worker crash mid-sweep is
// visible as an orphaned running record.
type ReconcileRun struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	IntegrationID  string          `db:"integration_id" json:"integration_id"`
	StartedAt      time.Time       `db:"started_at" json:"started_at"`
	FinishedAt     *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	Status         ReconcileStatus `db:"status" json:"status"`
	Checked        int             `db:"checked" json:"checked"`
	DriftFixed     int             `db:"drift_fixed" json:"drift_fixed"`
	APICalls       int             `db:"api_calls" json:"api_calls"`
	RateLimited429 int             `db:"rate_limited_429" json:"rate_limited_429"`
	Failures       int             `db:"failures" json:"failures"`
	Notes          *string         `db:"notes" json:"notes,omitempty"`
}

// ReconcileResult is what a strategy hands back to the orchestrator.
type ReconcileResult struct {
	Checked        int `json:"checked"`
	DriftFixed     int `json:"drift_fixed"`
	APICalls       int `json:"api_calls"`
	RateLimited429 int `json:"rate_limited_429"`
	Failures       int `json:"failures"`
}

// ReconcileRequest parameterizes one sweep.
type ReconcileRequest struct {
	IntegrationID   string `json:"integration_id" binding:"required"`
	MaxItems        int    `json:"max_items,omitempty"`
	HardTimeoutSecs int    `json:"hard_timeout_secs,omitempty"`
}
