package model

import "time"

// Health score weights. The four sub-scores sum to 100.
const (
	HealthWeightReconcileRecency = 30
	HealthWeightSuccessRate      = 40
	HealthWeightCriticalErrors   = 20
	HealthWeightConnectorStatus  = 10
)

// HealthBreakdown itemizes the weighted sub-scores behind a health score.
type HealthBreakdown struct {
	ReconcileRecency int `json:"reconcile_recency"`
	SuccessRate      int `json:"outbox_success_rate"`
	CriticalErrors   int `json:"critical_errors"`
	ConnectorStatus  int `json:"connector_status"`
}

// IntegrationHealth is one integration's composite score.
type IntegrationHealth struct {
	IntegrationID string          `json:"integration_id"`
	HealthScore   int             `json:"health_score"`
	Breakdown     HealthBreakdown `json:"breakdown"`
	Timestamp     time.Time       `json:"timestamp"`
}

// HealthReport aggregates all scored integrations.
type HealthReport struct {
	OverallHealthScore *float64            `json:"overall_health_score"`
	Integrations       []IntegrationHealth `json:"integrations"`
	CalculationMethod  map[string]int      `json:"calculation_method"`
}

// OutboxWindowStats summarizes outbox outcomes over a trailing window.
type OutboxWindowStats struct {
	Total         int `db:"total"`
	Sent          int `db:"sent"`
	CriticalCount int `db:"critical_count"`
}
