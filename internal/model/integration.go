package model

import "time"

// Well-known integration identifiers.
const (
	IntegrationGoogleSheets = "google_sheets"
	IntegrationSlack        = "slack"
	IntegrationResend       = "resend"
	IntegrationTwilio       = "twilio"
	IntegrationNotion       = "notion"
	IntegrationLinkedIn     = "linkedin"
	IntegrationTikTok       = "tiktok"
	IntegrationSMTP         = "smtp"
	IntegrationWebhook      = "webhook"
)

// IntegrationConfig holds per-integration operator settings.
type IntegrationConfig struct {
	IntegrationID       string    `db:"integration_id" json:"integration_id"`
	Enabled             bool      `db:"enabled" json:"enabled"`
	ConnectorAuthorized bool      `db:"connector_authorized" json:"connector_authorized"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// RateProfile bounds outbound pressure against one provider.
type RateProfile struct {
	RPS        float64 `json:"rps" mapstructure:"rps"`
	Concurrent int     `json:"concurrent" mapstructure:"concurrent"`
}
