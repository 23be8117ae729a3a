package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const resendAPIBase = "https://api.resend.com"

// ResendConfig carries credentials for the resend email transport.
type ResendConfig struct {
	APIKey      string `mapstructure:"api_key"`
	DefaultFrom string `mapstructure:"default_from"`
}

type resendTransport struct {
	cfg ResendConfig
}

func NewResendTransport(cfg ResendConfig) Transport {
	return &resendTransport{cfg: cfg}
}

func (t *resendTransport) Send(ctx context.Context, operation string, payload json.RawMessage) (json.RawMessage, error) {
	if operation != "send_email" {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: fmt.Sprintf("unsupported resend operation %q", operation)}
	}

	var body map[string]interface{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: "resend payload must be a JSON object"}
	}
	if _, ok := body["from"]; !ok && t.cfg.DefaultFrom != "" {
		body["from"] = t.cfg.DefaultFrom
	}

	return doJSON(ctx, http.MethodPost, resendAPIBase+"/emails", map[string]string{
		"Authorization": "Bearer " + t.cfg.APIKey,
	}, body)
}
