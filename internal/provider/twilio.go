package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioConfig carries account credentials for the twilio SMS transport.
type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
}

type twilioTransport struct {
	cfg TwilioConfig
}

func NewTwilioTransport(cfg TwilioConfig) Transport {
	return &twilioTransport{cfg: cfg}
}

type twilioSMSPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

func (t *twilioTransport) Send(ctx context.Context, operation string, payload json.RawMessage) (json.RawMessage, error) {
	if operation != "send_sms" {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: fmt.Sprintf("unsupported twilio operation %q", operation)}
	}

	var sms twilioSMSPayload
	if err := json.Unmarshal(payload, &sms); err != nil {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: "twilio payload must carry to/body"}
	}
	if sms.From == "" {
		sms.From = t.cfg.FromNumber
	}
	if sms.To == "" || sms.Body == "" {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: "twilio payload requires to and body"}
	}

	// Twilio speaks form encoding, not JSON.
	form := url.Values{}
	form.Set("To", sms.To)
	form.Set("From", sms.From)
	form.Set("Body", sms.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", twilioAPIBase, t.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	return execute(req)
}
