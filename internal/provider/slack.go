package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const slackAPIBase = "https://slack.com/api"

// SlackConfig carries the bot credentials for the slack transport.
type SlackConfig struct {
	BotToken       string `mapstructure:"bot_token"`
	DefaultChannel string `mapstructure:"default_channel"`
}

type slackTransport struct {
	cfg SlackConfig
}

func NewSlackTransport(cfg SlackConfig) Transport {
	return &slackTransport{cfg: cfg}
}

func (t *slackTransport) Send(ctx context.Context, operation string, payload json.RawMessage) (json.RawMessage, error) {
	var method string
	switch operation {
	case "send_message":
		method = "chat.postMessage"
	case "update_message":
		method = "chat.update"
	default:
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: fmt.Sprintf("unsupported slack operation %q", operation)}
	}

	var body map[string]interface{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: "slack payload must be a JSON object"}
	}
	if _, ok := body["channel"]; !ok && t.cfg.DefaultChannel != "" {
		body["channel"] = t.cfg.DefaultChannel
	}

	resp, err := doJSON(ctx, http.MethodPost, slackAPIBase+"/"+method, map[string]string{
		"Authorization": "Bearer " + t.cfg.BotToken,
	}, body)
	if err != nil {
		return nil, err
	}

	// Slack reports most failures with HTTP 200 and ok=false; rate limits
	// come back as "ratelimited".
	var envelope struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp, &envelope); err == nil && !envelope.OK {
		status := http.StatusBadGateway
		if strings.Contains(envelope.Error, "ratelimited") || strings.Contains(envelope.Error, "rate_limited") {
			status = http.StatusTooManyRequests
		}
		return nil, &ProviderError{Status: status, Message: "slack: " + envelope.Error}
	}

	return resp, nil
}
