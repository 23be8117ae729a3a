package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// WebhookConfig carries the target and signing secret for the generic
// webhook transport, the fallback for integrations without a dedicated
// provider client.
type WebhookConfig struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

type webhookTransport struct {
	cfg WebhookConfig
}

func NewWebhookTransport(cfg WebhookConfig) Transport {
	return &webhookTransport{cfg: cfg}
}

func (t *webhookTransport) Send(ctx context.Context, operation string, payload json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]interface{}{
		"operation": operation,
		"payload":   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Relay-Timestamp", ts)
	req.Header.Set("X-Relay-Signature", sign(t.cfg.Secret, ts, body))

	return execute(req)
}

// sign computes hex(HMAC-SHA256(secret, timestamp "." body)) so receivers
// can verify both authenticity and freshness.
func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
