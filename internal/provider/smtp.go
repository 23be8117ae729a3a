package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"gopkg.in/gomail.v2"
)

// SMTPConfig carries relay settings for direct SMTP delivery, used by
// deployments without a hosted email provider.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type smtpTransport struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPTransport(cfg SMTPConfig) Transport {
	return &smtpTransport{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

type smtpPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
	From    string   `json:"from"`
}

func (t *smtpTransport) Send(ctx context.Context, operation string, payload json.RawMessage) (json.RawMessage, error) {
	if operation != "send_email" {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: fmt.Sprintf("unsupported smtp operation %q", operation)}
	}

	var mail smtpPayload
	if err := json.Unmarshal(payload, &mail); err != nil {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: "smtp payload must carry to/subject and a body"}
	}
	if len(mail.To) == 0 || mail.Subject == "" || (mail.HTML == "" && mail.Text == "") {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: "smtp payload requires to, subject and html or text"}
	}
	if mail.From == "" {
		mail.From = t.cfg.From
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", mail.From)
	msg.SetHeader("To", mail.To...)
	msg.SetHeader("Subject", mail.Subject)
	if mail.Text != "" {
		msg.SetBody("text/plain", mail.Text)
	}
	if mail.HTML != "" {
		if mail.Text != "" {
			msg.AddAlternative("text/html", mail.HTML)
		} else {
			msg.SetBody("text/html", mail.HTML)
		}
	}

	// gomail has no context support; honour cancellation around the dial.
	done := make(chan error, 1)
	go func() {
		done <- t.dialer.DialAndSend(msg)
	}()

	select {
	case <-ctx.Done():
		return nil, &ProviderError{Status: 0, Message: ctx.Err().Error()}
	case err := <-done:
		if err != nil {
			return nil, &ProviderError{Status: 0, Message: "smtp: " + err.Error()}
		}
	}

	return json.RawMessage(`{"delivered":true}`), nil
}
