package delivery

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookConfig configures a webhook delivery mechanism.
type WebhookConfig struct {
	// Name is the mechanism name advertised to clients, such as "SMS".
	Name string

	// URL is the endpoint messages are posted to.
	URL string

	// Token is an optional bearer token for the endpoint.
	Token string

	// Timeout bounds each post. Zero disables the timeout.
	Timeout time.Duration
}

// Webhook posts deliveries to an HTTP endpoint as JSON, for integration
// with messaging gateways.
type Webhook struct {
	name   string
	url    string
	client *resty.Client
}

type webhookPayload struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

// NewWebhook creates a webhook mechanism.
func NewWebhook(cfg WebhookConfig) *Webhook {
	client := resty.New().SetTimeout(cfg.Timeout)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Webhook{
		name:   cfg.Name,
		url:    cfg.URL,
		client: client,
	}
}

// Name returns the mechanism name.
func (w *Webhook) Name() string {
	return w.name
}

// Deliver posts the message to the endpoint. Any non-2xx response is an
// error.
func (w *Webhook) Deliver(recipient, subject, body string) error {
	resp, err := w.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(webhookPayload{Recipient: recipient, Subject: subject, Body: body}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("delivery: posting to the %s webhook: %w", w.name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("delivery: the %s webhook returned %s", w.name, resp.Status())
	}
	return nil
}
