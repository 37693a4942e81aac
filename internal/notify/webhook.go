package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Careteam-Signature"

// WebhookConfig configures the webhook dispatcher.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Retries int
}

// WebhookDispatcher posts notices as JSON to an external notification service.
type WebhookDispatcher struct {
	client *resty.Client
	url    string
	secret []byte
}

type webhookPayload struct {
	Event  string           `json:"event"`
	Notice InvitationNotice `json:"invitation"`
}

// NewWebhookDispatcher builds a resty client for cfg.URL.
func NewWebhookDispatcher(cfg WebhookConfig) (*WebhookDispatcher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("notify: webhook url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= 500
		})

	return &WebhookDispatcher{client: client, url: url, secret: []byte(cfg.Secret)}, nil
}

func (d *WebhookDispatcher) Channel() string { return "webhook" }

func (d *WebhookDispatcher) SendInvitation(ctx context.Context, notice InvitationNotice) error {
	event := "invitation.created"
	if notice.Reminder {
		event = "invitation.reminder"
	}
	body, err := json.Marshal(webhookPayload{Event: event, Notice: notice})
	if err != nil {
		return fmt.Errorf("notify: encode webhook payload: %w", err)
	}

	req := d.client.R().SetContext(ctx).SetBody(body)
	if len(d.secret) > 0 {
		req.SetHeader(SignatureHeader, "sha256="+Sign(d.secret, body))
	}

	resp, err := req.Post(d.url)
	if err != nil {
		return fmt.Errorf("notify: webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode())
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
