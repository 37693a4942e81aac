// Package sms talks to the external SMS challenge gateway used as an optional
// second factor.
package sms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Verifier starts and checks SMS challenges.
type Verifier interface {
	Start(ctx context.Context, phone, countryCode string) error
	Verify(ctx context.Context, phone, countryCode, code string) (bool, error)
}

// GatewayConfig configures the gateway client.
type GatewayConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// GatewayClient implements Verifier against the HTTP gateway.
type GatewayClient struct {
	client *resty.Client
}

type challengeRequest struct {
	Phone       string `json:"phone"`
	CountryCode string `json:"country_code"`
	Code        string `json:"code,omitempty"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

type gatewayError struct {
	Error string `json:"error"`
}

// NewGatewayClient builds the client. The gateway is expected to expose
// POST /challenges and POST /challenges/verify.
func NewGatewayClient(cfg GatewayConfig) (*GatewayClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("sms: gateway url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		client.SetAuthToken(key)
	}

	return &GatewayClient{client: client}, nil
}

func (c *GatewayClient) Start(ctx context.Context, phone, countryCode string) error {
	var failure gatewayError
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(challengeRequest{Phone: phone, CountryCode: countryCode}).
		SetError(&failure).
		Post("/challenges")
	if err != nil {
		return fmt.Errorf("sms: start challenge: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sms: start challenge: status %d: %s", resp.StatusCode(), failureReason(resp, failure))
	}
	return nil
}

// Verify reports whether code answers the outstanding challenge. A rejected
// code is (false, nil); transport and gateway failures are errors.
func (c *GatewayClient) Verify(ctx context.Context, phone, countryCode, code string) (bool, error) {
	var (
		result  verifyResponse
		failure gatewayError
	)
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(challengeRequest{Phone: phone, CountryCode: countryCode, Code: code}).
		SetResult(&result).
		SetError(&failure).
		Post("/challenges/verify")
	if err != nil {
		return false, fmt.Errorf("sms: verify challenge: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("sms: verify challenge: status %d: %s", resp.StatusCode(), failureReason(resp, failure))
	}
	return result.Valid, nil
}

const maxReasonLength = 256

// failureReason prefers the decoded {"error": ...} body. resty only decodes it
// for JSON content types, so anything else falls back to the raw body.
func failureReason(resp *resty.Response, failure gatewayError) string {
	if reason := strings.TrimSpace(failure.Error); reason != "" {
		return reason
	}
	reason := strings.TrimSpace(resp.String())
	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength]
	}
	if reason == "" {
		reason = http.StatusText(resp.StatusCode())
	}
	return reason
}
