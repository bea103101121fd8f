// Package sms wraps the Twilio Messages API behind a small gateway
// interface the dispatch loop and manual-send paths share.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"autotext_backend/platform/config"
	"autotext_backend/platform/logger"
	"autotext_backend/platform/phone"
)

// Gateway sends one SMS and returns the provider's message id. Any
// error is retryable from the caller's point of view; the gateway
// itself never retries.
type Gateway interface {
	Send(ctx context.Context, to, body string) (providerSID string, err error)
}

// Client talks to the Twilio REST API. A shared rate limiter keeps the
// whole process under the account's messages-per-second allowance no
// matter how many dispatch workers are sending.
type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

func NewClient(cfg config.SMSConfig, log *logger.Logger) *Client {
	sendRate := cfg.GetSMSSendRate()
	if sendRate <= 0 {
		sendRate = 1
	}
	return &Client{
		accountSID: cfg.GetTwilioAccountSID(),
		authToken:  cfg.GetTwilioAuthToken(),
		from:       cfg.GetTwilioFromNumber(),
		baseURL:    "https://api.twilio.com",
		http:       &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(sendRate), 1),
		log:        log,
	}
}

// From returns the configured sender number.
func (c *Client) From() string { return c.from }

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Send delivers one message and returns the Twilio message SID.
func (c *Client) Send(ctx context.Context, to, body string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("To", phone.NormalizeE164(to))
	form.Set("From", c.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read twilio response: %w", err)
	}

	var parsed twilioResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("twilio returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("twilio returned %d (code %d): %s", resp.StatusCode, parsed.Code, parsed.Message)
	}

	c.log.Info("sms sent", "to", phone.NormalizeE164(to), "sid", parsed.SID, "status", parsed.Status)
	return parsed.SID, nil
}
