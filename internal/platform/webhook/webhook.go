// Package webhook POSTs signed JSON payloads to a subscriber URL. Receivers
// check the X-Webhook-Signature header with VerifySignature.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventTypeHeader = "X-Webhook-Event"
	EventIDHeader   = "X-Webhook-ID"
	TimestampHeader = "X-Webhook-Timestamp"
)

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature accepts the bare hex digest or the "sha256=" form sent in
// SignatureHeader.
func VerifySignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// Option configures a Sender.
type Option func(*Sender)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.client = c }
}

// WithRetries sets how many times a failed delivery is retried and the
// delay before the first retry. The delay doubles on each attempt.
func WithRetries(n int, delay time.Duration) Option {
	return func(s *Sender) {
		s.maxRetries = n
		s.retryDelay = delay
	}
}

// Sender delivers payloads to one URL.
type Sender struct {
	url        string
	secret     string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

func NewSender(rawURL, secret string, opts ...Option) (*Sender, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	s := &Sender{
		url:        rawURL,
		secret:     secret,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
		retryDelay: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url has no host")
	}
	return nil
}

// StatusError is a non-2xx response from the receiver.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded %d: %s", e.Code, e.Body)
}

func retryable(err error) bool {
	se, ok := err.(*StatusError)
	if !ok {
		return true
	}
	return se.Code >= 500 || se.Code == http.StatusTooManyRequests
}

// Send delivers payload, retrying network failures and 5xx/429 responses
// until the retries run out or ctx ends.
func (s *Sender) Send(ctx context.Context, eventType, eventID string, payload []byte) error {
	delay := s.retryDelay
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook delivery abandoned after %d attempt(s): %w", attempt, err)
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = s.post(ctx, eventType, eventID, payload); err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func (s *Sender) post(ctx context.Context, eventType, eventID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+SignPayload(payload, s.secret))
	req.Header.Set(EventTypeHeader, eventType)
	req.Header.Set(EventIDHeader, eventID)
	req.Header.Set(TimestampHeader, time.Now().UTC().Format(time.RFC3339))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}
