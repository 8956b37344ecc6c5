// Package webhook delivers domain events to a partner endpoint as signed
// HTTP callbacks.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/telecare/telecare/internal/platform/notification"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
	DeliveryHeader  = "X-Webhook-Delivery"
	TimestampHeader = "X-Webhook-Timestamp"
)

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" header value against payload.
func VerifySignature(payload []byte, secret, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(sig))
}

// Matches reports whether eventType is selected by pattern. Patterns are an
// exact type, "prefix.*" or "*.suffix".
func Matches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, pattern[1:])
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

type Option func(*Sender)

func WithHTTPClient(c *http.Client) Option { return func(s *Sender) { s.client = c } }

// WithEvents restricts delivery to events matching any of patterns.
func WithEvents(patterns ...string) Option { return func(s *Sender) { s.patterns = patterns } }

// Sender implements notification.Sender. Events that match no pattern are
// skipped without error.
type Sender struct {
	url      string
	secret   string
	patterns []string
	client   *http.Client
}

func NewSender(endpoint, secret string, opts ...Option) (*Sender, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook: invalid endpoint url %q", endpoint)
	}
	if secret == "" {
		return nil, fmt.Errorf("webhook: signing secret is required")
	}
	s := &Sender{
		url:    endpoint,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sender) wants(eventType string) bool {
	if len(s.patterns) == 0 {
		return true
	}
	for _, p := range s.patterns {
		if Matches(p, eventType) {
			return true
		}
	}
	return false
}

func (s *Sender) Send(ctx context.Context, evt notification.Event) error {
	if !s.wants(evt.Type) {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("webhook: marshal %s: %w", evt.Type, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+SignPayload(payload, s.secret))
	req.Header.Set(EventHeader, evt.Type)
	req.Header.Set(DeliveryHeader, evt.ID.String())
	req.Header.Set(TimestampHeader, time.Now().UTC().Format(time.RFC3339))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver %s: %w", evt.Type, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: deliver %s: endpoint returned %d", evt.Type, resp.StatusCode)
	}
	return nil
}
