// Package notify delivers watchdog notifications about newly listed offers
// over an SMS gateway or a Pub/Sub topic.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
)

// DefaultSMSURL is the SMS gateway endpoint used when none is configured.
const DefaultSMSURL = "https://api2.smsplanet.pl/sms"

// ErrInvalidRecipient is returned for phone numbers that are not 9 digits.
var ErrInvalidRecipient = errors.New("invalid recipient")

// SMSConfig holds the SMS gateway credentials.
type SMSConfig struct {
	URL      string
	Key      string
	Password string
	From     string
	Timeout  time.Duration
}

// SMS sends messages through an HTTP form-post SMS gateway.
type SMS struct {
	cfg    SMSConfig
	client *http.Client
}

var _ crawler.Notifier = (*SMS)(nil)

// NewSMS builds an SMS notifier. A nil client gets one with cfg.Timeout.
func NewSMS(cfg SMSConfig, client *http.Client) (*SMS, error) {
	if cfg.Key == "" || cfg.Password == "" {
		return nil, fmt.Errorf("notify.sms.key and notify.sms.password are required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultSMSURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &SMS{cfg: cfg, client: client}, nil
}

// ValidateRecipient checks that number is exactly nine digits.
func ValidateRecipient(number string) error {
	switch {
	case len(number) < 9:
		return fmt.Errorf("%w: %q is too short", ErrInvalidRecipient, number)
	case len(number) > 9:
		return fmt.Errorf("%w: %q is too long", ErrInvalidRecipient, number)
	case strings.TrimLeft(number, "0123456789") != "":
		return fmt.Errorf("%w: %q is not a phone number", ErrInvalidRecipient, number)
	}
	return nil
}

// Send posts message to recipient and returns the gateway message ID.
func (s *SMS) Send(ctx context.Context, message, recipient string) (string, error) {
	if err := ValidateRecipient(recipient); err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("key", s.cfg.Key)
	form.Set("password", s.cfg.Password)
	form.Set("from", s.cfg.From)
	form.Set("to", recipient)
	form.Set("msg", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send sms: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read sms response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}

	var payload struct {
		MessageID json.RawMessage `json:"messageId"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode sms response: %w", err)
	}
	id := strings.Trim(string(payload.MessageID), `"`)
	if id == "" || id == "null" {
		return "", fmt.Errorf("sms gateway response has no messageId: %s", strings.TrimSpace(string(body)))
	}
	return id, nil
}
