// Package mail delivers confirmation emails through Mailgun. Delivery runs
// as a durable scheduled task; the provider's own event ledger, keyed by an
// idempotency key, is what keeps at-least-once delivery from producing
// duplicate emails.
package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"boutique/internal/reliability"
)

// Message is one outbound email. BodyType is "text" or "html" and selects
// the Mailgun body field.
type Message struct {
	Sender         string
	Recipient      string
	Subject        string
	Body           string
	BodyType       string
	IdempotencyKey string
}

// Provider is the external mail system.
type Provider interface {
	// Send submits the message for delivery.
	Send(ctx context.Context, msg Message) error
	// IsSent reports whether a message with the key was already accepted
	// for the recipient. The underlying ledger is eventually consistent.
	IsSent(ctx context.Context, recipient, idempotencyKey string) (bool, error)
}

// APIError is a non-2xx answer from the Mailgun API. It propagates so the
// enclosing task is retried; it must never be read as "already sent".
type APIError struct {
	Op         string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mailgun %s: unexpected status %d", e.Op, e.StatusCode)
}

const defaultBaseURL = "https://api.mailgun.net/v3"

// Mailgun talks to the Mailgun REST API. The idempotency key rides along as
// a user variable on send and filters the events ledger on the dedup check.
type Mailgun struct {
	apiKey  string
	domain  string
	baseURL string
	client  *http.Client
	breaker *reliability.CircuitBreaker
}

// MailgunOption tweaks Mailgun construction.
type MailgunOption func(*Mailgun)

// WithBaseURL points the client at a different API endpoint (tests).
func WithBaseURL(baseURL string) MailgunOption {
	return func(m *Mailgun) { m.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) MailgunOption {
	return func(m *Mailgun) { m.client = client }
}

// WithBreaker guards API calls with a circuit breaker.
func WithBreaker(breaker *reliability.CircuitBreaker) MailgunOption {
	return func(m *Mailgun) { m.breaker = breaker }
}

// NewMailgun constructs a Mailgun client for the given sending domain.
func NewMailgun(apiKey, domain string, opts ...MailgunOption) *Mailgun {
	m := &Mailgun{
		apiKey:  apiKey,
		domain:  domain,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send submits the message, tagging it with the idempotency key.
func (m *Mailgun) Send(ctx context.Context, msg Message) error {
	form := url.Values{}
	form.Set("from", msg.Sender)
	form.Set("to", msg.Recipient)
	form.Set("subject", msg.Subject)
	form.Set(msg.BodyType, msg.Body)
	form.Set("v:idempotency_message_key", msg.IdempotencyKey)

	endpoint := fmt.Sprintf("%s/%s/messages", m.baseURL, m.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", m.apiKey)

	return m.execute(func() error {
		resp, err := m.client.Do(req)
		if err != nil {
			return fmt.Errorf("mailgun send: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &APIError{Op: "send", StatusCode: resp.StatusCode}
		}
		return nil
	})
}

// IsSent queries the accepted-events ledger for the idempotency key.
func (m *Mailgun) IsSent(ctx context.Context, recipient, idempotencyKey string) (bool, error) {
	params := url.Values{}
	params.Set("recipient", recipient)
	params.Set("user-variables", fmt.Sprintf("{'idempotency_message_key': '%s'}", idempotencyKey))
	// Accepted events are retained long enough to cover the retry horizon.
	params.Set("event", "accepted")

	endpoint := fmt.Sprintf("%s/%s/events?%s", m.baseURL, m.domain, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.SetBasicAuth("api", m.apiKey)

	var sent bool
	err = m.execute(func() error {
		resp, err := m.client.Do(req)
		if err != nil {
			return fmt.Errorf("mailgun events: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &APIError{Op: "events", StatusCode: resp.StatusCode}
		}

		var body struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("mailgun events: %w", err)
		}
		sent = len(body.Items) != 0
		return nil
	})
	return sent, err
}

func (m *Mailgun) execute(fn func() error) error {
	if m.breaker == nil {
		return fn()
	}
	return m.breaker.Execute(fn)
}
