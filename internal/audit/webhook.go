package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"panelbot/internal/metrics"
	"panelbot/internal/sentinel"
	"panelbot/pkg/platform/circuit"
)

const alertColorRed = 0xFF0000

// AlertSink receives high-severity events. Delivery is best-effort.
type AlertSink interface {
	Post(ctx context.Context, event Event) error
}

// webhookEmbed mirrors the chat platform's embed object.
type webhookEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Color       int                 `json:"color"`
	Timestamp   string              `json:"timestamp"`
	Fields      []webhookEmbedField `json:"fields,omitempty"`
}

type webhookEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type webhookPayload struct {
	Embeds []webhookEmbed `json:"embeds"`
}

// WebhookSink posts alert embeds to a configured webhook URL. Repeated
// delivery failures open a circuit breaker so an unreachable endpoint does
// not burn a network timeout per event.
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithHTTPClient overrides the default 10-second-timeout client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(s *WebhookSink) {
		s.client = client
	}
}

// WithWebhookLogger sets the delivery-failure logger.
func WithWebhookLogger(logger *slog.Logger) WebhookOption {
	return func(s *WebhookSink) {
		s.logger = logger
	}
}

// NewWebhookSink creates a sink posting to url.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuit.New("security-webhook"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Post delivers one alert embed. Errors are returned for the caller to log;
// they must never reach the admission path.
func (s *WebhookSink) Post(ctx context.Context, event Event) error {
	if s.breaker.IsOpen() {
		metrics.AlertDeliveries.WithLabelValues("skipped").Inc()
		return fmt.Errorf("alert sink circuit open: %w", sentinel.ErrUnavailable)
	}

	body, err := json.Marshal(buildAlertPayload(event))
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.deliveryFailed(event)
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.deliveryFailed(event)
		return fmt.Errorf("post alert: unexpected status %d", resp.StatusCode)
	}

	s.breaker.RecordSuccess()
	metrics.AlertDeliveries.WithLabelValues("delivered").Inc()
	return nil
}

func (s *WebhookSink) deliveryFailed(event Event) {
	metrics.AlertDeliveries.WithLabelValues("failed").Inc()
	if opened := s.breaker.RecordFailure(); opened && s.logger != nil {
		s.logger.Warn("alert sink circuit opened", "kind", event.Kind)
	}
}

func buildAlertPayload(event Event) webhookPayload {
	sourceIP := event.SourceIP
	if sourceIP == "" {
		sourceIP = "Unknown"
	}

	embed := webhookEmbed{
		Title:       "🚨 Security Alert",
		Description: fmt.Sprintf("**Event:** %s", event.Kind),
		Color:       alertColorRed,
		Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
		Fields: []webhookEmbedField{
			{Name: "User ID", Value: event.UserID, Inline: true},
			{Name: "IP Address", Value: sourceIP, Inline: true},
			{Name: "Severity", Value: event.Severity.String(), Inline: true},
		},
	}
	if len(event.Metadata) > 0 {
		if raw, err := json.MarshalIndent(event.Metadata, "", "  "); err == nil {
			embed.Fields = append(embed.Fields, webhookEmbedField{
				Name:  "Additional Info",
				Value: "```json\n" + string(raw) + "\n```",
			})
		}
	}
	return webhookPayload{Embeds: []webhookEmbed{embed}}
}
