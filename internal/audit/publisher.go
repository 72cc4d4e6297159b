package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"panelbot/internal/metrics"
)

// Publisher decorates a Store with asynchronous appends. Events are queued to
// a background goroutine; when the buffer is full the event is dropped rather
// than blocking the admission path.
type Publisher struct {
	store  Store
	events chan Event
	wg     sync.WaitGroup
	logger *slog.Logger
	async  bool
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the given buffer size.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for async error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher wraps store. Without WithAsyncBuffer the publisher appends
// synchronously and is a transparent pass-through.
func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		if err := p.store.Append(context.Background(), event); err != nil {
			if p.logger != nil {
				p.logger.Error("failed to persist security event",
					"error", err,
					"kind", event.Kind,
					"user_id", event.UserID,
				)
			}
		}
	}
}

// Append queues or persists one event. In async mode a full buffer drops the
// event instead of blocking.
func (p *Publisher) Append(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.async {
		select {
		case p.events <- event:
		default:
			metrics.AuditEventsDropped.Inc()
			if p.logger != nil {
				p.logger.Warn("audit buffer full, event dropped",
					"kind", event.Kind,
					"user_id", event.UserID,
				)
			}
		}
		return nil
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) ListByUser(ctx context.Context, userID string, since time.Time) ([]Event, error) {
	return p.store.ListByUser(ctx, userID, since)
}

// Close drains pending events and stops the background goroutine.
func (p *Publisher) Close() {
	if p.async && p.events != nil {
		close(p.events)
		p.wg.Wait()
	}
}
