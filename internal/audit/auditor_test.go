package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	events   []Event
	delivery chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{delivery: make(chan struct{}, 16)}
}

func (s *recordingSink) Post(_ context.Context, event Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	s.delivery <- struct{}{}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type failingSink struct {
	delivery chan struct{}
}

func (s *failingSink) Post(_ context.Context, _ Event) error {
	if s.delivery != nil {
		s.delivery <- struct{}{}
	}
	return errors.New("webhook unreachable")
}

func TestLogSecurityEventAppends(t *testing.T) {
	store := NewInMemoryStore()
	auditor, err := NewAuditor(store)
	require.NoError(t, err)

	event := NewEvent("u1", KindCommandExecution, SeverityLow, map[string]any{"command": "delete-server"})
	require.NoError(t, auditor.LogSecurityEvent(context.Background(), event))

	events, err := store.ListByUser(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindCommandExecution, events[0].Kind)
	assert.Equal(t, SourceIPHidden, events[0].SourceIP)
}

func TestHighSeverityEventsForwarded(t *testing.T) {
	store := NewInMemoryStore()
	sink := newRecordingSink()
	auditor, err := NewAuditor(store, WithAlertSink(sink))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, auditor.LogSecurityEvent(ctx, NewEvent("u1", KindFailedAuth, SeverityHigh, nil)))

	select {
	case <-sink.delivery:
	case <-time.After(time.Second):
		t.Fatal("high-severity event was not forwarded")
	}
	assert.Equal(t, 1, sink.count())

	// Below-threshold events are not forwarded.
	require.NoError(t, auditor.LogSecurityEvent(ctx, NewEvent("u1", KindCommandExecution, SeverityLow, nil)))
	select {
	case <-sink.delivery:
		t.Fatal("low-severity event must not be forwarded")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnreachableSinkStillAppends(t *testing.T) {
	store := NewInMemoryStore()
	sink := &failingSink{delivery: make(chan struct{}, 1)}
	auditor, err := NewAuditor(store, WithAlertSink(sink))
	require.NoError(t, err)

	event := NewEvent("u1", KindSuspiciousActivity, SeverityCritical, nil)
	require.NoError(t, auditor.LogSecurityEvent(context.Background(), event),
		"delivery failure must not surface to the caller")

	<-sink.delivery
	events, err := store.ListByUser(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestHistoryNewestFirstSince(t *testing.T) {
	store := NewInMemoryStore()
	auditor, err := NewAuditor(store)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	for i, kind := range []Kind{KindCommandExecution, KindAPIAccess, KindCommandExecution} {
		event := NewEvent("u1", kind, SeverityLow, nil)
		event.Timestamp = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, auditor.LogSecurityEvent(ctx, event))
	}

	events, err := auditor.History(ctx, "u1", now.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindCommandExecution, events[0].Kind)
	assert.Equal(t, KindAPIAccess, events[1].Kind)
}

func TestCheckSuspiciousActivity(t *testing.T) {
	store := NewInMemoryStore()
	auditor, err := NewAuditor(store)
	require.NoError(t, err)
	ctx := context.Background()

	report, err := auditor.CheckSuspiciousActivity(ctx, "clean")
	require.NoError(t, err)
	assert.False(t, report.Suspicious)
	assert.Zero(t, report.RiskScore)

	for i := 0; i < 4; i++ {
		require.NoError(t, auditor.LogSecurityEvent(ctx, NewEvent("noisy", KindFailedAuth, SeverityMedium, nil)))
	}
	report, err = auditor.CheckSuspiciousActivity(ctx, "noisy")
	require.NoError(t, err)
	assert.True(t, report.Suspicious)
	assert.InDelta(t, 0.8, report.RiskScore, 1e-9)
	assert.NotEmpty(t, report.Reason)

	// The scoring itself leaves a suspicious_activity event behind.
	events, err := auditor.History(ctx, "noisy", time.Time{})
	require.NoError(t, err)
	var found bool
	for _, e := range events {
		if e.Kind == KindSuspiciousActivity {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPublisherAsyncDrain(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(8))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Append(ctx, NewEvent("u1", KindCommandExecution, SeverityLow, nil)))
	}
	pub.Close()

	events, err := store.ListByUser(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestPublisherSyncPassThrough(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store)

	require.NoError(t, pub.Append(context.Background(), NewEvent("u1", KindCommandExecution, SeverityLow, nil)))
	events, err := pub.ListByUser(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
