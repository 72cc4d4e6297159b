package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "security.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	first := NewEvent("u1", KindFailedAuth, SeverityHigh, map[string]any{"operation": "delete-server"})
	first.Timestamp = now.Add(-time.Minute)
	second := NewEvent("u1", KindTwoFactorVerified, SeverityLow, nil)
	second.Timestamp = now
	other := NewEvent("u2", KindCommandExecution, SeverityLow, nil)
	other.Timestamp = now

	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))
	require.NoError(t, store.Append(ctx, other))

	events, err := store.ListByUser(ctx, "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, KindTwoFactorVerified, events[0].Kind)
	assert.Equal(t, KindFailedAuth, events[1].Kind)
	assert.Equal(t, "delete-server", events[1].Metadata["operation"])
	assert.Equal(t, SeverityHigh, events[1].Severity)

	// Time scoping.
	recent, err := store.ListByUser(ctx, "u1", now.Add(-30*time.Second))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, KindTwoFactorVerified, recent[0].Kind)
}
