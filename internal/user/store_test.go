package user

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlmodels "panelbot/internal/ratelimit/models"
	"panelbot/internal/sentinel"
)

// storeUnderTest runs the shared contract suite against both implementations.
func storeUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, sentinel.ErrNotFound)

			require.NoError(t, store.Upsert(ctx, &User{
				ID:    "u1",
				Email: "u1@example.com",
				Tier:  rlmodels.TierPremium,
			}))
			got, err := store.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, rlmodels.TierPremium, got.Tier)
			assert.False(t, got.TwoFactorEnabled)
			assert.False(t, got.CreatedAt.IsZero())

			// Enrollment creates a record for unknown users.
			require.NoError(t, store.SetTwoFactorSecret(ctx, "u2", "SECRET", []string{"h1", "h2"}))
			got, err = store.Get(ctx, "u2")
			require.NoError(t, err)
			assert.Equal(t, "SECRET", got.TwoFactorSecret)
			assert.Equal(t, []string{"h1", "h2"}, got.BackupCodeHashes)
			assert.False(t, got.TwoFactorEnabled)

			require.NoError(t, store.SetTwoFactorEnabled(ctx, "u2", true))
			got, err = store.Get(ctx, "u2")
			require.NoError(t, err)
			assert.True(t, got.TwoFactorEnabled)

			// Re-enrollment disables enforcement until re-verified.
			require.NoError(t, store.SetTwoFactorSecret(ctx, "u2", "SECRET2", []string{"h3"}))
			got, err = store.Get(ctx, "u2")
			require.NoError(t, err)
			assert.False(t, got.TwoFactorEnabled)
			assert.Equal(t, []string{"h3"}, got.BackupCodeHashes)

			require.NoError(t, store.SetBackupCodes(ctx, "u2", []string{}))
			got, err = store.Get(ctx, "u2")
			require.NoError(t, err)
			assert.Empty(t, got.BackupCodeHashes)

			assert.ErrorIs(t, store.SetTwoFactorEnabled(ctx, "missing", true), sentinel.ErrNotFound)
			assert.ErrorIs(t, store.SetBackupCodes(ctx, "missing", nil), sentinel.ErrNotFound)

			require.NoError(t, store.SetAPIKeyHash(ctx, "u1", "bcrypt-hash"))
			got, err = store.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "bcrypt-hash", got.APIKeyHash)

			require.NoError(t, store.SetTier(ctx, "u1", rlmodels.TierFree))
			got, err = store.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, rlmodels.TierFree, got.Tier)
		})
	}
}

func TestDirectoryAdapter(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	dir := NewDirectory(store)

	_, err := dir.TwoFactorProfile(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, dir.SaveTwoFactorSecret(ctx, "u1", "SECRET", []string{"h1"}))
	require.NoError(t, dir.SetTwoFactorEnabled(ctx, "u1", true))

	profile, err := dir.TwoFactorProfile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, profile.TwoFactorEnabled)
	assert.Equal(t, "SECRET", profile.TwoFactorSecret)
	assert.Equal(t, []string{"h1"}, profile.BackupCodeHashes)

	require.NoError(t, dir.ReplaceBackupCodes(ctx, "u1", nil))
	profile, err = dir.TwoFactorProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, profile.BackupCodeHashes)

	require.NoError(t, dir.SaveAPIKeyHash(ctx, "u1", "key-hash"))
	profile, err = dir.TwoFactorProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "key-hash", profile.APIKeyHash)
}
