package user

import (
	"context"
	"errors"

	rlmodels "panelbot/internal/ratelimit/models"
	"panelbot/internal/sentinel"
	"panelbot/internal/stepup"
)

// Store is the user-record contract. Get returns sentinel.ErrNotFound for
// unknown users; the two-factor mutators create the record if needed so
// enrollment works for first-time users.
type Store interface {
	Get(ctx context.Context, userID string) (*User, error)
	Upsert(ctx context.Context, u *User) error
	SetTwoFactorSecret(ctx context.Context, userID, secret string, backupCodeHashes []string) error
	SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error
	SetBackupCodes(ctx context.Context, userID string, hashes []string) error
	SetAPIKeyHash(ctx context.Context, userID, hash string) error
	SetTier(ctx context.Context, userID string, tier rlmodels.Tier) error
}

// Directory adapts a Store to the step-up authenticator's read/write contract.
type Directory struct {
	store Store
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

func (d *Directory) TwoFactorProfile(ctx context.Context, userID string) (stepup.Profile, error) {
	u, err := d.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return stepup.Profile{}, sentinel.ErrNotFound
		}
		return stepup.Profile{}, err
	}
	return stepup.Profile{
		TwoFactorEnabled: u.TwoFactorEnabled,
		TwoFactorSecret:  u.TwoFactorSecret,
		BackupCodeHashes: u.BackupCodeHashes,
		APIKeyHash:       u.APIKeyHash,
	}, nil
}

func (d *Directory) SaveTwoFactorSecret(ctx context.Context, userID, secret string, backupCodeHashes []string) error {
	return d.store.SetTwoFactorSecret(ctx, userID, secret, backupCodeHashes)
}

func (d *Directory) SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error {
	return d.store.SetTwoFactorEnabled(ctx, userID, enabled)
}

func (d *Directory) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error {
	return d.store.SetBackupCodes(ctx, userID, hashes)
}

func (d *Directory) SaveAPIKeyHash(ctx context.Context, userID, hash string) error {
	return d.store.SetAPIKeyHash(ctx, userID, hash)
}
