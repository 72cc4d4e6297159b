package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	rlmodels "panelbot/internal/ratelimit/models"
	"panelbot/internal/sentinel"
)

const createUsersSQL = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT,
    panel_user_id TEXT,
    subscription_tier TEXT NOT NULL DEFAULT 'free',
    two_factor_enabled INTEGER NOT NULL DEFAULT 0,
    two_factor_secret TEXT,
    backup_codes TEXT,
    api_key_hash TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`

// SQLiteStore persists user records alongside the security-event log.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open user database: %w", err)
	}
	store, err := NewSQLiteStoreFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStoreFromDB wraps an existing handle, sharing it with other stores.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(createUsersSQL); err != nil {
		return nil, fmt.Errorf("create users table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, panel_user_id, subscription_tier, two_factor_enabled,
		        two_factor_secret, backup_codes, api_key_hash, created_at, updated_at
		 FROM users WHERE id = ?`, userID)

	var (
		u           User
		email       sql.NullString
		panelUserID sql.NullString
		tier        string
		enabled     int
		secret      sql.NullString
		backupCodes sql.NullString
		apiKeyHash  sql.NullString
	)
	err := row.Scan(&u.ID, &email, &panelUserID, &tier, &enabled, &secret, &backupCodes, &apiKeyHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	u.Email = email.String
	u.PanelUserID = panelUserID.String
	u.Tier = rlmodels.Tier(tier)
	u.TwoFactorEnabled = enabled != 0
	u.TwoFactorSecret = secret.String
	u.APIKeyHash = apiKeyHash.String
	if backupCodes.Valid && backupCodes.String != "" {
		if err := json.Unmarshal([]byte(backupCodes.String), &u.BackupCodeHashes); err != nil {
			return nil, fmt.Errorf("unmarshal backup codes: %w", err)
		}
	}
	return &u, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, u *User) error {
	codes, err := marshalBackupCodes(u.BackupCodeHashes)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, panel_user_id, subscription_tier, two_factor_enabled,
		                    two_factor_secret, backup_codes, api_key_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     email = excluded.email,
		     panel_user_id = excluded.panel_user_id,
		     subscription_tier = excluded.subscription_tier,
		     two_factor_enabled = excluded.two_factor_enabled,
		     two_factor_secret = excluded.two_factor_secret,
		     backup_codes = excluded.backup_codes,
		     api_key_hash = excluded.api_key_hash,
		     updated_at = excluded.updated_at`,
		u.ID, u.Email, u.PanelUserID, string(tierOrFree(u.Tier)), boolToInt(u.TwoFactorEnabled),
		u.TwoFactorSecret, codes, u.APIKeyHash, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetTwoFactorSecret(ctx context.Context, userID, secret string, hashes []string) error {
	codes, err := marshalBackupCodes(hashes)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, subscription_tier, two_factor_enabled, two_factor_secret, backup_codes, created_at, updated_at)
		 VALUES (?, 'free', 0, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     two_factor_secret = excluded.two_factor_secret,
		     backup_codes = excluded.backup_codes,
		     two_factor_enabled = 0,
		     updated_at = excluded.updated_at`,
		userID, secret, codes, now, now,
	)
	if err != nil {
		return fmt.Errorf("set two-factor secret: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error {
	return s.updateExisting(ctx, userID,
		`UPDATE users SET two_factor_enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), time.Now().UTC(), userID)
}

func (s *SQLiteStore) SetBackupCodes(ctx context.Context, userID string, hashes []string) error {
	codes, err := marshalBackupCodes(hashes)
	if err != nil {
		return err
	}
	return s.updateExisting(ctx, userID,
		`UPDATE users SET backup_codes = ?, updated_at = ? WHERE id = ?`,
		codes, time.Now().UTC(), userID)
}

func (s *SQLiteStore) SetAPIKeyHash(ctx context.Context, userID, hash string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, subscription_tier, api_key_hash, created_at, updated_at)
		 VALUES (?, 'free', ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     api_key_hash = excluded.api_key_hash,
		     updated_at = excluded.updated_at`,
		userID, hash, now, now,
	)
	if err != nil {
		return fmt.Errorf("set api key hash: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetTier(ctx context.Context, userID string, tier rlmodels.Tier) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, subscription_tier, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     subscription_tier = excluded.subscription_tier,
		     updated_at = excluded.updated_at`,
		userID, string(tierOrFree(tier)), now, now,
	)
	if err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) updateExisting(ctx context.Context, userID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func marshalBackupCodes(hashes []string) (string, error) {
	if len(hashes) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(hashes)
	if err != nil {
		return "", fmt.Errorf("marshal backup codes: %w", err)
	}
	return string(raw), nil
}

func tierOrFree(tier rlmodels.Tier) rlmodels.Tier {
	if tier == "" {
		return rlmodels.TierFree
	}
	return tier
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
