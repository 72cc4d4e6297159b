// Package user holds the bot's user records: subscription tier, two-factor
// material, and the hashed panel API key. The admission pipeline reads these
// records; mutation happens through enrollment and account commands.
package user

import (
	"time"

	rlmodels "panelbot/internal/ratelimit/models"
)

// User is one chat-platform account known to the bot.
type User struct {
	ID               string
	Email            string
	PanelUserID      string
	Tier             rlmodels.Tier
	TwoFactorEnabled bool
	TwoFactorSecret  string
	BackupCodeHashes []string
	APIKeyHash       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
