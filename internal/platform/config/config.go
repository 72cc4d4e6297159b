// Package config assembles the bot's runtime configuration from environment
// variables so main stays lean. A .env file is loaded when present.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Bot is the full configuration surface of the process.
type Bot struct {
	// DiscordToken authenticates the gateway session.
	DiscordToken string
	// PremiumRoleID marks paying users; empty means nobody resolves premium.
	PremiumRoleID string
	// JWTSecret signs step-up operation tokens. Absence fails token
	// issuance and verification closed.
	JWTSecret string
	// SecurityWebhookURL receives high-severity alert embeds. Absence
	// disables forwarding, not logging.
	SecurityWebhookURL string
	// AdminChannelID receives operational notices. Optional.
	AdminChannelID string
	// DebugChannelID receives raw command errors. Optional.
	DebugChannelID string
	// DatabasePath enables the durable SQLite stores when set.
	DatabasePath string
	// RedisURL switches step-up sessions to Redis when set.
	RedisURL string
	// MetricsAddr serves Prometheus metrics; empty disables the endpoint.
	MetricsAddr string
	// SessionTTL bounds step-up sessions and operation tokens.
	SessionTTL time.Duration
}

// Load reads .env (best effort) and builds the configuration.
func Load() Bot {
	godotenv.Load() //nolint:errcheck // a missing .env file is fine

	return Bot{
		DiscordToken:       os.Getenv("DISCORD_TOKEN"),
		PremiumRoleID:      os.Getenv("PREMIUM_ROLE_ID"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		SecurityWebhookURL: os.Getenv("SECURITY_WEBHOOK_URL"),
		AdminChannelID:     os.Getenv("ADMIN_CHANNEL_ID"),
		DebugChannelID:     os.Getenv("DEBUG_CHANNEL_ID"),
		DatabasePath:       os.Getenv("DATABASE_PATH"),
		RedisURL:           os.Getenv("REDIS_URL"),
		MetricsAddr:        getenvDefault("METRICS_ADDR", ""),
		SessionTTL:         durationFromEnv("STEP_UP_SESSION_TTL", 15*time.Minute),
	}
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
