package config

import (
	"os"
	"strconv"
	"time"
)

// BucketConfig is the capacity and window for one rate-limit scope.
type BucketConfig struct {
	Capacity int
	Window   time.Duration
}

// Config holds the budget for every scope the limiter evaluates.
type Config struct {
	Global      BucketConfig
	Guild       BucketConfig
	User        BucketConfig
	Premium     BucketConfig
	Critical    BucketConfig
	AuthFailure BucketConfig
}

// Default returns the stock budgets: a blunt global cap, a per-guild cap so one
// server cannot starve others, per-user fairness with a premium allowance, a
// tight hourly budget for destructive operations, and the anti-bruteforce
// budget for failed second-factor attempts.
func Default() *Config {
	return &Config{
		Global:      BucketConfig{Capacity: 100, Window: time.Minute},
		Guild:       BucketConfig{Capacity: 50, Window: time.Minute},
		User:        BucketConfig{Capacity: 10, Window: time.Minute},
		Premium:     BucketConfig{Capacity: 25, Window: time.Minute},
		Critical:    BucketConfig{Capacity: 3, Window: time.Hour},
		AuthFailure: BucketConfig{Capacity: 5, Window: 15 * time.Minute},
	}
}

// FromEnv builds the limiter config from environment variables. Only the
// free-tier user scope is overridable: RATE_LIMIT_MAX_REQUESTS sets its
// capacity and RATE_LIMIT_WINDOW sets its window in milliseconds.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("RATE_LIMIT_MAX_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.User.Capacity = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.User.Window = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg
}
