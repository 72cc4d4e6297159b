package discord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"panelbot/internal/audit"
)

func TestChallengeEmbed(t *testing.T) {
	embed := challengeEmbed("u1", "delete-server")

	assert.Contains(t, embed.Title, "Two-Factor Authentication Required")
	assert.Equal(t, colorChallenge, embed.Color)
	assert.Equal(t, "delete-server", embed.Fields[0].Value)
	assert.Equal(t, "<@u1>", embed.Fields[1].Value)
}

func TestSecuritySummaryEmbed(t *testing.T) {
	empty := SecuritySummaryEmbed("u1", nil)
	assert.Equal(t, "No recent security events", empty.Fields[0].Value)

	var events []audit.Event
	for i := 0; i < 7; i++ {
		e := audit.NewEvent("u1", audit.KindFailedAuth, audit.SeverityMedium, nil)
		e.Timestamp = time.Now().Add(-time.Duration(i) * time.Minute)
		events = append(events, e)
	}

	embed := SecuritySummaryEmbed("u1", events)
	assert.Contains(t, embed.Fields[0].Value, string(audit.KindFailedAuth))
	assert.Equal(t, "7", embed.Fields[1].Value)
}

func TestValidIP(t *testing.T) {
	assert.True(t, ValidIP("192.168.1.1"))
	assert.True(t, ValidIP("2001:db8::1"))
	assert.False(t, ValidIP("not-an-ip"))
	assert.False(t, ValidIP("999.1.1.1"))
	assert.False(t, ValidIP(""))
}

func TestUserSourceIP(t *testing.T) {
	assert.Equal(t, audit.SourceIPHidden, UserSourceIP())
}
