package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// maxDebugMessageLen keeps forwarded errors inside the platform's message
// size limit.
const maxDebugMessageLen = 1900

// ChannelNotifier posts operational notices to the configured admin channel
// and raw command errors to the debug channel. Either channel may be
// unconfigured; the corresponding notifications are then disabled.
type ChannelNotifier struct {
	session        *discordgo.Session
	adminChannelID string
	debugChannelID string
	logger         *slog.Logger
}

func NewChannelNotifier(session *discordgo.Session, adminChannelID, debugChannelID string, logger *slog.Logger) *ChannelNotifier {
	return &ChannelNotifier{
		session:        session,
		adminChannelID: adminChannelID,
		debugChannelID: debugChannelID,
		logger:         logger,
	}
}

// NotifyStartup announces the bot coming online in the admin channel.
func (n *ChannelNotifier) NotifyStartup(botName string) {
	if n.adminChannelID == "" {
		return
	}
	_, err := n.session.ChannelMessageSendEmbed(n.adminChannelID, &discordgo.MessageEmbed{
		Title:       "✅ Bot Online",
		Description: fmt.Sprintf("%s is up and accepting commands.", botName),
		Color:       colorInfo,
	})
	if err != nil && n.logger != nil {
		n.logger.Warn("failed to post startup notice", "error", err)
	}
}

// ForwardError mirrors a raw command error, stack trace included, to the
// debug channel. Satisfies the gate's debug sink contract.
func (n *ChannelNotifier) ForwardError(_ context.Context, commandName, userID string, err error) {
	if n.debugChannelID == "" || err == nil {
		return
	}

	detail := err.Error()
	if len(detail) > maxDebugMessageLen {
		detail = detail[:maxDebugMessageLen]
	}
	content := fmt.Sprintf("**Command:** %s\n**User:** <@%s>\n```\n%s\n```", commandName, userID, detail)

	if _, sendErr := n.session.ChannelMessageSend(n.debugChannelID, content); sendErr != nil && n.logger != nil {
		n.logger.Warn("failed to forward error to debug channel",
			"error", sendErr,
			"command", commandName,
		)
	}
}
