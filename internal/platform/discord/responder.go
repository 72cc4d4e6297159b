package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"panelbot/internal/audit"
	"panelbot/internal/gate"
)

// Embed colors for verdict replies.
const (
	colorChallenge = 0xFFA500
	colorDenied    = 0xFF0000
	colorInfo      = 0x0099FF
)

// Responder turns gate verdicts into ephemeral interaction replies.
type Responder struct {
	session *discordgo.Session
}

func NewResponder(session *discordgo.Session) *Responder {
	return &Responder{session: session}
}

// RespondVerdict replies to a denied or failed interaction. Allowed verdicts
// are the command handler's responsibility to answer.
func (r *Responder) RespondVerdict(interaction *discordgo.InteractionCreate, req gate.Request, verdict gate.Verdict) error {
	if verdict.Allowed {
		return nil
	}

	var embed *discordgo.MessageEmbed
	switch verdict.Reason {
	case gate.ReasonRateLimited:
		embed = &discordgo.MessageEmbed{
			Title:       "⏳ Slow Down",
			Description: verdict.Message,
			Color:       colorDenied,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Try Again In", Value: fmt.Sprintf("%d seconds", verdict.RetryAfterSeconds), Inline: true},
			},
		}
	case gate.ReasonTwoFactorRequired:
		embed = challengeEmbed(req.UserID, req.Command.Name)
	case gate.ReasonPermissionDenied:
		embed = &discordgo.MessageEmbed{
			Title:       "🚫 Permission Denied",
			Description: verdict.Message,
			Color:       colorDenied,
		}
	default:
		embed = &discordgo.MessageEmbed{
			Description: verdict.Message,
			Color:       colorDenied,
		}
	}

	return r.session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
}

// challengeEmbed is the prompt shown when a sensitive operation needs a
// second factor.
func challengeEmbed(userID, operation string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🔐 Two-Factor Authentication Required",
		Description: "This operation requires 2FA verification.",
		Color:       colorChallenge,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Operation", Value: operation, Inline: true},
			{Name: "User", Value: fmt.Sprintf("<@%s>", userID), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "Enter your 6-digit authenticator code"},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// SecuritySummaryEmbed renders a user's recent security events for admins.
func SecuritySummaryEmbed(userID string, events []audit.Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "🛡️ Security Summary",
		Description: fmt.Sprintf("Security events for <@%s>", userID),
		Color:       colorInfo,
		Timestamp:   time.Now().Format(time.RFC3339),
	}

	if len(events) == 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "Status", Value: "No recent security events",
		})
		return embed
	}

	recent := events
	if len(recent) > 5 {
		recent = recent[:5]
	}
	var list string
	for _, event := range recent {
		list += fmt.Sprintf("• **%s** - %s\n", event.Kind, event.Timestamp.Local().Format(time.RFC822))
	}
	embed.Fields = append(embed.Fields,
		&discordgo.MessageEmbedField{Name: "Recent Events", Value: list},
		&discordgo.MessageEmbedField{Name: "Total Events", Value: fmt.Sprintf("%d", len(events)), Inline: true},
	)
	return embed
}
