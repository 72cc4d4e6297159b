package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"panelbot/internal/audit"
	"panelbot/internal/gate"
	platformdiscord "panelbot/internal/platform/discord"
	"panelbot/internal/privilege"
	rlmodels "panelbot/internal/ratelimit/models"
	rlservice "panelbot/internal/ratelimit/service"
	"panelbot/internal/stepup"
)

// commandTable declares the commands the gate admits. Handlers are thin: the
// hosting-panel API calls themselves live behind these stubs.
func commandTable(auditor *audit.Auditor, authenticator *stepup.Authenticator, limiter *rlservice.Limiter, privileges *privilege.Evaluator) map[string]platformdiscord.RegisteredCommand {
	return map[string]platformdiscord.RegisteredCommand{
		"server-status": {
			Meta: gate.Command{Name: "server-status", Category: gate.CategoryHosting},
			Run:  acknowledge("Server status request sent to the panel."),
		},
		"create-server": {
			Meta: gate.Command{Name: "create-server", Category: gate.CategoryHosting, Critical: true},
			Run:  acknowledge("Server provisioning request sent to the panel."),
		},
		"delete-server": {
			Meta: gate.Command{Name: "delete-server", Category: gate.CategoryHosting, Critical: true},
			Run:  acknowledge("Server deletion request sent to the panel."),
		},
		"change-plan": {
			Meta: gate.Command{Name: "change-plan", Category: gate.CategoryBilling, Critical: true},
			Run:  acknowledge("Plan change request sent to the panel."),
		},
		"security-settings": {
			Meta: gate.Command{Name: "security-settings", Category: gate.CategorySecurity},
			Run:  handleTwoFactorSetup(authenticator),
		},
		"api-access": {
			Meta: gate.Command{Name: "api-access", Category: gate.CategorySecurity},
			Run:  handleAPIAccess(authenticator),
		},
		"verify-2fa": {
			Meta: gate.Command{Name: "verify-2fa", Category: gate.CategorySecurity},
			Run:  handleTwoFactorVerify(authenticator),
		},
		"security-summary": {
			Meta: gate.Command{Name: "security-summary", Category: gate.CategoryAdmin, AdminOnly: true},
			Run:  handleSecuritySummary(auditor),
		},
		"reset-limit": {
			Meta: gate.Command{Name: "reset-limit", Category: gate.CategoryAdmin, AdminOnly: true},
			Run:  handleResetLimit(limiter),
		},
		"limit-status": {
			Meta: gate.Command{Name: "limit-status", Category: gate.CategoryGeneral},
			Run:  handleLimitStatus(limiter, privileges),
		},
	}
}

// commandDefinitions are the slash commands registered with the platform on
// startup. Names must match the commandTable keys.
func commandDefinitions() []*discordgo.ApplicationCommand {
	code := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "code",
		Description: "6-digit authenticator code or a backup code",
	}
	targetUser := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: "Target user",
	}
	return []*discordgo.ApplicationCommand{
		{Name: "server-status", Description: "Show the status of your servers"},
		{Name: "create-server", Description: "Provision a new server"},
		{Name: "delete-server", Description: "Delete one of your servers"},
		{Name: "change-plan", Description: "Change your subscription plan"},
		{Name: "security-settings", Description: "Set up two-factor authentication",
			Options: []*discordgo.ApplicationCommandOption{code}},
		{Name: "api-access", Description: "Issue a fresh panel API key"},
		{Name: "verify-2fa", Description: "Complete a two-factor challenge",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "code",
					Description: "6-digit authenticator code or a backup code",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "operation",
					Description: "Operation being verified",
				},
			}},
		{Name: "security-summary", Description: "Recent security events for a user",
			Options: []*discordgo.ApplicationCommandOption{targetUser}},
		{Name: "reset-limit", Description: "Clear a user's rate limits",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Target user",
					Required:    true,
				},
			}},
		{Name: "limit-status", Description: "Show your remaining command budget"},
	}
}

func acknowledge(message string) func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) error {
	return func(_ context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
		return respondEphemeral(s, i, message)
	}
}

// handleTwoFactorSetup starts enrollment without a code and enables
// enforcement when one is supplied.
func handleTwoFactorSetup(authenticator *stepup.Authenticator) func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) error {
	return func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
		userID := interactionUserID(i)
		code := stringOption(i, "code")

		if code != "" {
			if err := authenticator.Enable(ctx, userID, code); err != nil {
				return respondEphemeral(s, i, "Verification failed. Check the code and try again.")
			}
			return respondEphemeral(s, i, "Two-factor authentication is now enabled.")
		}

		enrollment, err := authenticator.Enroll(ctx, userID, userID)
		if err != nil {
			return err
		}
		var codes string
		for _, c := range enrollment.BackupCodes {
			codes += "`" + c + "`\n"
		}
		content := fmt.Sprintf(
			"Scan this URI in your authenticator app, then run the command again with your 6-digit code:\n`%s`\n\n**Backup codes** (shown once, store them safely):\n%s",
			enrollment.URI, codes,
		)
		return respondEphemeral(s, i, content)
	}
}

func handleTwoFactorVerify(authenticator *stepup.Authenticator) func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) error {
	return func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
		userID := interactionUserID(i)
		operation := stringOption(i, "operation")
		if operation == "" {
			operation = stepup.OperationGeneralAuth
		}

		result, err := authenticator.VerifyCode(ctx, userID, operation, stringOption(i, "code"))
		if err != nil {
			return respondEphemeral(s, i, "Verification failed. Check the code and try again.")
		}
		return respondEphemeral(s, i, fmt.Sprintf(
			"Verified. You may run `%s` until %s.",
			operation, result.Session.ExpiresAt.Local().Format(time.Kitchen),
		))
	}
}

func handleSecuritySummary(auditor *audit.Auditor) func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) error {
	return func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
		target := stringOption(i, "user")
		if target == "" {
			target = interactionUserID(i)
		}
		events, err := auditor.History(ctx, target, time.Now().Add(-24*time.Hour))
		if err != nil {
			return err
		}
		return respondEmbed(s, i, platformdiscord.SecuritySummaryEmbed(target, events))
	}
}

func handleResetLimit(limiter *rlservice.Limiter) func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) error {
	return func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
		target := stringOption(i, "user")
		if target == "" {
			return respondEphemeral(s, i, "A target user is required.")
		}
		if err := limiter.ResetUserLimit(ctx, target); err != nil {
			return err
		}
		return respondEphemeral(s, i, fmt.Sprintf("Rate limits reset for <@%s>.", target))
	}
}

func handleAPIAccess(authenticator *stepup.Authenticator) func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) error {
	return func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
		key, err := authenticator.IssueAPIKey(ctx, interactionUserID(i))
		if err != nil {
			return err
		}
		return respondEphemeral(s, i, fmt.Sprintf(
			"Your panel API key (shown once, previous keys are revoked):\n`%s`", key,
		))
	}
}

func handleLimitStatus(limiter *rlservice.Limiter, privileges *privilege.Evaluator) func(context.Context, *discordgo.Session, *discordgo.InteractionCreate) error {
	return func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error {
		userID := interactionUserID(i)
		tier, err := privileges.ResolveTier(ctx, i.GuildID, userID)
		if err != nil {
			tier = rlmodels.TierFree
		}
		status, err := limiter.UserLimitStatus(ctx, userID, tier)
		if err != nil {
			return err
		}
		return respondEphemeral(s, i, fmt.Sprintf(
			"Remaining commands: %d (used %d, window resets in %ds).",
			status.RemainingPoints, status.TotalHits, status.MsBeforeReset/1000,
		))
	}
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func stringOption(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionUser {
			if id, ok := opt.Value.(string); ok {
				return id
			}
		}
	}
	return ""
}
