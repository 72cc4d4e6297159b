package discord

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"panelbot/internal/gate"
)

// RegisteredCommand pairs a command's gate declaration with its handler. The
// handler runs only after the command passes the full admission pipeline.
type RegisteredCommand struct {
	Meta gate.Command
	Run  func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) error
}

// InteractionHandler routes application-command interactions through the
// admission pipeline before any handler runs.
type InteractionHandler struct {
	gate      *gate.Gate
	responder *Responder
	commands  map[string]RegisteredCommand
	logger    *slog.Logger
}

func NewInteractionHandler(g *gate.Gate, responder *Responder, commands map[string]RegisteredCommand, logger *slog.Logger) *InteractionHandler {
	return &InteractionHandler{
		gate:      g,
		responder: responder,
		commands:  commands,
		logger:    logger,
	}
}

// Handle is registered with the gateway session for interaction events.
func (h *InteractionHandler) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	name := i.ApplicationCommandData().Name
	cmd, ok := h.commands[name]
	if !ok {
		if h.logger != nil {
			h.logger.Warn("unknown command", "command", name)
		}
		return
	}

	req := gate.Request{
		Command: cmd.Meta,
		UserID:  callerID(i),
		GuildID: i.GuildID,
	}

	ctx := context.Background()
	verdict := h.gate.Run(ctx, req, func(ctx context.Context) error {
		return cmd.Run(ctx, s, i)
	})
	if verdict.Allowed {
		return
	}

	if err := h.responder.RespondVerdict(i, req, verdict); err != nil && h.logger != nil {
		h.logger.Warn("failed to respond with verdict",
			"error", err,
			"command", name,
			"reason", string(verdict.Reason),
		)
	}
}

// callerID extracts the invoking user from either guild or DM interactions.
func callerID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
