// Package discord adapts the chat platform to the admission pipeline: role
// and permission resolution, verdict-driven replies, and the admin and debug
// channels. No command business logic lives here.
package discord

import (
	"context"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"

	"panelbot/internal/privilege"
)

// RoleResolver answers the privilege evaluator's membership queries from the
// gateway session, preferring the local state cache over REST calls.
type RoleResolver struct {
	session *discordgo.Session
}

func NewRoleResolver(session *discordgo.Session) *RoleResolver {
	return &RoleResolver{session: session}
}

func (r *RoleResolver) HasRole(_ context.Context, guildID, userID, roleID string) (bool, error) {
	member, err := r.member(guildID, userID)
	if err != nil {
		return false, err
	}
	return slices.Contains(member.Roles, roleID), nil
}

func (r *RoleResolver) HasPermission(_ context.Context, guildID, userID, permission string) (bool, error) {
	if permission != privilege.PermissionAdministrator {
		return false, fmt.Errorf("unknown permission %q", permission)
	}

	guild, err := r.guild(guildID)
	if err != nil {
		return false, err
	}
	if guild.OwnerID == userID {
		return true, nil
	}

	member, err := r.member(guildID, userID)
	if err != nil {
		return false, err
	}
	for _, roleID := range member.Roles {
		if role, _ := r.session.State.Role(guildID, roleID); role != nil {
			if role.Permissions&discordgo.PermissionAdministrator != 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *RoleResolver) member(guildID, userID string) (*discordgo.Member, error) {
	if member, err := r.session.State.Member(guildID, userID); err == nil && member != nil {
		return member, nil
	}
	member, err := r.session.GuildMember(guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch guild member: %w", err)
	}
	return member, nil
}

func (r *RoleResolver) guild(guildID string) (*discordgo.Guild, error) {
	if guild, err := r.session.State.Guild(guildID); err == nil && guild != nil {
		return guild, nil
	}
	guild, err := r.session.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("fetch guild: %w", err)
	}
	return guild, nil
}
