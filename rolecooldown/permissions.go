package rolecooldown

import (
	"context"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"
)

// canManageCooldowns reports whether the user who triggered the
// interaction may change the guild's cooldowns and config. Allowed are
// the guild owner, members with the Administrator permission, members
// with one of the guild's configured admin roles, and the bot's creator.
func (b *Bot) canManageCooldowns(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (bool, error) {
	user := interactionUser(i)
	if user == nil || i.GuildID == "" {
		return false, nil
	}
	if b.config.Discord.OwnerUserID != "" && user.ID == b.config.Discord.OwnerUserID {
		return true, nil
	}

	member := i.Member
	if member == nil {
		return false, nil
	}
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true, nil
	}

	cfg, err := b.guildConfigs.Get(ctx, i.GuildID)
	if err != nil {
		return false, fmt.Errorf("error getting guild config: %w", err)
	}
	for _, roleID := range member.Roles {
		if slices.Contains(cfg.AdminRoles, roleID) {
			return true, nil
		}
	}

	guild, err := b.discord.session.Guild(i.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("error getting guild: %w", err)
	}
	return guild.OwnerID == user.ID, nil
}

// roleManageable reports whether the bot can edit the role, which
// requires the bot's highest role to be positioned above it. The ID of
// the bot's highest role is also returned, and is empty if the bot has
// no roles.
func (b *Bot) roleManageable(
	ctx context.Context,
	guildID string,
	roleID string,
) (bool, string, error) {
	member, err := b.discord.session.GuildMember(
		guildID,
		b.discord.botUserID(),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return false, "", fmt.Errorf("error getting bot member: %w", err)
	}
	roles, err := b.discord.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return false, "", fmt.Errorf("error getting guild roles: %w", err)
	}

	var (
		highest   int
		highestID string
		target    *discordgo.Role
	)
	for _, role := range roles {
		if role.ID == roleID {
			target = role
		}
		if !slices.Contains(member.Roles, role.ID) {
			continue
		}
		if highestID == "" || role.Position > highest {
			highest = role.Position
			highestID = role.ID
		}
	}
	if target == nil {
		return false, highestID, fmt.Errorf("role %s not found in guild %s", roleID, guildID)
	}
	if highestID == "" {
		return false, "", nil
	}
	return highest > target.Position, highestID, nil
}
