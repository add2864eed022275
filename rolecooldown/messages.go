package rolecooldown

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var roleMentionPattern = regexp.MustCompile(`<@&(\d+)>`)

// mentionedRoles returns the IDs of the roles referenced by the message,
// from both the parsed mentions and the raw content, in the order they
// first appear.
func mentionedRoles(m *discordgo.Message) []string {
	roles := make([]string, 0, len(m.MentionRoles))
	for _, roleID := range m.MentionRoles {
		if !slices.Contains(roles, roleID) {
			roles = append(roles, roleID)
		}
	}
	for _, match := range roleMentionPattern.FindAllStringSubmatch(m.Content, -1) {
		if !slices.Contains(roles, match[1]) {
			roles = append(roles, match[1])
		}
	}
	return roles
}

// handleDiscordMessage starts a cooldown for each registered role the
// message mentions. A mention of a role that's already on cooldown gets
// the message deleted, and the remaining time sent to the channel.
//
// Messages outside a guild and the bot's own messages are ignored.
func (b *Bot) handleDiscordMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	ctx, logger := b.getLogger(ctx)
	logger = logger.With(messageLogAttrs(m.Message)...)

	if m.GuildID == "" {
		return
	}
	if m.Author != nil && m.Author.ID == b.discord.botUserID() {
		return
	}

	roles := mentionedRoles(m.Message)
	if len(roles) == 0 {
		return
	}
	if b.RuntimeConfig().Paused {
		logger.DebugContext(ctx, "paused, ignoring role mentions", "roles", roles)
		return
	}

	deleted := false
	for _, roleID := range roles {
		if ctx.Err() != nil {
			return
		}
		outcome, err := b.engine.OnUsed(ctx, m.GuildID, roleID)
		if err != nil {
			logger.ErrorContext(
				ctx,
				"error handling role mention",
				"role_id", roleID,
				tint.Err(err),
			)
			continue
		}

		switch outcome.Result {
		case UsageNotRegistered:
			continue
		case UsageStarted:
			b.sendChannelMessage(
				ctx,
				m.ChannelID,
				fmt.Sprintf(
					"Starting mention cooldown: %s",
					discordRelativeTimestamp(outcome.Record.ExpiresAt()),
				),
			)
		case UsageAlreadyOnCooldown:
			if !deleted {
				if err = b.discord.session.ChannelMessageDelete(
					m.ChannelID,
					m.ID,
					discordgo.WithContext(ctx),
				); err != nil {
					logger.WarnContext(ctx, "unable to delete message", tint.Err(err))
				}
				deleted = true
			}
			b.sendChannelMessage(
				ctx,
				m.ChannelID,
				fmt.Sprintf(
					"Cooldown time remaining: %s",
					discordRelativeTimestamp(outcome.Record.ExpiresAt()),
				),
			)
		}
	}
}

func (b *Bot) sendChannelMessage(ctx context.Context, channelID string, content string) {
	_, err := b.discord.session.ChannelMessageSend(
		channelID,
		truncate(content, discordMaxMessageLength),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		_, logger := b.getLogger(ctx)
		logger.WarnContext(ctx, "unable to send message", "channel_id", channelID, tint.Err(err))
	}
}
