package rolecooldown

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestRuntimeConfigUpdate_Columns(t *testing.T) {
	t.Parallel()
	level := DBLogLevelDebug
	columns, err := RuntimeConfigUpdate{
		Paused:          boolPtr(false),
		DiscordLogLevel: &level,
	}.columns()
	require.NoError(t, err)
	assert.Equal(
		t,
		map[string]any{"paused": false, "discord_log_level": "DEBUG"},
		columns,
	)

	columns, err = RuntimeConfigUpdate{}.columns()
	require.NoError(t, err)
	assert.Empty(t, columns)
}

func TestBot_UpdateRuntimeConfig(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	ctx := context.Background()
	bot.discord.connected.Store(true)

	updated, err := bot.UpdateRuntimeConfig(ctx, RuntimeConfigUpdate{Paused: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, updated.Paused)
	assert.True(t, bot.RuntimeConfig().Paused)

	var stored RuntimeConfig
	require.NoError(t, bot.db.Last(&stored).Error)
	assert.True(t, stored.Paused)

	session.mu.Lock()
	require.Len(t, session.statusUpdates, 1)
	assert.Equal(t, string(discordgo.StatusDoNotDisturb), session.statusUpdates[0].Status)
	session.mu.Unlock()

	updated, err = bot.UpdateRuntimeConfig(
		ctx,
		RuntimeConfigUpdate{Paused: boolPtr(false), DiscordCustomStatus: strPtr("on break")},
	)
	require.NoError(t, err)
	assert.False(t, updated.Paused)
	assert.Equal(t, "on break", updated.DiscordCustomStatus)

	session.mu.Lock()
	assert.Equal(t, []string{"on break"}, session.customStatuses)
	session.mu.Unlock()
}

func TestBot_UpdateRuntimeConfig_Invalid(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	ctx := context.Background()
	bot.discord.connected.Store(true)
	before := bot.RuntimeConfig()

	level := DBLogLevel("TRACE")
	updates := map[string]RuntimeConfigUpdate{
		"log level":     {Paused: boolPtr(true), LogLevel: &level},
		"error message": {DiscordErrorMessage: strPtr("")},
	}
	for name, update := range updates {
		t.Run(
			name, func(t *testing.T) {
				_, err := bot.UpdateRuntimeConfig(ctx, update)
				assert.Error(t, err)
			},
		)
	}

	assert.Equal(t, before, bot.RuntimeConfig())
	var stored RuntimeConfig
	require.NoError(t, bot.db.Last(&stored).Error)
	assert.False(t, stored.Paused)
	assert.Equal(t, DefaultDiscordErrorMessage, stored.DiscordErrorMessage)

	session.mu.Lock()
	assert.Empty(t, session.statusUpdates)
	session.mu.Unlock()
}

func TestGetDiscordPresenceStatusUpdate(t *testing.T) {
	t.Parallel()
	cfg := DefaultRuntimeConfig()
	cfg.DiscordCustomStatus = "hello"

	status := getDiscordPresenceStatusUpdate(cfg)
	assert.Equal(t, string(discordgo.StatusOnline), status.Status)
	assert.Equal(t, discordgo.ActivityTypeCustom, status.Game.Type)
	assert.Equal(t, "hello", status.Game.State)

	cfg.Paused = true
	status = getDiscordPresenceStatusUpdate(cfg)
	assert.Equal(t, string(discordgo.StatusDoNotDisturb), status.Status)
	assert.True(t, status.AFK)
}
