package rolecooldown

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAdminUserID  = "800000000000000001"
	testMemberUserID = "800000000000000002"

	testRoleLow   = "700000000000000001"
	testRoleEqual = "700000000000000002"
	testRoleHigh  = "700000000000000003"

	// a snowflake, so the ping command can parse a timestamp from it
	testInteractionID = "1170000000000000000"
)

// setupCommandGuild adds roles below, level with and above the bot's
// highest role (at position 5)
func setupCommandGuild(session *mockDiscordSession) {
	session.addGuild(
		testGuildID,
		testOwnerID,
		testBotUserID,
		5,
		&discordgo.Role{ID: testRoleLow, Position: 2},
		&discordgo.Role{ID: testRoleEqual, Position: 5},
		&discordgo.Role{ID: testRoleHigh, Position: 9},
	)
}

func adminMember() *discordgo.Member {
	return &discordgo.Member{
		User:        &discordgo.User{ID: testAdminUserID},
		Permissions: discordgo.PermissionAdministrator,
	}
}

func regularMember(roles ...string) *discordgo.Member {
	return &discordgo.Member{
		User:  &discordgo.User{ID: testMemberUserID},
		Roles: roles,
	}
}

func roleOpt(roleID string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  optionRole,
		Type:  discordgo.ApplicationCommandOptionRole,
		Value: roleID,
	}
}

func cooldownOpt(value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  optionCooldown,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func subcommand(
	name string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:    name,
		Type:    discordgo.ApplicationCommandOptionSubCommand,
		Options: options,
	}
}

func newCommandInteraction(
	member *discordgo.Member,
	name string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        testInteractionID,
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   testGuildID,
			ChannelID: testChannelID,
			Member:    member,
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: options,
			},
		},
	}
}

func TestCommandPath(t *testing.T) {
	t.Parallel()
	data := discordgo.ApplicationCommandInteractionData{
		Name: DiscordSlashCommandConfig,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{
				Name: subcommandGroupRole,
				Type: discordgo.ApplicationCommandOptionSubCommandGroup,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					subcommand(subcommandAdd, roleOpt("1")),
				},
			},
		},
	}
	path, options := commandPath(data)
	assert.Equal(t, []string{"config", "admin-role", "add"}, path)
	assert.Equal(t, "1", optionID(options, optionRole))
	assert.Empty(t, optionString(options, optionRole))
	assert.Empty(t, optionID(options, optionCooldown))
}

func TestExecutableCommands(t *testing.T) {
	t.Parallel()
	var names []string
	for _, cmd := range executableCommands(appCommands()) {
		names = append(names, cmd.Name)
	}
	assert.Equal(
		t,
		[]string{
			"rolecooldown add",
			"rolecooldown remove",
			"list all",
			"list cooldowns",
			"config display",
			"config admin-role add",
			"config admin-role remove",
			"ping",
			"help",
		},
		names,
	)
}

func TestBot_Command_RoleCooldownAdd(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	setupCommandGuild(session)
	ctx := context.Background()

	bot.handleInteraction(
		ctx,
		newCommandInteraction(
			adminMember(),
			DiscordSlashCommandRoleCooldown,
			subcommand(subcommandAdd, roleOpt(testRoleLow), cooldownOpt("1h 30m")),
		),
	)

	embed := session.lastEmbed(t)
	assert.Equal(t, "Registered New Role Cooldown", embed.Title)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, roleMention(testRoleLow), embed.Fields[0].Value)
	assert.Equal(t, "`0d 01:30:00`", embed.Fields[1].Value)
	assert.NotContains(t, embed.Description, "Warning")

	record, ok, err := bot.engine.Repository().GetRecord(ctx, testGuildID, testRoleLow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(90*60*1000), record.CooldownMs)
	assert.Equal(t, neverUsed, record.LastUsedMs)

	assert.Equal(
		t,
		[]roleEdit{{GuildID: testGuildID, RoleID: testRoleLow, Mentionable: true}},
		session.editedRoles(),
	)
}

func TestBot_Command_RoleCooldownAdd_NotManageable(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	setupCommandGuild(session)
	ctx := context.Background()

	for _, roleID := range []string{testRoleEqual, testRoleHigh} {
		bot.handleInteraction(
			ctx,
			newCommandInteraction(
				adminMember(),
				DiscordSlashCommandRoleCooldown,
				subcommand(subcommandAdd, roleOpt(roleID), cooldownOpt("10m")),
			),
		)
		embed := session.lastEmbed(t)
		assert.Equal(t, "Unable to add role", embed.Title)
		assert.Contains(t, embed.Description, roleMention(testGuildID+"-bot"))
		assert.Contains(t, embed.Description, roleMention(roleID))
	}

	items, err := bot.engine.List(ctx, testGuildID, ListAll)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, session.editedRoles())
}

func TestBot_Command_RoleCooldownAdd_InvalidCooldown(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	setupCommandGuild(session)

	bot.handleInteraction(
		context.Background(),
		newCommandInteraction(
			adminMember(),
			DiscordSlashCommandRoleCooldown,
			subcommand(subcommandAdd, roleOpt(testRoleLow), cooldownOpt("soon")),
		),
	)

	embed := session.lastEmbed(t)
	assert.Equal(t, "Invalid Cooldown Input: `soon`", embed.Title)
	assert.Contains(t, embed.Description, "`8s 69m 28h 1d` = `2d 05:09:08`")
	assert.Equal(t, embedColorNotice, embed.Color)
}

func TestBot_Command_RoleCooldownAdd_SyncFailure(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	setupCommandGuild(session)
	ctx := context.Background()

	session.mu.Lock()
	session.roleEditErr = errors.New("missing permissions")
	session.mu.Unlock()

	bot.handleInteraction(
		ctx,
		newCommandInteraction(
			adminMember(),
			DiscordSlashCommandRoleCooldown,
			subcommand(subcommandAdd, roleOpt(testRoleLow), cooldownOpt("600s")),
		),
	)

	embed := session.lastEmbed(t)
	assert.Equal(t, "Registered New Role Cooldown", embed.Title)
	assert.Contains(t, embed.Description, "**Warning:** I was unable to make")
	assert.Equal(t, "`0d 00:10:00`", embed.Fields[1].Value)

	_, ok, err := bot.engine.Repository().GetRecord(ctx, testGuildID, testRoleLow)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBot_Command_RoleCooldownRemove(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	setupCommandGuild(session)
	ctx := context.Background()

	_, err := bot.engine.Register(ctx, testGuildID, testRoleLow, time.Minute)
	require.NoError(t, err)

	remove := newCommandInteraction(
		adminMember(),
		DiscordSlashCommandRoleCooldown,
		subcommand(subcommandRemove, roleOpt(testRoleLow)),
	)
	bot.handleInteraction(ctx, remove)
	embed := session.lastEmbed(t)
	assert.True(t, strings.HasPrefix(embed.Description, "Successfully removed"))
	assert.Equal(t, embedColorReply, embed.Color)

	edits := session.editedRoles()
	require.Len(t, edits, 2)
	assert.False(t, edits[1].Mentionable)

	bot.handleInteraction(ctx, remove)
	embed = session.lastEmbed(t)
	assert.Equal(
		t,
		roleMention(testRoleLow)+" is not included in the mention cooldown list.",
		embed.Description,
	)
}

func TestBot_Command_List(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	ctx := context.Background()

	list := func(filter ListFilter) *discordgo.MessageEmbed {
		bot.handleInteraction(
			ctx,
			newCommandInteraction(
				regularMember(),
				DiscordSlashCommandList,
				subcommand(string(filter)),
			),
		)
		return session.lastEmbed(t)
	}

	embed := list(ListAll)
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "None", embed.Fields[0].Value)

	_, err := bot.engine.Register(ctx, testGuildID, "1", time.Hour)
	require.NoError(t, err)
	_, err = bot.engine.Register(ctx, testGuildID, "2", time.Minute)
	require.NoError(t, err)
	_, err = bot.engine.OnUsed(ctx, testGuildID, "1")
	require.NoError(t, err)

	embed = list(ListAll)
	assert.Equal(t, "<@&2>\n<@&1>", embed.Fields[0].Value)
	assert.Equal(t, "`0d 00:01:00`\n`0d 01:00:00`", embed.Fields[1].Value)

	embed = list(ListOnCooldown)
	assert.Equal(t, "<@&1>", embed.Fields[0].Value)
	assert.Equal(t, "<t:1700003600:R>", embed.Fields[1].Value)
}

func TestBot_Command_Config(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	ctx := context.Background()

	adminRole := func(action string, roleID string) *discordgo.MessageEmbed {
		bot.handleInteraction(
			ctx,
			newCommandInteraction(
				adminMember(),
				DiscordSlashCommandConfig,
				&discordgo.ApplicationCommandInteractionDataOption{
					Name:    subcommandGroupRole,
					Type:    discordgo.ApplicationCommandOptionSubCommandGroup,
					Options: []*discordgo.ApplicationCommandInteractionDataOption{subcommand(action, roleOpt(roleID))},
				},
			),
		)
		return session.lastEmbed(t)
	}
	display := func() *discordgo.MessageEmbed {
		bot.handleInteraction(
			ctx,
			newCommandInteraction(adminMember(), DiscordSlashCommandConfig, subcommand(subcommandDisplay)),
		)
		return session.lastEmbed(t)
	}

	embed := display()
	assert.Equal(t, "guild "+testGuildID+" Server Configurations", embed.Title)
	assert.Equal(t, "None", embed.Fields[0].Value)

	embed = adminRole(subcommandAdd, "42")
	assert.Equal(t, "Successfully **added** <@&42> to the list", embed.Description)
	embed = adminRole(subcommandAdd, "42")
	assert.Equal(t, "Role (<@&42>) is already present in the list", embed.Description)
	adminRole(subcommandAdd, "43")

	embed = display()
	assert.Equal(t, "<@&42> <@&43>", embed.Fields[0].Value)

	embed = adminRole(subcommandRemove, "42")
	assert.Equal(t, "Successfully **removed** <@&42> from the list", embed.Description)
	embed = adminRole(subcommandRemove, "42")
	assert.Equal(t, "Role (<@&42>) is not present in the list", embed.Description)

	cfg, err := bot.guildConfigs.Get(ctx, testGuildID)
	require.NoError(t, err)
	assert.Equal(t, []string{"43"}, []string(cfg.AdminRoles))
}

func TestBot_Command_Permissions(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	setupCommandGuild(session)
	ctx := context.Background()

	add := func(member *discordgo.Member) *discordgo.MessageEmbed {
		bot.handleInteraction(
			ctx,
			newCommandInteraction(
				member,
				DiscordSlashCommandRoleCooldown,
				subcommand(subcommandAdd, roleOpt(testRoleLow), cooldownOpt("1m")),
			),
		)
		return session.lastEmbed(t)
	}

	embed := add(regularMember())
	assert.Equal(t, "You don't have permission to use this command.", embed.Description)

	_, err := bot.guildConfigs.AddAdminRole(ctx, testGuildID, "900")
	require.NoError(t, err)
	embed = add(regularMember("900"))
	assert.Equal(t, "Registered New Role Cooldown", embed.Title)

	owner := &discordgo.Member{User: &discordgo.User{ID: testOwnerID}}
	embed = add(owner)
	assert.Equal(t, "Registered New Role Cooldown", embed.Title)
}

func TestBot_CanManageCooldowns(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	ctx := context.Background()

	const guildOwnerID = "810000000000000001"
	session.addGuild(testGuildID, guildOwnerID, testBotUserID, 5)
	_, err := bot.guildConfigs.AddAdminRole(ctx, testGuildID, "900")
	require.NoError(t, err)

	tests := []struct {
		name    string
		member  *discordgo.Member
		allowed bool
	}{
		{name: "administrator", member: adminMember(), allowed: true},
		{name: "admin role", member: regularMember("1", "900"), allowed: true},
		{name: "guild owner", member: &discordgo.Member{User: &discordgo.User{ID: guildOwnerID}}, allowed: true},
		{name: "bot owner", member: &discordgo.Member{User: &discordgo.User{ID: testOwnerID}}, allowed: true},
		{name: "member", member: regularMember("1"), allowed: false},
		{name: "no member", member: nil, allowed: false},
	}

	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				allowed, e := bot.canManageCooldowns(
					ctx,
					newCommandInteraction(tc.member, DiscordSlashCommandConfig),
				)
				require.NoError(t, e)
				assert.Equal(t, tc.allowed, allowed)
			},
		)
	}
}

func TestBot_RoleManageable(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	setupCommandGuild(session)
	ctx := context.Background()

	manageable, botRoleID, err := bot.roleManageable(ctx, testGuildID, testRoleLow)
	require.NoError(t, err)
	assert.True(t, manageable)
	assert.Equal(t, testGuildID+"-bot", botRoleID)

	for _, roleID := range []string{testRoleEqual, testRoleHigh} {
		manageable, _, err = bot.roleManageable(ctx, testGuildID, roleID)
		require.NoError(t, err)
		assert.False(t, manageable)
	}

	_, _, err = bot.roleManageable(ctx, testGuildID, "unknown-role")
	assert.Error(t, err)
	_, _, err = bot.roleManageable(ctx, "unknown-guild", testRoleLow)
	assert.Error(t, err)
}

func TestBot_Command_PingHelp(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	ctx := context.Background()

	bot.handleInteraction(ctx, newCommandInteraction(regularMember(), DiscordSlashCommandPing))
	embed := session.lastEmbed(t)
	assert.Equal(t, "Pong!", embed.Title)
	assert.Contains(t, embed.Description, "API Latency: `42ms`")

	bot.handleInteraction(ctx, newCommandInteraction(regularMember(), DiscordSlashCommandHelp))
	embed = session.lastEmbed(t)
	assert.Equal(t, bot.config.AppName+" - Help", embed.Title)
	require.Len(t, embed.Fields, len(executableCommands(appCommands())))
	assert.Equal(t, "/rolecooldown add  <`role`>  <`cooldown`>", embed.Fields[0].Name)
	assert.Equal(t, "/ping", embed.Fields[7].Name)
}

func TestBot_HandleInteraction_Rejected(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	ctx := context.Background()

	dm := newCommandInteraction(nil, DiscordSlashCommandPing)
	dm.GuildID = ""
	dm.User = &discordgo.User{ID: testMemberUserID}
	bot.handleInteraction(ctx, dm)
	assert.Equal(t, "This command can only be used in a server.", session.lastEmbed(t).Description)

	bot.handleInteraction(ctx, newCommandInteraction(regularMember(), "bogus"))
	embed := session.lastEmbed(t)
	assert.Equal(t, DefaultDiscordErrorMessage, embed.Description)
	assert.Equal(t, embedColorError, embed.Color)

	_, err := bot.UpdateRuntimeConfig(ctx, RuntimeConfigUpdate{Paused: boolPtr(true)})
	require.NoError(t, err)
	bot.handleInteraction(ctx, newCommandInteraction(adminMember(), DiscordSlashCommandPing))
	assert.Equal(t, "I'm currently paused, try again later.", session.lastEmbed(t).Description)

	responses := len(session.interactionResponses())
	bot.handleInteraction(ctx, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing}})
	assert.Len(t, session.interactionResponses(), responses)
}
