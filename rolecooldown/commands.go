package rolecooldown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandRoleCooldown = "rolecooldown"
	DiscordSlashCommandList         = "list"
	DiscordSlashCommandConfig       = "config"
	DiscordSlashCommandPing         = "ping"
	DiscordSlashCommandHelp         = "help"

	subcommandAdd       = "add"
	subcommandRemove    = "remove"
	subcommandDisplay   = "display"
	subcommandGroupRole = "admin-role"

	optionRole     = "role"
	optionCooldown = "cooldown"

	embedColorInfo   = 0x5865F2
	embedColorReply  = 0x57F287
	embedColorNotice = 0xFEE75C
	embedColorError  = 0xED4245

	// emptyFieldValue renders as a blank embed field
	emptyFieldValue = "\u200B"
)

var errUnknownCommand = errors.New("unknown command")

// appCommands returns the slash commands registered by the bot
func appCommands() []*discordgo.ApplicationCommand {
	contexts := []discordgo.InteractionContextType{discordgo.InteractionContextGuild}
	dmPerm := false
	minCooldownLength := 1

	roleOption := func(description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionRole,
			Name:        optionRole,
			Description: description,
			Required:    true,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:         DiscordSlashCommandRoleCooldown,
			Description:  "Manage role cooldowns",
			DMPermission: &dmPerm,
			Contexts:     &contexts,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandAdd,
					Description: "Add a new role to the list, or edit an existing one",
					Options: []*discordgo.ApplicationCommandOption{
						roleOption("The role to add"),
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        optionCooldown,
							Description: "The cooldown to apply once the role is used (separate with spaces). 8s 69m 28h 1d = 2d 05:09:08",
							Required:    true,
							MinLength:   &minCooldownLength,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandRemove,
					Description: "Remove a role from the list",
					Options: []*discordgo.ApplicationCommandOption{
						roleOption("The role to remove"),
					},
				},
			},
		},
		{
			Name:         DiscordSlashCommandList,
			Description:  "Displays a list of mentionables",
			DMPermission: &dmPerm,
			Contexts:     &contexts,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        string(ListAll),
					Description: "Display a list of all registered mentionable roles along with their cooldown",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        string(ListOnCooldown),
					Description: "Display a list of all roles currently on cooldown along with their remaining cooldown time",
				},
			},
		},
		{
			Name:         DiscordSlashCommandConfig,
			Description:  "Configure this bot's settings",
			DMPermission: &dmPerm,
			Contexts:     &contexts,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandDisplay,
					Description: "Display the current server configurations",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Name:        subcommandGroupRole,
					Description: "Add/Remove an admin role to/from the list",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Name:        subcommandAdd,
							Description: "Add an admin role, these roles are able to configure the bot's settings and role cooldowns",
							Options: []*discordgo.ApplicationCommandOption{
								roleOption("The role you would like to add"),
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Name:        subcommandRemove,
							Description: "Remove an admin role, these roles are able to configure the bot's settings and role cooldowns",
							Options: []*discordgo.ApplicationCommandOption{
								roleOption("The role you would like to remove"),
							},
						},
					},
				},
			},
		},
		{
			Name:         DiscordSlashCommandPing,
			Description:  "Replies with latency stats",
			DMPermission: &dmPerm,
			Contexts:     &contexts,
		},
		{
			Name:         DiscordSlashCommandHelp,
			Description:  "Displays an embed with all commands and their description",
			DMPermission: &dmPerm,
			Contexts:     &contexts,
		},
	}
}

// commandInfo describes a single executable command, with subcommands
// flattened into their full name (ex: "config admin-role add")
type commandInfo struct {
	Name        string
	Description string
	Options     []*discordgo.ApplicationCommandOption
}

func executableCommands(commands []*discordgo.ApplicationCommand) []commandInfo {
	var info []commandInfo
	for _, cmd := range commands {
		if cmd.Type != 0 && cmd.Type != discordgo.ChatApplicationCommand {
			continue
		}
		info = append(info, flattenOptions(cmd.Name, cmd.Description, cmd.Options)...)
	}
	return info
}

func flattenOptions(
	name string,
	description string,
	options []*discordgo.ApplicationCommandOption,
) []commandInfo {
	var (
		info []commandInfo
		args []*discordgo.ApplicationCommandOption
	)
	for _, opt := range options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionSubCommand,
			discordgo.ApplicationCommandOptionSubCommandGroup:
			info = append(
				info,
				flattenOptions(name+" "+opt.Name, opt.Description, opt.Options)...,
			)
		default:
			args = append(args, opt)
		}
	}
	if len(info) > 0 {
		return info
	}
	return []commandInfo{{Name: name, Description: description, Options: args}}
}

// commandPath returns the full name of the invoked command, including
// any subcommand group and subcommand, along with the options passed
// to the innermost subcommand
func commandPath(
	data discordgo.ApplicationCommandInteractionData,
) ([]string, map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	path := []string{data.Name}
	options := data.Options
	for len(options) == 1 {
		opt := options[0]
		if opt.Type != discordgo.ApplicationCommandOptionSubCommand &&
			opt.Type != discordgo.ApplicationCommandOptionSubCommandGroup {
			break
		}
		path = append(path, opt.Name)
		options = opt.Options
	}
	return path, optionMap(options)
}

// optionID returns the ID value of a role/user/channel option
func optionID(
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) string {
	opt, ok := options[name]
	if !ok || opt == nil {
		return ""
	}
	if s, ok := opt.Value.(string); ok {
		return s
	}
	return ""
}

func optionString(
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) string {
	opt, ok := options[name]
	if !ok || opt == nil || opt.Type != discordgo.ApplicationCommandOptionString {
		return ""
	}
	return opt.StringValue()
}

// handleInteraction runs the slash command from the interaction,
// responding with an ephemeral embed
func (b *Bot) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	ctx, logger := b.getLogger(ctx)
	logger = logger.With(interactionLogAttrs(*i)...)
	ctx = WithLogger(ctx, logger)

	data := i.ApplicationCommandData()
	path, options := commandPath(data)
	command := strings.Join(path, " ")
	discordCommandsTotal.WithLabelValues(command).Inc()
	logger.InfoContext(ctx, "received command", "command", command)

	if i.GuildID == "" {
		b.respond(ctx, i, noticeEmbed("This command can only be used in a server."))
		return
	}
	if b.RuntimeConfig().Paused {
		b.respond(ctx, i, noticeEmbed("I'm currently paused, try again later."))
		return
	}

	var err error
	switch path[0] {
	case DiscordSlashCommandRoleCooldown, DiscordSlashCommandConfig:
		allowed, permErr := b.canManageCooldowns(ctx, i)
		if permErr != nil {
			err = permErr
			break
		}
		if !allowed {
			logger.WarnContext(ctx, "user not allowed to run command", "command", command)
			b.respond(ctx, i, noticeEmbed("You don't have permission to use this command."))
			return
		}
		if path[0] == DiscordSlashCommandRoleCooldown {
			err = b.runRoleCooldownCommand(ctx, i, path, options)
		} else {
			err = b.runConfigCommand(ctx, i, path, options)
		}
	case DiscordSlashCommandList:
		err = b.runListCommand(ctx, i, path)
	case DiscordSlashCommandPing:
		err = b.runPingCommand(ctx, i)
	case DiscordSlashCommandHelp:
		b.respond(ctx, i, b.helpEmbed())
	default:
		err = fmt.Errorf("%w: %s", errUnknownCommand, command)
	}

	if err != nil {
		logger.ErrorContext(ctx, "error running command", "command", command, tint.Err(err))
		b.respond(
			ctx,
			i,
			&discordgo.MessageEmbed{
				Description: b.RuntimeConfig().DiscordErrorMessage,
				Color:       embedColorError,
			},
		)
	}
}

func (b *Bot) respond(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
) {
	err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		_, logger := b.getLogger(ctx)
		logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

func noticeEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Description: description, Color: embedColorNotice}
}

func replyEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Description: description, Color: embedColorReply}
}

func (b *Bot) runRoleCooldownCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	path []string,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	if len(path) < 2 {
		return fmt.Errorf("%w: missing subcommand", errUnknownCommand)
	}
	roleID := optionID(options, optionRole)
	if roleID == "" {
		return errors.New("missing role option")
	}

	switch path[1] {
	case subcommandAdd:
		return b.addRoleCooldown(ctx, i, roleID, optionString(options, optionCooldown))
	case subcommandRemove:
		return b.removeRoleCooldown(ctx, i, roleID)
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, strings.Join(path, " "))
	}
}

func invalidCooldownEmbed(input string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: truncate(fmt.Sprintf("Invalid Cooldown Input: `%s`", input), 256),
		Description: strings.Join(
			[]string{
				"This cooldown input is invalid.",
				"The cooldown input should be separated with spaces for each time frame entered.",
				"Each time frame should end in any of these letters:",
				"`s` = `seconds`",
				"`m` = `minutes`",
				"`h` = `hours`",
				"`d` = `days`",
				"",
				"**Examples**:",
				"`8s 69m 28h 1d` = `2d 05:09:08`",
				"`600s` = `0d 00:10:00`",
			}, "\n",
		),
		Color: embedColorNotice,
	}
}

func (b *Bot) addRoleCooldown(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	roleID string,
	input string,
) error {
	cooldown, err := ParseCooldown(input)
	if err != nil {
		b.respond(ctx, i, invalidCooldownEmbed(input))
		return nil
	}

	manageable, botRoleID, err := b.roleManageable(ctx, i.GuildID, roleID)
	if err != nil {
		return err
	}
	if !manageable {
		b.respond(
			ctx, i, &discordgo.MessageEmbed{
				Title: "Unable to add role",
				Description: strings.Join(
					[]string{
						fmt.Sprintf("My highest role (%s)", roleMention(botRoleID)),
						fmt.Sprintf("is not positioned above the role you tried to add (%s)", roleMention(roleID)),
						"I can not manage roles that are placed at or above my own.\n",
						"If you would still like to add this role to the list,",
						fmt.Sprintf("you have to raise my highest role (%s)", roleMention(botRoleID)),
						fmt.Sprintf("above the role you want to add (%s) or vice versa.", roleMention(roleID)),
					}, "\n",
				),
				Color: embedColorNotice,
			},
		)
		return nil
	}

	record, err := b.engine.Register(ctx, i.GuildID, roleID, cooldown)
	description := strings.Join(
		[]string{
			"**Note:** If I don't have permission to view a channel,",
			"I will also not be able to detect the usage of these roles.",
			"Make sure to add my role to any channel that you want to monitor for role usage.",
		}, "\n",
	)
	switch {
	case errors.Is(err, ErrRoleSyncFailed):
		_, logger := b.getLogger(ctx)
		logger.WarnContext(ctx, "registered role, but couldn't make it mentionable", tint.Err(err))
		description += fmt.Sprintf(
			"\n\n**Warning:** I was unable to make %s mentionable.",
			roleMention(roleID),
		)
	case err != nil:
		return err
	}

	b.respond(
		ctx, i, &discordgo.MessageEmbed{
			Title:       "Registered New Role Cooldown",
			Description: description,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "role", Value: roleMention(roleID), Inline: true},
				{Name: "cooldown", Value: fmt.Sprintf("`%s`", FormatCooldown(record.Cooldown())), Inline: true},
				{Name: emptyFieldValue, Value: emptyFieldValue, Inline: true},
			},
			Color: embedColorReply,
		},
	)
	return nil
}

func (b *Bot) removeRoleCooldown(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	roleID string,
) error {
	removed, err := b.engine.Unregister(ctx, i.GuildID, roleID)
	switch {
	case errors.Is(err, ErrRoleSyncFailed):
		_, logger := b.getLogger(ctx)
		logger.WarnContext(ctx, "removed role, but couldn't make it unmentionable", tint.Err(err))
	case err != nil:
		return err
	}
	if !removed {
		b.respond(
			ctx,
			i,
			noticeEmbed(fmt.Sprintf("%s is not included in the mention cooldown list.", roleMention(roleID))),
		)
		return nil
	}

	b.respond(
		ctx,
		i,
		replyEmbed(
			fmt.Sprintf(
				"Successfully removed %s from the list.\nDisabled the ability to mention %s for everyone.",
				roleMention(roleID),
				roleMention(roleID),
			),
		),
	)
	return nil
}

func (b *Bot) runListCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	path []string,
) error {
	filter := ListAll
	if len(path) > 1 && path[1] == string(ListOnCooldown) {
		filter = ListOnCooldown
	}
	items, err := b.engine.List(ctx, i.GuildID, filter)
	if err != nil {
		return err
	}
	b.respond(ctx, i, cooldownListEmbed(items, filter))
	return nil
}

func cooldownListEmbed(items []ListedMentionable, filter ListFilter) *discordgo.MessageEmbed {
	roles := make([]string, 0, len(items))
	values := make([]string, 0, len(items))
	for _, item := range items {
		roles = append(roles, roleMention(item.RoleID))
		if filter == ListOnCooldown {
			values = append(values, discordRelativeTimestamp(item.Record.ExpiresAt()))
		} else {
			values = append(values, fmt.Sprintf("`%s`", FormatCooldown(item.Record.Cooldown())))
		}
	}

	roleValue := strings.Join(roles, "\n")
	cooldownValue := strings.Join(values, "\n")
	if len(items) == 0 {
		roleValue = "None"
		cooldownValue = emptyFieldValue
	}
	return &discordgo.MessageEmbed{
		Title: "Role Mention Cooldowns",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Role", Value: truncate(roleValue, 1024), Inline: true},
			{Name: "Cooldown", Value: truncate(cooldownValue, 1024), Inline: true},
		},
		Color: embedColorInfo,
	}
}

func (b *Bot) runConfigCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	path []string,
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	switch {
	case len(path) == 2 && path[1] == subcommandDisplay:
		return b.displayGuildConfig(ctx, i)
	case len(path) == 3 && path[1] == subcommandGroupRole:
		roleID := optionID(options, optionRole)
		if roleID == "" {
			return errors.New("missing role option")
		}
		return b.updateAdminRoles(ctx, i, path[2], roleID)
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, strings.Join(path, " "))
	}
}

func (b *Bot) displayGuildConfig(ctx context.Context, i *discordgo.InteractionCreate) error {
	cfg, err := b.guildConfigs.Get(ctx, i.GuildID)
	if err != nil {
		return err
	}
	guildName := i.GuildID
	if guild, e := b.discord.session.Guild(i.GuildID, discordgo.WithContext(ctx)); e == nil {
		guildName = guild.Name
	}

	roles := make([]string, 0, len(cfg.AdminRoles))
	for _, roleID := range cfg.AdminRoles {
		roles = append(roles, roleMention(roleID))
	}
	adminRoles := strings.Join(roles, " ")
	if adminRoles == "" {
		adminRoles = "None"
	}

	b.respond(
		ctx, i, &discordgo.MessageEmbed{
			Title: truncate(fmt.Sprintf("%s Server Configurations", guildName), 256),
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Admin Roles", Value: truncate(adminRoles, 1024)},
			},
			Color: embedColorInfo,
		},
	)
	return nil
}

func (b *Bot) updateAdminRoles(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	action string,
	roleID string,
) error {
	var (
		changed bool
		err     error
	)
	switch action {
	case subcommandAdd:
		changed, err = b.guildConfigs.AddAdminRole(ctx, i.GuildID, roleID)
	case subcommandRemove:
		changed, err = b.guildConfigs.RemoveAdminRole(ctx, i.GuildID, roleID)
	default:
		return fmt.Errorf("%w: admin-role %s", errUnknownCommand, action)
	}
	if err != nil {
		return err
	}

	if !changed {
		presence := "already"
		if action == subcommandRemove {
			presence = "not"
		}
		b.respond(
			ctx,
			i,
			noticeEmbed(fmt.Sprintf("Role (%s) is %s present in the list", roleMention(roleID), presence)),
		)
		return nil
	}

	if action == subcommandAdd {
		b.respond(ctx, i, replyEmbed(fmt.Sprintf("Successfully **added** %s to the list", roleMention(roleID))))
	} else {
		b.respond(ctx, i, replyEmbed(fmt.Sprintf("Successfully **removed** %s from the list", roleMention(roleID))))
	}
	return nil
}

func (b *Bot) runPingCommand(ctx context.Context, i *discordgo.InteractionCreate) error {
	created, err := discordgo.SnowflakeTimestamp(i.ID)
	if err != nil {
		return fmt.Errorf("error parsing interaction ID: %w", err)
	}
	commandLatency := time.Since(created).Milliseconds()
	apiLatency := b.discord.session.HeartbeatLatency().Milliseconds()

	b.respond(
		ctx, i, &discordgo.MessageEmbed{
			Title: "Pong!",
			Description: fmt.Sprintf(
				"Command Latency: `%dms`\nAPI Latency: `%dms`",
				commandLatency,
				apiLatency,
			),
			Color: embedColorReply,
		},
	)
	return nil
}

func (b *Bot) helpEmbed() *discordgo.MessageEmbed {
	commands := executableCommands(appCommands())
	fields := make([]*discordgo.MessageEmbedField, 0, len(commands))
	for _, cmd := range commands {
		name := "/" + cmd.Name
		for _, opt := range cmd.Options {
			if opt.Required {
				name += fmt.Sprintf("  <`%s`>", opt.Name)
			} else {
				name += fmt.Sprintf("  [`%s`]", opt.Name)
			}
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: name, Value: cmd.Description})
	}
	return &discordgo.MessageEmbed{
		Title:  fmt.Sprintf("%s - Help", b.config.AppName),
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{Text: "< > = required  |  [ ] = optional"},
		Color:  embedColorInfo,
	}
}
