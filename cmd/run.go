package cmd

import (
	"fmt"
	"log"

	"github.com/arcward/rolecooldown/rolecooldown"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot and (optionally) the admin API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := rolecooldown.New(cfg)
			if err != nil {
				log.Fatalf("error creating bot: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running bot: %s", err.Error())
			}
		},
	}

	registerCommandsCmd = &cobra.Command{
		Use:   "register-commands",
		Short: "Registers the bot's slash commands with discord, then exits",
		Long: "Registers the bot's slash commands. If discord.guild_id is set, " +
			"they're registered to that guild only, otherwise globally.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bot, err := rolecooldown.New(cfg)
			if err != nil {
				return err
			}
			created, err := bot.RegisterSlashCommands()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range created {
				fmt.Fprintf(out, "registered /%s (id: %s)\n", c.Name, c.ID)
			}
			return nil
		},
	}
)

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(registerCommandsCmd)
}
