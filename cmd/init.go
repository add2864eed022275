package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/arcward/rolecooldown/rolecooldown"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"
)

// passwordReader reads a password without echoing it. Tests replace it.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var resetCredentials bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set the admin API credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			return errors.New(
				"environment variable RC_DATABASE_TYPE not set (must be one of: sqlite, postgres)",
			)
		}
		if cfg.Database == "" {
			return errors.New(
				"environment variable RC_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}

		db, err := rolecooldown.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			defer sqlDB.Close()
		}

		var runtimeConfig rolecooldown.RuntimeConfig
		rv := db.Last(&runtimeConfig)
		if rv.Error != nil {
			if !errors.Is(rv.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("error retrieving runtime config: %w", rv.Error)
			}
			runtimeConfig = rolecooldown.DefaultRuntimeConfig()
			if err = db.Create(&runtimeConfig).Error; err != nil {
				return fmt.Errorf("error creating runtime config: %w", err)
			}
		}

		out := cmd.OutOrStdout()
		credentialsSet := runtimeConfig.AdminUsername != "" && runtimeConfig.AdminPassword != ""
		if credentialsSet && !resetCredentials {
			fmt.Fprintln(out, "Admin credentials are already set.")
		} else {
			if credentialsSet {
				fmt.Fprintln(out, "Resetting admin credentials.")
			} else {
				fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")
			}
			username, password, promptErr := promptCredentials(out, os.Stdin)
			if promptErr != nil {
				return promptErr
			}

			hashedPassword, hashErr := rolecooldown.HashPassword(password)
			if hashErr != nil {
				return fmt.Errorf("error hashing password: %w", hashErr)
			}

			if err = db.Model(&runtimeConfig).Updates(
				map[string]any{
					"admin_username": username,
					"admin_password": hashedPassword,
				},
			).Error; err != nil {
				return fmt.Errorf("error updating admin credentials: %w", err)
			}
			fmt.Fprintln(out, "Admin credentials set successfully.")
		}

		fmt.Fprintln(
			out,
			"Initialization complete. Register commands with 'register-commands', "+
				"then start the bot with 'run'.",
		)
		return nil
	},
}

// promptCredentials asks for a username, and for a password until it's
// entered the same way twice
func promptCredentials(out io.Writer, in io.Reader) (string, string, error) {
	reader := bufio.NewReader(in)

	fmt.Fprint(out, "Enter admin username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)
	if username == "" {
		return "", "", errors.New("username can't be empty")
	}

	readPassword := customPasswordReader
	if readPassword == nil {
		readPassword = func() ([]byte, error) {
			return term.ReadPassword(int(syscall.Stdin))
		}
	}

	for {
		fmt.Fprint(out, "Enter admin password: ")
		passwordBytes, err := readPassword()
		if err != nil {
			return "", "", fmt.Errorf("error reading password: %w", err)
		}
		fmt.Fprintln(out)

		fmt.Fprint(out, "Confirm admin password: ")
		confirmPasswordBytes, err := readPassword()
		if err != nil {
			return "", "", fmt.Errorf("error reading password: %w", err)
		}
		fmt.Fprintln(out)

		password := string(passwordBytes)
		switch {
		case password == "":
			fmt.Fprintln(out, "Password can't be empty. Please try again.")
		case password != string(confirmPasswordBytes):
			fmt.Fprintln(out, "Passwords do not match. Please try again.")
		default:
			return username, password, nil
		}
	}
}

//nolint:gochecknoinits
func init() {
	initCmd.Flags().BoolVar(
		&resetCredentials,
		"reset",
		false,
		"Replace existing admin credentials",
	)
	rootCmd.AddCommand(initCmd)
}
