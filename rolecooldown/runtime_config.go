package rolecooldown

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

// ModelUintID is an embeddable model with an auto-incrementing ID
type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// RuntimeConfig holds the settings that can be changed while the bot
// is running, and which persist across restarts. When multiple
// instances share a postgres database, a change made by one instance
// is announced to the others with DBNotifier.ReloadRuntimeConfig.
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused stops the bot from handling role mentions and slash
	// commands. Active cooldowns still expire while paused.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// DiscordCustomStatus is the custom status message displayed for the bot on Discord.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string"`

	// DiscordErrorMessage is sent in reply to a slash command that failed
	DiscordErrorMessage string `json:"discord_error_message" gorm:"type:string" binding:"required,max=2000"`

	// AdminUsername for the admin API
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the hashed password for the admin user
	AdminPassword string `json:"-" gorm:"type:string" log:"[redacted]"`

	// LogLevel is the general logging level for the application.
	LogLevel DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`

	// DiscordLogLevel is the logging level for Discord-related operations.
	DiscordLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:discord_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`

	// DiscordGoLogLevel is the logging level for the DiscordGo library.
	DiscordGoLogLevel DBLogLevel `gorm:"default:INFO;column:discordgo_log_level;type:string;check:discordgo_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discordgo_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`

	// DatabaseLogLevel is the logging level for database operations.
	DatabaseLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`

	// APILogLevel is the logging level for API operations.
	APILogLevel DBLogLevel `gorm:"default:INFO;type:string;check:api_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"api_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func (r RuntimeConfig) LogValue() slog.Value {
	return structToSlogValue(r)
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DiscordCustomStatus: DefaultDiscordCustomStatus,
		DiscordErrorMessage: DefaultDiscordErrorMessage,
		LogLevel:            DBLogLevelInfo,
		DiscordLogLevel:     DBLogLevel(DefaultDiscordLogLevel.String()),
		DiscordGoLogLevel:   DBLogLevel(DefaultDiscordgoLogLevel.String()),
		DatabaseLogLevel:    DBLogLevelInfo,
		APILogLevel:         DBLogLevelInfo,
	}
}

// RuntimeConfigUpdate is the payload for a partial update of the
// RuntimeConfig. Nil fields are left unchanged.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused *bool `json:"paused,omitempty"`

	DiscordCustomStatus *string `json:"discord_custom_status,omitempty" binding:"omitnil,max=128"`
	DiscordErrorMessage *string `json:"discord_error_message,omitempty" binding:"omitnil,min=1,max=2000"`

	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (u RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(u)
}

// columns returns the update as a map of column name to new value,
// for use with gorm's Updates. Only non-nil fields are included.
func (u RuntimeConfigUpdate) columns() (map[string]any, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	var updates map[string]any
	if err = json.Unmarshal(data, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// applyRuntimeConfigUpdate persists the update to the given config
// record, and validates the result. If either fails, the transaction
// is rolled back and current is left unchanged.
func applyRuntimeConfigUpdate(
	ctx context.Context,
	db DBI,
	current RuntimeConfig,
	update RuntimeConfigUpdate,
) (RuntimeConfig, error) {
	if err := update.validate(); err != nil {
		return current, err
	}
	updates, err := update.columns()
	if err != nil {
		return current, err
	}
	if len(updates) == 0 {
		return current, nil
	}

	updated := current
	err = db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if e := tx.Model(&updated).Updates(updates).Error; e != nil {
				return fmt.Errorf("error updating config: %w", e)
			}
			if e := structValidator.Struct(updated); e != nil {
				return fmt.Errorf("error validating config: %w", e)
			}
			return nil
		},
	)
	if err != nil {
		return current, err
	}
	return updated, nil
}

// getDiscordPresenceStatusUpdate returns the presence to identify with.
// A paused bot shows as 'do not disturb'.
func getDiscordPresenceStatusUpdate(config RuntimeConfig) discordgo.GatewayStatusUpdate {
	if config.Paused {
		return discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	return discordgo.GatewayStatusUpdate{
		Status: string(discordgo.StatusOnline),
		Game: discordgo.Activity{
			Name:  "Custom Status",
			Type:  discordgo.ActivityTypeCustom,
			State: config.DiscordCustomStatus,
		},
	}
}
