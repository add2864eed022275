package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arcward/rolecooldown/rolecooldown"
	"github.com/bwmarrin/discordgo"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				_ = os.Setenv(parts[0], parts[1])
			}
		},
	)
	os.Clearenv()

	tmpdir := t.TempDir()
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

RC_APP_NAME=CooldownBot
RC_DATABASE=/home/foo/rolecooldown.sqlite3
RC_DATABASE_TYPE=sqlite
RC_DATABASE_LOG_LEVEL=INFO
RC_DATABASE_SLOW_THRESHOLD=200ms
RC_LOG_LEVEL=INFO
RC_STARTUP_TIMEOUT=30s
RC_SHUTDOWN_TIMEOUT=60s
RC_RUNTIME_CONFIG_TTL=1m

# Cooldown engine

RC_COOLDOWN_SYNC_FAILURE_LIMIT=5
RC_COOLDOWN_SYNC_REQUESTS_PER_SECOND=2.5
RC_COOLDOWN_RECONCILE_CONCURRENCY=8

# Discord bot config

RC_DISCORD_TOKEN=your-discord-bot-token
RC_DISCORD_APPLICATION_ID=your-discord-bot-app-id
RC_DISCORD_GUILD_ID=
RC_DISCORD_OWNER_USER_ID=123456789
RC_DISCORD_LOG_LEVEL=WARN
RC_DISCORD_DISCORDGO_LOG_LEVEL=ERROR
RC_DISCORD_GATEWAY_INTENTS=33281

# API server

RC_API_ENABLED=true
RC_API_DEVELOPMENT=true
RC_API_LISTEN=127.0.0.1:5000
RC_API_SSL_CERT=/etc/ssl/cert.pem
RC_API_SSL_KEY=/etc/ssl/key.pem
RC_API_SSL_TLS_MIN_VERSION=771
RC_API_LOG_LEVEL=DEBUG
RC_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
RC_API_CORS_ALLOW_METHODS=GET POST PUT PATCH DELETE OPTIONS HEAD
RC_API_CORS_MAX_AGE=12h
RC_API_READ_TIMEOUT=5s
RC_API_READ_HEADER_TIMEOUT=5s
RC_API_WRITE_TIMEOUT=10s
RC_API_IDLE_TIMEOUT=30s
`

	require.NoError(t, os.WriteFile(envFile, []byte(envContent), 0o644))

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/rolecooldown.sqlite3", cfg.Database)
	assert.Equal(t, "CooldownBot", cfg.AppName)
	assert.Equal(t, "sqlite", viper.GetString("database_type"))
	assertLogLevel(t, slog.LevelInfo, cfg.DatabaseLogLevel)
	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assertLogLevel(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assertLogLevel(t, slog.LevelWarn, cfg.Discord.LogLevel)
	assertLogLevel(t, slog.LevelError, cfg.Discord.DiscordGoLogLevel)
	assertLogLevel(t, slog.LevelDebug, cfg.API.LogLevel)

	var config rolecooldown.Config
	err := viper.Unmarshal(&config, decodeHook())
	require.NoError(t, err)

	assert.Equal(t, "/home/foo/rolecooldown.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, time.Minute, config.RuntimeConfigTTL)

	require.NotNil(t, config.Cooldown)
	assert.Equal(t, 5, config.Cooldown.SyncFailureLimit)
	assert.InDelta(t, 2.5, config.Cooldown.SyncRequestsPerSecond, 0.001)
	assert.Equal(t, 8, config.Cooldown.ReconcileConcurrency)

	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "", config.Discord.GuildID)
	assert.Equal(t, "123456789", config.Discord.OwnerUserID)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelError, config.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, discordgo.Intent(33281), config.Discord.GatewayIntents)

	assert.True(t, config.API.Enabled)
	assert.True(t, config.API.Development)
	assert.Equal(t, "127.0.0.1:5000", config.API.Listen)
	assert.Equal(t, "tcp", config.API.ListenNetwork)
	assert.Equal(t, "/etc/ssl/cert.pem", config.API.SSL.Cert)
	assert.Equal(t, "/etc/ssl/key.pem", config.API.SSL.Key)
	assert.Equal(t, uint16(771), config.API.SSL.TLSMinVersion)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		config.API.CORS.AllowOrigins,
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		config.API.CORS.AllowMethods,
	)
	assert.Equal(t, rolecooldown.DefaultCORSAllowHeaders, config.API.CORS.AllowHeaders)
	assert.Equal(t, 12*time.Hour, config.API.CORS.MaxAge)
	assert.Equal(t, 10*time.Second, config.API.WriteTimeout)
}

func TestLevelToStringHookFunc_Invalid(t *testing.T) {
	var target struct {
		Level *slog.LevelVar `mapstructure:"level"`
	}
	decoder, err := mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			DecodeHook: LevelToStringHookFunc(),
			Result:     &target,
		},
	)
	require.NoError(t, err)
	assert.Error(t, decoder.Decode(map[string]any{"level": "LOUD"}))
	assert.NoError(t, decoder.Decode(map[string]any{"level": "WARN"}))
	assert.Equal(t, slog.LevelWarn, target.Level.Level())
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("RC_LOG_LEVEL", "DEBUG")
	t.Setenv("RC_DISCORD_LOG_LEVEL", "WARN")
	initConfig()

	config, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, rolecooldown.DefaultAppName, config.AppName)
	assert.Equal(t, rolecooldown.DefaultDatabaseType, config.DatabaseType)
	assert.Equal(t, rolecooldown.DefaultRuntimeConfigTTL, config.RuntimeConfigTTL)
	assertLogLevel(t, slog.LevelDebug, config.LogLevel)
	assertLogLevel(t, slog.LevelWarn, config.Discord.LogLevel)
	assertLogLevel(t, rolecooldown.DefaultDiscordgoLogLevel, config.Discord.DiscordGoLogLevel)
	assertLogLevel(t, rolecooldown.DefaultDatabaseLogLevel, config.DatabaseLogLevel)
	assertLogLevel(t, rolecooldown.DefaultAPILogLevel, config.API.LogLevel)

	require.NotNil(t, config.Cooldown)
	assert.Equal(t, rolecooldown.DefaultSyncFailureLimit, config.Cooldown.SyncFailureLimit)
	assert.Equal(t, rolecooldown.DefaultReconcileConcurrency, config.Cooldown.ReconcileConcurrency)
	assert.Equal(t, rolecooldown.DefaultDiscordGatewayIntent, config.Discord.GatewayIntents)
	assert.Equal(t, "tcp", config.API.ListenNetwork)
	assert.Equal(t, rolecooldown.DefaultCORSAllowMethods, config.API.CORS.AllowMethods)

	// the decoded config is what `run` hands to the bot
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assertLogLevel(t, slog.LevelDebug, cfg.LogLevel)
	require.NotNil(t, cfg.Cooldown)
}
