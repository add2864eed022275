package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/arcward/rolecooldown/rolecooldown"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = rolecooldown.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "rolecooldown [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loaded, err := loadConfig()
		if err != nil {
			log.Fatalln(err)
		}
		*cfg = *loaded
	},
}

// loadConfig decodes the viper settings into a new Config. Defaults come
// from the viper defaults set in initConfig, since mapstructure can't
// decode a level string into an already-allocated *slog.LevelVar.
func loadConfig() (*rolecooldown.Config, error) {
	var loaded rolecooldown.Config
	if err := viper.Unmarshal(&loaded, decodeHook()); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return &loaded, nil
}

// decodeHook converts env var strings into durations, space-separated
// slices and log levels
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(" "),
			LevelToStringHookFunc(),
		),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names (ex: "INFO") into
// *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	envPrefix := os.Getenv(rolecooldown.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = rolecooldown.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	viper.SetDefault("app_name", rolecooldown.DefaultAppName)
	viper.SetDefault("database", rolecooldown.DefaultDatabase)
	viper.SetDefault("database_type", rolecooldown.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		rolecooldown.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		rolecooldown.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("runtime_config_ttl", rolecooldown.DefaultRuntimeConfigTTL)

	viper.SetDefault("log_level", rolecooldown.DefaultLogLevel.String())
	viper.SetDefault("api.log_level", rolecooldown.DefaultAPILogLevel.String())

	viper.SetDefault("startup_timeout", rolecooldown.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", rolecooldown.DefaultShutdownTimeout)

	// Cooldown engine config
	viper.SetDefault("cooldown.sync_failure_limit", rolecooldown.DefaultSyncFailureLimit)
	viper.SetDefault(
		"cooldown.sync_requests_per_second",
		rolecooldown.DefaultSyncRequestsPerSecond,
	)
	viper.SetDefault(
		"cooldown.reconcile_concurrency",
		rolecooldown.DefaultReconcileConcurrency,
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.owner_user_id", "")
	viper.SetDefault(
		"discord.log_level",
		rolecooldown.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		rolecooldown.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		rolecooldown.DefaultDiscordGatewayIntent,
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.listen", rolecooldown.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.read_timeout", rolecooldown.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		rolecooldown.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", rolecooldown.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", rolecooldown.DefaultIdleTimeout)

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	viper.SetDefault("api.ssl.tls_min_version", rolecooldown.DefaultAPITLSMinVersion)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		rolecooldown.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		rolecooldown.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		rolecooldown.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", rolecooldown.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		rolecooldown.DefaultAPICORSAllowCredentials,
	)

	// slices and levels are decoded by the hooks in decodeHook, this just
	// fails early on a bad level
	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		if _, err := levelStringToLevelVar(viper.GetString(key)); err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
