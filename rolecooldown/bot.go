package rolecooldown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/arcward/rolecooldown/rolecooldown.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

const (
	runtimeConfigRefreshTimeout = 30 * time.Second
	runtimeConfigSendTimeout    = 5 * time.Second
	shutdownAnnouncementPeriod  = 10 * time.Second
)

// Bot connects the cooldown engine to discord: role mentions in guild
// messages start cooldowns, slash commands manage them, and the admin
// API exposes the same operations over HTTP.
type Bot struct {
	dbNotifier DBNotifier
	config     *Config

	// read connection
	db *gorm.DB

	// used for writes. With sqlite, writes are serialized.
	writeDB DBI

	logger     *slog.Logger
	logHandler slog.Handler

	discord *Discord
	api     *API

	engine       *CooldownEngine
	guildConfigs *guildConfigStore

	// clock drives the cooldown engine. Tests swap in a fake.
	clock clockwork.Clock

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has initialized the
	// database, connected to discord and reconciled known guilds
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex

	triggerRuntimeConfigRefreshCh chan bool
}

// New creates a Bot from the given config. The database isn't opened,
// and discord isn't connected, until Run is called.
func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	b := &Bot{
		config:                        config,
		clock:                         clockwork.NewRealClock(),
		signalReady:                   make(chan struct{}, 1),
		eventShutdown:                 make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
	}

	b.logHandler = newLogHandler(b.config.LogLevel, "")
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(b.config.Discord.DiscordGoLogLevel, "discordgo"),
	)

	disc := newDiscord(b.config.Discord)
	disc.logger = slog.New(newLogHandler(b.config.Discord.LogLevel, "discord"))
	disc.bot = b
	b.discord = disc

	api, err := newAPI(b, config.API)
	errs = append(errs, err)
	b.api = api

	return b, errors.Join(errs...)
}

func (b *Bot) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = b.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// RuntimeConfig returns a copy of the current runtime configuration
func (b *Bot) RuntimeConfig() RuntimeConfig {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	if b.runtimeConfig == nil {
		return DefaultRuntimeConfig()
	}
	return *b.runtimeConfig
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// RegisterSlashCommands overwrites the bot's application commands
func (b *Bot) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	if b.discord.session == nil {
		session, err := b.discord.newSession()
		if err != nil {
			return nil, err
		}
		b.discord.session = session
	}
	return b.discord.registerCommands(options...)
}

// UpdateRuntimeConfig persists the update, applies it to this instance,
// and notifies other instances to reload their config
func (b *Bot) UpdateRuntimeConfig(
	ctx context.Context,
	update RuntimeConfigUpdate,
) (RuntimeConfig, error) {
	b.cfgMu.Lock()
	current := DefaultRuntimeConfig()
	if b.runtimeConfig != nil {
		current = *b.runtimeConfig
	}
	updated, err := applyRuntimeConfigUpdate(ctx, b.writeDB, current, update)
	if err != nil {
		b.cfgMu.Unlock()
		return current, err
	}
	b.unsafeRefreshRuntimeConfig(current, &updated)
	b.cfgMu.Unlock()

	if b.dbNotifier != nil {
		b.dbNotifier.ReloadRuntimeConfig(ctx)
	}
	return updated, nil
}

// Run opens the database, connects to discord, reconciles every known
// guild, and then handles events until ctx is canceled or a stop signal
// is received.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)

	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	notifier, err := newDBNotifier(b)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	b.dbNotifier = notifier

	ctx = WithLogger(ctx, logger)
	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))
	if b.signalReady == nil {
		b.signalReady = make(chan struct{}, 1)
	}

	// the 'runtime' context, which triggers a graceful shutdown when
	// canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			b.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			b.logger.Warn("context canceled")
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- b.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return errors.New("startup cancelled or timed out")
	case e := <-initErr:
		if e != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(e))
			return e
		}
		logger.InfoContext(ctx, "init complete")
	}

	if b.config.API.Enabled {
		go func() {
			httpErr := b.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				b.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if discErr := b.initDiscordSession(ctx, runtimeWG); discErr != nil {
		b.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}
	if discErr := b.discordInit(ctx, b.RuntimeConfig(), logger); discErr != nil {
		return discErr
	}

	// guilds that receive a GuildCreate first are skipped here, as
	// they're only reconciled once
	if reconcileErr := b.engine.ReconcileAll(startCtx); reconcileErr != nil {
		logger.WarnContext(ctx, "some guilds failed to reconcile", tint.Err(reconcileErr))
	}
	startCancel()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		b.engine.Run(ctx)
	}()

	b.startRuntimeConfigRefresher(ctx, runtimeWG, logger)

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := b.dbNotifier.Listen(ctx); e != nil {
			b.logger.ErrorContext(ctx, "error listening for notifications", tint.Err(e))
		}
	}()

	b.signalReady <- struct{}{}
	b.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context - generally
	// from an interrupt, or the `/api/quit` endpoint
	<-ctx.Done()

	return b.shutdown(ctx, runtimeWG)
}

func (b *Bot) initRun(ctx context.Context) error {
	b.logger.Debug("initializing DB...")
	if err := b.initDB(ctx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.logger.Debug("finished initializing DB")

	// the config is persisted so the bot restarts paused if it was paused
	var botState RuntimeConfig
	getStateErr := b.db.WithContext(ctx).Last(&botState).Error
	if getStateErr != nil {
		if !errors.Is(getStateErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error getting config: %w", getStateErr)
		}
		botState = DefaultRuntimeConfig()
		if _, err := b.writeDB.Create(ctx, &botState); err != nil {
			return fmt.Errorf("error creating config: %w", err)
		}
	}
	if validationErr := structValidator.Struct(botState); validationErr != nil {
		return fmt.Errorf("invalid runtime config: %w", validationErr)
	}
	if botState.AdminUsername == "" || botState.AdminPassword == "" {
		b.logger.WarnContext(
			ctx,
			"admin credentials not set, the API will reject all requests (see the `init` command)",
		)
	}

	b.cfgMu.Lock()
	b.setRuntimeLevels(botState)
	b.runtimeConfig = &botState
	b.cfgMu.Unlock()

	return nil
}

// initDB opens the database, migrates the schema, and builds the
// cooldown engine on top of it
func (b *Bot) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = b.logger
	}

	handler := newLogHandler(b.config.DatabaseLogLevel, "database")
	gormLogger := newGORMLogger(handler, b.config.DatabaseSlowThreshold)
	db, err := getDB(b.config.DatabaseType, b.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	b.db = db

	if b.config.DatabaseType == dbTypeSQLite {
		if err = initSQLite(db.WithContext(ctx)); err != nil {
			return err
		}
	}

	logger.Debug("migrating database...")
	err = db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return tx.Migrator().AutoMigrate(
				&GuildMentionables{},
				&GuildConfig{},
				&RuntimeConfig{},
			)
		},
	)
	if err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	logger.Debug("finished migrating database")

	b.writeDB = NewDatabase(
		db,
		slog.New(handler),
		b.config.DatabaseType == dbTypePostgres,
	)
	b.guildConfigs = newGuildConfigStore(b.writeDB)

	repo := NewCooldownRepository(
		newMentionableStore(b.writeDB),
		b.logger.With(loggerNameKey, "cooldown_repository"),
	)
	b.engine = NewCooldownEngine(
		repo,
		newDiscordRoleSynchronizer(
			b.discord,
			b.config.Cooldown.SyncRequestsPerSecond,
			b.discord.logger,
		),
		CooldownEngineConfig{
			Clock:                b.clock,
			Logger:               b.logger,
			AppName:              b.config.AppName,
			SyncFailureLimit:     b.config.Cooldown.SyncFailureLimit,
			ReconcileConcurrency: b.config.Cooldown.ReconcileConcurrency,
			OnChange: func(ctx context.Context, guildID string) {
				if b.dbNotifier != nil {
					b.dbNotifier.GuildUpdated(ctx, guildID)
				}
			},
		},
	)
	return nil
}

func (b *Bot) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := b.logger.With(loggerNameKey, "discord_session")

	if b.discord.session == nil {
		disc, discErr := b.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		b.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range b.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	b.discord.session.SetIdentify(
		discordgo.Identify{
			Intents:  b.config.Discord.GatewayIntents,
			Presence: getDiscordPresenceStatusUpdate(b.RuntimeConfig()),
		},
	)

	session := b.discord.session
	b.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(b.discord.handlerConnect()),
		session.AddHandler(b.discord.handlerDisconnect()),
		session.AddHandler(b.discord.handlerReady()),
		session.AddHandler(
			func(_ *discordgo.Session, g *discordgo.GuildCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					defer func() {
						if rc := recover(); rc != nil {
							b.handleRecover(ctx, rc)
						}
					}()
					b.handleGuildCreate(ctx, g)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, g *discordgo.GuildDelete) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					defer func() {
						if rc := recover(); rc != nil {
							b.handleRecover(ctx, rc)
						}
					}()
					b.handleGuildDelete(ctx, g)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					defer func() {
						if rc := recover(); rc != nil {
							b.handleRecover(ctx, rc)
						}
					}()
					b.handleInteraction(ctx, i)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					defer func() {
						if rc := recover(); rc != nil {
							b.handleRecover(ctx, rc)
						}
					}()
					b.handleDiscordMessage(ctx, m)
				}()
			},
		),
	}
	return nil
}

// handleGuildCreate provisions the guild's records and, the first time
// the guild is seen, reconciles its cooldowns. GuildCreate is also sent
// when an unavailable guild becomes available again.
func (b *Bot) handleGuildCreate(ctx context.Context, g *discordgo.GuildCreate) {
	if g == nil || g.Guild == nil || g.Unavailable {
		return
	}
	_, logger := b.getLogger(ctx)
	logger = logger.With("guild_id", g.ID)

	if err := b.engine.JoinGuild(ctx, g.ID); err != nil {
		logger.ErrorContext(ctx, "error joining guild", tint.Err(err))
	}
	if _, err := b.guildConfigs.Get(ctx, g.ID); err != nil {
		logger.ErrorContext(ctx, "error getting guild config", tint.Err(err))
	}
}

// handleGuildDelete removes the guild's records when the bot is removed
// from it. Outages (where Unavailable is set) are ignored.
func (b *Bot) handleGuildDelete(ctx context.Context, g *discordgo.GuildDelete) {
	if g == nil || g.Guild == nil || g.Unavailable {
		return
	}
	_, logger := b.getLogger(ctx)
	logger = logger.With("guild_id", g.ID)

	if err := b.engine.LeaveGuild(ctx, g.ID); err != nil {
		logger.ErrorContext(ctx, "error leaving guild", tint.Err(err))
	}
	if err := b.guildConfigs.Delete(ctx, g.ID); err != nil {
		logger.ErrorContext(ctx, "error deleting guild config", tint.Err(err))
	}
}

// discordInit opens the discord websocket connection
func (b *Bot) discordInit(
	ctx context.Context,
	runtimeCfg RuntimeConfig,
	logger *slog.Logger,
) error {
	logger.InfoContext(ctx, "connecting to discord")
	if err := b.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	if runtimeCfg.DiscordCustomStatus != "" && !runtimeCfg.Paused {
		go func() {
			if statusErr := b.discord.session.UpdateCustomStatus(
				runtimeCfg.DiscordCustomStatus,
			); statusErr != nil {
				logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}
	return nil
}

func (b *Bot) startRuntimeConfigRefresher(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
	logger *slog.Logger,
) {
	runtimeConfigTTL := b.config.RuntimeConfigTTL

	if runtimeConfigTTL > 0 {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			ticker := time.NewTicker(runtimeConfigTTL)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case b.triggerRuntimeConfigRefreshCh <- false:
						logger.Debug("sent config refresh signal from ticker")
					case <-time.After(runtimeConfigSendTimeout):
						logger.Warn("timed out sending config refresh signal")
					}
				}
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case forceRefresh := <-b.triggerRuntimeConfigRefreshCh:
				refreshCtx, refreshCancel := context.WithTimeout(
					ctx,
					runtimeConfigRefreshTimeout,
				)
				b.refreshRuntimeConfig(refreshCtx, forceRefresh)
				refreshCancel()
			}
		}
	}()
}

// refreshRuntimeConfig reloads the RuntimeConfig from the database, if
// forced or if it was last updated more than RuntimeConfigTTL ago
func (b *Bot) refreshRuntimeConfig(ctx context.Context, force bool) {
	b.cfgMu.Lock()
	defer b.cfgMu.Unlock()

	var refreshConfig RuntimeConfig
	if err := b.db.WithContext(ctx).Last(&refreshConfig).Error; err != nil {
		b.logger.Error("error getting runtime config", tint.Err(err))
		return
	}

	lastUpdated := time.Since(time.UnixMilli(refreshConfig.UpdatedAt))
	if !force && lastUpdated <= b.config.RuntimeConfigTTL {
		b.logger.Debug("runtime config is up to date, skipping refresh")
		return
	}
	b.logger.Info(
		fmt.Sprintf(
			"runtime config last updated: %s ago, refreshing",
			lastUpdated.String(),
		),
	)

	previous := DefaultRuntimeConfig()
	if b.runtimeConfig != nil {
		previous = *b.runtimeConfig
	}
	b.unsafeRefreshRuntimeConfig(previous, &refreshConfig)
}

// unsafeRefreshRuntimeConfig swaps in the given config, updating the
// discord presence if the paused state or custom status changed. The
// caller must hold cfgMu.
func (b *Bot) unsafeRefreshRuntimeConfig(
	previous RuntimeConfig,
	next *RuntimeConfig,
) {
	if b.discord.session != nil && b.discord.connected.Load() {
		switch {
		case next.Paused && !previous.Paused:
			if discErr := b.discord.session.UpdateStatusComplex(
				discordgo.UpdateStatusData{
					AFK:    true,
					Status: string(discordgo.StatusDoNotDisturb),
				},
			); discErr != nil {
				b.logger.Error("error updating discord status", tint.Err(discErr))
			}
		case !next.Paused && (previous.Paused ||
			next.DiscordCustomStatus != previous.DiscordCustomStatus):
			if discErr := b.discord.session.UpdateCustomStatus(
				next.DiscordCustomStatus,
			); discErr != nil {
				b.logger.Error("error updating discord status", tint.Err(discErr))
			}
		}
	}

	b.runtimeConfig = next
	b.setRuntimeLevels(*next)
	b.logger.Info("refreshed runtime config")
}

// setRuntimeLevels sets the log levels of each component from the
// given RuntimeConfig
func (b *Bot) setRuntimeLevels(state RuntimeConfig) {
	b.config.LogLevel.Set(state.LogLevel.Level())
	b.config.Discord.LogLevel.Set(state.DiscordLogLevel.Level())
	b.config.Discord.DiscordGoLogLevel.Set(state.DiscordGoLogLevel.Level())
	b.config.API.LogLevel.Set(state.APILogLevel.Level())
	b.config.DatabaseLogLevel.Set(state.DatabaseLogLevel.Level())
}

func (b *Bot) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	b.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if b.eventShutdown != nil {
			go func() {
				b.eventShutdown <- struct{}{}
			}()
		}
	}()
	shutdownStart := time.Now()
	shutdownTimeout := b.config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		b.logger.Warn("immediate shutdown")
		go func() {
			_ = b.api.httpServer.Close()
		}()
		if b.discord.session != nil {
			_ = b.discord.session.Close()
		}
		return nil
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	announcementTicker := time.NewTicker(shutdownAnnouncementPeriod)
	defer announcementTicker.Stop()

	b.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", shutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		// in-flight handlers, the sweep loop and the notifier listener
		runtimeWG.Wait()
		runtimeStopEnd := time.Now()
		b.logger.InfoContext(
			ctx,
			"finished handling in-flight events",
			"runtime_stop_duration", runtimeStopEnd.Sub(shutdownStart),
		)
		stopWG := &sync.WaitGroup{}

		if b.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				b.logger.InfoContext(ctx, "stopping http server")
				_ = b.api.httpServer.Shutdown(closeCtx)
				b.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		if b.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				b.logger.InfoContext(ctx, "closing discord session")
				_ = b.discord.session.Close()
				b.logger.InfoContext(ctx, "discord session closed")
				for _, h := range b.discord.discordgoRemoveHandlerFuncs {
					h()
				}
				b.discord.discordgoRemoveHandlerFuncs = nil
			}()
		}

		stopWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	for {
		select {
		case <-gracefulShutdownCh:
			closeCancel()
			shutdownEnded := time.Now()
			b.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_duration", shutdownEnded.Sub(shutdownStart),
				"active_cooldowns", b.engine.Tracker().Len(),
			)
			return nil
		case <-announcementTicker.C:
			b.logger.Warn(
				fmt.Sprintf(
					"time until hard shutdown: %s",
					time.Until(shutdownDeadline).String(),
				),
			)
		case <-closeCtx.Done():
			b.logger.Warn("handlers did not stop in time, forcing close")
			go func() {
				_ = b.api.httpServer.Close()
			}()
			return errors.New("handlers did not stop in time")
		}
	}
}

func (*Bot) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	if nerr, ok := rc.(error); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(nerr),
			"stack_trace", stackTrace,
		)
		return
	}
	if nerr, ok := rc.(string); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(nerr)),
			"stack_trace", stackTrace,
		)
		return
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", stackTrace,
	)
}
