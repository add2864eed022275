package rolecooldown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiHealthCheck          = "/healthz"
	apiMetrics              = "/metrics"
	apiPathQuit             = "/quit"
	apiPathConfig           = "/config"
	apiPathRegisterCommands = "/discord/register_commands"
	apiPathCooldowns        = "/cooldowns"
	apiPathMentionables     = "/guilds/:guild_id/mentionables"
	apiPathMentionable      = "/guilds/:guild_id/mentionables/:role_id"
	apiPathReloadGuild      = "/guilds/:guild_id/reload"
)

const (
	xRequestIDHeader = "X-Request-ID"
	authUserKey      = "username"
)

var structValidator = validator.New()

//nolint:gochecknoinits // gin binds with the same tag
func init() {
	structValidator.SetTagName("binding")
}

// API is the admin HTTP server. Everything under /api requires basic
// auth against the RuntimeConfig admin credentials.
type API struct {
	config      *APIConfig
	httpServer  *http.Server
	listener    net.Listener
	engine      *gin.Engine
	authLimiter *rate.Limiter
	logger      *slog.Logger
	handlers    *APIHandlers
}

// httpReply is a generic message returned to the client
type httpReply struct {
	Message string `json:"message"`
}

// httpError represents an error message returned ot the client
type httpError struct {
	Error string `json:"error"`
}

type healthCheckResponse struct {
	Paused                  bool  `json:"paused"`
	DiscordGatewayConnected bool  `json:"discord_gateway_connected"`
	ActiveCooldowns         int   `json:"active_cooldowns"`
	UptimeSeconds           int64 `json:"uptime_seconds"`
}

// registerMentionableRequest sets a role's cooldown. Cooldown accepts the
// same input as the slash command (ex: "1h 30m"); CooldownMs takes
// precedence when set.
type registerMentionableRequest struct {
	Cooldown   string `json:"cooldown" binding:"required_without=CooldownMs"`
	CooldownMs int64  `json:"cooldown_ms" binding:"omitempty,min=1"`
}

type mentionableResponse struct {
	GuildID string            `json:"guild_id"`
	RoleID  string            `json:"role_id"`
	Record  MentionableRecord `json:"record"`
	Warning string            `json:"warning,omitempty"`
}

// newAPI initializes the gin engine, middleware and routes, and the
// HTTP server. TLS is only configured if both a cert and key are set.
func newAPI(b *Bot, config *APIConfig) (*API, error) {
	logger := slog.New(newLogHandler(config.LogLevel, "api"))

	r := gin.New()
	api := &API{
		config:      config,
		engine:      r,
		authLimiter: rate.NewLimiter(rate.Limit(1), 5),
		logger:      logger,
	}
	handlers := NewAPIHandlers(b, logger)
	api.handlers = handlers

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	if config.SSL.Cert != "" && config.SSL.Key != "" {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = config.Development
		if !config.Development {
			corsConfig.AllowOrigins = []string{"http://" + config.Listen, "https://" + config.Listen}
		}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		metricMiddleware(),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, handlers.healthCheck)
	r.GET(apiMetrics, gin.WrapH(promhttp.Handler()))

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(b, api.authLimiter))

	protected.GET(apiPathConfig, handlers.getConfig)
	protected.PATCH(apiPathConfig, handlers.updateRuntimeConfig)
	protected.POST(apiPathQuit, handlers.botQuit)
	protected.POST(apiPathRegisterCommands, handlers.discordRegisterCommands)
	protected.GET(apiPathCooldowns, handlers.getCooldowns)
	protected.GET(apiPathMentionables, handlers.getMentionables)
	protected.PUT(apiPathMentionable, handlers.putMentionable)
	protected.DELETE(apiPathMentionable, handlers.deleteMentionable)
	protected.POST(apiPathReloadGuild, handlers.reloadGuild)

	return api, nil
}

// Serve listens on the configured address and serves until the server
// is shut down
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "addr", a.listener.Addr().String())
	if a.httpServer.TLSConfig != nil {
		return a.httpServer.ServeTLS(a.listener, "", "")
	}
	return a.httpServer.Serve(a.listener)
}

// APIHandlers implements the API's route handlers
type APIHandlers struct {
	b      *Bot
	logger *slog.Logger
}

func NewAPIHandlers(b *Bot, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{b: b, logger: logger}
}

// healthCheck reports whether the bot is paused and connected to the
// gateway, and how many cooldowns are active
func (h *APIHandlers) healthCheck(c *gin.Context) {
	var uptime int64
	if !h.b.startedAt.IsZero() {
		uptime = int64(time.Since(h.b.startedAt).Seconds())
	}
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.b.RuntimeConfig().Paused,
			DiscordGatewayConnected: h.b.discord.connected.Load(),
			ActiveCooldowns:         h.b.engine.Tracker().Len(),
			UptimeSeconds:           uptime,
		},
	)
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.b.RuntimeConfig())
}

// updateRuntimeConfig applies a partial RuntimeConfig update, and
// notifies other instances to reload it.
//
// Responses:
//   - 202 Accepted: Returns the updated runtime configuration.
//   - 400 Bad Request: If the request payload is invalid.
//   - 500 Internal Server Error: If there is an error updating the configuration.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	logger := ginContextLogger(c)

	var update RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if err := update.validate(); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	updated, err := h.b.UpdateRuntimeConfig(c.Request.Context(), update)
	if err != nil {
		logger.Error("error updating config", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error updating config"})
		return
	}
	c.JSON(http.StatusAccepted, updated)
}

// botQuit sends a stop signal to every instance
func (h *APIHandlers) botQuit(c *gin.Context) {
	log := ginContextLogger(c)
	log.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doneCh := make(chan struct{}, 1)
	go func() {
		h.b.dbNotifier.Stop(ctx)
		doneCh <- struct{}{}
		close(doneCh)
	}()
	select {
	case <-doneCh:
		ginReplyMessage(c, "quitting")
	case <-ctx.Done():
		log.Warn("timeout sending stop signal")
		c.JSON(http.StatusGatewayTimeout, httpError{Error: "timeout sending stop signal"})
	}
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	createdCommands, err := h.b.RegisterSlashCommands()
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error registering commands"})
		return
	}
	c.JSON(http.StatusCreated, createdCommands)
}

// getCooldowns returns every cooldown currently tracked, across guilds
func (h *APIHandlers) getCooldowns(c *gin.Context) {
	c.JSON(http.StatusOK, h.b.engine.Tracker().Snapshot())
}

// getMentionables lists the guild's registered roles. The `filter`
// query parameter may be "all" (default) or "cooldowns".
func (h *APIHandlers) getMentionables(c *gin.Context) {
	guildID := c.Param("guild_id")
	filter := ListFilter(c.DefaultQuery("filter", string(ListAll)))
	if filter != ListAll && filter != ListOnCooldown {
		c.JSON(
			http.StatusBadRequest,
			httpError{Error: fmt.Sprintf("filter must be %q or %q", ListAll, ListOnCooldown)},
		)
		return
	}

	items, err := h.b.engine.List(c.Request.Context(), guildID, filter)
	if err != nil {
		ginContextLogger(c).Error("error listing mentionables", tint.Err(err))
		ginReplyError(c, "error listing mentionables")
		return
	}
	c.JSON(http.StatusOK, items)
}

// putMentionable registers the role, or replaces its cooldown
func (h *APIHandlers) putMentionable(c *gin.Context) {
	logger := ginContextLogger(c)
	guildID := c.Param("guild_id")
	roleID := c.Param("role_id")

	var req registerMentionableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	cooldown := time.Duration(req.CooldownMs) * time.Millisecond
	if req.CooldownMs == 0 {
		parsed, err := ParseCooldown(req.Cooldown)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
			return
		}
		cooldown = parsed
	}

	record, err := h.b.engine.Register(c.Request.Context(), guildID, roleID, cooldown)
	resp := mentionableResponse{GuildID: guildID, RoleID: roleID, Record: record}
	switch {
	case errors.Is(err, ErrRoleSyncFailed):
		logger.Warn("registered role, but couldn't make it mentionable", tint.Err(err))
		resp.Warning = err.Error()
		c.JSON(http.StatusAccepted, resp)
	case errors.Is(err, ErrInvalidCooldown):
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
	case err != nil:
		logger.Error("error registering role", tint.Err(err))
		ginReplyError(c, "error registering role")
	default:
		c.JSON(http.StatusOK, resp)
	}
}

// deleteMentionable unregisters the role
func (h *APIHandlers) deleteMentionable(c *gin.Context) {
	logger := ginContextLogger(c)
	guildID := c.Param("guild_id")
	roleID := c.Param("role_id")

	removed, err := h.b.engine.Unregister(c.Request.Context(), guildID, roleID)
	switch {
	case errors.Is(err, ErrRoleSyncFailed):
		logger.Warn("removed role, but couldn't make it unmentionable", tint.Err(err))
		ginReplyMessage(c, "removed, but unable to update role")
	case err != nil:
		logger.Error("error removing role", tint.Err(err))
		ginReplyError(c, "error removing role")
	case !removed:
		c.JSON(http.StatusNotFound, httpError{Error: ErrNotRegistered.Error()})
	default:
		ginReplyMessage(c, "removed")
	}
}

// reloadGuild drops the guild's cached set, so the next read goes
// to the database
func (h *APIHandlers) reloadGuild(c *gin.Context) {
	guildID := c.Param("guild_id")
	h.b.engine.Invalidate(guildID)
	h.b.dbNotifier.GuildUpdated(c.Request.Context(), guildID)
	ginReplyMessage(c, "reloaded")
}

// authMiddleware requires basic auth matching the admin credentials
// stored in the RuntimeConfig. Failed attempts are rate limited.
func authMiddleware(b *Bot, limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)

		cfg := b.RuntimeConfig()
		if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
			logger.Warn("admin username and password not set")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}

		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="rolecooldown"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}

		valid := false
		if username == cfg.AdminUsername {
			var err error
			valid, err = VerifyPassword(cfg.AdminPassword, password)
			if err != nil {
				logger.Error("error verifying password", tint.Err(err))
				ginReplyError(c, "internal server error")
				return
			}
		}
		if !valid {
			if !limiter.Allow() {
				logger.Warn("auth rate limited")
				c.AbortWithStatus(http.StatusTooManyRequests)
				return
			}
			logger.Warn("invalid login attempt", "username", username)
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}

		c.Set(authUserKey, username)
		c.Next()
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, and returns it in the X-Request-ID header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := logger.(*slog.Logger); ok {
			return requestLogger
		}
	}
	base := slog.Default()
	if logger, ok := ContextLogger(c.Request.Context()); ok {
		base = logger
	}

	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it's finished, with
// its duration and response status
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), logger))

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests by method, route and status. The
// route template is used rather than the raw path, to keep guild and
// role IDs out of the labels.
func metricMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		apiRequestsTotal.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
