package rolecooldown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	auditReasonUsed       = "Used"
	auditReasonExpired    = "Cooldown Expired"
	auditReasonRegistered = "Registered"
	auditReasonRemoved    = "Removed"
)

// RoleSynchronizer sets a role's mentionable flag on the platform. The
// reason is recorded in the guild's audit log.
type RoleSynchronizer interface {
	SetMentionable(
		ctx context.Context,
		guildID string,
		roleID string,
		mentionable bool,
		reason string,
	) error
}

// discordRoleSynchronizer edits roles through the bot's discord session.
// Edits are paced by a limiter, as a burst of expired cooldowns would
// otherwise hit discord's per-route rate limit.
type discordRoleSynchronizer struct {
	discord *Discord
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newDiscordRoleSynchronizer(
	d *Discord,
	requestsPerSecond float64,
	logger *slog.Logger,
) *discordRoleSynchronizer {
	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = max(1, int(requestsPerSecond))
	}
	return &discordRoleSynchronizer{
		discord: d,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With(loggerNameKey, "role_synchronizer"),
	}
}

func (s *discordRoleSynchronizer) SetMentionable(
	ctx context.Context,
	guildID string,
	roleID string,
	mentionable bool,
	reason string,
) error {
	log := s.logger.With(
		"guild_id", guildID,
		"role_id", roleID,
		"mentionable", mentionable,
	)

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := s.discord.session.GuildRoleEdit(
		guildID,
		roleID,
		&discordgo.RoleParams{Mentionable: boolPtr(mentionable)},
		discordgo.WithAuditLogReason(reason),
		discordgo.WithContext(ctx),
	)
	status := "success"
	if err != nil {
		status = "error"
		log.ErrorContext(ctx, "error editing role", tint.Err(err))
	} else {
		log.InfoContext(ctx, "edited role", "reason", reason)
	}
	syncTotal.WithLabelValues(strconv.FormatBool(mentionable), status).Inc()
	return err
}

// isPermanentSyncError reports whether retrying the role edit can't
// succeed, because the role is gone or the bot can't manage it
func isPermanentSyncError(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	switch restErr.Response.StatusCode {
	case http.StatusNotFound, http.StatusForbidden:
		return true
	default:
		return false
	}
}

// auditReason formats the audit log reason for a role edit
func auditReason(appName string, action string) string {
	return fmt.Sprintf("%s - %s", appName, action)
}
