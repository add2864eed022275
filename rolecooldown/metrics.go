package rolecooldown

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "rolecooldown"

// Cooldown engine metrics
var (
	// usageTotal counts role mentions by UsageResult
	usageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "usage_total",
			Help:      "Role mentions handled, by result",
		},
		[]string{"result"},
	)

	// syncTotal counts role edits sent to discord
	syncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_total",
			Help:      "Role mentionable edits, by target state and status",
		},
		[]string{"mentionable", "status"},
	)

	// syncDroppedTotal counts expired cooldowns that were dropped from
	// the tracker without the role being re-enabled
	syncDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_dropped_total",
			Help:      "Expired cooldowns dropped after failing to re-enable the role",
		},
		[]string{"reason"},
	)

	activeCooldowns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_cooldowns",
			Help:      "Roles currently tracked as on cooldown",
		},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each sweep of the cooldown tracker",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	repositoryCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "repository_cache_total",
			Help:      "Mentionable set reads, by cache hit/miss",
		},
		[]string{"result"},
	)
)

// Discord and API metrics
var (
	discordConnectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "discord_connection_events_total",
			Help:      "Discord gateway connection events",
		},
		[]string{"event"},
	)

	discordCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "discord_commands_total",
			Help:      "Slash commands received, by command name",
		},
		[]string{"command"},
	)

	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "api_requests_total",
			Help:      "API requests, by method, route and status",
		},
		[]string{"method", "path", "status"},
	)
)
