package rolecooldown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidCooldown = errors.New("cooldown must be greater than zero")
	ErrNotRegistered   = errors.New("role is not registered")

	// ErrRoleSyncFailed is returned (wrapped) when a change was persisted,
	// but the role's mentionable flag couldn't be updated
	ErrRoleSyncFailed = errors.New("unable to update role")
)

// UsageResult is the outcome of a role mention
type UsageResult int

const (
	UsageNotRegistered UsageResult = iota
	UsageStarted
	UsageAlreadyOnCooldown
)

func (r UsageResult) String() string {
	switch r {
	case UsageNotRegistered:
		return "not_registered"
	case UsageStarted:
		return "started"
	case UsageAlreadyOnCooldown:
		return "already_on_cooldown"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// UsageOutcome is returned by CooldownEngine.OnUsed. Record is the
// role's record after the mention was handled, and is only set when
// the role is registered.
type UsageOutcome struct {
	Result UsageResult
	Record MentionableRecord
}

// ListFilter selects which roles CooldownEngine.List returns
type ListFilter string

const (
	ListAll        ListFilter = "all"
	ListOnCooldown ListFilter = "cooldowns"
)

// ListedMentionable is a registered role and its record
type ListedMentionable struct {
	RoleID string            `json:"role_id"`
	Record MentionableRecord `json:"record"`
}

// CooldownEngineConfig configures a CooldownEngine. Zero values are
// replaced with defaults.
type CooldownEngineConfig struct {
	Clock                clockwork.Clock
	Logger               *slog.Logger
	AppName              string
	SyncFailureLimit     int
	ReconcileConcurrency int

	// OnChange is called after a guild's mentionables were written
	OnChange func(ctx context.Context, guildID string)
}

// CooldownEngine starts cooldowns when registered roles are mentioned,
// and ends them from a fixed-interval sweep of the CooldownTracker.
//
// All changes to a single guild (mentions, registration, removal,
// join/leave and each sweep of one of its roles) are serialized, so the
// check-then-start of a cooldown is atomic.
type CooldownEngine struct {
	repo         *CooldownRepository
	tracker      *CooldownTracker
	synchronizer RoleSynchronizer
	clock        clockwork.Clock
	logger       *slog.Logger
	config       CooldownEngineConfig

	guildLocksMu sync.Mutex
	guildLocks   map[string]*sync.Mutex
}

func NewCooldownEngine(
	repo *CooldownRepository,
	synchronizer RoleSynchronizer,
	config CooldownEngineConfig,
) *CooldownEngine {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.SyncFailureLimit < 1 {
		config.SyncFailureLimit = DefaultSyncFailureLimit
	}
	if config.ReconcileConcurrency < 1 {
		config.ReconcileConcurrency = DefaultReconcileConcurrency
	}
	return &CooldownEngine{
		repo:         repo,
		tracker:      NewCooldownTracker(),
		synchronizer: synchronizer,
		clock:        config.Clock,
		logger:       config.Logger.With(loggerNameKey, "cooldown_engine"),
		config:       config,
		guildLocks:   map[string]*sync.Mutex{},
	}
}

func (e *CooldownEngine) Repository() *CooldownRepository {
	return e.repo
}

func (e *CooldownEngine) Tracker() *CooldownTracker {
	return e.tracker
}

func (e *CooldownEngine) Now() time.Time {
	return e.clock.Now()
}

// lockGuild locks the guild, returning the unlock func
func (e *CooldownEngine) lockGuild(guildID string) func() {
	e.guildLocksMu.Lock()
	mu, ok := e.guildLocks[guildID]
	if !ok {
		mu = &sync.Mutex{}
		e.guildLocks[guildID] = mu
	}
	e.guildLocksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (e *CooldownEngine) changed(ctx context.Context, guildID string) {
	if e.config.OnChange != nil {
		e.config.OnChange(ctx, guildID)
	}
}

func (e *CooldownEngine) reason(action string) string {
	return auditReason(e.config.AppName, action)
}

// OnUsed handles a mention of the role. If the role is registered and
// not on cooldown, the usage is persisted, the role is made
// unmentionable, and the cooldown is tracked until it expires.
//
// A mention of a role that's already on cooldown changes nothing.
// An error is only returned if the guild's set couldn't be read or
// written. A failure to update the role is logged, and the cooldown
// is still started.
func (e *CooldownEngine) OnUsed(ctx context.Context, guildID, roleID string) (
	UsageOutcome,
	error,
) {
	unlock := e.lockGuild(guildID)
	defer unlock()

	log := contextLoggerOr(ctx, e.logger).With("guild_id", guildID, "role_id", roleID)

	record, ok, err := e.repo.GetRecord(ctx, guildID, roleID)
	if err != nil {
		return UsageOutcome{}, err
	}
	if !ok {
		usageTotal.WithLabelValues(UsageNotRegistered.String()).Inc()
		return UsageOutcome{Result: UsageNotRegistered}, nil
	}

	now := e.clock.Now()
	if record.OnCooldown(now) {
		usageTotal.WithLabelValues(UsageAlreadyOnCooldown.String()).Inc()
		log.DebugContext(ctx, "role already on cooldown", "remaining", record.Remaining(now))
		return UsageOutcome{Result: UsageAlreadyOnCooldown, Record: record}, nil
	}

	record.LastUsedMs = now.UnixMilli()
	if err = e.repo.UpsertRecord(ctx, guildID, roleID, record); err != nil {
		return UsageOutcome{}, err
	}
	e.changed(ctx, guildID)

	if err = e.synchronizer.SetMentionable(
		ctx,
		guildID,
		roleID,
		false,
		e.reason(auditReasonUsed),
	); err != nil {
		log.WarnContext(ctx, "unable to disable role mentions", tint.Err(err))
	}

	e.tracker.Track(guildID, roleID, record)
	usageTotal.WithLabelValues(UsageStarted.String()).Inc()
	log.InfoContext(ctx, "started cooldown", "expires_at", record.ExpiresAt())

	return UsageOutcome{Result: UsageStarted, Record: record}, nil
}

// Register adds or replaces the role's cooldown, and makes the role
// mentionable. Replacing a role's cooldown ends any active cooldown.
func (e *CooldownEngine) Register(
	ctx context.Context,
	guildID string,
	roleID string,
	cooldown time.Duration,
) (MentionableRecord, error) {
	if cooldown.Milliseconds() <= 0 {
		return MentionableRecord{}, ErrInvalidCooldown
	}

	unlock := e.lockGuild(guildID)
	defer unlock()

	record := NewMentionableRecord(cooldown)
	if err := e.repo.UpsertRecord(ctx, guildID, roleID, record); err != nil {
		return MentionableRecord{}, err
	}
	e.tracker.Untrack(guildID, roleID)
	e.changed(ctx, guildID)

	contextLoggerOr(ctx, e.logger).InfoContext(
		ctx,
		"registered role",
		"guild_id", guildID,
		"role_id", roleID,
		"cooldown", cooldown,
	)

	if err := e.synchronizer.SetMentionable(
		ctx,
		guildID,
		roleID,
		true,
		e.reason(auditReasonRegistered),
	); err != nil {
		return record, fmt.Errorf("%w: %w", ErrRoleSyncFailed, err)
	}
	return record, nil
}

// Unregister removes the role's cooldown, and makes the role
// unmentionable. It returns false if the role wasn't registered.
func (e *CooldownEngine) Unregister(ctx context.Context, guildID, roleID string) (
	bool,
	error,
) {
	unlock := e.lockGuild(guildID)
	defer unlock()

	removed, err := e.repo.RemoveRecord(ctx, guildID, roleID)
	if err != nil || !removed {
		return false, err
	}
	e.tracker.Untrack(guildID, roleID)
	e.changed(ctx, guildID)

	contextLoggerOr(ctx, e.logger).InfoContext(
		ctx,
		"unregistered role",
		"guild_id", guildID,
		"role_id", roleID,
	)

	if err = e.synchronizer.SetMentionable(
		ctx,
		guildID,
		roleID,
		false,
		e.reason(auditReasonRemoved),
	); err != nil {
		return true, fmt.Errorf("%w: %w", ErrRoleSyncFailed, err)
	}
	return true, nil
}

// List returns the guild's registered roles. ListAll returns every role,
// ordered by cooldown duration. ListOnCooldown returns roles currently
// on cooldown, ordered by the time remaining.
func (e *CooldownEngine) List(
	ctx context.Context,
	guildID string,
	filter ListFilter,
) ([]ListedMentionable, error) {
	set, err := e.repo.GetSet(ctx, guildID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()

	items := make([]ListedMentionable, 0, len(set))
	for roleID, record := range set {
		if filter == ListOnCooldown && !record.OnCooldown(now) {
			continue
		}
		items = append(items, ListedMentionable{RoleID: roleID, Record: record})
	}

	sort.Slice(
		items, func(i, j int) bool {
			a, b := items[i], items[j]
			var ka, kb time.Duration
			if filter == ListOnCooldown {
				ka, kb = a.Record.Remaining(now), b.Record.Remaining(now)
			} else {
				ka, kb = a.Record.Cooldown(), b.Record.Cooldown()
			}
			if ka != kb {
				return ka < kb
			}
			return a.RoleID < b.RoleID
		},
	)
	return items, nil
}

// JoinGuild ensures the guild has a stored set and, the first time it's
// called for the guild, reconciles it: expired cooldowns have their role
// re-enabled, and active cooldowns are tracked.
func (e *CooldownEngine) JoinGuild(ctx context.Context, guildID string) error {
	unlock := e.lockGuild(guildID)
	defer unlock()

	doc, err := e.repo.Provision(ctx, guildID)
	if err != nil {
		return err
	}
	e.repo.Invalidate(guildID)

	if !e.tracker.MarkInitialized(guildID) {
		return nil
	}
	e.reconcileGuild(ctx, guildID, doc.Mentionables)
	return nil
}

func (e *CooldownEngine) reconcileGuild(
	ctx context.Context,
	guildID string,
	set MentionableSet,
) {
	log := contextLoggerOr(ctx, e.logger).With("guild_id", guildID)
	now := e.clock.Now()

	roleIDs := make([]string, 0, len(set))
	for roleID := range set {
		roleIDs = append(roleIDs, roleID)
	}
	sort.Strings(roleIDs)

	var tracked, reenabled int
	for _, roleID := range roleIDs {
		record := set[roleID]
		switch {
		case record.OnCooldown(now):
			e.tracker.Track(guildID, roleID, record)
			tracked++
		case record.Expired(now):
			err := e.synchronizer.SetMentionable(
				ctx,
				guildID,
				roleID,
				true,
				e.reason(auditReasonExpired),
			)
			switch {
			case err == nil:
				reenabled++
			case isPermanentSyncError(err):
				syncDroppedTotal.WithLabelValues("permanent").Inc()
				log.ErrorContext(
					ctx,
					"unable to re-enable expired role, not retrying",
					"role_id", roleID,
					tint.Err(err),
				)
			default:
				// the sweep retries it
				e.tracker.Track(guildID, roleID, record)
				tracked++
			}
		}
	}
	log.InfoContext(
		ctx,
		"reconciled guild",
		"registered", len(set),
		"tracked", tracked,
		"reenabled", reenabled,
	)
}

// LeaveGuild deletes the guild's stored set, and drops its cache entry
// and tracked cooldowns
func (e *CooldownEngine) LeaveGuild(ctx context.Context, guildID string) error {
	unlock := e.lockGuild(guildID)
	defer unlock()

	if err := e.repo.DeleteGuild(ctx, guildID); err != nil {
		return err
	}
	dropped := e.tracker.DropGuild(guildID)
	e.changed(ctx, guildID)

	contextLoggerOr(ctx, e.logger).InfoContext(
		ctx,
		"left guild",
		"guild_id", guildID,
		"dropped_cooldowns", dropped,
	)
	return nil
}

// ReconcileAll runs JoinGuild for every guild in the store. Failures
// are logged, and returned together once every guild was attempted.
func (e *CooldownEngine) ReconcileAll(ctx context.Context) error {
	guildIDs, err := e.repo.GuildIDs(ctx)
	if err != nil {
		return fmt.Errorf("error listing guilds: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(e.config.ReconcileConcurrency)

	for _, guildID := range guildIDs {
		g.Go(
			func() error {
				if joinErr := e.JoinGuild(ctx, guildID); joinErr != nil {
					e.logger.ErrorContext(
						ctx,
						"error reconciling guild",
						"guild_id", guildID,
						tint.Err(joinErr),
					)
					mu.Lock()
					errs = append(errs, joinErr)
					mu.Unlock()
				}
				return nil
			},
		)
	}
	_ = g.Wait()

	e.logger.InfoContext(
		ctx,
		"reconciled guilds",
		"guilds", len(guildIDs),
		"errors", len(errs),
		"active_cooldowns", e.tracker.Len(),
	)
	return errors.Join(errs...)
}

// Sweep re-enables every tracked role whose cooldown has expired,
// returning the number re-enabled. A role that can't be re-enabled
// stays tracked, and is dropped after SyncFailureLimit consecutive
// failures, or immediately if the failure is permanent.
func (e *CooldownEngine) Sweep(ctx context.Context) int {
	start := time.Now()
	defer func() {
		sweepDuration.Observe(time.Since(start).Seconds())
	}()

	var reenabled int
	for _, entry := range e.tracker.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		if entry.Record.OnCooldown(e.clock.Now()) {
			continue
		}
		if e.expire(ctx, entry) {
			reenabled++
		}
	}
	return reenabled
}

// expire re-enables the role for an expired tracker entry
func (e *CooldownEngine) expire(ctx context.Context, entry TrackedCooldown) bool {
	unlock := e.lockGuild(entry.GuildID)
	defer unlock()

	log := e.logger.With("guild_id", entry.GuildID, "role_id", entry.RoleID)

	// the cooldown may have been restarted or removed since the snapshot
	current, ok := e.tracker.Get(entry.GuildID, entry.RoleID)
	if !ok || current.LastUsedMs != entry.Record.LastUsedMs {
		return false
	}

	err := e.synchronizer.SetMentionable(
		ctx,
		entry.GuildID,
		entry.RoleID,
		true,
		e.reason(auditReasonExpired),
	)
	if err == nil {
		e.tracker.RemoveIfUnchanged(entry.GuildID, entry.RoleID, entry.Record.LastUsedMs)
		log.InfoContext(ctx, "cooldown expired")
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	if isPermanentSyncError(err) {
		e.tracker.RemoveIfUnchanged(entry.GuildID, entry.RoleID, entry.Record.LastUsedMs)
		syncDroppedTotal.WithLabelValues("permanent").Inc()
		log.ErrorContext(ctx, "unable to re-enable role, dropping cooldown", tint.Err(err))
		return false
	}

	failures, _ := e.tracker.RecordFailure(
		entry.GuildID,
		entry.RoleID,
		entry.Record.LastUsedMs,
	)
	if failures >= e.config.SyncFailureLimit {
		e.tracker.RemoveIfUnchanged(entry.GuildID, entry.RoleID, entry.Record.LastUsedMs)
		syncDroppedTotal.WithLabelValues("retries_exhausted").Inc()
		log.ErrorContext(
			ctx,
			"unable to re-enable role, giving up",
			"failures", failures,
			tint.Err(err),
		)
		return false
	}
	log.WarnContext(
		ctx,
		"unable to re-enable role, will retry",
		"failures", failures,
		tint.Err(err),
	)
	return false
}

// Run sweeps the tracker every DefaultSweepInterval until ctx is canceled
func (e *CooldownEngine) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()

	e.logger.InfoContext(ctx, "started sweep loop", "interval", DefaultSweepInterval)
	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "stopped sweep loop")
			return
		case <-ticker.Chan():
			if n := e.Sweep(ctx); n > 0 {
				e.logger.DebugContext(ctx, "swept expired cooldowns", "reenabled", n)
			}
		}
	}
}

// Invalidate drops the guild's cached set, after it was changed by
// another instance
func (e *CooldownEngine) Invalidate(guildID string) {
	e.repo.Invalidate(guildID)
}
