package rolecooldown

import (
	"sort"
	"sync"
)

// CooldownTracker holds the roles currently on cooldown, per guild, so
// the sweep loop doesn't need to read every guild's set each tick.
// Each entry is the record as it was when the cooldown started.
type CooldownTracker struct {
	mu          sync.Mutex
	guilds      map[string]map[string]*trackedCooldown
	initialized map[string]struct{}
}

type trackedCooldown struct {
	record   MentionableRecord
	failures int
}

// TrackedCooldown is a point-in-time copy of a tracker entry
type TrackedCooldown struct {
	GuildID  string            `json:"guild_id"`
	RoleID   string            `json:"role_id"`
	Record   MentionableRecord `json:"record"`
	Failures int               `json:"failures"`
}

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{
		guilds:      map[string]map[string]*trackedCooldown{},
		initialized: map[string]struct{}{},
	}
}

// Track adds the role, replacing any existing entry for it
func (t *CooldownTracker) Track(guildID, roleID string, record MentionableRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	roles, ok := t.guilds[guildID]
	if !ok {
		roles = map[string]*trackedCooldown{}
		t.guilds[guildID] = roles
	}
	roles[roleID] = &trackedCooldown{record: record}
	t.updateGauge()
}

// Untrack removes the role, reporting whether it was tracked
func (t *CooldownTracker) Untrack(guildID, roleID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	roles, ok := t.guilds[guildID]
	if !ok {
		return false
	}
	if _, ok = roles[roleID]; !ok {
		return false
	}
	t.remove(guildID, roleID)
	return true
}

// RemoveIfUnchanged removes the role only if its entry is still the one
// that started at lastUsedMs. A cooldown that was restarted since the
// caller took its snapshot is left alone.
func (t *CooldownTracker) RemoveIfUnchanged(guildID, roleID string, lastUsedMs int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.get(guildID, roleID)
	if entry == nil || entry.record.LastUsedMs != lastUsedMs {
		return false
	}
	t.remove(guildID, roleID)
	return true
}

// RecordFailure increments the failure count of the entry that started
// at lastUsedMs, returning the new count. It returns false if the entry
// is gone or was replaced.
func (t *CooldownTracker) RecordFailure(guildID, roleID string, lastUsedMs int64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.get(guildID, roleID)
	if entry == nil || entry.record.LastUsedMs != lastUsedMs {
		return 0, false
	}
	entry.failures++
	return entry.failures, true
}

// Get returns the tracked record for the role
func (t *CooldownTracker) Get(guildID, roleID string) (MentionableRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.get(guildID, roleID)
	if entry == nil {
		return MentionableRecord{}, false
	}
	return entry.record, true
}

// DropGuild removes every entry for the guild, and clears its
// initialized state
func (t *CooldownTracker) DropGuild(guildID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.guilds[guildID])
	delete(t.guilds, guildID)
	delete(t.initialized, guildID)
	t.updateGauge()
	return n
}

// MarkInitialized records that the guild was reconciled. It returns
// false if the guild was already initialized.
func (t *CooldownTracker) MarkInitialized(guildID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.initialized[guildID]; ok {
		return false
	}
	t.initialized[guildID] = struct{}{}
	return true
}

func (t *CooldownTracker) Initialized(guildID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.initialized[guildID]
	return ok
}

// Snapshot returns a copy of every entry, ordered by guild then role
func (t *CooldownTracker) Snapshot() []TrackedCooldown {
	t.mu.Lock()
	entries := make([]TrackedCooldown, 0, t.len())
	for guildID, roles := range t.guilds {
		for roleID, entry := range roles {
			entries = append(
				entries, TrackedCooldown{
					GuildID:  guildID,
					RoleID:   roleID,
					Record:   entry.record,
					Failures: entry.failures,
				},
			)
		}
	}
	t.mu.Unlock()

	sort.Slice(
		entries, func(i, j int) bool {
			if entries[i].GuildID != entries[j].GuildID {
				return entries[i].GuildID < entries[j].GuildID
			}
			return entries[i].RoleID < entries[j].RoleID
		},
	)
	return entries
}

// Len returns the number of tracked roles across all guilds
func (t *CooldownTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.len()
}

func (t *CooldownTracker) len() int {
	n := 0
	for _, roles := range t.guilds {
		n += len(roles)
	}
	return n
}

func (t *CooldownTracker) get(guildID, roleID string) *trackedCooldown {
	roles, ok := t.guilds[guildID]
	if !ok {
		return nil
	}
	return roles[roleID]
}

func (t *CooldownTracker) remove(guildID, roleID string) {
	roles := t.guilds[guildID]
	delete(roles, roleID)
	if len(roles) == 0 {
		delete(t.guilds, guildID)
	}
	t.updateGauge()
}

func (t *CooldownTracker) updateGauge() {
	activeCooldowns.Set(float64(t.len()))
}
