package rolecooldown

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// neverUsed is the LastUsedMs value of a role that hasn't been
// mentioned since it was registered
const neverUsed int64 = -1

// MentionableRecord is the cooldown state of a single registered role.
// A role is on cooldown iff LastUsedMs + CooldownMs is after now.
type MentionableRecord struct {
	// Cooldown duration, in milliseconds
	CooldownMs int64 `json:"cooldown"`

	// Unix millisecond timestamp of the last mention that started a
	// cooldown, or -1
	LastUsedMs int64 `json:"lastUsed"`
}

// NewMentionableRecord returns a record for a newly registered role
func NewMentionableRecord(cooldown time.Duration) MentionableRecord {
	return MentionableRecord{
		CooldownMs: cooldown.Milliseconds(),
		LastUsedMs: neverUsed,
	}
}

func (r MentionableRecord) Cooldown() time.Duration {
	return time.Duration(r.CooldownMs) * time.Millisecond
}

// Used reports whether a cooldown was ever started for the role
func (r MentionableRecord) Used() bool {
	return r.LastUsedMs != neverUsed
}

// ExpiresAt returns the time the current (or last) cooldown ends.
// It's the zero time if the role was never used.
func (r MentionableRecord) ExpiresAt() time.Time {
	if !r.Used() {
		return time.Time{}
	}
	return time.UnixMilli(r.LastUsedMs + r.CooldownMs)
}

// OnCooldown reports whether the role is on cooldown at now
func (r MentionableRecord) OnCooldown(now time.Time) bool {
	if !r.Used() {
		return false
	}
	return r.LastUsedMs+r.CooldownMs > now.UnixMilli()
}

// Remaining returns the time left on the cooldown, or 0 if the role
// isn't on cooldown
func (r MentionableRecord) Remaining(now time.Time) time.Duration {
	if !r.OnCooldown(now) {
		return 0
	}
	return time.Duration(r.LastUsedMs+r.CooldownMs-now.UnixMilli()) * time.Millisecond
}

// Expired reports whether the role was used, and its cooldown has
// since elapsed, meaning its mentionable flag should be on again
func (r MentionableRecord) Expired(now time.Time) bool {
	return r.Used() && !r.OnCooldown(now)
}

// MentionableSet maps role IDs to their cooldown state. It's stored as
// a JSON object, and a NULL or empty column decodes to an empty set.
type MentionableSet map[string]MentionableRecord

// Scan implements the sql.Scanner interface.
func (m *MentionableSet) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*m = MentionableSet{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unexpected type for MentionableSet: %T", value)
	}

	set := MentionableSet{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &set); err != nil {
			return fmt.Errorf("error decoding mentionables: %w", err)
		}
	}
	*m = set
	return nil
}

// Value implements the driver.Valuer interface.
func (m MentionableSet) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]MentionableRecord(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType implements the gorm.GormDataTypeInterface interface.
func (MentionableSet) GormDataType() string {
	return "text"
}

// Clone returns a copy of the set that's safe to modify
func (m MentionableSet) Clone() MentionableSet {
	if m == nil {
		return MentionableSet{}
	}
	return maps.Clone(m)
}

// GuildMentionables is the persisted set of registered roles for a guild
type GuildMentionables struct {
	GuildID      string         `gorm:"primaryKey" json:"guild_id"`
	Mentionables MentionableSet `gorm:"not null" json:"mentionables"`
	ModelUnixTime
}

func NewGuildMentionables(guildID string) *GuildMentionables {
	return &GuildMentionables{
		GuildID:      guildID,
		Mentionables: MentionableSet{},
	}
}

func (g *GuildMentionables) Clone() *GuildMentionables {
	c := *g
	c.Mentionables = g.Mentionables.Clone()
	return &c
}
