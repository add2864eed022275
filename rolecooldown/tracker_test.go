package rolecooldown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldownTracker(t *testing.T) {
	t.Parallel()
	tracker := NewCooldownTracker()
	first := MentionableRecord{CooldownMs: 1000, LastUsedMs: 10}
	restarted := MentionableRecord{CooldownMs: 1000, LastUsedMs: 20}

	tracker.Track("g1", "r1", first)
	tracker.Track("g1", "r2", first)
	tracker.Track("g2", "r1", first)
	assert.Equal(t, 3, tracker.Len())

	got, ok := tracker.Get("g1", "r1")
	require.True(t, ok)
	assert.Equal(t, first, got)

	// a sweep holding a stale snapshot can't touch the restarted entry
	tracker.Track("g1", "r1", restarted)
	_, ok = tracker.RecordFailure("g1", "r1", first.LastUsedMs)
	assert.False(t, ok)
	assert.False(t, tracker.RemoveIfUnchanged("g1", "r1", first.LastUsedMs))

	failures, ok := tracker.RecordFailure("g1", "r1", restarted.LastUsedMs)
	require.True(t, ok)
	assert.Equal(t, 1, failures)
	failures, _ = tracker.RecordFailure("g1", "r1", restarted.LastUsedMs)
	assert.Equal(t, 2, failures)

	// re-tracking resets the failure count
	tracker.Track("g1", "r1", restarted)
	snapshot := tracker.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(
		t,
		TrackedCooldown{GuildID: "g1", RoleID: "r1", Record: restarted},
		snapshot[0],
	)
	assert.Equal(t, "r2", snapshot[1].RoleID)
	assert.Equal(t, "g2", snapshot[2].GuildID)

	assert.True(t, tracker.RemoveIfUnchanged("g1", "r1", restarted.LastUsedMs))
	assert.True(t, tracker.Untrack("g1", "r2"))
	assert.False(t, tracker.Untrack("g1", "r2"))
	assert.False(t, tracker.Untrack("unknown", "r2"))
	assert.Equal(t, 1, tracker.Len())

	_, ok = tracker.Get("g1", "r1")
	assert.False(t, ok)
}

func TestCooldownTracker_Guilds(t *testing.T) {
	t.Parallel()
	tracker := NewCooldownTracker()

	assert.False(t, tracker.Initialized("g1"))
	assert.True(t, tracker.MarkInitialized("g1"))
	assert.False(t, tracker.MarkInitialized("g1"))
	assert.True(t, tracker.Initialized("g1"))

	tracker.Track("g1", "r1", MentionableRecord{CooldownMs: 1, LastUsedMs: 1})
	tracker.Track("g1", "r2", MentionableRecord{CooldownMs: 1, LastUsedMs: 1})
	tracker.Track("g2", "r1", MentionableRecord{CooldownMs: 1, LastUsedMs: 1})

	assert.Equal(t, 2, tracker.DropGuild("g1"))
	assert.False(t, tracker.Initialized("g1"))
	assert.Equal(t, 1, tracker.Len())
	assert.Zero(t, tracker.DropGuild("g1"))
}
