package rolecooldown

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMentionableRecord(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(testEpochMs)

	tests := []struct {
		name       string
		record     MentionableRecord
		onCooldown bool
		expired    bool
		remaining  time.Duration
	}{
		{
			name:   "never used",
			record: NewMentionableRecord(time.Minute),
		},
		{
			name:       "active",
			record:     MentionableRecord{CooldownMs: 5000, LastUsedMs: testEpochMs - 2000},
			onCooldown: true,
			remaining:  3 * time.Second,
		},
		{
			name:    "ends now",
			record:  MentionableRecord{CooldownMs: 5000, LastUsedMs: testEpochMs - 5000},
			expired: true,
		},
		{
			name:    "ended",
			record:  MentionableRecord{CooldownMs: 5000, LastUsedMs: testEpochMs - 60000},
			expired: true,
		},
	}

	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				assert.Equal(t, tc.onCooldown, tc.record.OnCooldown(now))
				assert.Equal(t, tc.expired, tc.record.Expired(now))
				assert.Equal(t, tc.remaining, tc.record.Remaining(now))
			},
		)
	}
}

func TestMentionableRecord_ExpiresAt(t *testing.T) {
	t.Parallel()
	assert.True(t, NewMentionableRecord(time.Second).ExpiresAt().IsZero())

	record := MentionableRecord{CooldownMs: 1500, LastUsedMs: testEpochMs}
	assert.Equal(t, testEpochMs+1500, record.ExpiresAt().UnixMilli())
	assert.Equal(t, 1500*time.Millisecond, record.Cooldown())
}

func TestMentionableRecord_JSON(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(MentionableRecord{CooldownMs: 5000, LastUsedMs: -1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cooldown": 5000, "lastUsed": -1}`, string(data))
}

func TestMentionableSet_Scan(t *testing.T) {
	t.Parallel()

	for _, value := range []any{nil, "", []byte{}} {
		var set MentionableSet
		require.NoError(t, set.Scan(value))
		assert.NotNil(t, set)
		assert.Empty(t, set)
	}

	var set MentionableSet
	require.NoError(t, set.Scan(`{"123": {"cooldown": 1000, "lastUsed": 42}}`))
	assert.Equal(t, MentionableSet{"123": {CooldownMs: 1000, LastUsedMs: 42}}, set)

	assert.Error(t, set.Scan(`not json`))
	assert.Error(t, set.Scan(42))
}

func TestMentionableSet_Value(t *testing.T) {
	t.Parallel()

	value, err := MentionableSet(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", value)

	value, err = MentionableSet{"123": {CooldownMs: 1000, LastUsedMs: -1}}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"123": {"cooldown": 1000, "lastUsed": -1}}`, value.(string))
}

func TestGuildMentionables_Clone(t *testing.T) {
	t.Parallel()
	doc := NewGuildMentionables(testGuildID)
	doc.Mentionables["role-1"] = NewMentionableRecord(time.Second)

	c := doc.Clone()
	c.Mentionables["role-2"] = NewMentionableRecord(time.Second)
	assert.Len(t, doc.Mentionables, 1)
	assert.Len(t, c.Mentionables, 2)
}
