package rolecooldown

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordAndVerify(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		password string
	}{
		{"Simple password", "password123"},
		{"Complex password", "C0mpl3x!P@ssw0rd"},
		{"Empty password", ""},
		{"Unicode password", "пароль123"},
		{"Very long password", strings.Repeat("a", 1000)},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				hash, err := HashPassword(tc.password)
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m="), hash)

				valid, err := VerifyPassword(hash, tc.password)
				require.NoError(t, err)
				assert.True(t, valid)

				valid, err = VerifyPassword(hash, tc.password+"wrong")
				require.NoError(t, err)
				assert.False(t, valid)
			},
		)
	}
}

func TestVerifyPassword_InvalidHash(t *testing.T) {
	invalidHashes := []string{
		"not a valid hash",
		"$argon2id$v=19$m=65536,t=1,p=4$invalidbase64$invalidbase64",
		"$argon2id$v=19$m=invalid,t=1,p=4$c29tZXNhbHQ$c29tZWhhc2g=",
	}

	for _, invalidHash := range invalidHashes {
		t.Run(
			invalidHash, func(t *testing.T) {
				_, err := VerifyPassword(invalidHash, "anypassword")
				assert.Error(t, err)
			},
		)
	}
}

func TestHashPassword_Uniqueness(t *testing.T) {
	hash1, err := HashPassword("samepassword")
	require.NoError(t, err)
	hash2, err := HashPassword("samepassword")
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash2)
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "пр", truncate("привет", 2))
	assert.Equal(t, "", truncate("hello", 0))
}

func TestStructToSlogValue(t *testing.T) {
	t.Parallel()
	type inner struct {
		Name string `json:"name"`
	}
	type sample struct {
		Secret string            `json:"secret" log:"[redacted]"`
		Count  int               `json:"count,omitempty"`
		Empty  string            `json:"empty"`
		Inner  *inner            `json:"inner"`
		Nil    *inner            `json:"nil"`
		Tags   map[string]string `json:"tags"`
		hidden string
	}

	value := structToSlogValue(
		sample{
			Secret: "hunter2",
			Count:  3,
			Inner:  &inner{Name: "x"},
			hidden: "nope",
		},
	)
	require.Equal(t, slog.KindGroup, value.Kind())

	attrs := map[string]slog.Value{}
	for _, attr := range value.Group() {
		attrs[attr.Key] = attr.Value
	}
	assert.Equal(t, "[redacted]", attrs["secret"].String())
	assert.Equal(t, int64(3), attrs["count"].Int64())
	assert.Equal(t, "x", attrs["inner"].Group()[0].Value.String())
	for _, key := range []string{"empty", "nil", "tags", "hidden"} {
		assert.NotContains(t, attrs, key)
	}

	assert.Equal(t, slog.AnyValue(nil), structToSlogValue(nil))
	assert.Equal(t, slog.AnyValue(nil), structToSlogValue((*sample)(nil)))
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, ok := ContextLogger(ctx)
	assert.False(t, ok)

	fallback := slog.Default().With("fallback", true)
	assert.Same(t, fallback, contextLoggerOr(ctx, fallback))

	logger := slog.Default().With("request", 1)
	ctx = WithLogger(ctx, logger)
	got, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, logger, got)
	assert.Same(t, logger, contextLoggerOr(ctx, fallback))
}

func TestInteractionUser(t *testing.T) {
	t.Parallel()
	member := &discordgo.User{ID: "1"}
	user := &discordgo.User{ID: "2"}

	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Member: &discordgo.Member{User: member}, User: user},
	}
	assert.Same(t, member, interactionUser(i))

	i.Member = nil
	assert.Same(t, user, interactionUser(i))
}

func BenchmarkHashPassword(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := HashPassword("benchmark_password"); err != nil {
			b.Fatalf("HashPassword failed: %v", err)
		}
	}
}
