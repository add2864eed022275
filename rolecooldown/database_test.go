package rolecooldown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotificationConn struct {
	mu            sync.Mutex
	notifications []*pgconn.Notification
	err           error
	released      bool
}

func (c *fakeNotificationConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	c.mu.Lock()
	if len(c.notifications) > 0 {
		n := c.notifications[0]
		c.notifications = c.notifications[1:]
		c.mu.Unlock()
		return n, nil
	}
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeNotificationConn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
}

func (c *fakeNotificationConn) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func newTestPostgresNotifier() *postgresNotifier {
	return &postgresNotifier{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		notifyID: "test-notifier",
	}
}

func TestPostgresNotifier_ReceiveReconnects(t *testing.T) {
	t.Parallel()
	p := newTestPostgresNotifier()

	dead := &fakeNotificationConn{
		notifications: []*pgconn.Notification{
			{Channel: postgresNotifyChannelGuildUpdated, Payload: "a"},
		},
		err: errors.New("conn closed"),
	}
	healthy := &fakeNotificationConn{
		notifications: []*pgconn.Notification{
			{Channel: postgresNotifyChannelStop, Payload: "b"},
		},
	}

	var acquireMu sync.Mutex
	acquired := 0
	conns := []*fakeNotificationConn{dead, healthy}
	acquire := func(context.Context) (notificationConn, error) {
		acquireMu.Lock()
		defer acquireMu.Unlock()
		acquired++
		switch acquired {
		case 1:
			return conns[0], nil
		case 2:
			return nil, errors.New("connection refused")
		default:
			return conns[1], nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	received := make(chan *pgconn.Notification, 2)
	handle := func(_ context.Context, n *pgconn.Notification) {
		received <- n
	}

	done := make(chan error, 1)
	go func() {
		done <- p.receive(ctx, acquire, time.Millisecond, handle)
	}()

	for _, want := range []string{"a", "b"} {
		select {
		case n := <-received:
			assert.Equal(t, want, n.Payload)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for notification %q", want)
		}
	}
	assert.True(t, dead.isReleased())
	assert.False(t, healthy.isReleased())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for receive to return")
	}
	assert.True(t, healthy.isReleased())

	acquireMu.Lock()
	defer acquireMu.Unlock()
	assert.Equal(t, 3, acquired)
}

func TestPostgresNotifier_ReceiveAcquireError(t *testing.T) {
	t.Parallel()
	p := newTestPostgresNotifier()

	acquireErr := errors.New("connection refused")
	err := p.receive(
		context.Background(),
		func(context.Context) (notificationConn, error) {
			return nil, acquireErr
		},
		time.Millisecond,
		func(context.Context, *pgconn.Notification) {
			t.Error("unexpected notification")
		},
	)
	assert.ErrorIs(t, err, acquireErr)
}

func TestParseGuildUpdatedNotification(t *testing.T) {
	t.Parallel()

	notifierID, guildID := parseGuildUpdatedNotification(
		newGuildUpdatedNotificationMessage("n1", testGuildID),
	)
	assert.Equal(t, "n1", notifierID)
	assert.Equal(t, testGuildID, guildID)
}
