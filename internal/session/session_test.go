package session

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func requireClosed(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.False(t, ok, "expected closed channel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestInMemoryFanOut(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemory(4)

	a, unsubA, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer unsubA()
	b, unsubB, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer unsubB()

	require.NoError(t, bus.Publish(ctx, Event{Type: SignedIn, UserID: "u1"}))

	assert.Equal(t, SignedIn, receive(t, a).Type)
	assert.Equal(t, "u1", receive(t, b).UserID)
}

func TestInMemoryUnsubscribeClosesChannel(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemory(1)
	ch, unsub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	unsub()
	unsub()
	requireClosed(t, ch)
	require.NoError(t, bus.Publish(ctx, Event{Type: SignedOut}))
}

func TestInMemoryContextCancelUnsubscribes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewInMemory(1)
	ch, _, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	requireClosed(t, ch)
}

func TestInMemoryUnsubscribeReleasesWatcher(t *testing.T) {
	bus := NewInMemory(1)
	baseline := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		_, unsubscribe, err := bus.Subscribe(context.Background())
		require.NoError(t, err)
		unsubscribe()
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInMemorySlowSubscriberDrops(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemory(1)
	ch, unsub, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, bus.Publish(ctx, Event{Type: SignedIn}))
	require.NoError(t, bus.Publish(ctx, Event{Type: SignedOut}))

	assert.Equal(t, SignedIn, receive(t, ch).Type)
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %v", evt)
	default:
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	bus := NewRedisBus(client, "", nil)
	ch, unsub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	sess := &Session{AccessToken: "secret"}
	require.NoError(t, bus.Publish(ctx, Event{Type: TokenRefreshed, UserID: "u1", Email: "a@b.c", At: at, Session: sess}))

	evt := receive(t, ch)
	assert.Equal(t, TokenRefreshed, evt.Type)
	assert.Equal(t, "u1", evt.UserID)
	assert.Equal(t, "a@b.c", evt.Email)
	assert.True(t, at.Equal(evt.At))
	assert.Nil(t, evt.Session, "tokens must not cross the wire")

	unsub()
	requireClosed(t, ch)
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	var nilSession *Session
	assert.True(t, nilSession.Expired(now, 0))

	s := &Session{ExpiresAt: now.Add(5 * time.Minute)}
	assert.False(t, s.Expired(now, time.Minute))
	assert.True(t, s.Expired(now, 5*time.Minute))
}
