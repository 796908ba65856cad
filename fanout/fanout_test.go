package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"tymr/domain"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	return rc
}

func waitFrame(t *testing.T, s *Session) []byte {
	t.Helper()
	select {
	case frame := <-s.Frames():
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func TestPublishReachesAllSessionsOfUser(t *testing.T) {
	rc := newTestRedis(t)
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.SubscribeLoop(ctx, rc, DefaultChannel)

	// Subscription is asynchronous; wait for it to attach.
	require.Eventually(t, func() bool {
		n, err := rc.PubSubNumSub(ctx, DefaultChannel).Result()
		return err == nil && n[DefaultChannel] > 0
	}, 2*time.Second, 10*time.Millisecond)

	tab1 := hub.Register("u1")
	tab2 := hub.Register("u1")
	other := hub.Register("u2")

	pub := NewPublisher(rc, DefaultChannel)
	pub.Publish(ctx, "u1", domain.FullRefresh())

	for _, s := range []*Session{tab1, tab2} {
		var msg domain.Message
		require.NoError(t, sonic.Unmarshal(waitFrame(t, s), &msg))
		require.Equal(t, domain.MsgFullRefresh, msg.Type)
	}
	select {
	case <-other.Frames():
		t.Fatal("frame leaked to another user")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDeliverDropsWhenSessionIsFull(t *testing.T) {
	hub := NewHub()
	hub.Register("u1")
	frame := []byte(`{"type":"full_refresh"}`)

	// Overfill without a reader; Deliver must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < sessionBuffer*2; i++ {
			hub.Deliver("u1", frame)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked on a full session")
	}
}

func TestUnregisterClosesSession(t *testing.T) {
	hub := NewHub()
	s := hub.Register("u1")
	require.True(t, hub.Deliverable("u1"))

	hub.Unregister("u1", s)
	require.False(t, hub.Deliverable("u1"))
	_, open := <-s.Frames()
	require.False(t, open)

	// Double unregister is harmless.
	hub.Unregister("u1", s)
}

func TestPublisherNilRedisIsNoOp(t *testing.T) {
	pub := NewPublisher(nil, "")
	pub.Publish(context.Background(), "u1", domain.FullRefresh())
}
