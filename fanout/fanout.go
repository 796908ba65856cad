// Package fanout moves task change frames from whichever process produced
// them to every live session of the affected user. Producers publish to one
// Redis channel; each API instance subscribes and delivers to the sessions
// it holds locally.
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tymr/domain"
)

// DefaultChannel is the Redis pub/sub channel carrying task update frames.
const DefaultChannel = "task-updates"

// sessionBuffer bounds per-session backpressure. A session that cannot keep
// up loses frames rather than stalling the hub; the client recovers with a
// full refetch on its next fetch_tasks.
const sessionBuffer = 32

// envelope is the on-channel shape: the target user plus the frame itself.
type envelope struct {
	UserID  string         `json:"userId"`
	Message domain.Message `json:"message"`
}

// Publisher pushes frames onto the fan-out channel. Publishing is fire and
// forget: a Redis outage degrades liveness, never correctness, because every
// frame's content is reloadable from storage.
type Publisher struct {
	rc      *redis.Client
	channel string
}

func NewPublisher(rc *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rc: rc, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, userID string, msg domain.Message) {
	if p.rc == nil {
		return
	}
	data, err := sonic.Marshal(envelope{UserID: userID, Message: msg})
	if err != nil {
		log.WithField("user_id", userID).Errorf("marshal fan-out frame: %v", err)
		return
	}
	if err := p.rc.Publish(ctx, p.channel, data).Err(); err != nil {
		log.WithField("user_id", userID).Errorf("publish fan-out frame: %v", err)
	}
}

// Session is one live client connection's outbound frame queue.
type Session struct {
	ch chan []byte
}

// Frames is the channel the connection's writer pumps to the socket.
func (s *Session) Frames() <-chan []byte { return s.ch }

// Send queues a frame on this session alone, for direct replies that must
// not fan out to the user's other tabs. Reports whether the frame fit.
func (s *Session) Send(frame []byte) bool {
	select {
	case s.ch <- frame:
		return true
	default:
		return false
	}
}

// Hub indexes local sessions by user and delivers frames to all sessions of
// a user at once.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*Session]struct{})}
}

// Register adds a session for userID and returns it.
func (h *Hub) Register(userID string) *Session {
	s := &Session{ch: make(chan []byte, sessionBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[*Session]struct{})
	}
	h.sessions[userID][s] = struct{}{}
	return s
}

// Unregister removes a session and closes its frame channel.
func (h *Hub) Unregister(userID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[userID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, userID)
	}
	close(s.ch)
}

// Deliver hands a frame to every local session of userID without blocking.
func (h *Hub) Deliver(userID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions[userID] {
		select {
		case s.ch <- frame:
		default:
			log.WithField("user_id", userID).Warn("session queue full, dropping frame")
		}
	}
}

// Deliverable reports whether any local session exists for userID.
func (h *Hub) Deliverable(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

// SubscribeLoop consumes the fan-out channel and routes each frame to the
// local sessions of its user. It reconnects on failure until ctx is done.
func (h *Hub) SubscribeLoop(ctx context.Context, rc *redis.Client, channel string) {
	if channel == "" {
		channel = DefaultChannel
	}
	for ctx.Err() == nil {
		h.consume(ctx, rc, channel)
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
}

func (h *Hub) consume(ctx context.Context, rc *redis.Client, channel string) {
	pubsub := rc.Subscribe(ctx, channel)
	defer pubsub.Close()
	log.WithField("channel", channel).Info("subscribed to fan-out channel")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				log.Warn("fan-out subscription lost, reconnecting")
				return
			}
			var env envelope
			if err := sonic.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Errorf("undecodable fan-out frame: %v", err)
				continue
			}
			frame, err := sonic.Marshal(env.Message)
			if err != nil {
				log.Errorf("re-encode fan-out frame: %v", err)
				continue
			}
			h.Deliver(env.UserID, frame)
		}
	}
}
