package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c0st1nus/archischema-liveshare/internal/liveshare/protocol"
)

// EventKind distinguishes the read-only room events published to observers
// that never join the websocket (an ops dashboard, say).
type EventKind string

const (
	EventRoomCreated EventKind = "room_created"
	EventUserJoined  EventKind = "user_joined"
	EventUserLeft    EventKind = "user_left"
	EventRoomEnded   EventKind = "room_ended"
)

// RoomEvent is the payload published on a room's redis channel.
type RoomEvent struct {
	Kind      EventKind       `json:"kind"`
	RoomID    protocol.RoomId `json:"room_id"`
	UserID    *protocol.UserId `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func roomChannel(id protocol.RoomId) string {
	return "liveshare:room:" + id.String()
}

// EventBus publishes room lifecycle events over redis pub/sub, generalizing
// sumanthd032-CollabText/server/main.go's per-document Subscribe/Publish
// pair from raw message relay into a typed lifecycle-event channel.
type EventBus struct {
	client *redis.Client
}

// NewEventBus wraps an already-connected client.
func NewEventBus(client *redis.Client) *EventBus {
	return &EventBus{client: client}
}

// Dial connects to redis, mirroring the teacher's redis.NewClient + Ping.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("storage: connect redis: %w", err)
	}
	return client, nil
}

// Publish emits a room event. Failures are non-fatal (best-effort observer
// channel per spec.md §7's degraded-mode principle) — callers should log
// but not treat this as session-fatal.
func (b *EventBus) Publish(ctx context.Context, ev RoomEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("storage: marshal room event: %w", err)
	}
	if err := b.client.Publish(ctx, roomChannel(ev.RoomID), data).Err(); err != nil {
		return fmt.Errorf("storage: publish room event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded events for a room, for observers
// that want lifecycle notifications without joining the websocket.
func (b *EventBus) Subscribe(ctx context.Context, roomID protocol.RoomId) (<-chan RoomEvent, func()) {
	pubsub := b.client.Subscribe(ctx, roomChannel(roomID))
	out := make(chan RoomEvent, 16)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }
}

// DegradedModeCounter tracks StorageUnavailable occurrences (spec.md §7)
// both in-process and, best-effort, as a redis distributed counter so a
// multi-instance deployment can observe degraded storage cluster-wide.
type DegradedModeCounter struct {
	client *redis.Client
	local  atomic.Int64
}

// NewDegradedModeCounter builds a counter; client may be nil to track
// in-process only (e.g. in tests).
func NewDegradedModeCounter(client *redis.Client) *DegradedModeCounter {
	return &DegradedModeCounter{client: client}
}

// Incr records one StorageUnavailable occurrence.
func (c *DegradedModeCounter) Incr(ctx context.Context) {
	c.local.Add(1)
	if c.client == nil {
		return
	}
	_ = c.client.Incr(ctx, "liveshare:storage_degraded_total").Err()
}

// Local returns the in-process occurrence count.
func (c *DegradedModeCounter) Local() int64 {
	return c.local.Load()
}

// Cluster returns the distributed occurrence count, or (0, false) if redis
// is unavailable or unset.
func (c *DegradedModeCounter) Cluster(ctx context.Context) (int64, bool) {
	if c.client == nil {
		return 0, false
	}
	v, err := c.client.Get(ctx, "liveshare:storage_degraded_total").Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}
