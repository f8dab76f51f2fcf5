package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// RelayChannel is the Redis pub/sub channel carrying match events between instances
const RelayChannel = "match_events"

// Publisher delivers an event to every participant of a match, wherever they
// are connected.
type Publisher interface {
	Publish(ctx context.Context, matchID string, event interface{})
}

type relayEnvelope struct {
	MatchID string          `json:"match_id"`
	Event   json.RawMessage `json:"event"`
}

// Fanout publishes through Redis when a client is configured so that every
// instance holding a connection for the match delivers the event. Without
// Redis, or when publishing fails, it broadcasts on the local hub.
type Fanout struct {
	hub *Hub
	rdb *redis.Client
}

// NewFanout creates a publisher. rdb may be nil.
func NewFanout(hub *Hub, rdb *redis.Client) *Fanout {
	return &Fanout{hub: hub, rdb: rdb}
}

// Publish implements Publisher
func (f *Fanout) Publish(ctx context.Context, matchID string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Error marshaling event for match %s: %v", matchID, err)
		return
	}
	if f.rdb == nil {
		f.hub.BroadcastRaw(matchID, data)
		return
	}

	payload, err := json.Marshal(relayEnvelope{MatchID: matchID, Event: data})
	if err != nil {
		f.hub.BroadcastRaw(matchID, data)
		return
	}
	if err := f.rdb.Publish(ctx, RelayChannel, payload).Err(); err != nil {
		log.Printf("[WS] publish to %s failed, delivering locally: %v", RelayChannel, err)
		f.hub.BroadcastRaw(matchID, data)
	}
}

// StartSubscriber relays events published by any instance to the local hub.
// It returns immediately; the subscription ends with ctx.
func (f *Fanout) StartSubscriber(ctx context.Context) {
	if f.rdb == nil {
		log.Println("[WS] Redis client not set; match event relay not started")
		return
	}

	pubsub := f.rdb.Subscribe(ctx, RelayChannel)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		log.Printf("[WS] %s subscriber started", RelayChannel)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[WS] %s subscriber stopped", RelayChannel)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env relayEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.MatchID == "" {
					log.Printf("[WS] invalid relay payload: %v", err)
					continue
				}
				f.hub.BroadcastRaw(env.MatchID, env.Event)
			}
		}
	}()
}
