package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
)

// ErrNotConnected is returned by SendTo when the participant has no channel
var ErrNotConnected = errors.New("participant not connected")

// Channel is one participant's outbound stream. Send must not block.
type Channel interface {
	Send(data []byte) error
	Close()
}

// room holds the live channels of one match
type room struct {
	mu      sync.Mutex
	members map[int64]Channel
	closed  bool // removed from the hub; a new room must be created
}

// Hub maps match id -> participant -> live channel. The rooms map and each
// room have their own lock so traffic in one match never waits on another.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room

	// OnLeave runs once each time a registered channel is removed, except
	// when it was replaced by a newer connection of the same participant.
	OnLeave func(matchID string, participantID int64)
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// HubStats is reported by the health endpoint
type HubStats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

func (h *Hub) roomFor(matchID string, create bool) *room {
	h.mu.RLock()
	r := h.rooms[matchID]
	h.mu.RUnlock()
	if r != nil || !create {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r = h.rooms[matchID]; r == nil {
		r = &room{members: make(map[int64]Channel)}
		h.rooms[matchID] = r
	}
	return r
}

// Register stores ch as the participant's channel, closing any channel it
// replaces, and sends the connected event to ch only.
func (h *Hub) Register(matchID string, participantID int64, ch Channel) {
	var old Channel
	for {
		r := h.roomFor(matchID, true)
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		old = r.members[participantID]
		r.members[participantID] = ch
		r.mu.Unlock()
		break
	}

	if old != nil && old != ch {
		log.Printf("[WS] Player %d reconnecting to match %s - closing old connection", participantID, matchID)
		old.Close()
	}
	log.Printf("[WS] Player %d connected to match %s", participantID, matchID)

	h.SendTo(matchID, participantID, ConnectedEvent{Type: EventConnected, GameID: matchID, PlayerID: participantID})
}

// Unregister removes the mapping if ch is still the participant's channel.
// It reports whether anything was removed; the room is dropped once empty.
func (h *Hub) Unregister(matchID string, participantID int64, ch Channel) bool {
	r := h.roomFor(matchID, false)
	if r == nil {
		return false
	}

	r.mu.Lock()
	cur, ok := r.members[participantID]
	if !ok || cur != ch {
		r.mu.Unlock()
		return false
	}
	delete(r.members, participantID)
	empty := len(r.members) == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	if empty {
		h.mu.Lock()
		if h.rooms[matchID] == r {
			delete(h.rooms, matchID)
		}
		h.mu.Unlock()
	}

	log.Printf("[WS] Player %d disconnected from match %s", participantID, matchID)
	if h.OnLeave != nil {
		h.OnLeave(matchID, participantID)
	}
	return true
}

// drop unregisters and closes a channel whose send failed
func (h *Hub) drop(matchID string, participantID int64, ch Channel, err error) {
	log.Printf("[WS] Send to player %d in match %s failed, dropping connection: %v", participantID, matchID, err)
	h.Unregister(matchID, participantID, ch)
	ch.Close()
}

// SendTo delivers event to one participant. A failed send unregisters them.
func (h *Hub) SendTo(matchID string, participantID int64, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Error marshaling event: %v", err)
		return err
	}

	r := h.roomFor(matchID, false)
	if r == nil {
		return ErrNotConnected
	}
	r.mu.Lock()
	ch, ok := r.members[participantID]
	r.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	if err := ch.Send(data); err != nil {
		h.drop(matchID, participantID, ch, err)
		return err
	}
	return nil
}

// Broadcast sends event to every participant of the match. Each send is
// independent; failed channels are unregistered. Returns the number delivered.
func (h *Hub) Broadcast(matchID string, event interface{}) int {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Error marshaling event: %v", err)
		return 0
	}
	return h.BroadcastRaw(matchID, data)
}

// BroadcastRaw sends an already encoded event to every participant of the match
func (h *Hub) BroadcastRaw(matchID string, data []byte) int {
	r := h.roomFor(matchID, false)
	if r == nil {
		return 0
	}

	type target struct {
		id int64
		ch Channel
	}
	r.mu.Lock()
	targets := make([]target, 0, len(r.members))
	for id, ch := range r.members {
		targets = append(targets, target{id: id, ch: ch})
	}
	r.mu.Unlock()

	delivered := 0
	for _, t := range targets {
		if err := t.ch.Send(data); err != nil {
			h.drop(matchID, t.id, t.ch, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Connected reports whether the participant has a live channel in the match
func (h *Hub) Connected(matchID string, participantID int64) bool {
	r := h.roomFor(matchID, false)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[participantID]
	return ok
}

// Stats counts rooms and connections
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	st := HubStats{Rooms: len(rooms)}
	for _, r := range rooms {
		r.mu.Lock()
		st.Connections += len(r.members)
		r.mu.Unlock()
	}
	return st
}
