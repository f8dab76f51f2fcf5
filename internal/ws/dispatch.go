package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/triadarena/backend/internal/game"
)

const maxChatLength = 500

// Dispatcher routes inbound participant actions into the match manager and
// fans the results out.
type Dispatcher struct {
	mgr    *game.Manager
	hub    *Hub
	fanout Publisher
}

// NewDispatcher wires the manager, hub and publisher together and installs the
// disconnect notice on the hub.
func NewDispatcher(mgr *game.Manager, hub *Hub, fanout Publisher) *Dispatcher {
	d := &Dispatcher{mgr: mgr, hub: hub, fanout: fanout}
	hub.OnLeave = d.participantLeft
	return d
}

// Attach registers ch for the participant and sends them the current state
func (d *Dispatcher) Attach(ctx context.Context, matchID string, participantID int64, ch Channel) {
	replacing := d.hub.Connected(matchID, participantID)
	d.hub.Register(matchID, participantID, ch)

	s, err := d.mgr.Snapshot(ctx, matchID)
	if err != nil {
		d.hub.SendTo(matchID, participantID, NewErrorEvent(err.Error()))
		return
	}
	d.hub.SendTo(matchID, participantID, NewSyncEvent(s, ActionSync))

	if !replacing {
		ev := NewSyncEvent(s, ActionReconnected)
		ev.Player = participantID
		d.fanout.Publish(ctx, matchID, ev)
	}
}

// Detach removes ch; the leave notice is sent by the hub callback
func (d *Dispatcher) Detach(matchID string, participantID int64, ch Channel) {
	d.hub.Unregister(matchID, participantID, ch)
}

// participantLeft tells the remaining participant about a disconnect. Match
// state is untouched so the participant can reconnect and resume.
func (d *Dispatcher) participantLeft(matchID string, participantID int64) {
	s, err := d.mgr.Snapshot(context.Background(), matchID)
	if err != nil {
		return
	}
	if s.Status == game.StatusFinished {
		return
	}
	ev := NewSyncEvent(s, ActionDisconnected)
	ev.Player = participantID
	d.fanout.Publish(context.Background(), matchID, ev)
}

// HandleClientMessage adapts Handle to Client.Start
func (d *Dispatcher) HandleClientMessage(c *Client, message []byte) {
	d.Handle(context.Background(), c.MatchID(), c.ParticipantID(), message)
}

// Handle decodes and applies one inbound message. Rejections are reported to
// the sender only.
func (d *Dispatcher) Handle(ctx context.Context, matchID string, participantID int64, message []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		d.reject(matchID, participantID, "invalid message")
		return
	}

	switch msg.Type {
	case MsgPlaceCard:
		d.placeCard(ctx, matchID, participantID, msg)
	case MsgEndTurn:
		d.endTurn(ctx, matchID, participantID)
	case MsgSurrender:
		d.surrender(ctx, matchID, participantID)
	case MsgChatMessage:
		d.chat(ctx, matchID, participantID, msg.Message)
	default:
		d.reject(matchID, participantID, "unknown message type")
	}
}

func (d *Dispatcher) reject(matchID string, participantID int64, message string) {
	if err := d.hub.SendTo(matchID, participantID, NewErrorEvent(message)); err != nil && !errors.Is(err, ErrNotConnected) {
		log.Printf("[WS] could not report error to player %d: %v", participantID, err)
	}
}

func (d *Dispatcher) placeCard(ctx context.Context, matchID string, participantID int64, msg InboundMessage) {
	if msg.Position == nil || msg.Card == nil {
		d.reject(matchID, participantID, "position and card are required")
		return
	}
	res, _, err := d.mgr.ApplyMove(ctx, matchID, participantID, *msg.Position, *msg.Card)
	if err != nil {
		d.reject(matchID, participantID, err.Error())
		return
	}

	d.fanout.Publish(ctx, matchID, NewMoveEvent(participantID, res))
	if res.Outcome != game.OutcomeUndetermined {
		d.fanout.Publish(ctx, matchID, GameEndEvent{
			Type:   EventGameEnd,
			Winner: string(res.Outcome),
			Reason: game.ReasonBoardFull,
			Scores: res.Scores,
		})
	}
}

func (d *Dispatcher) endTurn(ctx context.Context, matchID string, participantID int64) {
	if _, err := d.mgr.EndTurn(ctx, matchID, participantID); err != nil {
		d.reject(matchID, participantID, err.Error())
		return
	}
	s, err := d.mgr.Snapshot(ctx, matchID)
	if err != nil {
		return
	}
	ev := NewSyncEvent(s, ActionTurnEnded)
	ev.Player = participantID
	d.fanout.Publish(ctx, matchID, ev)
}

func (d *Dispatcher) surrender(ctx context.Context, matchID string, participantID int64) {
	claim, _, err := d.mgr.Surrender(ctx, matchID, participantID)
	if err != nil {
		d.reject(matchID, participantID, err.Error())
		return
	}
	d.AnnounceEnd(ctx, matchID, claim.WinnerID, game.ReasonSurrender)
}

// AnnounceEnd broadcasts game_end for a match that has just been finished
func (d *Dispatcher) AnnounceEnd(ctx context.Context, matchID string, winnerID int64, reason string) {
	s, err := d.mgr.Snapshot(ctx, matchID)
	if err != nil {
		return
	}
	d.fanout.Publish(ctx, matchID, GameEndEvent{
		Type:     EventGameEnd,
		Winner:   string(s.WinnerSide()),
		WinnerID: winnerID,
		Reason:   reason,
		Scores:   s.Board.Score(),
	})
}

func (d *Dispatcher) chat(ctx context.Context, matchID string, participantID int64, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		d.reject(matchID, participantID, "message is empty")
		return
	}
	if utf8.RuneCountInString(message) > maxChatLength {
		d.reject(matchID, participantID, "message is too long")
		return
	}
	d.fanout.Publish(ctx, matchID, ChatEvent{Type: EventChat, From: participantID, Message: message})
}
