package ws

import "github.com/triadarena/backend/internal/game"

// Outbound event types
const (
	EventConnected  = "connected"
	EventGameUpdate = "game_update"
	EventGameEnd    = "game_end"
	EventChat       = "chat"
	EventError      = "error"
)

// Inbound message types
const (
	MsgPlaceCard   = "place_card"
	MsgEndTurn     = "end_turn"
	MsgSurrender   = "surrender"
	MsgChatMessage = "chat_message"
)

// game_update actions
const (
	ActionSync         = "sync"
	ActionCardPlaced   = "card_placed"
	ActionTurnEnded    = "turn_ended"
	ActionDisconnected = "player_disconnected"
	ActionReconnected  = "player_connected"
)

// ConnectedEvent is sent to a freshly registered channel only
type ConnectedEvent struct {
	Type     string `json:"type"`
	GameID   string `json:"gameId"`
	PlayerID int64  `json:"playerId"`
}

// GameUpdateEvent carries the board after any state change
type GameUpdateEvent struct {
	Type     string       `json:"type"`
	Action   string       `json:"action"`
	Board    *game.Board  `json:"board,omitempty"`
	Scores   game.Scores  `json:"scores"`
	Turn     game.Side    `json:"turn"`
	Status   string       `json:"status,omitempty"`
	Player   int64        `json:"player,omitempty"`
	Position *int         `json:"position,omitempty"`
	Card     *game.Card   `json:"card,omitempty"`
	Captured []int        `json:"captured,omitempty"`
	Outcome  game.Outcome `json:"outcome,omitempty"`
}

// GameEndEvent announces the end of a match. Winner is a side, "draw" or empty.
type GameEndEvent struct {
	Type     string      `json:"type"`
	Winner   string      `json:"winner"`
	WinnerID int64       `json:"winner_user_id,omitempty"`
	Reason   string      `json:"reason"`
	Scores   game.Scores `json:"scores"`
}

// ChatEvent relays a chat line to both participants
type ChatEvent struct {
	Type    string `json:"type"`
	From    int64  `json:"from"`
	Message string `json:"message"`
}

// ErrorEvent reports a rejected action to its sender
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// InboundMessage is the flat JSON envelope sent by clients
type InboundMessage struct {
	Type     string     `json:"type"`
	Position *int       `json:"position,omitempty"`
	Card     *game.Card `json:"card,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// NewSyncEvent builds a full-state game_update for s
func NewSyncEvent(s *game.MatchSession, action string) GameUpdateEvent {
	return GameUpdateEvent{
		Type:    EventGameUpdate,
		Action:  action,
		Board:   s.Board,
		Scores:  s.Board.Score(),
		Turn:    s.Turn,
		Status:  string(s.Status),
		Outcome: s.Outcome,
	}
}

// NewMoveEvent builds the game_update broadcast after a placement
func NewMoveEvent(participantID int64, res game.MoveResult) GameUpdateEvent {
	pos := res.Position
	card := res.Card
	return GameUpdateEvent{
		Type:     EventGameUpdate,
		Action:   ActionCardPlaced,
		Board:    res.Board,
		Scores:   res.Scores,
		Turn:     res.Turn,
		Player:   participantID,
		Position: &pos,
		Card:     &card,
		Captured: res.Captured,
		Outcome:  res.Outcome,
	}
}

// NewErrorEvent builds an error event
func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}
