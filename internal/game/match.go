package game

import (
	"time"
)

// Participant is the external identity of someone taking part in a match
type Participant struct {
	ID         int64  `json:"id"`
	Username   string `json:"username,omitempty"`
	AccountRef string `json:"account_ref,omitempty"` // linked NEAR account at the time of joining
}

// MatchPlayer is one participant's seat in a match. MatchID is a plain
// back-reference; the session owns the player.
type MatchPlayer struct {
	MatchID       string     `json:"match_id"`
	ParticipantID int64      `json:"user_id"`
	Username      string     `json:"username,omitempty"`
	Side          Side       `json:"side"`
	AccountRef    string     `json:"near_account_id,omitempty"`
	Deck          []AssetRef `json:"deck,omitempty"`
	JoinedAt      time.Time  `json:"joined_at"`
}

// MatchDeposit records a stake commitment. Only Verified may change after creation.
type MatchDeposit struct {
	MatchID       string    `json:"match_id"`
	Seq           int       `json:"id"`
	ParticipantID int64     `json:"user_id"`
	Asset         AssetRef  `json:"asset"`
	TxRef         string    `json:"tx_hash,omitempty"`
	Verified      bool      `json:"verified_onchain"`
	DepositedAt   time.Time `json:"deposited_at"`
}

// MatchClaim records the winner's entitlement to the staked asset
type MatchClaim struct {
	MatchID       string    `json:"match_id"`
	WinnerID      int64     `json:"winner_user_id"`
	LoserID       int64     `json:"loser_user_id"`
	Asset         AssetRef  `json:"asset"`
	SettlementRef string    `json:"tx_hash,omitempty"`
	ClaimedAt     time.Time `json:"claimed_at"`
}

// MatchSession is the authoritative state of one match
type MatchSession struct {
	ID           string         `json:"id"`
	Status       MatchStatus    `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	WinnerID     *int64         `json:"winner_user_id,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Players      []*MatchPlayer `json:"players"`
	Board        *Board         `json:"board"`
	Turn         Side           `json:"turn"`
	Moves        int            `json:"moves"`
	Outcome      Outcome        `json:"outcome,omitempty"`
	Deposits     []MatchDeposit `json:"deposits"`
	Claim        *MatchClaim    `json:"claim,omitempty"`
}

// JoinResult describes the outcome of a join
type JoinResult struct {
	Side     Side
	Rejoined bool
	Status   MatchStatus
}

// MoveResult is returned after a successful placement
type MoveResult struct {
	Position int     `json:"position"`
	Side     Side    `json:"side"`
	Card     Card    `json:"card"`
	Captured []int   `json:"captured"`
	Board    *Board  `json:"board"`
	Scores   Scores  `json:"scores"`
	Turn     Side    `json:"turn"`
	Outcome  Outcome `json:"outcome,omitempty"`
}

// NewMatchSession creates a waiting match with creator seated as side A
func NewMatchSession(id string, creator Participant, now time.Time) *MatchSession {
	s := &MatchSession{
		ID:        id,
		Status:    StatusWaiting,
		CreatedAt: now,
		Board:     NewBoard(),
		Turn:      SideA,
	}
	s.Players = append(s.Players, &MatchPlayer{
		MatchID:       id,
		ParticipantID: creator.ID,
		Username:      creator.Username,
		Side:          SideA,
		AccountRef:    creator.AccountRef,
		JoinedAt:      now,
	})
	return s
}

// Player returns the seat of participantID, or nil
func (s *MatchSession) Player(participantID int64) *MatchPlayer {
	for _, p := range s.Players {
		if p.ParticipantID == participantID {
			return p
		}
	}
	return nil
}

// PlayerBySide returns the seat assigned to side, or nil
func (s *MatchSession) PlayerBySide(side Side) *MatchPlayer {
	for _, p := range s.Players {
		if p.Side == side {
			return p
		}
	}
	return nil
}

// IsParticipant reports whether participantID holds a seat
func (s *MatchSession) IsParticipant(participantID int64) bool {
	return s.Player(participantID) != nil
}

// Opponent returns the other seat, or nil when the match has one player
func (s *MatchSession) Opponent(participantID int64) *MatchPlayer {
	for _, p := range s.Players {
		if p.ParticipantID != participantID {
			return p
		}
	}
	return nil
}

// Join seats a participant on the unused side. A participant joining again only
// refreshes their snapshot data.
func (s *MatchSession) Join(p Participant, now time.Time) (JoinResult, error) {
	if existing := s.Player(p.ID); existing != nil {
		if p.AccountRef != "" {
			existing.AccountRef = p.AccountRef
		}
		if p.Username != "" {
			existing.Username = p.Username
		}
		return JoinResult{Side: existing.Side, Rejoined: true, Status: s.Status}, nil
	}
	if len(s.Players) >= 2 {
		return JoinResult{}, ErrMatchFull
	}
	if s.Status == StatusFinished {
		return JoinResult{}, ErrAlreadyFinished
	}

	side := SideB
	if s.PlayerBySide(SideA) == nil {
		side = SideA
	}
	s.Players = append(s.Players, &MatchPlayer{
		MatchID:       s.ID,
		ParticipantID: p.ID,
		Username:      p.Username,
		Side:          side,
		AccountRef:    p.AccountRef,
		JoinedAt:      now,
	})
	if len(s.Players) == 2 {
		s.Status = StatusActive
	}
	return JoinResult{Side: side, Status: s.Status}, nil
}

// ValidateDeck checks the size limit and that no asset appears twice
func ValidateDeck(deck []AssetRef, maxSize int) error {
	if maxSize > 0 && len(deck) > maxSize {
		return ErrDeckTooLarge
	}
	seen := make(map[string]bool, len(deck))
	for _, a := range deck {
		if a.Contract == "" || a.TokenID == "" {
			return ErrInvalidAsset
		}
		if seen[a.Key()] {
			return ErrDuplicateCard
		}
		seen[a.Key()] = true
	}
	return nil
}

// SetDeck stores the participant's deck. It does not gate play.
func (s *MatchSession) SetDeck(participantID int64, deck []AssetRef, maxSize int) error {
	p := s.Player(participantID)
	if p == nil {
		return ErrNotAParticipant
	}
	if err := ValidateDeck(deck, maxSize); err != nil {
		return err
	}
	p.Deck = append([]AssetRef(nil), deck...)
	return nil
}

// NewDeposit validates and builds the next deposit entry without appending it
func (s *MatchSession) NewDeposit(participantID int64, asset AssetRef, txRef string, now time.Time) (MatchDeposit, error) {
	if !s.IsParticipant(participantID) {
		return MatchDeposit{}, ErrNotAParticipant
	}
	if asset.Contract == "" || asset.TokenID == "" {
		return MatchDeposit{}, ErrInvalidAsset
	}
	for _, d := range s.Deposits {
		if d.Asset == asset {
			return MatchDeposit{}, ErrDuplicateDeposit
		}
	}
	return MatchDeposit{
		MatchID:       s.ID,
		Seq:           len(s.Deposits) + 1,
		ParticipantID: participantID,
		Asset:         asset,
		TxRef:         txRef,
		DepositedAt:   now,
	}, nil
}

// FirstDepositOf returns the earliest asset staked by participantID
func (s *MatchSession) FirstDepositOf(participantID int64) (AssetRef, bool) {
	for _, d := range s.Deposits {
		if d.ParticipantID == participantID {
			return d.Asset, true
		}
	}
	return AssetRef{}, false
}

func (s *MatchSession) checkPlayable(participantID int64) (*MatchPlayer, error) {
	switch s.Status {
	case StatusFinished:
		return nil, ErrAlreadyFinished
	case StatusWaiting:
		return nil, ErrMatchNotActive
	}
	p := s.Player(participantID)
	if p == nil {
		return nil, ErrNotAParticipant
	}
	if s.Board.IsFull() {
		return nil, ErrBoardComplete
	}
	if p.Side != s.Turn {
		return nil, ErrWrongTurn
	}
	return p, nil
}

// ApplyMove places card for the participant, resolves captures and advances the turn
func (s *MatchSession) ApplyMove(participantID int64, pos int, card Card) (MoveResult, error) {
	p, err := s.checkPlayable(participantID)
	if err != nil {
		return MoveResult{}, err
	}
	if err := card.Validate(); err != nil {
		return MoveResult{}, err
	}
	if err := s.Board.Place(pos, card, p.Side); err != nil {
		return MoveResult{}, err
	}
	captured, err := s.Board.ApplyCaptureRule(pos)
	if err != nil {
		return MoveResult{}, err
	}

	s.Moves++
	s.Turn = p.Side.Other()
	if s.Board.IsFull() {
		s.Outcome = s.Board.Winner()
	}

	return MoveResult{
		Position: pos,
		Side:     p.Side,
		Card:     card,
		Captured: captured,
		Board:    s.Board.Clone(),
		Scores:   s.Board.Score(),
		Turn:     s.Turn,
		Outcome:  s.Outcome,
	}, nil
}

// EndTurn passes the turn to the other side without placing a card
func (s *MatchSession) EndTurn(participantID int64) (Side, error) {
	p, err := s.checkPlayable(participantID)
	if err != nil {
		return SideNone, err
	}
	s.Turn = p.Side.Other()
	return s.Turn, nil
}

// NewClaim validates a finish request and builds the claim without applying it
func (s *MatchSession) NewClaim(winnerID, loserID int64, asset AssetRef, now time.Time) (MatchClaim, error) {
	if s.Claim != nil {
		return MatchClaim{}, ErrAlreadyFinished
	}
	if !s.IsParticipant(winnerID) || !s.IsParticipant(loserID) {
		return MatchClaim{}, ErrNotAParticipant
	}
	if winnerID == loserID {
		return MatchClaim{}, ErrInvalidOutcome
	}
	return MatchClaim{
		MatchID:   s.ID,
		WinnerID:  winnerID,
		LoserID:   loserID,
		Asset:     asset,
		ClaimedAt: now,
	}, nil
}

// ApplyFinish records a validated claim and closes the match
func (s *MatchSession) ApplyFinish(claim MatchClaim, reason string) {
	c := claim
	winner := claim.WinnerID
	finishedAt := claim.ClaimedAt
	s.Claim = &c
	s.Status = StatusFinished
	s.WinnerID = &winner
	s.FinishedAt = &finishedAt
	s.FinishReason = reason
}

// CheckSettlementRef verifies that participantID may set the claim's settlement reference
func (s *MatchSession) CheckSettlementRef(participantID int64) error {
	if s.Claim == nil {
		return ErrNoClaim
	}
	if s.Claim.WinnerID != participantID {
		return ErrForbidden
	}
	return nil
}

// WinnerSide maps the recorded winner to a side
func (s *MatchSession) WinnerSide() Side {
	if s.WinnerID == nil {
		return SideNone
	}
	if p := s.Player(*s.WinnerID); p != nil {
		return p.Side
	}
	return SideNone
}

// Clone returns a deep copy safe to read without holding the match lock
func (s *MatchSession) Clone() *MatchSession {
	c := *s
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	if s.WinnerID != nil {
		w := *s.WinnerID
		c.WinnerID = &w
	}
	c.Players = make([]*MatchPlayer, len(s.Players))
	for i, p := range s.Players {
		cp := *p
		cp.Deck = append([]AssetRef(nil), p.Deck...)
		c.Players[i] = &cp
	}
	if s.Board != nil {
		c.Board = s.Board.Clone()
	}
	c.Deposits = append([]MatchDeposit(nil), s.Deposits...)
	if s.Claim != nil {
		cl := *s.Claim
		c.Claim = &cl
	}
	return &c
}
