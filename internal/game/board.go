package game

import (
	"encoding/json"
	"fmt"
)

// BoardSize is the number of cells on the 3x3 grid
const BoardSize = 9

// Side is a participant's in-game identity
type Side string

const (
	SideNone Side = ""
	SideA    Side = "A"
	SideB    Side = "B"
)

// Other returns the opposing side
func (s Side) Other() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	default:
		return SideNone
	}
}

// Valid reports whether s is A or B
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// Outcome is the result of a full board
type Outcome string

const (
	OutcomeUndetermined Outcome = ""
	OutcomeSideA        Outcome = "A"
	OutcomeSideB        Outcome = "B"
	OutcomeDraw         Outcome = "draw"
)

// Cell is one board position. A nil Card means empty.
type Cell struct {
	Card  *Card `json:"card"`
	Owner Side  `json:"owner,omitempty"`
}

// Empty reports whether nothing has been placed here
func (c Cell) Empty() bool {
	return c.Card == nil
}

// Board is the 3x3 grid addressed 0..8:
//
//	0 1 2
//	3 4 5
//	6 7 8
type Board struct {
	cells [BoardSize]Cell
}

// NewBoard returns an empty board
func NewBoard() *Board {
	return &Board{}
}

// Cell returns a copy of the cell at pos
func (b *Board) Cell(pos int) (Cell, error) {
	if pos < 0 || pos >= BoardSize {
		return Cell{}, ErrInvalidPosition
	}
	return b.cells[pos], nil
}

// Cells returns a copy of all cells in position order
func (b *Board) Cells() []Cell {
	out := make([]Cell, BoardSize)
	copy(out, b.cells[:])
	return out
}

// Place puts card on an empty cell for side
func (b *Board) Place(pos int, card Card, side Side) error {
	if pos < 0 || pos >= BoardSize {
		return ErrInvalidPosition
	}
	if !side.Valid() {
		return fmt.Errorf("invalid side %q", side)
	}
	if !b.cells[pos].Empty() {
		return ErrCellOccupied
	}
	c := card
	b.cells[pos] = Cell{Card: &c, Owner: side}
	return nil
}

// neighbor describes an orthogonal neighbour of a position and which edge of the
// placed card faces it.
type neighbor struct {
	pos  int
	edge Direction
}

func neighbors(pos int) []neighbor {
	out := make([]neighbor, 0, 4)
	if pos >= 3 {
		out = append(out, neighbor{pos: pos - 3, edge: DirTop})
	}
	if pos%3 != 2 {
		out = append(out, neighbor{pos: pos + 1, edge: DirRight})
	}
	if pos <= 5 {
		out = append(out, neighbor{pos: pos + 3, edge: DirBottom})
	}
	if pos%3 != 0 {
		out = append(out, neighbor{pos: pos - 1, edge: DirLeft})
	}
	return out
}

// ApplyCaptureRule flips every enemy neighbour of pos whose facing value is
// strictly lower than the placed card's value on that edge. Equal values never
// flip. Returns the captured positions.
func (b *Board) ApplyCaptureRule(pos int) ([]int, error) {
	if pos < 0 || pos >= BoardSize {
		return nil, ErrInvalidPosition
	}
	placed := b.cells[pos]
	if placed.Empty() {
		return nil, nil
	}

	var captured []int
	for _, n := range neighbors(pos) {
		target := &b.cells[n.pos]
		if target.Empty() || target.Owner == placed.Owner {
			continue
		}
		attack := placed.Card.Strength(n.edge)
		defense := target.Card.Strength(n.edge.Opposite())
		if attack > defense {
			target.Owner = placed.Owner
			captured = append(captured, n.pos)
		}
	}
	return captured, nil
}

// IsFull reports whether every cell is occupied
func (b *Board) IsFull() bool {
	for _, c := range b.cells {
		if c.Empty() {
			return false
		}
	}
	return true
}

// Scores counts cells per side
type Scores struct {
	A int `json:"A"`
	B int `json:"B"`
}

// Score returns the number of cells owned by each side
func (b *Board) Score() Scores {
	var s Scores
	for _, c := range b.cells {
		switch c.Owner {
		case SideA:
			s.A++
		case SideB:
			s.B++
		}
	}
	return s
}

// Winner returns the side with more cells, a draw, or undetermined when the
// board is not yet full.
func (b *Board) Winner() Outcome {
	if !b.IsFull() {
		return OutcomeUndetermined
	}
	s := b.Score()
	switch {
	case s.A > s.B:
		return OutcomeSideA
	case s.B > s.A:
		return OutcomeSideB
	default:
		return OutcomeDraw
	}
}

// Clone returns a deep copy of the board
func (b *Board) Clone() *Board {
	nb := &Board{}
	for i, c := range b.cells {
		if c.Card != nil {
			card := *c.Card
			nb.cells[i] = Cell{Card: &card, Owner: c.Owner}
		}
	}
	return nb
}

// MarshalJSON encodes the board as a 9-element array
func (b *Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.cells[:])
}

// UnmarshalJSON restores a board from a 9-element array
func (b *Board) UnmarshalJSON(data []byte) error {
	var cells []Cell
	if err := json.Unmarshal(data, &cells); err != nil {
		return err
	}
	if len(cells) != BoardSize {
		return fmt.Errorf("board must have %d cells, got %d", BoardSize, len(cells))
	}
	copy(b.cells[:], cells)
	return nil
}
