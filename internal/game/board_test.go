package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCard(t *testing.T, name string, top, right, bottom, left int) Card {
	t.Helper()
	c, err := NewCard(name, top, right, bottom, left)
	require.NoError(t, err)
	return c
}

func randomCard(r *rand.Rand) Card {
	v := func() int { return MinStrength + r.Intn(MaxStrength-MinStrength+1) }
	return Card{Name: "rnd", Top: v(), Right: v(), Bottom: v(), Left: v()}
}

func TestNewCardRejectsOutOfRange(t *testing.T) {
	_, err := NewCard("bad", 0, 5, 5, 5)
	assert.ErrorIs(t, err, ErrInvalidCard)

	_, err = NewCard("bad", 5, 11, 5, 5)
	assert.ErrorIs(t, err, ErrInvalidCard)

	_, err = NewCard("ok", 1, 10, 1, 10)
	assert.NoError(t, err)
}

func TestPlaceValidation(t *testing.T) {
	b := NewBoard()
	c := Card{Name: "x", Top: 1, Right: 1, Bottom: 1, Left: 1}

	assert.ErrorIs(t, b.Place(-1, c, SideA), ErrInvalidPosition)
	assert.ErrorIs(t, b.Place(9, c, SideA), ErrInvalidPosition)
	require.NoError(t, b.Place(4, c, SideA))
	assert.ErrorIs(t, b.Place(4, c, SideB), ErrCellOccupied)

	cell, err := b.Cell(4)
	require.NoError(t, err)
	assert.Equal(t, SideA, cell.Owner)
}

// Scenario A: (5,3,4,2) at 0 for A against (1,1,1,1) at 1 for B.
func TestCaptureScenarioAdjacentRightBeatsLeft(t *testing.T) {
	b := NewBoard()
	require.NoError(t, b.Place(1, mustCard(t, "weak", 1, 1, 1, 1), SideB))
	require.NoError(t, b.Place(0, mustCard(t, "strong", 5, 3, 4, 2), SideA))

	captured, err := b.ApplyCaptureRule(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, captured)
	assert.Equal(t, Scores{A: 2, B: 0}, b.Score())
}

func TestCaptureTieNeverFlips(t *testing.T) {
	b := NewBoard()
	require.NoError(t, b.Place(4, mustCard(t, "center", 5, 5, 5, 5), SideB))
	require.NoError(t, b.Place(1, mustCard(t, "above", 5, 5, 5, 5), SideA))

	captured, err := b.ApplyCaptureRule(1)
	require.NoError(t, err)
	assert.Empty(t, captured)
	cell, _ := b.Cell(4)
	assert.Equal(t, SideB, cell.Owner)
}

func TestCaptureIgnoresOwnCards(t *testing.T) {
	b := NewBoard()
	require.NoError(t, b.Place(3, mustCard(t, "own", 1, 1, 1, 1), SideA))
	require.NoError(t, b.Place(4, mustCard(t, "new", 9, 9, 9, 9), SideA))

	captured, err := b.ApplyCaptureRule(4)
	require.NoError(t, err)
	assert.Empty(t, captured)
}

func TestNeighborsOfCorners(t *testing.T) {
	positions := func(ns []neighbor) []int {
		out := make([]int, 0, len(ns))
		for _, n := range ns {
			out = append(out, n.pos)
		}
		return out
	}
	assert.ElementsMatch(t, []int{1, 3}, positions(neighbors(0)))
	assert.ElementsMatch(t, []int{1, 5}, positions(neighbors(2)))
	assert.ElementsMatch(t, []int{1, 3, 5, 7}, positions(neighbors(4)))
	assert.ElementsMatch(t, []int{5, 7}, positions(neighbors(8)))
}

// For every position, a neighbour flips iff it is enemy owned and the placed
// card's facing value is strictly greater.
func TestCaptureRuleProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for iter := 0; iter < 500; iter++ {
		for pos := 0; pos < BoardSize; pos++ {
			b := NewBoard()
			before := make(map[int]Cell)
			for _, n := range neighbors(pos) {
				if r.Intn(4) == 0 {
					continue // leave empty
				}
				owner := SideA
				if r.Intn(2) == 0 {
					owner = SideB
				}
				require.NoError(t, b.Place(n.pos, randomCard(r), owner))
				before[n.pos], _ = b.Cell(n.pos)
			}

			placed := randomCard(r)
			require.NoError(t, b.Place(pos, placed, SideA))
			captured, err := b.ApplyCaptureRule(pos)
			require.NoError(t, err)

			for _, n := range neighbors(pos) {
				prev, occupied := before[n.pos]
				after, _ := b.Cell(n.pos)
				shouldFlip := occupied &&
					prev.Owner == SideB &&
					placed.Strength(n.edge) > prev.Card.Strength(n.edge.Opposite())

				if shouldFlip {
					assert.Equal(t, SideA, after.Owner, "pos %d neighbour %d should flip", pos, n.pos)
					assert.Contains(t, captured, n.pos)
				} else {
					assert.Equal(t, prev.Owner, after.Owner, "pos %d neighbour %d should not flip", pos, n.pos)
					assert.NotContains(t, captured, n.pos)
				}
			}
		}
	}
}

func TestScoreSumsToOccupiedCells(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		b := NewBoard()
		occupied := 0
		side := SideA
		for _, pos := range r.Perm(BoardSize)[:r.Intn(BoardSize+1)] {
			require.NoError(t, b.Place(pos, randomCard(r), side))
			_, err := b.ApplyCaptureRule(pos)
			require.NoError(t, err)
			occupied++
			side = side.Other()

			s := b.Score()
			assert.Equal(t, occupied, s.A+s.B)
			if !b.IsFull() {
				assert.Equal(t, OutcomeUndetermined, b.Winner())
			}
		}
	}
}

func TestWinnerOnFullBoard(t *testing.T) {
	b := NewBoard()
	c := Card{Name: "flat", Top: 5, Right: 5, Bottom: 5, Left: 5}
	for pos := 0; pos < BoardSize; pos++ {
		side := SideA
		if pos >= 5 {
			side = SideB
		}
		require.NoError(t, b.Place(pos, c, side))
	}
	require.True(t, b.IsFull())
	assert.Equal(t, OutcomeSideA, b.Winner())
}

func TestBoardJSONRoundTrip(t *testing.T) {
	b := NewBoard()
	require.NoError(t, b.Place(2, mustCard(t, "x", 2, 3, 4, 5), SideB))

	data, err := b.MarshalJSON()
	require.NoError(t, err)

	var restored Board
	require.NoError(t, restored.UnmarshalJSON(data))
	cell, _ := restored.Cell(2)
	assert.Equal(t, SideB, cell.Owner)
	assert.Equal(t, 4, cell.Card.Bottom)

	assert.Error(t, restored.UnmarshalJSON([]byte(`[]`)))
}
