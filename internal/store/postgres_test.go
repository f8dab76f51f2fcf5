package store

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triadarena/backend/internal/game"
	"github.com/triadarena/backend/internal/models"
)

func sampleSession(t *testing.T) *game.MatchSession {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := game.NewMatchSession("m-1", game.Participant{ID: 1, Username: "alice", AccountRef: "alice.testnet"}, now)
	_, err := s.Join(game.Participant{ID: 2, Username: "bob"}, now)
	require.NoError(t, err)
	require.NoError(t, s.SetDeck(1, []game.AssetRef{{Contract: "nft.testnet", TokenID: "1"}}, 10))
	_, err = s.ApplyMove(1, 0, game.Card{Name: "x", Top: 5, Right: 3, Bottom: 4, Left: 2})
	require.NoError(t, err)
	return s
}

func TestSessionRowRoundTrip(t *testing.T) {
	s := sampleSession(t)

	m, err := matchRow(s)
	require.NoError(t, err)
	assert.Equal(t, "active", m.Status)
	assert.False(t, m.FinishedAt.Valid)
	assert.False(t, m.Outcome.Valid)

	var players []models.MatchPlayer
	for _, p := range s.Players {
		pr, err := playerRow(p)
		require.NoError(t, err)
		players = append(players, pr)
	}
	assert.JSONEq(t, `[]`, string(players[1].Deck))
	assert.False(t, players[1].NearAccountID.Valid)

	deposits := []models.MatchDeposit{{
		MatchID: "m-1", Seq: 1, UserID: 2, NFTContractID: "nft.testnet", TokenID: "9",
	}}
	restored, err := toSession(m, players, deposits, nil)
	require.NoError(t, err)

	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, game.SideB, restored.Turn)
	assert.Equal(t, 1, restored.Moves)
	assert.Equal(t, s.Board.Score(), restored.Board.Score())
	assert.Equal(t, "alice.testnet", restored.Player(1).AccountRef)
	assert.Len(t, restored.Player(1).Deck, 1)
	require.Len(t, restored.Deposits, 1)
	assert.Equal(t, "9", restored.Deposits[0].Asset.TokenID)
	assert.Nil(t, restored.Claim)
}

func TestToSessionWithClaim(t *testing.T) {
	s := sampleSession(t)
	claim, err := s.NewClaim(1, 2, game.AssetRef{Contract: "nft.testnet", TokenID: "1"}, time.Now())
	require.NoError(t, err)
	s.ApplyFinish(claim, game.ReasonReported)

	m, err := matchRow(s)
	require.NoError(t, err)
	assert.True(t, m.WinnerUserID.Valid)

	claims := []models.MatchClaim{{
		MatchID: "m-1", WinnerUserID: 1, LoserUserID: 2, NFTContractID: "nft.testnet", TokenID: "1",
		ClaimTxHash: nullString("tx-1"), ClaimedAt: claim.ClaimedAt,
	}}
	restored, err := toSession(m, nil, nil, claims)
	require.NoError(t, err)
	require.NotNil(t, restored.Claim)
	assert.Equal(t, "tx-1", restored.Claim.SettlementRef)
	assert.Equal(t, game.StatusFinished, restored.Status)
	require.NotNil(t, restored.WinnerID)
	assert.Equal(t, int64(1), *restored.WinnerID)
}

func TestToSessionEmptyBoard(t *testing.T) {
	restored, err := toSession(models.Match{ID: "m", Status: "waiting", Board: types.JSONText(`[]`), Turn: "A"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, game.Scores{}, restored.Board.Score())
}
