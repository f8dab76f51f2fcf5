package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triadarena/backend/internal/config"
)

// memStore is an in-memory Store used to observe persistence calls
type memStore struct {
	mu       sync.Mutex
	matches  map[string]*MatchSession
	claims   map[string]MatchClaim
	deposits map[string]bool
	results  [][2]int64

	failClaims bool
	failAll    bool
	loadErr    error

	// SaveMatchState for holdID signals saving and waits for release
	holdID  string
	saving  chan struct{}
	release chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		matches:  make(map[string]*MatchSession),
		claims:   make(map[string]MatchClaim),
		deposits: make(map[string]bool),
	}
}

var errStoreDown = errors.New("store down")

func (s *memStore) CreateMatch(ctx context.Context, m *MatchSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	s.matches[m.ID] = m.Clone()
	return nil
}

func (s *memStore) LoadMatch(ctx context.Context, id string) (*MatchSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	m, ok := s.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *memStore) SaveMatchState(ctx context.Context, m *MatchSession) error {
	s.mu.Lock()
	held := s.holdID != "" && m.ID == s.holdID
	s.mu.Unlock()
	if held {
		s.saving <- struct{}{}
		<-s.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	s.matches[m.ID] = m.Clone()
	return nil
}

func (s *memStore) AppendDeposit(ctx context.Context, d MatchDeposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	key := d.MatchID + "|" + d.Asset.Key()
	if s.deposits[key] {
		return ErrDuplicateDeposit
	}
	s.deposits[key] = true
	return nil
}

func (s *memStore) CreateClaim(ctx context.Context, c MatchClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll || s.failClaims {
		return errStoreDown
	}
	if _, ok := s.claims[c.MatchID]; ok {
		return ErrAlreadyFinished
	}
	s.claims[c.MatchID] = c
	return nil
}

func (s *memStore) UpdateClaimSettlementRef(ctx context.Context, matchID, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	c := s.claims[matchID]
	c.SettlementRef = txRef
	s.claims[matchID] = c
	return nil
}

func (s *memStore) MarkDepositVerified(ctx context.Context, matchID string, seq int) error {
	return nil
}

func (s *memStore) RecordResult(ctx context.Context, winnerID, loserID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, [2]int64{winnerID, loserID})
	return nil
}

func (s *memStore) hold(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdID = matchID
	s.saving = make(chan struct{}, 1)
	s.release = make(chan struct{})
}

func (s *memStore) claimCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

var (
	alice = Participant{ID: 1, Username: "alice", AccountRef: "alice.testnet"}
	bob   = Participant{ID: 2, Username: "bob", AccountRef: "bob.testnet"}
	carol = Participant{ID: 3, Username: "carol"}
)

func testConfig() *config.Config {
	return &config.Config{MaxDeckSize: 10, DefaultMaxRatingDiff: 200}
}

func activeMatch(t *testing.T, m *Manager) *MatchSession {
	t.Helper()
	s, _, err := m.Create(context.Background(), alice, nil)
	require.NoError(t, err)
	res, _, err := m.Join(context.Background(), s.ID, bob)
	require.NoError(t, err)
	require.Equal(t, SideB, res.Side)
	require.Equal(t, StatusActive, res.Status)
	return s
}

func TestCreateAndJoin(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newMemStore(), nil, testConfig())

	s, d, err := m.Create(ctx, alice, nil)
	require.NoError(t, err)
	assert.Equal(t, Durable, d)
	assert.Equal(t, StatusWaiting, s.Status)
	assert.Equal(t, SideA, s.Players[0].Side)

	res, _, err := m.Join(ctx, s.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, SideB, res.Side)
	assert.Equal(t, StatusActive, res.Status)

	// rejoin refreshes the account snapshot and keeps the seat
	res, _, err = m.Join(ctx, s.ID, Participant{ID: bob.ID, AccountRef: "bob2.testnet"})
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	got, err := m.Get(ctx, s.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob2.testnet", got.Player(bob.ID).AccountRef)

	_, _, err = m.Join(ctx, s.ID, carol)
	assert.ErrorIs(t, err, ErrMatchFull)
}

func TestCreateWithOpponentIsActive(t *testing.T) {
	m := NewManager(nil, nil, testConfig())
	s, d, err := m.Create(context.Background(), alice, &bob)
	require.NoError(t, err)
	assert.Equal(t, DegradedMemoryOnly, d)
	assert.Equal(t, StatusActive, s.Status)
	assert.Len(t, s.Players, 2)
}

func TestGetRequiresParticipant(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil, testConfig())
	s := activeMatch(t, m)

	_, err := m.Get(ctx, s.ID, carol.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = m.Get(ctx, "missing", alice.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyMoveScenarioA(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil, testConfig())
	s := activeMatch(t, m)

	// B cannot move first
	_, _, err := m.ApplyMove(ctx, s.ID, bob.ID, 1, Card{Name: "weak", Top: 1, Right: 1, Bottom: 1, Left: 1})
	assert.ErrorIs(t, err, ErrWrongTurn)

	// A opens far away, then B lays the weak card at 1
	_, _, err = m.ApplyMove(ctx, s.ID, alice.ID, 8, Card{Name: "filler", Top: 1, Right: 1, Bottom: 1, Left: 1})
	require.NoError(t, err)
	_, _, err = m.ApplyMove(ctx, s.ID, bob.ID, 1, Card{Name: "weak", Top: 1, Right: 1, Bottom: 1, Left: 1})
	require.NoError(t, err)

	res, _, err := m.ApplyMove(ctx, s.ID, alice.ID, 0, Card{Name: "strong", Top: 5, Right: 3, Bottom: 4, Left: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Captured)
	assert.Equal(t, Scores{A: 3, B: 0}, res.Scores)
	assert.Equal(t, SideB, res.Turn)

	_, _, err = m.ApplyMove(ctx, s.ID, bob.ID, 0, Card{Name: "x", Top: 1, Right: 1, Bottom: 1, Left: 1})
	assert.ErrorIs(t, err, ErrCellOccupied)

	_, _, err = m.ApplyMove(ctx, s.ID, carol.ID, 4, Card{Name: "x", Top: 1, Right: 1, Bottom: 1, Left: 1})
	assert.ErrorIs(t, err, ErrNotAParticipant)
}

func TestMoveRejectedWhileWaiting(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil, testConfig())
	s, _, err := m.Create(ctx, alice, nil)
	require.NoError(t, err)

	_, _, err = m.ApplyMove(ctx, s.ID, alice.ID, 0, Card{Name: "x", Top: 1, Right: 1, Bottom: 1, Left: 1})
	assert.ErrorIs(t, err, ErrMatchNotActive)
}

func TestFullBoardSetsOutcome(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil, testConfig())
	s := activeMatch(t, m)

	flat := Card{Name: "flat", Top: 5, Right: 5, Bottom: 5, Left: 5}
	players := []int64{alice.ID, bob.ID}
	var last MoveResult
	for pos := 0; pos < BoardSize; pos++ {
		var err error
		last, _, err = m.ApplyMove(ctx, s.ID, players[pos%2], pos, flat)
		require.NoError(t, err)
	}
	assert.Equal(t, OutcomeSideA, last.Outcome)
	assert.Equal(t, Scores{A: 5, B: 4}, last.Scores)

	_, _, err := m.ApplyMove(ctx, s.ID, bob.ID, 0, flat)
	assert.ErrorIs(t, err, ErrBoardComplete)
}

func TestEndTurnPassesTurn(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil, testConfig())
	s := activeMatch(t, m)

	next, err := m.EndTurn(ctx, s.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, SideB, next)

	_, err = m.EndTurn(ctx, s.ID, alice.ID)
	assert.ErrorIs(t, err, ErrWrongTurn)
}

func TestSetDeckValidation(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil, testConfig())
	s := activeMatch(t, m)

	deck := []AssetRef{{Contract: "nft.testnet", TokenID: "1"}, {Contract: "nft.testnet", TokenID: "2"}}
	_, err := m.SetDeck(ctx, s.ID, alice.ID, deck)
	require.NoError(t, err)

	_, err = m.SetDeck(ctx, s.ID, alice.ID, append(deck, deck[0]))
	assert.ErrorIs(t, err, ErrDuplicateCard)

	big := make([]AssetRef, 11)
	for i := range big {
		big[i] = AssetRef{Contract: "nft.testnet", TokenID: string(rune('a' + i))}
	}
	_, err = m.SetDeck(ctx, s.ID, alice.ID, big)
	assert.ErrorIs(t, err, ErrDeckTooLarge)

	_, err = m.SetDeck(ctx, s.ID, carol.ID, deck)
	assert.ErrorIs(t, err, ErrNotAParticipant)
}

func TestRecordDepositRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newMemStore(), nil, testConfig())
	s := activeMatch(t, m)

	asset := AssetRef{Contract: "nft.testnet", TokenID: "7"}
	dep, d, err := m.RecordDeposit(ctx, s.ID, alice.ID, asset, "")
	require.NoError(t, err)
	assert.Equal(t, Durable, d)
	assert.Equal(t, 1, dep.Seq)

	_, _, err = m.RecordDeposit(ctx, s.ID, bob.ID, asset, "tx")
	assert.ErrorIs(t, err, ErrDuplicateDeposit)

	_, _, err = m.RecordDeposit(ctx, s.ID, carol.ID, AssetRef{Contract: "nft.testnet", TokenID: "8"}, "")
	assert.ErrorIs(t, err, ErrNotAParticipant)

	_, _, err = m.RecordDeposit(ctx, s.ID, bob.ID, AssetRef{Contract: "nft.testnet"}, "")
	assert.ErrorIs(t, err, ErrInvalidAsset)

	got, err := m.Get(ctx, s.ID, alice.ID)
	require.NoError(t, err)
	assert.Len(t, got.Deposits, 1)

	_, err = m.VerifyDeposit(ctx, s.ID, dep.Seq)
	require.NoError(t, err)
	got, _ = m.Get(ctx, s.ID, alice.ID)
	assert.True(t, got.Deposits[0].Verified)

	_, err = m.VerifyDeposit(ctx, s.ID, 99)
	assert.ErrorIs(t, err, ErrDepositNotFound)
}

func TestFinishIsIdempotentSafe(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, nil, testConfig())
	s := activeMatch(t, m)
	asset := AssetRef{Contract: "nft.testnet", TokenID: "1"}

	claim, d, err := m.Finish(ctx, s.ID, alice.ID, bob.ID, asset, ReasonReported)
	require.NoError(t, err)
	assert.Equal(t, Durable, d)
	assert.Equal(t, alice.ID, claim.WinnerID)

	_, _, err = m.Finish(ctx, s.ID, bob.ID, alice.ID, asset, ReasonReported)
	assert.ErrorIs(t, err, ErrAlreadyFinished)
	assert.Equal(t, 1, store.claimCount())

	got, err := m.Get(ctx, s.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)
	assert.Equal(t, SideA, got.WinnerSide())
	assert.Equal(t, [][2]int64{{alice.ID, bob.ID}}, store.results)

	_, _, err = m.ApplyMove(ctx, s.ID, alice.ID, 0, Card{Name: "x", Top: 1, Right: 1, Bottom: 1, Left: 1})
	assert.ErrorIs(t, err, ErrAlreadyFinished)
}

func TestFinishRejectsInvalidOutcome(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil, testConfig())
	s := activeMatch(t, m)

	_, _, err := m.Finish(ctx, s.ID, alice.ID, alice.ID, AssetRef{}, ReasonReported)
	assert.ErrorIs(t, err, ErrInvalidOutcome)

	_, _, err = m.Finish(ctx, s.ID, alice.ID, carol.ID, AssetRef{}, ReasonReported)
	assert.ErrorIs(t, err, ErrNotAParticipant)
}

func TestFinishRefusedWhenClaimNotDurable(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, nil, testConfig())
	s := activeMatch(t, m)

	store.failClaims = true
	_, _, err := m.Finish(ctx, s.ID, alice.ID, bob.ID, AssetRef{}, ReasonReported)
	assert.ErrorIs(t, err, ErrNotDurable)

	got, err := m.Get(ctx, s.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Nil(t, got.Claim)
}

func TestGameplayContinuesWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, nil, testConfig())
	s := activeMatch(t, m)

	store.failAll = true
	_, d, err := m.ApplyMove(ctx, s.ID, alice.ID, 4, Card{Name: "x", Top: 2, Right: 2, Bottom: 2, Left: 2})
	require.NoError(t, err)
	assert.Equal(t, DegradedMemoryOnly, d)
	assert.Positive(t, m.Stats().DegradedWrites)
}

// Scenario C: only the winner may set the settlement reference.
func TestSettlementRefOnlyByWinner(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newMemStore(), nil, testConfig())
	s := activeMatch(t, m)

	_, err := m.SetClaimSettlementRef(ctx, s.ID, alice.ID, "tx-early")
	assert.ErrorIs(t, err, ErrNoClaim)

	_, _, err = m.Finish(ctx, s.ID, alice.ID, bob.ID, AssetRef{Contract: "nft.testnet", TokenID: "1"}, ReasonReported)
	require.NoError(t, err)

	_, err = m.SetClaimSettlementRef(ctx, s.ID, bob.ID, "tx-loser")
	assert.ErrorIs(t, err, ErrForbidden)

	d, err := m.SetClaimSettlementRef(ctx, s.ID, alice.ID, "tx-winner")
	require.NoError(t, err)
	assert.Equal(t, Durable, d)

	got, err := m.Get(ctx, s.ID, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Claim)
	assert.Equal(t, "tx-winner", got.Claim.SettlementRef)
}

func TestSurrenderAwardsOpponent(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil, testConfig())
	s := activeMatch(t, m)

	staked := AssetRef{Contract: "nft.testnet", TokenID: "bob-1"}
	_, _, err := m.RecordDeposit(ctx, s.ID, bob.ID, staked, "")
	require.NoError(t, err)

	claim, _, err := m.Surrender(ctx, s.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claim.WinnerID)
	assert.Equal(t, staked, claim.Asset)

	got, _ := m.Get(ctx, s.ID, alice.ID)
	assert.Equal(t, ReasonSurrender, got.FinishReason)

	_, _, err = m.Surrender(ctx, s.ID, alice.ID)
	assert.ErrorIs(t, err, ErrAlreadyFinished)
}

func TestMatchReloadedFromStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, nil, testConfig())
	s := activeMatch(t, m)

	fresh := NewManager(store, nil, testConfig())
	got, err := fresh.Get(ctx, s.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestLoadFailureIsNotReportedAsMissing(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("dial tcp 127.0.0.1:5432: connection refused")
	m := NewManager(store, nil, testConfig())

	_, err := m.Get(context.Background(), "some-match", alice.ID)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)

	store.loadErr = nil
	_, err = m.Get(context.Background(), "some-match", alice.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSlowStoreWriteDoesNotStallOtherMatches(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	m := NewManager(store, nil, testConfig())
	x := activeMatch(t, m)
	y := activeMatch(t, m)
	card := Card{Name: "x", Top: 3, Right: 3, Bottom: 3, Left: 3}

	store.hold(x.ID)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, _ = m.ApplyMove(ctx, x.ID, alice.ID, 0, card)
	}()
	<-store.saving

	// health stats wait on x's slot while its write is in flight
	go func() {
		defer wg.Done()
		m.Stats()
	}()
	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		if _, _, err := m.Create(ctx, carol, nil); err != nil {
			done <- err
			return
		}
		_, _, err := m.ApplyMove(ctx, y.ID, alice.ID, 0, card)
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Error("move on another match waited for a slow store write")
	}

	close(store.release)
	wg.Wait()
}

func TestEvictFinishedKeepsMemoryOnlyMatches(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil, testConfig())
	s := activeMatch(t, m)
	_, _, err := m.Finish(ctx, s.ID, alice.ID, bob.ID, AssetRef{}, ReasonReported)
	require.NoError(t, err)

	assert.Equal(t, 0, m.EvictFinished(ctx, 0))
	_, err = m.Snapshot(ctx, s.ID)
	assert.NoError(t, err)
}

func TestConcurrentMovesSerialize(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil, testConfig())
	s := activeMatch(t, m)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for pos := 0; pos < BoardSize; pos++ {
		wg.Add(1)
		go func(pos int) {
			defer wg.Done()
			_, _, err := m.ApplyMove(ctx, s.ID, alice.ID, pos, Card{Name: "x", Top: 1, Right: 1, Bottom: 1, Left: 1})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(pos)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}
