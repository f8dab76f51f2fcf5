package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/triadarena/backend/internal/config"
)

// Manager owns every live match. Each match sits in its own slot with its own
// mutex so actions on different matches never contend.
type Manager struct {
	mu    sync.RWMutex
	slots map[string]*slot

	store  Store         // nil means memory-only
	cache  SnapshotCache // optional
	config *config.Config

	now   func() time.Time
	newID func() string

	degradedWrites atomic.Int64
	durableWrites  atomic.Int64
}

type slot struct {
	mu       sync.Mutex
	session  *MatchSession
	durable  bool // last write reached the store
	loadedAt time.Time
}

// ManagerStats is reported by the health endpoint
type ManagerStats struct {
	ActiveMatches  int   `json:"active_matches"`
	LoadedMatches  int   `json:"loaded_matches"`
	DurableWrites  int64 `json:"durable_writes"`
	DegradedWrites int64 `json:"degraded_writes"`
	StoreAttached  bool  `json:"store_attached"`
}

// NewManager creates a match manager. store and cache may be nil.
func NewManager(store Store, cache SnapshotCache, cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if store == nil {
		log.Printf("[MATCH] No durable store attached; matches live in memory only")
	}
	return &Manager{
		slots:  make(map[string]*slot),
		store:  store,
		cache:  cache,
		config: cfg,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// HasDurableStore reports whether a persistence gateway is configured
func (m *Manager) HasDurableStore() bool {
	return m.store != nil
}

// persist runs a store write and converts failure into degraded mode
func (m *Manager) persist(ctx context.Context, op, matchID string, fn func(ctx context.Context) error) Durability {
	if m.store == nil {
		m.degradedWrites.Add(1)
		return DegradedMemoryOnly
	}
	if err := fn(ctx); err != nil {
		m.degradedWrites.Add(1)
		log.Printf("[STORE] %s failed for match %s, continuing in memory: %v", op, matchID, err)
		return DegradedMemoryOnly
	}
	m.durableWrites.Add(1)
	return Durable
}

// snapshot writes the session to the hot cache, best effort
func (m *Manager) snapshot(ctx context.Context, s *MatchSession) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SaveSnapshot(ctx, s); err != nil {
		log.Printf("[MATCH] snapshot save failed for match %s: %v", s.ID, err)
	}
}

func (m *Manager) install(s *MatchSession, durable bool) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.slots[s.ID]; ok {
		return existing
	}
	sl := &slot{session: s, durable: durable, loadedAt: m.now()}
	m.slots[s.ID] = sl
	return sl
}

// lookup finds a slot in memory, then in the snapshot cache, then in the store
func (m *Manager) lookup(ctx context.Context, id string) (*slot, error) {
	m.mu.RLock()
	sl, ok := m.slots[id]
	m.mu.RUnlock()
	if ok {
		return sl, nil
	}

	if m.cache != nil {
		if s, err := m.cache.LoadSnapshot(ctx, id); err == nil && s != nil {
			log.Printf("[MATCH] restored match %s from snapshot cache", id)
			return m.install(s, false), nil
		}
	}

	if m.store == nil {
		return nil, ErrNotFound
	}
	s, err := m.store.LoadMatch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Printf("[STORE] load failed for match %s: %v", id, err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return m.install(s, true), nil
}

// loadedSlots copies the slot table so callers can take per-match locks
// without holding the arena lock
func (m *Manager) loadedSlots() map[string]*slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*slot, len(m.slots))
	for id, sl := range m.slots {
		out[id] = sl
	}
	return out
}

// withMatch runs fn under the match's own lock
func (m *Manager) withMatch(ctx context.Context, id string, fn func(sl *slot) error) error {
	sl, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return fn(sl)
}

// Create starts a new waiting match with creator as side A. When opponent is
// given it is seated immediately and the match becomes active.
func (m *Manager) Create(ctx context.Context, creator Participant, opponent *Participant) (*MatchSession, Durability, error) {
	now := m.now()
	s := NewMatchSession(m.newID(), creator, now)
	if opponent != nil {
		if opponent.ID == creator.ID {
			return nil, DegradedMemoryOnly, ErrInvalidOutcome
		}
		if _, err := s.Join(*opponent, now); err != nil {
			return nil, DegradedMemoryOnly, err
		}
	}

	d := m.persist(ctx, "create_match", s.ID, func(ctx context.Context) error {
		return m.store.CreateMatch(ctx, s)
	})
	sl := m.install(s, d == Durable)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	m.snapshot(ctx, s)
	log.Printf("[MATCH] created %s creator=%d status=%s (%s)", s.ID, creator.ID, s.Status, d)
	return s.Clone(), d, nil
}

// CreatePaired creates an active match for two participants paired by the queue
func (m *Manager) CreatePaired(ctx context.Context, a, b Participant) (*MatchSession, error) {
	s, _, err := m.Create(ctx, a, &b)
	return s, err
}

// saveState persists the whole session, updating the slot's durability flag
func (m *Manager) saveState(ctx context.Context, sl *slot, op string) Durability {
	s := sl.session
	d := m.persist(ctx, op, s.ID, func(ctx context.Context) error {
		return m.store.SaveMatchState(ctx, s)
	})
	sl.durable = d == Durable
	m.snapshot(ctx, s)
	return d
}

// Join seats participant in the match
func (m *Manager) Join(ctx context.Context, matchID string, p Participant) (JoinResult, Durability, error) {
	var (
		res JoinResult
		d   Durability
	)
	err := m.withMatch(ctx, matchID, func(sl *slot) error {
		var err error
		res, err = sl.session.Join(p, m.now())
		if err != nil {
			return err
		}
		d = m.saveState(ctx, sl, "join")
		return nil
	})
	if err == nil {
		log.Printf("[MATCH] %d joined %s as side %s (rejoin=%t status=%s)", p.ID, matchID, res.Side, res.Rejoined, res.Status)
	}
	return res, d, err
}

// SetDeck records the participant's deck
func (m *Manager) SetDeck(ctx context.Context, matchID string, participantID int64, deck []AssetRef) (Durability, error) {
	var d Durability
	err := m.withMatch(ctx, matchID, func(sl *slot) error {
		if err := sl.session.SetDeck(participantID, deck, m.config.MaxDeckSize); err != nil {
			return err
		}
		d = m.saveState(ctx, sl, "set_deck")
		return nil
	})
	return d, err
}

// RecordDeposit appends a stake commitment
func (m *Manager) RecordDeposit(ctx context.Context, matchID string, participantID int64, asset AssetRef, txRef string) (MatchDeposit, Durability, error) {
	var (
		dep MatchDeposit
		d   Durability
	)
	err := m.withMatch(ctx, matchID, func(sl *slot) error {
		var err error
		dep, err = sl.session.NewDeposit(participantID, asset, txRef, m.now())
		if err != nil {
			return err
		}
		var storeErr error
		d = m.persist(ctx, "append_deposit", matchID, func(ctx context.Context) error {
			storeErr = m.store.AppendDeposit(ctx, dep)
			if errors.Is(storeErr, ErrDuplicateDeposit) {
				return nil
			}
			return storeErr
		})
		if errors.Is(storeErr, ErrDuplicateDeposit) {
			return ErrDuplicateDeposit
		}
		sl.session.Deposits = append(sl.session.Deposits, dep)
		m.snapshot(ctx, sl.session)
		return nil
	})
	if err == nil {
		log.Printf("[MATCH] deposit %s recorded for %s by %d (%s)", asset, matchID, participantID, d)
	}
	return dep, d, err
}

// VerifyDeposit flips the verified flag of a deposit
func (m *Manager) VerifyDeposit(ctx context.Context, matchID string, seq int) (Durability, error) {
	var d Durability
	err := m.withMatch(ctx, matchID, func(sl *slot) error {
		for i := range sl.session.Deposits {
			if sl.session.Deposits[i].Seq != seq {
				continue
			}
			sl.session.Deposits[i].Verified = true
			d = m.persist(ctx, "verify_deposit", matchID, func(ctx context.Context) error {
				return m.store.MarkDepositVerified(ctx, matchID, seq)
			})
			m.snapshot(ctx, sl.session)
			return nil
		}
		return ErrDepositNotFound
	})
	return d, err
}

// ApplyMove validates and applies a card placement
func (m *Manager) ApplyMove(ctx context.Context, matchID string, participantID int64, pos int, card Card) (MoveResult, Durability, error) {
	var (
		res MoveResult
		d   Durability
	)
	err := m.withMatch(ctx, matchID, func(sl *slot) error {
		var err error
		res, err = sl.session.ApplyMove(participantID, pos, card)
		if err != nil {
			return err
		}
		d = m.saveState(ctx, sl, "save_move")
		return nil
	})
	return res, d, err
}

// EndTurn passes the turn
func (m *Manager) EndTurn(ctx context.Context, matchID string, participantID int64) (Side, error) {
	var next Side
	err := m.withMatch(ctx, matchID, func(sl *slot) error {
		var err error
		next, err = sl.session.EndTurn(participantID)
		if err != nil {
			return err
		}
		m.saveState(ctx, sl, "end_turn")
		return nil
	})
	return next, err
}

// Finish closes the match and records exactly one claim. Once a durable store
// is configured, a claim that cannot be written is refused and nothing changes.
func (m *Manager) Finish(ctx context.Context, matchID string, winnerID, loserID int64, asset AssetRef, reason string) (MatchClaim, Durability, error) {
	var (
		claim MatchClaim
		d     Durability
	)
	err := m.withMatch(ctx, matchID, func(sl *slot) error {
		var err error
		claim, err = sl.session.NewClaim(winnerID, loserID, asset, m.now())
		if err != nil {
			return err
		}

		if m.store != nil {
			if err := m.store.CreateClaim(ctx, claim); err != nil {
				if errors.Is(err, ErrAlreadyFinished) {
					return ErrAlreadyFinished
				}
				m.degradedWrites.Add(1)
				log.Printf("[STORE] create_claim failed for match %s: %v", matchID, err)
				return ErrNotDurable
			}
			m.durableWrites.Add(1)
			d = Durable
		} else {
			m.degradedWrites.Add(1)
			d = DegradedMemoryOnly
		}

		sl.session.ApplyFinish(claim, reason)
		m.saveState(ctx, sl, "finish")
		m.persist(ctx, "record_result", matchID, func(ctx context.Context) error {
			return m.store.RecordResult(ctx, winnerID, loserID)
		})
		return nil
	})
	if err == nil {
		log.Printf("[MATCH] %s finished winner=%d loser=%d reason=%s (%s)", matchID, winnerID, loserID, reason, d)
	}
	return claim, d, err
}

// Surrender finishes the match in favour of the other participant. The
// surrendering participant's first deposit, if any, becomes the staked asset.
func (m *Manager) Surrender(ctx context.Context, matchID string, participantID int64) (MatchClaim, Durability, error) {
	var (
		winnerID int64
		asset    AssetRef
	)
	err := m.withMatch(ctx, matchID, func(sl *slot) error {
		s := sl.session
		if !s.IsParticipant(participantID) {
			return ErrNotAParticipant
		}
		if s.Claim != nil {
			return ErrAlreadyFinished
		}
		opp := s.Opponent(participantID)
		if opp == nil {
			return ErrMatchNotActive
		}
		winnerID = opp.ParticipantID
		asset, _ = s.FirstDepositOf(participantID)
		return nil
	})
	if err != nil {
		return MatchClaim{}, DegradedMemoryOnly, err
	}
	return m.Finish(ctx, matchID, winnerID, participantID, asset, ReasonSurrender)
}

// SetClaimSettlementRef records the settlement transaction. Only the winner may
// set it; a later call overwrites the earlier value.
func (m *Manager) SetClaimSettlementRef(ctx context.Context, matchID string, participantID int64, txRef string) (Durability, error) {
	var d Durability
	err := m.withMatch(ctx, matchID, func(sl *slot) error {
		if err := sl.session.CheckSettlementRef(participantID); err != nil {
			return err
		}
		if m.store != nil {
			if err := m.store.UpdateClaimSettlementRef(ctx, matchID, txRef); err != nil {
				m.degradedWrites.Add(1)
				log.Printf("[STORE] update_claim_tx failed for match %s: %v", matchID, err)
				return ErrNotDurable
			}
			m.durableWrites.Add(1)
			d = Durable
		} else {
			m.degradedWrites.Add(1)
			d = DegradedMemoryOnly
		}
		if sl.session.Claim.SettlementRef != "" && sl.session.Claim.SettlementRef != txRef {
			log.Printf("[MATCH] settlement ref for %s overwritten (%s -> %s)", matchID, sl.session.Claim.SettlementRef, txRef)
		}
		sl.session.Claim.SettlementRef = txRef
		m.snapshot(ctx, sl.session)
		return nil
	})
	return d, err
}

// Get returns a copy of the match for one of its participants
func (m *Manager) Get(ctx context.Context, matchID string, participantID int64) (*MatchSession, error) {
	var out *MatchSession
	err := m.withMatch(ctx, matchID, func(sl *slot) error {
		if !sl.session.IsParticipant(participantID) {
			return ErrForbidden
		}
		out = sl.session.Clone()
		return nil
	})
	return out, err
}

// Snapshot returns a copy of the match without an access check
func (m *Manager) Snapshot(ctx context.Context, matchID string) (*MatchSession, error) {
	var out *MatchSession
	err := m.withMatch(ctx, matchID, func(sl *slot) error {
		out = sl.session.Clone()
		return nil
	})
	return out, err
}

// Evict drops a match from memory
func (m *Manager) Evict(ctx context.Context, matchID string) {
	m.mu.Lock()
	delete(m.slots, matchID)
	m.mu.Unlock()
	if m.cache != nil {
		if err := m.cache.DeleteSnapshot(ctx, matchID); err != nil {
			log.Printf("[MATCH] snapshot delete failed for %s: %v", matchID, err)
		}
	}
}

// EvictFinished drops finished matches older than maxAge whose state reached
// durable storage. Matches held only in memory are kept.
func (m *Manager) EvictFinished(ctx context.Context, maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	candidates := make([]string, 0)
	for id, sl := range m.loadedSlots() {
		sl.mu.Lock()
		s := sl.session
		if s.Status == StatusFinished && sl.durable && s.FinishedAt != nil && s.FinishedAt.Before(cutoff) {
			candidates = append(candidates, id)
		}
		sl.mu.Unlock()
	}

	for _, id := range candidates {
		m.Evict(ctx, id)
	}
	if len(candidates) > 0 {
		log.Printf("[MATCH] evicted %d finished matches", len(candidates))
	}
	return len(candidates)
}

// Stats reports counters for the health endpoint
func (m *Manager) Stats() ManagerStats {
	slots := m.loadedSlots()
	st := ManagerStats{
		LoadedMatches:  len(slots),
		DurableWrites:  m.durableWrites.Load(),
		DegradedWrites: m.degradedWrites.Load(),
		StoreAttached:  m.store != nil,
	}
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.session.Status == StatusActive {
			st.ActiveMatches++
		}
		sl.mu.Unlock()
	}
	return st
}
