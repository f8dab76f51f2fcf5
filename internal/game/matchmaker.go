package game

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// Queue result statuses
const (
	QueueWaiting = "waiting"
	QueuePaired  = "paired"
	QueueLeft    = "left"
)

// QueueEntry is a participant waiting for an opponent. Entries are never persisted.
type QueueEntry struct {
	Participant Participant
	Rating      int
	MaxDiff     int
	EnqueuedAt  time.Time
}

// MatchCreator creates the match for a freshly paired couple. The first
// participant is seated as side A.
type MatchCreator interface {
	CreatePaired(ctx context.Context, a, b Participant) (*MatchSession, error)
}

// Pairing describes the opponent found for a participant
type Pairing struct {
	MatchID        string      `json:"match_id"`
	Opponent       Participant `json:"opponent"`
	OpponentRating int         `json:"opponent_elo"`
	Side           Side        `json:"side"`
	PairedAt       time.Time   `json:"paired_at"`
}

// JoinQueueResult is either waiting with the current depth or paired
type JoinQueueResult struct {
	Status    string   `json:"status"`
	QueueSize int      `json:"queue_size"`
	Pairing   *Pairing `json:"pairing,omitempty"`
}

// QueueStatus reports whether a participant is queued
type QueueStatus struct {
	InQueue   bool     `json:"in_queue"`
	QueueSize int      `json:"queue_size"`
	Rating    int      `json:"your_elo,omitempty"`
	Pairing   *Pairing `json:"pairing,omitempty"`
}

// Queue pairs waiting participants by rating. Join, Leave and the pairing
// scans are serialized by a single mutex; match creation runs outside it.
type Queue struct {
	mu      sync.Mutex
	entries []*QueueEntry      // enqueue order
	recent  map[int64]Pairing  // pairings reported by Status after the participant left the queue
	pending map[int64]struct{} // participants whose match is being created
	creator MatchCreator

	defaultMaxDiff int
	now            func() time.Time
}

// NewQueue creates an empty matchmaking queue
func NewQueue(creator MatchCreator, defaultMaxDiff int) *Queue {
	if defaultMaxDiff <= 0 {
		defaultMaxDiff = 200
	}
	return &Queue{
		recent:         make(map[int64]Pairing),
		pending:        make(map[int64]struct{}),
		creator:        creator,
		defaultMaxDiff: defaultMaxDiff,
		now:            time.Now,
	}
}

func compatible(a, b *QueueEntry) bool {
	limit := a.MaxDiff
	if b.MaxDiff > limit {
		limit = b.MaxDiff
	}
	return absInt(a.Rating-b.Rating) <= limit
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (q *Queue) indexOf(participantID int64) int {
	for i, e := range q.entries {
		if e.Participant.ID == participantID {
			return i
		}
	}
	return -1
}

func (q *Queue) removeAt(i int) *QueueEntry {
	e := q.entries[i]
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return e
}

// bestFor returns the index of the closest compatible entry, preferring the
// earliest enqueued on ties. skip is excluded from the scan, and so is anyone
// whose match is still being created.
func (q *Queue) bestFor(e *QueueEntry, skip int) int {
	if _, busy := q.pending[e.Participant.ID]; busy {
		return -1
	}
	best, bestDiff := -1, 0
	for i, c := range q.entries {
		if i == skip || c.Participant.ID == e.Participant.ID || !compatible(e, c) {
			continue
		}
		if _, busy := q.pending[c.Participant.ID]; busy {
			continue
		}
		d := absInt(c.Rating - e.Rating)
		if best == -1 || d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}

// settleLocked clears the in-flight marks of a pair. On success any entry
// either participant added while the match was being created is dropped.
func (q *Queue) settleLocked(paired bool, ids ...int64) {
	for _, id := range ids {
		delete(q.pending, id)
		if !paired {
			continue
		}
		if i := q.indexOf(id); i >= 0 {
			q.removeAt(i)
		}
	}
}

// requeue puts entries back keeping the queue ordered by enqueue time
func (q *Queue) requeue(entries ...*QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		if q.indexOf(e.Participant.ID) >= 0 {
			continue
		}
		q.entries = append(q.entries, e)
	}
	sort.SliceStable(q.entries, func(i, j int) bool {
		return q.entries[i].EnqueuedAt.Before(q.entries[j].EnqueuedAt)
	})
}

// Join queues the participant or pairs them immediately with the closest
// compatible entry. A participant already queued has their entry replaced.
func (q *Queue) Join(ctx context.Context, p Participant, rating, maxDiff int) (JoinQueueResult, error) {
	if maxDiff <= 0 {
		maxDiff = q.defaultMaxDiff
	}
	entry := &QueueEntry{Participant: p, Rating: rating, MaxDiff: maxDiff, EnqueuedAt: q.now()}

	q.mu.Lock()
	if i := q.indexOf(p.ID); i >= 0 {
		q.removeAt(i)
	}
	delete(q.recent, p.ID)

	best := q.bestFor(entry, -1)
	if best == -1 {
		q.entries = append(q.entries, entry)
		size := len(q.entries)
		q.mu.Unlock()
		log.Printf("[MATCHMAKER] %d queued (rating=%d maxDiff=%d depth=%d)", p.ID, rating, maxDiff, size)
		return JoinQueueResult{Status: QueueWaiting, QueueSize: size}, nil
	}
	opponent := q.removeAt(best)
	q.pending[opponent.Participant.ID] = struct{}{}
	q.pending[p.ID] = struct{}{}
	q.mu.Unlock()

	s, err := q.creator.CreatePaired(ctx, opponent.Participant, p)
	if err != nil {
		log.Printf("[MATCHMAKER] Failed to create match for %d vs %d: %v", opponent.Participant.ID, p.ID, err)
		q.mu.Lock()
		q.settleLocked(false, opponent.Participant.ID, p.ID)
		q.mu.Unlock()
		q.requeue(opponent)
		return JoinQueueResult{}, err
	}

	now := q.now()
	q.mu.Lock()
	q.settleLocked(true, opponent.Participant.ID, p.ID)
	q.recent[opponent.Participant.ID] = Pairing{MatchID: s.ID, Opponent: p, OpponentRating: rating, Side: SideA, PairedAt: now}
	size := len(q.entries)
	q.mu.Unlock()

	log.Printf("[MATCHMAKER] ✓ Paired %d (%d) vs %d (%d) match=%s", opponent.Participant.ID, opponent.Rating, p.ID, rating, s.ID)
	return JoinQueueResult{
		Status:    QueuePaired,
		QueueSize: size,
		Pairing: &Pairing{
			MatchID:        s.ID,
			Opponent:       opponent.Participant,
			OpponentRating: opponent.Rating,
			Side:           SideB,
			PairedAt:       now,
		},
	}, nil
}

// Leave removes the participant if queued. Calling it twice is harmless.
func (q *Queue) Leave(participantID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.recent, participantID)
	if i := q.indexOf(participantID); i >= 0 {
		q.removeAt(i)
		return true
	}
	return false
}

// Status reports whether the participant is queued, and the pairing made for
// them by a background rescan if there was one.
func (q *Queue) Status(participantID int64) QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := QueueStatus{QueueSize: len(q.entries)}
	if i := q.indexOf(participantID); i >= 0 {
		st.InQueue = true
		st.Rating = q.entries[i].Rating
		return st
	}
	if p, ok := q.recent[participantID]; ok {
		pc := p
		st.Pairing = &pc
	}
	return st
}

// Size returns the current queue depth
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Rescan pairs compatible entries still sitting in the queue, such as entries
// put back after a failed match creation. The older entry of each pair is
// seated as side A.
func (q *Queue) Rescan(ctx context.Context) int {
	type pair struct{ a, b *QueueEntry }

	q.mu.Lock()
	var pairs []pair
	for i := 0; i < len(q.entries); {
		j := q.bestFor(q.entries[i], i)
		if j == -1 {
			i++
			continue
		}
		a, b := q.entries[i], q.entries[j]
		if j > i {
			q.removeAt(j)
			q.removeAt(i)
		} else {
			q.removeAt(i)
			q.removeAt(j)
			a, b = b, a
		}
		q.pending[a.Participant.ID] = struct{}{}
		q.pending[b.Participant.ID] = struct{}{}
		pairs = append(pairs, pair{a: a, b: b})
		i = 0
	}
	q.mu.Unlock()

	created := 0
	for _, p := range pairs {
		s, err := q.creator.CreatePaired(ctx, p.a.Participant, p.b.Participant)
		if err != nil {
			log.Printf("[MATCHMAKER] Rescan failed to create match for %d vs %d: %v", p.a.Participant.ID, p.b.Participant.ID, err)
			q.mu.Lock()
			q.settleLocked(false, p.a.Participant.ID, p.b.Participant.ID)
			q.mu.Unlock()
			q.requeue(p.a, p.b)
			continue
		}
		now := q.now()
		q.mu.Lock()
		q.settleLocked(true, p.a.Participant.ID, p.b.Participant.ID)
		q.recent[p.a.Participant.ID] = Pairing{MatchID: s.ID, Opponent: p.b.Participant, OpponentRating: p.b.Rating, Side: SideA, PairedAt: now}
		q.recent[p.b.Participant.ID] = Pairing{MatchID: s.ID, Opponent: p.a.Participant, OpponentRating: p.a.Rating, Side: SideB, PairedAt: now}
		q.mu.Unlock()
		created++
		log.Printf("[MATCHMAKER] ✓ Rescan paired %d vs %d match=%s", p.a.Participant.ID, p.b.Participant.ID, s.ID)
	}
	return created
}

// ExpireStale drops entries and remembered pairings older than maxAge
func (q *Queue) ExpireStale(maxAge time.Duration) int {
	cutoff := q.now().Add(-maxAge)
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	expired := 0
	for _, e := range q.entries {
		if e.EnqueuedAt.Before(cutoff) {
			expired++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	for id, p := range q.recent {
		if p.PairedAt.Before(cutoff) {
			delete(q.recent, id)
		}
	}
	if expired > 0 {
		log.Printf("[MATCHMAKER] Expired %d stale queue entries", expired)
	}
	return expired
}
