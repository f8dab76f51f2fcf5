package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/triadarena/backend/internal/game"
	"github.com/triadarena/backend/internal/models"
)

// ErrUserNotFound is returned by user lookups for unknown ids
var ErrUserNotFound = errors.New("user not found")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Postgres implements game.Store and the user repository on top of sqlx
type Postgres struct {
	db            *sqlx.DB
	defaultRating int
}

// NewPostgres wraps an open connection pool
func NewPostgres(db *sqlx.DB, defaultRating int) *Postgres {
	if defaultRating <= 0 {
		defaultRating = 1000
	}
	return &Postgres{db: db, defaultRating: defaultRating}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// matchRow flattens the session for the matches table
func matchRow(s *game.MatchSession) (models.Match, error) {
	board, err := json.Marshal(s.Board)
	if err != nil {
		return models.Match{}, fmt.Errorf("encode board: %w", err)
	}
	return models.Match{
		ID:           s.ID,
		Status:       string(s.Status),
		CreatedAt:    s.CreatedAt,
		FinishedAt:   nullTime(s.FinishedAt),
		WinnerUserID: nullInt(s.WinnerID),
		FinishReason: nullString(s.FinishReason),
		Board:        board,
		Turn:         string(s.Turn),
		Moves:        s.Moves,
		Outcome:      nullString(string(s.Outcome)),
	}, nil
}

func playerRow(p *game.MatchPlayer) (models.MatchPlayer, error) {
	deck := p.Deck
	if deck == nil {
		deck = []game.AssetRef{}
	}
	raw, err := json.Marshal(deck)
	if err != nil {
		return models.MatchPlayer{}, fmt.Errorf("encode deck: %w", err)
	}
	return models.MatchPlayer{
		MatchID:       p.MatchID,
		UserID:        p.ParticipantID,
		Username:      nullString(p.Username),
		Side:          string(p.Side),
		NearAccountID: nullString(p.AccountRef),
		Deck:          raw,
		JoinedAt:      p.JoinedAt,
	}, nil
}

const upsertMatchSQL = `
	INSERT INTO matches (id, status, created_at, finished_at, winner_user_id, finish_reason, board, turn, moves, outcome)
	VALUES (:id, :status, :created_at, :finished_at, :winner_user_id, :finish_reason, :board, :turn, :moves, :outcome)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		finished_at = EXCLUDED.finished_at,
		winner_user_id = EXCLUDED.winner_user_id,
		finish_reason = EXCLUDED.finish_reason,
		board = EXCLUDED.board,
		turn = EXCLUDED.turn,
		moves = EXCLUDED.moves,
		outcome = EXCLUDED.outcome
`

const upsertPlayerSQL = `
	INSERT INTO match_players (match_id, user_id, username, side, near_account_id, deck, joined_at)
	VALUES (:match_id, :user_id, :username, :side, :near_account_id, :deck, :joined_at)
	ON CONFLICT (match_id, user_id) DO UPDATE SET
		username = COALESCE(EXCLUDED.username, match_players.username),
		near_account_id = COALESCE(EXCLUDED.near_account_id, match_players.near_account_id),
		deck = EXCLUDED.deck
`

// writeMatch upserts the match row and its players in one transaction
func (p *Postgres) writeMatch(ctx context.Context, s *game.MatchSession) error {
	row, err := matchRow(s)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, upsertMatchSQL, row); err != nil {
		return fmt.Errorf("upsert match: %w", err)
	}
	for _, pl := range s.Players {
		pr, err := playerRow(pl)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertPlayerSQL, pr); err != nil {
			return fmt.Errorf("upsert player %d: %w", pl.ParticipantID, err)
		}
	}
	return tx.Commit()
}

// CreateMatch stores a new match and its initial players
func (p *Postgres) CreateMatch(ctx context.Context, s *game.MatchSession) error {
	return p.writeMatch(ctx, s)
}

// SaveMatchState writes the current board, turn, status and seats. The match
// row is created if an earlier CreateMatch never reached the database.
func (p *Postgres) SaveMatchState(ctx context.Context, s *game.MatchSession) error {
	return p.writeMatch(ctx, s)
}

// LoadMatch reads a match with its players, deposits and claim
func (p *Postgres) LoadMatch(ctx context.Context, id string) (*game.MatchSession, error) {
	var m models.Match
	err := p.db.GetContext(ctx, &m, `
		SELECT id, status, created_at, finished_at, winner_user_id, finish_reason, board, turn, moves, outcome
		FROM matches WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load match: %w", err)
	}

	var players []models.MatchPlayer
	if err := p.db.SelectContext(ctx, &players, `
		SELECT match_id, user_id, username, side, near_account_id, deck, joined_at
		FROM match_players WHERE match_id = $1 ORDER BY joined_at, side
	`, id); err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}

	var deposits []models.MatchDeposit
	if err := p.db.SelectContext(ctx, &deposits, `
		SELECT match_id, seq, user_id, nft_contract_id, token_id, tx_hash, verified_onchain, deposited_at
		FROM match_deposits WHERE match_id = $1 ORDER BY seq
	`, id); err != nil {
		return nil, fmt.Errorf("load deposits: %w", err)
	}

	var claims []models.MatchClaim
	if err := p.db.SelectContext(ctx, &claims, `
		SELECT match_id, winner_user_id, loser_user_id, nft_contract_id, token_id, claim_tx_hash, claimed_at
		FROM match_claims WHERE match_id = $1
	`, id); err != nil {
		return nil, fmt.Errorf("load claim: %w", err)
	}

	return toSession(m, players, deposits, claims)
}

func toSession(m models.Match, players []models.MatchPlayer, deposits []models.MatchDeposit, claims []models.MatchClaim) (*game.MatchSession, error) {
	board := game.NewBoard()
	if len(m.Board) > 0 && string(m.Board) != "[]" {
		if err := json.Unmarshal(m.Board, board); err != nil {
			return nil, fmt.Errorf("decode board: %w", err)
		}
	}

	s := &game.MatchSession{
		ID:           m.ID,
		Status:       game.MatchStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		FinishReason: m.FinishReason.String,
		Board:        board,
		Turn:         game.Side(m.Turn),
		Moves:        m.Moves,
		Outcome:      game.Outcome(m.Outcome.String),
		Deposits:     []game.MatchDeposit{},
	}
	if m.FinishedAt.Valid {
		t := m.FinishedAt.Time
		s.FinishedAt = &t
	}
	if m.WinnerUserID.Valid {
		w := m.WinnerUserID.Int64
		s.WinnerID = &w
	}

	for _, pr := range players {
		var deck []game.AssetRef
		if len(pr.Deck) > 0 {
			if err := json.Unmarshal(pr.Deck, &deck); err != nil {
				return nil, fmt.Errorf("decode deck: %w", err)
			}
		}
		s.Players = append(s.Players, &game.MatchPlayer{
			MatchID:       pr.MatchID,
			ParticipantID: pr.UserID,
			Username:      pr.Username.String,
			Side:          game.Side(pr.Side),
			AccountRef:    pr.NearAccountID.String,
			Deck:          deck,
			JoinedAt:      pr.JoinedAt,
		})
	}

	for _, d := range deposits {
		s.Deposits = append(s.Deposits, game.MatchDeposit{
			MatchID:       d.MatchID,
			Seq:           d.Seq,
			ParticipantID: d.UserID,
			Asset:         game.AssetRef{Contract: d.NFTContractID, TokenID: d.TokenID},
			TxRef:         d.TxHash.String,
			Verified:      d.VerifiedOnchain,
			DepositedAt:   d.DepositedAt,
		})
	}

	if len(claims) > 0 {
		c := claims[0]
		s.Claim = &game.MatchClaim{
			MatchID:       c.MatchID,
			WinnerID:      c.WinnerUserID,
			LoserID:       c.LoserUserID,
			Asset:         game.AssetRef{Contract: c.NFTContractID, TokenID: c.TokenID},
			SettlementRef: c.ClaimTxHash.String,
			ClaimedAt:     c.ClaimedAt,
		}
	}
	return s, nil
}

// AppendDeposit inserts a deposit. A repeated (match, contract, token) maps to
// game.ErrDuplicateDeposit.
func (p *Postgres) AppendDeposit(ctx context.Context, d game.MatchDeposit) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO match_deposits (match_id, seq, user_id, nft_contract_id, token_id, tx_hash, verified_onchain, deposited_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.MatchID, d.Seq, d.ParticipantID, d.Asset.Contract, d.Asset.TokenID, nullString(d.TxRef), d.Verified, d.DepositedAt)
	if isUniqueViolation(err) {
		return game.ErrDuplicateDeposit
	}
	if err != nil {
		return fmt.Errorf("append deposit: %w", err)
	}
	return nil
}

// CreateClaim inserts the single claim of a match. A second claim maps to
// game.ErrAlreadyFinished.
func (p *Postgres) CreateClaim(ctx context.Context, c game.MatchClaim) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO match_claims (match_id, winner_user_id, loser_user_id, nft_contract_id, token_id, claim_tx_hash, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.MatchID, c.WinnerID, c.LoserID, c.Asset.Contract, c.Asset.TokenID, nullString(c.SettlementRef), c.ClaimedAt)
	if isUniqueViolation(err) {
		return game.ErrAlreadyFinished
	}
	if err != nil {
		return fmt.Errorf("create claim: %w", err)
	}
	return nil
}

// UpdateClaimSettlementRef sets the settlement transaction of a claim
func (p *Postgres) UpdateClaimSettlementRef(ctx context.Context, matchID, txRef string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE match_claims SET claim_tx_hash = $2 WHERE match_id = $1`, matchID, txRef)
	if err != nil {
		return fmt.Errorf("update claim tx: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrNoClaim
	}
	return nil
}

// MarkDepositVerified flips verified_onchain for one deposit
func (p *Postgres) MarkDepositVerified(ctx context.Context, matchID string, seq int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE match_deposits SET verified_onchain = TRUE WHERE match_id = $1 AND seq = $2
	`, matchID, seq)
	if err != nil {
		return fmt.Errorf("verify deposit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrDepositNotFound
	}
	return nil
}

// PendingDeposit is an unverified deposit together with the depositor's account
type PendingDeposit struct {
	MatchID       string         `db:"match_id"`
	Seq           int            `db:"seq"`
	UserID        int64          `db:"user_id"`
	NFTContractID string         `db:"nft_contract_id"`
	TokenID       string         `db:"token_id"`
	TxHash        string         `db:"tx_hash"`
	NearAccountID sql.NullString `db:"near_account_id"`
}

// UnverifiedDeposits lists deposits with a tx hash that are not yet verified
func (p *Postgres) UnverifiedDeposits(ctx context.Context, limit int) ([]PendingDeposit, error) {
	var out []PendingDeposit
	err := p.db.SelectContext(ctx, &out, `
		SELECT d.match_id, d.seq, d.user_id, d.nft_contract_id, d.token_id, d.tx_hash,
		       COALESCE(mp.near_account_id, u.near_account_id) AS near_account_id
		FROM match_deposits d
		JOIN users u ON u.id = d.user_id
		LEFT JOIN match_players mp ON mp.match_id = d.match_id AND mp.user_id = d.user_id
		WHERE d.verified_onchain = FALSE
		  AND d.tx_hash IS NOT NULL AND d.tx_hash <> ''
		ORDER BY d.deposited_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unverified deposits: %w", err)
	}
	return out, nil
}

// RecordResult applies the Elo update and win/loss counters for a decided match
func (p *Postgres) RecordResult(ctx context.Context, winnerID, loserID int64) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var winner, loser int
	if err := tx.GetContext(ctx, &winner, `SELECT elo_rating FROM users WHERE id = $1 FOR UPDATE`, winnerID); err != nil {
		return fmt.Errorf("load winner rating: %w", err)
	}
	if err := tx.GetContext(ctx, &loser, `SELECT elo_rating FROM users WHERE id = $1 FOR UPDATE`, loserID); err != nil {
		return fmt.Errorf("load loser rating: %w", err)
	}

	newWinner, newLoser := game.RatingsAfter(winner, loser, 1)
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET elo_rating = $2, wins = wins + 1, total_games = total_games + 1 WHERE id = $1
	`, winnerID, newWinner); err != nil {
		return fmt.Errorf("update winner: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET elo_rating = $2, losses = losses + 1, total_games = total_games + 1 WHERE id = $1
	`, loserID, newLoser); err != nil {
		return fmt.Errorf("update loser: %w", err)
	}
	return tx.Commit()
}

const userColumns = `id, username, first_name, last_name, photo_url, near_account_id,
	elo_rating, wins, losses, draws, total_games, created_at, last_seen_at`

// UpsertUser creates the user or refreshes their profile fields
func (p *Postgres) UpsertUser(ctx context.Context, u models.User) (models.User, error) {
	var out models.User
	err := p.db.GetContext(ctx, &out, `
		INSERT INTO users (id, username, first_name, last_name, photo_url, elo_rating, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			photo_url = EXCLUDED.photo_url,
			last_seen_at = NOW()
		RETURNING `+userColumns,
		u.ID, u.Username, u.FirstName, u.LastName, u.PhotoURL, p.defaultRating)
	if err != nil {
		return models.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return out, nil
}

// GetUser loads a user by Telegram id
func (p *Postgres) GetUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := p.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// LinkNearAccount stores the user's NEAR account id
func (p *Postgres) LinkNearAccount(ctx context.Context, id int64, account string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET near_account_id = $2 WHERE id = $1`, id, account)
	if err != nil {
		return fmt.Errorf("link near account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ActiveDeck returns the user's saved deck, empty when none was saved
func (p *Postgres) ActiveDeck(ctx context.Context, id int64) ([]game.AssetRef, error) {
	var raw sql.NullString
	err := p.db.GetContext(ctx, &raw, `SELECT active_deck FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active deck: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var deck []game.AssetRef
	if err := json.Unmarshal([]byte(raw.String), &deck); err != nil {
		return nil, fmt.Errorf("decode active deck: %w", err)
	}
	return deck, nil
}

// SaveActiveDeck replaces the user's saved deck
func (p *Postgres) SaveActiveDeck(ctx context.Context, id int64, deck []game.AssetRef) error {
	data, err := json.Marshal(deck)
	if err != nil {
		return fmt.Errorf("encode active deck: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `UPDATE users SET active_deck = $2 WHERE id = $1`, id, string(data))
	if err != nil {
		return fmt.Errorf("save active deck: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Ping checks connectivity for the health endpoint
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
