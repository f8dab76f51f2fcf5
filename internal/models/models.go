package models

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// User represents a Telegram user known to the system
type User struct {
	ID            int64          `db:"id" json:"id"`
	Username      sql.NullString `db:"username" json:"-"`
	FirstName     sql.NullString `db:"first_name" json:"-"`
	LastName      sql.NullString `db:"last_name" json:"-"`
	PhotoURL      sql.NullString `db:"photo_url" json:"-"`
	NearAccountID sql.NullString `db:"near_account_id" json:"-"`
	EloRating     int            `db:"elo_rating" json:"elo_rating"`
	Wins          int            `db:"wins" json:"wins"`
	Losses        int            `db:"losses" json:"losses"`
	Draws         int            `db:"draws" json:"draws"`
	TotalGames    int            `db:"total_games" json:"total_games"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	LastSeenAt    sql.NullTime   `db:"last_seen_at" json:"-"`
}

// Profile is the public JSON view of a user
type Profile struct {
	ID            int64  `json:"id"`
	Username      string `json:"username,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	PhotoURL      string `json:"photo_url,omitempty"`
	NearAccountID string `json:"near_account_id,omitempty"`
	EloRating     int    `json:"elo_rating"`
	Wins          int    `json:"wins"`
	Losses        int    `json:"losses"`
	Draws         int    `json:"draws"`
	TotalGames    int    `json:"total_games"`
}

// Profile converts the row to its public view
func (u User) Profile() Profile {
	return Profile{
		ID:            u.ID,
		Username:      u.Username.String,
		FirstName:     u.FirstName.String,
		LastName:      u.LastName.String,
		PhotoURL:      u.PhotoURL.String,
		NearAccountID: u.NearAccountID.String,
		EloRating:     u.EloRating,
		Wins:          u.Wins,
		Losses:        u.Losses,
		Draws:         u.Draws,
		TotalGames:    u.TotalGames,
	}
}

// Match represents a row of the matches table
type Match struct {
	ID           string         `db:"id"`
	Status       string         `db:"status"`
	CreatedAt    time.Time      `db:"created_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
	WinnerUserID sql.NullInt64  `db:"winner_user_id"`
	FinishReason sql.NullString `db:"finish_reason"`
	Board        types.JSONText `db:"board"`
	Turn         string         `db:"turn"`
	Moves        int            `db:"moves"`
	Outcome      sql.NullString `db:"outcome"`
}

// MatchPlayer represents a participant's seat in a match
type MatchPlayer struct {
	MatchID       string         `db:"match_id"`
	UserID        int64          `db:"user_id"`
	Username      sql.NullString `db:"username"`
	Side          string         `db:"side"`
	NearAccountID sql.NullString `db:"near_account_id"`
	Deck          types.JSONText `db:"deck"`
	JoinedAt      time.Time      `db:"joined_at"`
}

// MatchDeposit represents an asset staked into a match
type MatchDeposit struct {
	MatchID         string         `db:"match_id"`
	Seq             int            `db:"seq"`
	UserID          int64          `db:"user_id"`
	NFTContractID   string         `db:"nft_contract_id"`
	TokenID         string         `db:"token_id"`
	TxHash          sql.NullString `db:"tx_hash"`
	VerifiedOnchain bool           `db:"verified_onchain"`
	DepositedAt     time.Time      `db:"deposited_at"`
}

// MatchClaim represents the winner's claim on the staked asset
type MatchClaim struct {
	MatchID       string         `db:"match_id"`
	WinnerUserID  int64          `db:"winner_user_id"`
	LoserUserID   int64          `db:"loser_user_id"`
	NFTContractID string         `db:"nft_contract_id"`
	TokenID       string         `db:"token_id"`
	ClaimTxHash   sql.NullString `db:"claim_tx_hash"`
	ClaimedAt     time.Time      `db:"claimed_at"`
}
