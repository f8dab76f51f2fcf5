package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/triadarena/backend/internal/game"
)

type assetRequest struct {
	NFTContractID string `json:"nft_contract_id"`
	TokenID       string `json:"token_id"`
}

func (a assetRequest) ref() game.AssetRef {
	return game.AssetRef{Contract: strings.TrimSpace(a.NFTContractID), TokenID: strings.TrimSpace(a.TokenID)}
}

// CreateMatch starts a match with the caller as side A. An opponent id seats
// the second participant immediately.
func CreateMatch(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		var req struct {
			OpponentUserID int64 `json:"opponent_user_id"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		ctx := c.Request.Context()
		creator := participant(d.lookupUser(ctx, id))
		var opponent *game.Participant
		if req.OpponentUserID != 0 {
			p := participant(d.lookupUser(ctx, req.OpponentUserID))
			opponent = &p
		}

		s, dur, err := d.Manager.Create(ctx, creator, opponent)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"matchId": s.ID, "status": s.Status, "durability": dur.String()})
	}
}

// JoinMatch seats the caller in a match
func JoinMatch(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		matchID := c.Param("id")

		res, dur, err := d.Manager.Join(ctx, matchID, participant(d.lookupUser(ctx, id)))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":         true,
			"matchId":    matchID,
			"status":     res.Status,
			"side":       res.Side,
			"rejoined":   res.Rejoined,
			"durability": dur.String(),
		})
	}
}

// SetDeck records the caller's deck for a match, defaulting to their saved
// active deck. With asset validation enabled every asset must be owned by the
// caller's linked NEAR account.
func SetDeck(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		var req struct {
			Deck []assetRequest `json:"deck"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		ctx := c.Request.Context()
		deck := refs(req.Deck)
		if len(deck) == 0 {
			deck = d.activeDeck(ctx, id)
		}
		if len(deck) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deck is required"})
			return
		}

		matchID := c.Param("id")
		if _, err := d.Manager.Get(ctx, matchID, id); err != nil {
			respondError(c, err)
			return
		}

		if err := d.checkOwnership(ctx, id, deck); err != nil {
			log.Printf("[NEAR] Deck rejected for user %d in %s: %v", id, matchID, err)
			respondError(c, err)
			return
		}

		dur, err := d.Manager.SetDeck(ctx, matchID, id, deck)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "cards": deck, "durability": dur.String()})
	}
}

// RecordDeposit registers a staked asset for the caller
func RecordDeposit(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		var req struct {
			assetRequest
			TxHash string `json:"tx_hash"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		asset := req.ref()
		if asset.Contract == "" || asset.TokenID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "nft_contract_id and token_id are required"})
			return
		}

		dep, dur, err := d.Manager.RecordDeposit(c.Request.Context(), c.Param("id"), id, asset, strings.TrimSpace(req.TxHash))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "depositId": dep.Seq, "durability": dur.String()})
	}
}

// GetMatch returns the match for one of its participants
func GetMatch(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		s, err := d.Manager.Get(c.Request.Context(), c.Param("id"), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// FinishMatch records the reported outcome and the staked asset. The caller
// must be a participant; a second finish is a conflict.
func FinishMatch(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		var req struct {
			assetRequest
			WinnerUserID int64 `json:"winner_user_id"`
			LoserUserID  int64 `json:"loser_user_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		asset := req.ref()
		if req.WinnerUserID == 0 || req.LoserUserID == 0 || asset.Contract == "" || asset.TokenID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "winner_user_id, loser_user_id, nft_contract_id, token_id are required"})
			return
		}

		ctx := c.Request.Context()
		matchID := c.Param("id")
		if _, err := d.Manager.Get(ctx, matchID, id); err != nil {
			respondError(c, err)
			return
		}

		claim, dur, err := d.Manager.Finish(ctx, matchID, req.WinnerUserID, req.LoserUserID, asset, game.ReasonReported)
		if err != nil {
			respondError(c, err)
			return
		}
		d.Dispatcher.AnnounceEnd(ctx, matchID, claim.WinnerID, game.ReasonReported)
		c.JSON(http.StatusOK, gin.H{"ok": true, "claim": claim, "durability": dur.String()})
	}
}

// SetClaimTx lets the winner attach the settlement transaction
func SetClaimTx(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		var req struct {
			TxHash string `json:"tx_hash"`
		}
		_ = c.ShouldBindJSON(&req)
		txHash := strings.TrimSpace(req.TxHash)
		if txHash == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tx_hash is required"})
			return
		}

		ctx := c.Request.Context()
		matchID := c.Param("id")
		if _, err := d.Manager.Get(ctx, matchID, id); err != nil {
			respondError(c, err)
			return
		}
		dur, err := d.Manager.SetClaimSettlementRef(ctx, matchID, id, txHash)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "durability": dur.String()})
	}
}

// VerifyDeposit marks a deposit as confirmed on chain. Operator only.
func VerifyDeposit(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		seq, err := strconv.Atoi(c.Param("seq"))
		if err != nil || seq <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deposit id"})
			return
		}
		dur, err := d.Manager.VerifyDeposit(c.Request.Context(), c.Param("id"), seq)
		if err != nil {
			respondError(c, err)
			return
		}
		log.Printf("[DEPOSITS] Operator verified deposit %s#%d", c.Param("id"), seq)
		c.JSON(http.StatusOK, gin.H{"ok": true, "durability": dur.String()})
	}
}
