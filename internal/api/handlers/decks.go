package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/triadarena/backend/internal/assets"
	"github.com/triadarena/backend/internal/game"
)

// MyAssets lists the assets held by the caller's linked NEAR account
func MyAssets(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		if d.Assets == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "asset lookup is not configured"})
			return
		}

		ctx := c.Request.Context()
		account := d.lookupUser(ctx, id).NearAccountID.String
		if account == "" {
			respondError(c, assets.ErrNoAccount)
			return
		}
		owned, err := d.Assets.ListOwnedAssets(ctx, account)
		if err != nil {
			log.Printf("[NEAR] Inventory lookup for %s failed: %v", account, err)
			respondError(c, err)
			return
		}
		if owned == nil {
			owned = []game.AssetRef{}
		}
		c.JSON(http.StatusOK, gin.H{"accountId": account, "items": owned})
	}
}

// GetActiveDeck returns the caller's saved deck
func GetActiveDeck(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		deck := d.activeDeck(c.Request.Context(), id)
		if deck == nil {
			deck = []game.AssetRef{}
		}
		c.JSON(http.StatusOK, gin.H{"cards": deck})
	}
}

// PutActiveDeck validates and saves the caller's deck. Matches use it when a
// deck is not given explicitly.
func PutActiveDeck(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		var req struct {
			Cards []assetRequest `json:"cards"`
			Deck  []assetRequest `json:"deck"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		raw := req.Cards
		if len(raw) == 0 {
			raw = req.Deck
		}
		if len(raw) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cards are required"})
			return
		}
		deck := refs(raw)

		ctx := c.Request.Context()
		if err := game.ValidateDeck(deck, d.Config.MaxDeckSize); err != nil {
			respondError(c, err)
			return
		}
		if err := d.checkOwnership(ctx, id, deck); err != nil {
			log.Printf("[DECK] Active deck rejected for user %d: %v", id, err)
			respondError(c, err)
			return
		}

		durable := false
		if d.Users != nil {
			if err := d.Users.SaveActiveDeck(ctx, id, deck); err != nil {
				log.Printf("[DECK] Active deck for user %d not stored, keeping in memory: %v", id, err)
			} else {
				durable = true
			}
		}
		d.cache().putDeck(id, deck)

		c.JSON(http.StatusOK, gin.H{"ok": true, "cards": deck, "durable": durable})
	}
}

func refs(raw []assetRequest) []game.AssetRef {
	out := make([]game.AssetRef, 0, len(raw))
	for _, a := range raw {
		out = append(out, a.ref())
	}
	return out
}

// checkOwnership enforces asset validation when it is enabled
func (d *Deps) checkOwnership(ctx context.Context, id int64, deck []game.AssetRef) error {
	if !d.Config.AssetValidation || d.Assets == nil {
		return nil
	}
	account := d.lookupUser(ctx, id).NearAccountID.String
	return d.Assets.CheckOwnership(ctx, account, deck)
}
