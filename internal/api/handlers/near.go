package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/triadarena/backend/internal/assets"
)

// LinkNearAccount stores the caller's NEAR account id
func LinkNearAccount(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		var req struct {
			AccountID  string `json:"accountId"`
			AccountID2 string `json:"account_id"`
		}
		_ = c.ShouldBindJSON(&req)
		raw := req.AccountID
		if raw == "" {
			raw = req.AccountID2
		}

		account, err := assets.NormalizeAccountID(raw)
		if err != nil {
			respondError(c, err)
			return
		}

		ctx := c.Request.Context()
		durable := false
		if d.Users != nil {
			if err := d.Users.LinkNearAccount(ctx, id, account); err != nil {
				log.Printf("[NEAR] Link for user %d not stored, keeping in memory: %v", id, err)
			} else {
				durable = true
			}
		}
		d.rememberAccount(ctx, id, account)

		c.JSON(http.StatusOK, gin.H{"ok": true, "accountId": account, "durable": durable})
	}
}

// GetNearAccount returns the caller's linked account, or null
func GetNearAccount(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		u := d.lookupUser(c.Request.Context(), id)
		if !u.NearAccountID.Valid || u.NearAccountID.String == "" {
			c.JSON(http.StatusOK, gin.H{"accountId": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"accountId": u.NearAccountID.String})
	}
}
