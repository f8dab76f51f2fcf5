package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/triadarena/backend/internal/identity"
	"github.com/triadarena/backend/internal/models"
)

type telegramAuthRequest struct {
	InitData string `json:"initData"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// AuthTelegram exchanges verified Mini App initData for an access token.
// The user row is upserted best effort; a directory outage still signs in.
func AuthTelegram(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req telegramAuthRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.InitData) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "initData is required"})
			return
		}

		id, err := d.Telegram.Verify(req.InitData)
		if err != nil {
			log.Printf("[AUTH] Telegram initData rejected: %v", err)
			respondError(c, err)
			return
		}

		user := models.User{
			ID:         id.ID,
			Username:   nullString(id.Username),
			FirstName:  nullString(id.FirstName),
			LastName:   nullString(id.LastName),
			PhotoURL:   nullString(id.PhotoURL),
			EloRating:  d.Config.DefaultRating,
			LastSeenAt: sql.NullTime{Time: time.Now(), Valid: true},
		}
		if d.Users != nil {
			stored, err := d.Users.UpsertUser(c.Request.Context(), user)
			if err != nil {
				log.Printf("[AUTH] User upsert failed for %d, continuing: %v", id.ID, err)
			} else {
				user = stored
			}
		}
		if cached, ok := d.cache().get(id.ID); ok && !user.NearAccountID.Valid {
			user.NearAccountID = cached.NearAccountID
		}
		d.cache().put(user)

		token, exp, err := d.Tokens.Issue(id)
		if err != nil {
			respondError(c, err)
			return
		}

		log.Printf("[AUTH] Signed in Telegram user %d (%s)", id.ID, id.DisplayName())
		c.JSON(http.StatusOK, gin.H{
			"accessToken":  token,
			"access_token": token,
			"token":        token,
			"token_type":   "bearer",
			"expires_at":   exp.Unix(),
			"user":         user.Profile(),
		})
	}
}

// GetMe returns the caller's profile
func GetMe(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, d.lookupUser(c.Request.Context(), id).Profile())
	}
}

// IssueDevToken signs a token for an arbitrary id. Only mounted in development.
func IssueDevToken(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ID       int64  `json:"id" binding:"required"`
			Username string `json:"username"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}
		token, exp, err := d.Tokens.Issue(identity.Identity{ID: req.ID, Username: req.Username})
		if err != nil {
			respondError(c, err)
			return
		}
		d.cache().put(models.User{ID: req.ID, Username: nullString(req.Username), EloRating: d.Config.DefaultRating})
		c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": exp.Unix()})
	}
}
