package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/triadarena/backend/internal/game"
)

// JoinQueue enters the caller into matchmaking at their stored rating
func JoinQueue(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		var req struct {
			MaxEloDiff int `json:"max_elo_diff"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}
		if req.MaxEloDiff < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_elo_diff must not be negative"})
			return
		}

		ctx := c.Request.Context()
		u := d.lookupUser(ctx, id)
		rating := u.EloRating
		if rating == 0 {
			rating = d.Config.DefaultRating
		}

		res, err := d.Queue.Join(ctx, participant(u), rating, req.MaxEloDiff)
		if err != nil {
			respondError(c, err)
			return
		}
		if res.Status == game.QueuePaired && res.Pairing != nil {
			p := res.Pairing
			c.JSON(http.StatusOK, gin.H{
				"status":            res.Status,
				"match_id":          p.MatchID,
				"opponent_id":       p.Opponent.ID,
				"opponent_username": p.Opponent.Username,
				"opponent_elo":      p.OpponentRating,
				"side":              p.Side,
				"queue_size":        res.QueueSize,
			})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// LeaveQueue removes the caller from matchmaking
func LeaveQueue(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		d.Queue.Leave(id)
		c.JSON(http.StatusOK, gin.H{"status": game.QueueLeft})
	}
}

// QueueStatus reports the caller's queue state
func QueueStatus(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		st := d.Queue.Status(id)
		if st.Rating == 0 {
			st.Rating = d.lookupUser(c.Request.Context(), id).EloRating
		}
		c.JSON(http.StatusOK, st)
	}
}
