package handlers

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/triadarena/backend/internal/ws"
)

// MatchWebSocket upgrades a participant's connection and attaches it to the
// match room. Auth arrives as ?token= since browsers cannot set headers here.
func MatchWebSocket(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		matchID := c.Param("id")
		if _, err := d.Manager.Get(ctx, matchID, id); err != nil {
			respondError(c, err)
			return
		}

		conn, err := ws.Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[WS] Upgrade failed for user %d in %s: %v", id, matchID, err)
			return
		}

		client := ws.NewClient(conn, matchID, id, d.Config.WSSendBuffer, func(cl *ws.Client) {
			d.Dispatcher.Detach(cl.MatchID(), cl.ParticipantID(), cl)
		})
		d.Dispatcher.Attach(context.WithoutCancel(ctx), matchID, id, client)
		log.Printf("[WS] User %d connected to %s", id, matchID)
		client.Start(d.Dispatcher.HandleClientMessage)
	}
}
