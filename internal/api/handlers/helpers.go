package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/triadarena/backend/internal/assets"
	"github.com/triadarena/backend/internal/game"
	"github.com/triadarena/backend/internal/identity"
	"github.com/triadarena/backend/internal/middleware"
)

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrInvalidPosition),
		errors.Is(err, game.ErrCellOccupied),
		errors.Is(err, game.ErrInvalidCard),
		errors.Is(err, game.ErrWrongTurn),
		errors.Is(err, game.ErrMatchNotActive),
		errors.Is(err, game.ErrBoardComplete),
		errors.Is(err, game.ErrDeckTooLarge),
		errors.Is(err, game.ErrDuplicateCard),
		errors.Is(err, game.ErrInvalidAsset),
		errors.Is(err, game.ErrInvalidOutcome),
		errors.Is(err, assets.ErrInvalidAccount),
		errors.Is(err, assets.ErrNoAccount),
		errors.Is(err, assets.ErrNotOwned):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, game.ErrNotAParticipant),
		errors.Is(err, game.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, game.ErrNotFound),
		errors.Is(err, game.ErrDepositNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrMatchFull),
		errors.Is(err, game.ErrDuplicateDeposit),
		errors.Is(err, game.ErrAlreadyFinished),
		errors.Is(err, game.ErrNoClaim):
		return http.StatusConflict
	case errors.Is(err, assets.ErrRPC):
		return http.StatusBadGateway
	case errors.Is(err, game.ErrNotDurable),
		errors.Is(err, game.ErrStoreUnavailable),
		errors.Is(err, identity.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": ...} with the mapped status. Unexpected
// errors are logged and hidden from the caller.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	if errors.Is(err, game.ErrStoreUnavailable) {
		log.Printf("[API] %s %s store failure: %v", c.Request.Method, c.FullPath(), err)
		err = game.ErrStoreUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// callerID reads the authenticated user id set by the auth middleware
func callerID(c *gin.Context) (int64, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return id, ok
}
