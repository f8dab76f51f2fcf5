package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

const version = "1.0.0"

// HealthCheck reports liveness plus match, queue and connection counters
func HealthCheck(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"service":     "triadarena-api",
			"version":     version,
			"uptime":      time.Since(startTime).String(),
			"matches":     d.Manager.Stats(),
			"queue_size":  d.Queue.Size(),
			"connections": d.Hub.Stats(),
		})
	}
}
