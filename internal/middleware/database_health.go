package middleware

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

const healthPingTimeout = 2 * time.Second

// DatabaseHealthCheck rejects requests with 503 while the account store is unreachable.
func DatabaseHealthCheck(db Pinger, logger *log.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = log.New(log.Writer(), "[DB-HEALTH] ", log.LstdFlags)
	}
	return func(c *gin.Context) {
		if db == nil {
			abortUnavailable(c, "Account store is not configured")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			logger.Printf("request %s: database ping failed: %v", GetRequestID(c), err)
			abortUnavailable(c, "Account store is not responding")
			return
		}

		c.Next()
	}
}

func abortUnavailable(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"success": false,
		"error":   message,
	})
}
