package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestLogger emits one structured line per request after it completes.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		fields := log.Fields{
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"method":     method,
			"path":       path,
			"client_ip":  c.ClientIP(),
		}
		if rid, ok := c.Get("request_id"); ok {
			fields["request_id"] = rid
		}
		if u := UserFrom(c); u != nil {
			fields["user"] = u.ID
		}
		log.WithFields(fields).Info("http_request")
	}
}
