package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	SecretHeader    = "X-Webhook-Secret"
	RequestIDHeader = "X-Request-Id"

	requestIDKey = "requestID"
)

type WebhookSecretConfig struct {
	HeaderName string
	Secret     string
}

// WebhookSecretMiddleware rejects requests that do not carry the shared secret.
func WebhookSecretMiddleware(config WebhookSecretConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(c.GetHeader(config.HeaderName))

		if secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing webhook secret",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(secret), []byte(config.Secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid webhook secret",
			})
			return
		}

		c.Next()
	}
}

// RequestID keeps a caller supplied X-Request-Id or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"requestID", c.GetString(requestIDKey),
			"duration", time.Since(start),
		)
	}
}
