package middleware

import "github.com/gin-gonic/gin"

// SecurityHeaders sets the browser-facing hardening headers on every
// response. Session queues are per-user, so intermediaries must not cache
// them. HSTS is only meaningful once TLS terminated somewhere in front.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")

		if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
