package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const userIDKey = "user_id"

type identityClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Identity extracts an optional user identity from a Bearer JWT. The "For
// You" surface works for anonymous callers, so this never rejects a request:
// a missing, malformed, or expired token just leaves the identity unset and
// the session is built without a profile.
func Identity(secret string, logger *logrus.Logger) gin.HandlerFunc {
	key := []byte(secret)

	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.Next()
			return
		}

		claims := &identityClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			logger.WithError(err).Debug("Ignoring invalid bearer token")
			c.Next()
			return
		}

		userID := claims.UserID
		if userID == "" {
			userID = claims.Subject
		}
		if userID != "" {
			c.Set(userIDKey, userID)
		}
		c.Next()
	}
}

// UserID returns the authenticated user id, or empty for anonymous requests.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
