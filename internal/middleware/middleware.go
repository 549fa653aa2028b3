package middleware

import (
	"strings"

	"advisorcrm/internal/services"
	"advisorcrm/internal/utils"

	"github.com/gin-gonic/gin"
)

// UserIDKey is where AuthMiddleware stores the advisor id
const UserIDKey = "user_id"

// AuthMiddleware validates the advisor JWT from the Authorization header.
// EventSource clients cannot set headers, so the live feed may pass the
// token as ?access_token= instead.
func AuthMiddleware(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				utils.RespondWithUnauthorized(c, "invalid authorization header format")
				return
			}
			token = strings.TrimSpace(parts[1])
		} else if c.Request.Method == "GET" {
			token = c.Query("access_token")
		}

		if token == "" {
			utils.RespondWithUnauthorized(c, "authorization header required")
			return
		}

		claims, err := auth.ValidateToken(token)
		if err != nil {
			utils.RespondWithUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// UserID returns the authenticated advisor id
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
