package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"linkly-be/internal/jwt"
)

// AuthMiddleware validates the Bearer token and puts the principal into the
// request context under "user_id" and "email".
func AuthMiddleware(jwtService *jwt.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or invalid Authorization header",
			})
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Next()
	}
}
