package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"course-chat-service/internal/auth"
	"course-chat-service/internal/models"
	"course-chat-service/internal/repositories"
)

// AuthMiddleware validates the bearer token and binds user id and role to
// the request context. Display fields from the claims are cached locally so
// later sender-name lookups stay cheap.
func AuthMiddleware(verifier *auth.Verifier, users repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims, err := verifier.Verify(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if users != nil {
			if err := users.Upsert(c.Request.Context(), models.User{ID: claims.UserID, Name: claims.Name, Role: claims.Role}); err != nil {
				log.Printf("user upsert failed: %v", err)
			}
		}

		c.Set("userID", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}
