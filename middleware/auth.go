package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"portfolio-tracker/auth"
)

// UserIDKey is the gin context key holding the authenticated user's ID.
const UserIDKey = "user_id"

// JWTAuth rejects requests without a valid bearer access token and stores the
// token's user ID under UserIDKey.
func JWTAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Authorization header required"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := auth.ParseToken(key, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Token expired or invalid"})
			return
		}
		if claims.Kind != "access" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Access token required"})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// RequireSelf lets a request through only when the user ID it acts on matches
// the authenticated user. userID extracts that ID from the request; it
// returns false when the request does not name one, in which case the
// handler validates it.
func RequireSelf(userID func(c *gin.Context) (uint, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		authed, ok := c.Get(UserIDKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Authentication required"})
			return
		}
		target, ok := userID(c)
		if ok && target != authed.(uint) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Cannot act on another user's account"})
			return
		}
		c.Next()
	}
}

// ParamUserID reads the user ID from the :user_id path parameter.
func ParamUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
