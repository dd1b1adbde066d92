package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"portfolio-tracker/middleware"
	"portfolio-tracker/models"
)

var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{models.ErrValidation, http.StatusBadRequest, "validation"},
	{models.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{models.ErrInsufficientShares, http.StatusBadRequest, "insufficient_shares"},
	{models.ErrNoPortfolio, http.StatusNotFound, "no_portfolio"},
	{models.ErrNoTransactions, http.StatusNotFound, "no_transactions"},
	{models.ErrQuoteUnavailable, http.StatusNotFound, "quote_unavailable"},
	{models.ErrUserExists, http.StatusConflict, "user_exists"},
	{models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{models.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
}

// respondError writes err as {"error": kind, "message": detail}. Errors outside
// the known kinds are logged and reported without their text.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			c.JSON(k.status, gin.H{"error": k.kind, "message": err.Error()})
			return
		}
	}

	_ = c.Error(err)
	log.Error().Err(err).
		Str("request_id", c.GetString(middleware.RequestIDKey)).
		Str("path", c.FullPath()).
		Msg("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
}

// authorizeUser rejects requests acting on another user's account when the
// route is authenticated.
func authorizeUser(c *gin.Context, userID uint) bool {
	authed, ok := c.Get(middleware.UserIDKey)
	if !ok || authed.(uint) == userID {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Cannot act on another user's account"})
	return false
}
