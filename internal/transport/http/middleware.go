package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gunko23/film-collective-sub003/internal/auth"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUsername is the context key for storing username.
	ContextKeyUsername = "username"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AuthMiddleware creates a middleware that validates bearer tokens. The
// token may arrive in the Authorization header or, for EventSource-style
// clients that cannot set headers, in the access_token query parameter.
func AuthMiddleware(jwtCfg *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			logger.Debug().Msg("missing bearer token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(jwtCfg, token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUsername, claims.Username)

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("access_token")
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// currentUser pulls the authenticated identity out of the gin context.
func currentUser(c *gin.Context) (int64, string, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, "", false
	}
	uid, ok := v.(int64)
	if !ok {
		return 0, "", false
	}
	name, _ := c.Get(ContextKeyUsername)
	username, _ := name.(string)
	return uid, username, true
}
