package api

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/everifyng/everify-backend/models"
	"github.com/everifyng/everify-backend/services/apikeys"
	"github.com/everifyng/everify-backend/services/audit"
)

// Context keys set by the authentication middlewares.
const (
	ctxKeyUser        = "user"
	ctxKeyAPIKey      = "api_key"
	ctxKeyEnvironment = "environment"
)

func AuthenticatedMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := ctx.GetHeader("Authorization")
		if token == "" {
			ctx.JSON(http.StatusUnauthorized, models.NewError("Unauthorized Request"))
			ctx.Abort()
			return
		}

		tokenSplit := strings.Split(token, " ")
		if len(tokenSplit) != 2 || strings.ToLower(tokenSplit[0]) != "bearer" {
			ctx.JSON(http.StatusUnauthorized, models.NewError("Invalid token, expects bearer token"))
			ctx.Abort()
			return
		}

		user, err := TokenController.VerifyToken(tokenSplit[1])
		if err != nil {
			ctx.JSON(http.StatusUnauthorized, models.NewError(err.Error()))
			ctx.Abort()
			return
		}

		ctx.Set("user_id", user.UserID)
		ctx.Set("user_role", user.Role)
		ctx.Set(ctxKeyUser, user)
		ctx.Next()
	}
}

// APIKeyMiddleware authenticates programmatic callers: bearer credential,
// IP allow-list, per-key rate limit, and an inbound audit log row. The key's
// environment is placed in the request context for the verification engine.
func (s *Server) APIKeyMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := ctx.GetHeader("Authorization")
		tokenSplit := strings.Split(token, " ")
		if len(tokenSplit) != 2 || strings.ToLower(tokenSplit[0]) != "bearer" {
			ctx.JSON(http.StatusUnauthorized, models.NewErrorWithCode("Missing or malformed API credentials", "UNAUTHORIZED"))
			ctx.Abort()
			return
		}

		key, err := s.apiKeys.ValidateBearer(ctx, tokenSplit[1])
		if err != nil {
			status, message := http.StatusUnauthorized, "Invalid API credentials"
			switch err {
			case apikeys.ErrKeyInactive:
				message = "API key is inactive"
			case apikeys.ErrKeyExpired:
				message = "API key has expired"
			}
			ctx.JSON(status, models.NewErrorWithCode(message, "UNAUTHORIZED"))
			ctx.Abort()
			return
		}

		clientIP := ctx.ClientIP()
		if !key.IsIPAllowed(clientIP) {
			ctx.JSON(http.StatusForbidden, models.NewErrorWithCode("IP address not allowed for this key", "IP_NOT_ALLOWED"))
			ctx.Abort()
			return
		}

		allowed, _ := s.limiter.Allow(ctx, key.Key, key.RateLimit)
		if !allowed {
			ctx.JSON(http.StatusTooManyRequests, models.NewErrorWithCode("Rate limit exceeded", "RATE_LIMITED"))
			ctx.Abort()
			return
		}

		s.logInbound(ctx, key)

		ctx.Set("user_id", key.UserID)
		ctx.Set(ctxKeyAPIKey, key)
		ctx.Set(ctxKeyEnvironment, key.Environment)
		ctx.Next()
	}
}

// logInbound writes the audit row for a programmatic request. Best effort;
// an audit write failure never blocks the caller.
func (s *Server) logInbound(ctx *gin.Context, key *apikeys.APIKey) {
	headers := make(map[string]string, len(ctx.Request.Header))
	for k := range ctx.Request.Header {
		headers[k] = ctx.GetHeader(k)
	}

	row := &audit.APILog{
		UserID:         sql.NullInt64{Int64: key.UserID, Valid: true},
		Direction:      audit.DirectionInbound,
		Endpoint:       ctx.Request.URL.Path,
		Method:         ctx.Request.Method,
		RequestHeaders: audit.RawJSON(audit.RedactHeaders(headers)),
		IPAddress:      sql.NullString{String: ctx.ClientIP(), Valid: true},
	}
	if err := s.audit.Insert(ctx, row); err != nil {
		s.logger.WithError(err).Warn("failed to write inbound audit log")
	}
}

// apiKeyEnvironment reads the environment the API key middleware resolved.
func apiKeyEnvironment(ctx *gin.Context) string {
	if env, ok := ctx.Get(ctxKeyEnvironment); ok {
		if s, ok := env.(string); ok {
			return s
		}
	}
	return apikeys.EnvironmentLive
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {

		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST,HEAD,PATCH,OPTIONS,GET,PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
