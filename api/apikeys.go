package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/everifyng/everify-backend/models"
	"github.com/everifyng/everify-backend/services/apikeys"
)

type APIKeys struct {
	server *Server
}

func (a APIKeys) router(server *Server) {
	a.server = server

	serverGroupV1 := server.router.Group("/api/v1/keys")
	serverGroupV1.Use(AuthenticatedMiddleware())
	serverGroupV1.GET("", a.list)
	serverGroupV1.POST("", a.generate)
	serverGroupV1.POST(":id/regenerate", a.regenerate)
	serverGroupV1.DELETE(":id", a.deactivate)
}

type apiKeyResponse struct {
	ID          models.ID `json:"id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Environment string    `json:"environment"`
	IsActive    bool      `json:"is_active"`
	AllowedIPs  []string  `json:"allowed_ips,omitempty"`
	RateLimit   int       `json:"rate_limit"`
	LastUsedAt  string    `json:"last_used_at,omitempty"`
	ExpiresAt   string    `json:"expires_at,omitempty"`
	CreatedAt   string    `json:"created_at"`
}

func toAPIKeyResponse(k *apikeys.APIKey) apiKeyResponse {
	out := apiKeyResponse{
		ID:          models.ID(k.ID),
		Name:        k.Name,
		Key:         k.Key,
		Environment: k.Environment,
		IsActive:    k.IsActive,
		AllowedIPs:  k.AllowedIPs,
		RateLimit:   k.RateLimit,
		CreatedAt:   k.CreatedAt.Format(time.RFC3339),
	}
	if k.LastUsedAt.Valid {
		out.LastUsedAt = k.LastUsedAt.Time.Format(time.RFC3339)
	}
	if k.ExpiresAt.Valid {
		out.ExpiresAt = k.ExpiresAt.Time.Format(time.RFC3339)
	}
	return out
}

func (a *APIKeys) list(ctx *gin.Context) {
	userID := ctx.GetInt64("user_id")
	keys, err := a.server.apiKeys.List(ctx, userID)
	if err != nil {
		a.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}

	out := make([]apiKeyResponse, 0, len(keys))
	for i := range keys {
		out = append(out, toAPIKeyResponse(&keys[i]))
	}
	ctx.JSON(http.StatusOK, models.NewSuccess("API keys retrieved", out))
}

type generateKeyRequest struct {
	Name        string   `json:"name"`
	Environment string   `json:"environment" binding:"omitempty,oneof=test live"`
	AllowedIPs  []string `json:"allowed_ips" binding:"omitempty,dive,ip"`
	RateLimit   int      `json:"rate_limit" binding:"omitempty,min=1,max=10000"`
	ExpiresAt   string   `json:"expires_at"`
}

func (a *APIKeys) generate(ctx *gin.Context) {
	var request generateKeyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, models.NewErrorWithCode(err.Error(), "VALIDATION_ERROR"))
		return
	}

	params := apikeys.GenerateParams{
		UserID:      ctx.GetInt64("user_id"),
		Name:        request.Name,
		Environment: request.Environment,
		AllowedIPs:  request.AllowedIPs,
		RateLimit:   request.RateLimit,
	}
	if request.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, request.ExpiresAt)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, models.NewErrorWithCode("expires_at must be RFC3339", "VALIDATION_ERROR"))
			return
		}
		params.ExpiresAt = &expires
	}

	credential, err := a.server.apiKeys.Generate(ctx, params)
	if err != nil {
		a.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}

	// The plaintext secret appears in this response and nowhere else.
	ctx.JSON(http.StatusCreated, models.NewSuccess("API key created", gin.H{
		"key":    toAPIKeyResponse(&credential.Key),
		"secret": credential.Secret,
	}))
}

func (a *APIKeys) regenerate(ctx *gin.Context) {
	var id models.ID
	if err := id.UnmarshalJSON([]byte(`"` + ctx.Param("id") + `"`)); err != nil {
		ctx.JSON(http.StatusBadRequest, models.NewErrorWithCode("Invalid key id", "VALIDATION_ERROR"))
		return
	}

	userID := ctx.GetInt64("user_id")
	credential, err := a.server.apiKeys.RegenerateSecret(ctx, userID, int64(id))
	if err != nil {
		if errors.Is(err, apikeys.ErrKeyNotFound) {
			ctx.JSON(http.StatusNotFound, models.NewErrorWithCode("API key not found", "NOT_FOUND"))
			return
		}
		a.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}

	ctx.JSON(http.StatusOK, models.NewSuccess("API key secret regenerated", gin.H{
		"key":    toAPIKeyResponse(&credential.Key),
		"secret": credential.Secret,
	}))
}

func (a *APIKeys) deactivate(ctx *gin.Context) {
	var id models.ID
	if err := id.UnmarshalJSON([]byte(`"` + ctx.Param("id") + `"`)); err != nil {
		ctx.JSON(http.StatusBadRequest, models.NewErrorWithCode("Invalid key id", "VALIDATION_ERROR"))
		return
	}

	userID := ctx.GetInt64("user_id")
	if err := a.server.apiKeys.Deactivate(ctx, userID, int64(id)); err != nil {
		if errors.Is(err, apikeys.ErrKeyNotFound) {
			ctx.JSON(http.StatusNotFound, models.NewErrorWithCode("API key not found", "NOT_FOUND"))
			return
		}
		a.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}

	ctx.JSON(http.StatusOK, models.NewSuccess("API key deactivated", nil))
}
