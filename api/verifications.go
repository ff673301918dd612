package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/everifyng/everify-backend/models"
	"github.com/everifyng/everify-backend/services/registry"
	"github.com/everifyng/everify-backend/services/verification"
	"github.com/everifyng/everify-backend/utils"
)

type Verifications struct {
	server *Server
}

func (v Verifications) router(server *Server) {
	v.server = server

	serverGroupV1 := server.router.Group("/api/v1")
	serverGroupV1.Use(server.APIKeyMiddleware())
	serverGroupV1.POST("verify/:service", v.verify)
	serverGroupV1.POST("verify-nin", v.verifyAlias("nin"))
	serverGroupV1.POST("verify-bvn", v.verifyAlias("bvn"))
	serverGroupV1.GET("services", v.listServices)
	serverGroupV1.GET("verifications", v.history)
	serverGroupV1.GET("verifications/:reference", v.showByReference)
	serverGroupV1.GET("wallet/balance", v.walletBalance)
}

type verifyRequest struct {
	SearchParameter string `json:"search_parameter" binding:"required,min=4,max=255"`
}

func (v *Verifications) verify(ctx *gin.Context) {
	v.runVerification(ctx, ctx.Param("service"))
}

// verifyAlias keeps the legacy per-service endpoints working.
func (v *Verifications) verifyAlias(slug string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		v.runVerification(ctx, slug)
	}
}

func (v *Verifications) runVerification(ctx *gin.Context, slug string) {
	var request verifyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, models.NewErrorWithCode("search_parameter is required", "VALIDATION_ERROR"))
		return
	}

	validate := validator.New()
	if err := validate.Var(request.SearchParameter, "alphanum"); err != nil {
		ctx.JSON(http.StatusBadRequest, models.NewErrorWithCode("search_parameter must be alphanumeric", "VALIDATION_ERROR"))
		return
	}

	service, err := v.server.registry.ServiceBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, registry.ErrServiceNotFound) {
			ctx.JSON(http.StatusNotFound, models.NewErrorWithCode("Unknown verification service", "UNKNOWN_SERVICE"))
			return
		}
		v.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}

	userID := ctx.GetInt64("user_id")
	result := v.server.engine.Verify(ctx, verification.VerifyInput{
		UserID:          userID,
		Service:         service,
		SearchParameter: request.SearchParameter,
		Source:          verification.SourceAPI,
		ClientIP:        ctx.ClientIP(),
		Environment:     apiKeyEnvironment(ctx),
	})

	if result.Success {
		ctx.JSON(http.StatusOK, models.NewSuccess("Verification successful", result))
		return
	}

	status := http.StatusBadGateway
	switch result.ErrorCode {
	case verification.CodeInsufficientFunds:
		status = http.StatusPaymentRequired
	case verification.CodeNotFound:
		status = http.StatusNotFound
	case verification.CodeNoProvider:
		status = http.StatusServiceUnavailable
	case verification.CodeInternalError, verification.CodePaymentError:
		status = http.StatusInternalServerError
	}
	ctx.JSON(status, models.NewErrorWithCode(result.ErrorMessage, result.ErrorCode))
}

type serviceResponse struct {
	ID          models.ID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Price       string    `json:"price"`
}

func (v *Verifications) listServices(ctx *gin.Context) {
	services, err := v.server.registry.ListServices(ctx)
	if err != nil {
		v.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}

	userID := ctx.GetInt64("user_id")
	out := make([]serviceResponse, 0, len(services))
	for i := range services {
		s := &services[i]
		price, err := v.server.registry.PriceFor(ctx, userID, s)
		if err != nil {
			price = s.DefaultPrice
		}
		out = append(out, serviceResponse{
			ID:          models.ID(s.ID),
			Name:        s.Name,
			Slug:        s.Slug,
			Description: s.Description.String,
			Price:       price.StringFixed(2),
		})
	}
	ctx.JSON(http.StatusOK, models.NewSuccess("Services retrieved", out))
}

type verificationResponse struct {
	Reference       string                 `json:"reference"`
	Service         models.ID              `json:"service_id"`
	SearchParameter string                 `json:"search_parameter"`
	Status          string                 `json:"status"`
	AmountCharged   string                 `json:"amount_charged"`
	Data            map[string]interface{} `json:"data,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	CreatedAt       string                 `json:"created_at"`
}

func toVerificationResponse(r *verification.Request) verificationResponse {
	out := verificationResponse{
		Reference:       r.Reference,
		Service:         models.ID(r.VerificationServiceID),
		SearchParameter: utils.MaskIdentifier(r.SearchParameter),
		Status:          r.Status,
		AmountCharged:   r.AmountCharged.StringFixed(2),
		Data:            r.ResponseDataMap(),
		CreatedAt:       r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if r.ErrorMessage.Valid {
		out.ErrorMessage = r.ErrorMessage.String
	}
	return out
}

func (v *Verifications) history(ctx *gin.Context) {
	userID := ctx.GetInt64("user_id")
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(ctx.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}

	filter := verification.HistoryFilter{
		ServiceSlug: ctx.Query("service"),
		Status:      ctx.Query("status"),
		Limit:       perPage,
		Offset:      (page - 1) * perPage,
	}

	items, total, err := v.server.engine.History(ctx, userID, filter)
	if err != nil {
		v.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}

	out := make([]verificationResponse, 0, len(items))
	for i := range items {
		out = append(out, toVerificationResponse(&items[i]))
	}
	ctx.JSON(http.StatusOK, models.NewSuccess("Verification history retrieved", gin.H{
		"items": out,
		"total": total,
		"page":  page,
	}))
}

func (v *Verifications) showByReference(ctx *gin.Context) {
	userID := ctx.GetInt64("user_id")
	request, err := v.server.engine.RequestByReference(ctx, userID, ctx.Param("reference"))
	if err != nil {
		if errors.Is(err, verification.ErrRequestNotFound) {
			ctx.JSON(http.StatusNotFound, models.NewErrorWithCode("Verification not found", "NOT_FOUND"))
			return
		}
		v.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}
	ctx.JSON(http.StatusOK, models.NewSuccess("Verification retrieved", toVerificationResponse(request)))
}

func (v *Verifications) walletBalance(ctx *gin.Context) {
	userID := ctx.GetInt64("user_id")
	balance, err := v.server.ledger.Balance(ctx, userID)
	if err != nil {
		v.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}
	ctx.JSON(http.StatusOK, models.NewSuccess("Balance retrieved", balance))
}
