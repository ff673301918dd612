package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/everifyng/everify-backend/models"
	"github.com/everifyng/everify-backend/providers/fiat"
	"github.com/everifyng/everify-backend/services/payment"
)

type Payments struct {
	server *Server
}

func (p Payments) router(server *Server) {
	p.server = server

	serverGroupV1 := server.router.Group("/api/v1/payments")
	serverGroupV1.POST("initialize", AuthenticatedMiddleware(), p.initialize)
	serverGroupV1.GET("callback", AuthenticatedMiddleware(), p.callback)

	// Processor-to-server route, authenticated by signature instead.
	server.router.POST("/webhooks/paystack", p.webhook)
}

type initializeRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (p *Payments) initialize(ctx *gin.Context) {
	var request initializeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, models.NewErrorWithCode("amount is required", "VALIDATION_ERROR"))
		return
	}

	amount, err := decimal.NewFromString(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, models.NewErrorWithCode("amount must be a decimal number", "VALIDATION_ERROR"))
		return
	}

	// The checkout is always opened against the authenticated account's
	// own email; the processor receipt and the funded wallet must agree.
	userID := ctx.GetInt64("user_id")
	user, err := p.server.users.GetByID(ctx, userID)
	if err != nil {
		p.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}

	checkout, err := p.server.funding.Initialize(ctx, userID, user.Email, amount)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidAmount) {
			ctx.JSON(http.StatusBadRequest, models.NewErrorWithCode(err.Error(), "VALIDATION_ERROR"))
			return
		}
		p.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusBadGateway, models.NewError("Unable to initialize payment"))
		return
	}

	ctx.JSON(http.StatusOK, models.NewSuccess("Payment initialized", checkout))
}

func (p *Payments) callback(ctx *gin.Context) {
	reference := ctx.Query("reference")
	if reference == "" {
		reference = ctx.Query("trxref")
	}
	if reference == "" {
		ctx.JSON(http.StatusBadRequest, models.NewErrorWithCode("reference is required", "VALIDATION_ERROR"))
		return
	}

	userID := ctx.GetInt64("user_id")
	entry, err := p.server.funding.Confirm(ctx, userID, reference)
	if err != nil {
		// A mismatched reference reads the same as an unknown one so the
		// response does not leak whether another customer holds it.
		if errors.Is(err, payment.ErrUnknownReference) || errors.Is(err, payment.ErrReferenceMismatch) {
			ctx.JSON(http.StatusNotFound, models.NewErrorWithCode("Payment reference not found", "NOT_FOUND"))
			return
		}
		if errors.Is(err, payment.ErrPaymentNotSettled) {
			ctx.JSON(http.StatusAccepted, models.NewSuccess("Payment is not settled yet", gin.H{"reference": reference}))
			return
		}
		p.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusBadGateway, models.NewError("Unable to confirm payment"))
		return
	}

	ctx.JSON(http.StatusOK, models.NewSuccess("Wallet funded", toTransactionResponse(entry)))
}

// webhook settles asynchronous processor events. The signature over the raw
// body is checked before the payload is trusted; a 200 is returned for events
// this service does not handle so the processor stops retrying them.
func (p *Payments) webhook(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, models.NewError("Unreadable payload"))
		return
	}

	signature := ctx.GetHeader("x-paystack-signature")
	if signature == "" || !p.server.funding.VerifySignature(body, signature) {
		p.server.logger.WithField("ip", ctx.ClientIP()).Warn("rejected webhook with bad signature")
		ctx.JSON(http.StatusUnauthorized, models.NewError("Invalid signature"))
		return
	}

	var event fiat.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		ctx.JSON(http.StatusBadRequest, models.NewError("Malformed payload"))
		return
	}

	// The wallet comes from the pending entry bound to the reference at
	// initialize time, not from anything in the payload.
	if err := p.server.funding.HandleWebhook(ctx, &event); err != nil {
		p.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}

	ctx.JSON(http.StatusOK, models.NewSuccess("Processed", nil))
}
