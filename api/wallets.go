package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/everifyng/everify-backend/models"
	"github.com/everifyng/everify-backend/services/ledger"
)

type Wallets struct {
	server *Server
}

func (w Wallets) router(server *Server) {
	w.server = server

	serverGroupV1 := server.router.Group("/api/v1/wallet")
	serverGroupV1.Use(AuthenticatedMiddleware())
	serverGroupV1.GET("", w.balance)
	serverGroupV1.GET("transactions", w.transactions)
}

func (w *Wallets) balance(ctx *gin.Context) {
	userID := ctx.GetInt64("user_id")
	balance, err := w.server.ledger.Balance(ctx, userID)
	if err != nil {
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}
	ctx.JSON(http.StatusOK, models.NewSuccess("Balance retrieved", balance))
}

type transactionResponse struct {
	Reference   string `json:"reference"`
	Type        string `json:"type"`
	Category    string `json:"category"`
	Amount      string `json:"amount"`
	Balance     string `json:"balance_after"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func toTransactionResponse(t *ledger.Transaction) transactionResponse {
	return transactionResponse{
		Reference:   t.Reference,
		Type:        string(t.Type),
		Category:    string(t.Category),
		Amount:      t.Amount.StringFixed(2),
		Balance:     t.BalanceAfter.Add(t.BonusBalanceAfter).StringFixed(2),
		Description: t.Description,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (w *Wallets) transactions(ctx *gin.Context) {
	userID := ctx.GetInt64("user_id")
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(ctx.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}

	items, total, err := w.server.ledger.ListTransactions(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, models.NewError("Something went wrong"))
		return
	}

	out := make([]transactionResponse, 0, len(items))
	for i := range items {
		out = append(out, toTransactionResponse(&items[i]))
	}
	ctx.JSON(http.StatusOK, models.NewSuccess("Transactions retrieved", gin.H{
		"items": out,
		"total": total,
		"page":  page,
	}))
}
