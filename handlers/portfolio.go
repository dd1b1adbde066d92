package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"portfolio-tracker/ledger"
	"portfolio-tracker/middleware"
	"portfolio-tracker/valuation"
)

type TradeInput struct {
	UserID   uint            `json:"user_id" binding:"required"`
	Ticker   string          `json:"ticker" binding:"required"`
	Quantity int64           `json:"quantity" binding:"required"`
	Price    decimal.Decimal `json:"price"`
}

func (in TradeInput) order() ledger.Order {
	return ledger.Order{UserID: in.UserID, Ticker: in.Ticker, Quantity: in.Quantity, Price: in.Price}
}

type PortfolioHandler struct {
	engine     *ledger.Engine
	aggregator *valuation.Aggregator
	log        zerolog.Logger
}

func NewPortfolioHandler(engine *ledger.Engine, aggregator *valuation.Aggregator, log zerolog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		engine:     engine,
		aggregator: aggregator,
		log:        log.With().Str("handler", "portfolio").Logger(),
	}
}

func (h *PortfolioHandler) BuyStock(c *gin.Context) {
	var input TradeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	if !authorizeUser(c, input.UserID) {
		return
	}

	receipt, err := h.engine.Buy(c.Request.Context(), input.order())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     fmt.Sprintf("Bought %d shares of %s.", receipt.Transaction.Quantity, receipt.Transaction.Ticker),
		"transaction": receipt.Transaction,
		"position":    receipt.Position,
	})
}

func (h *PortfolioHandler) SellStock(c *gin.Context) {
	var input TradeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}
	if !authorizeUser(c, input.UserID) {
		return
	}

	receipt, err := h.engine.Sell(c.Request.Context(), input.order())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     fmt.Sprintf("Sold %d shares of %s.", receipt.Transaction.Quantity, receipt.Transaction.Ticker),
		"transaction": receipt.Transaction,
		"position":    receipt.Position,
	})
}

func (h *PortfolioHandler) ViewPortfolio(c *gin.Context) {
	userID, ok := middleware.ParamUserID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "user_id must be a positive integer"})
		return
	}

	v, err := h.aggregator.Portfolio(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *PortfolioHandler) ViewTransactions(c *gin.Context) {
	userID, ok := middleware.ParamUserID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "user_id must be a positive integer"})
		return
	}

	txs, err := h.aggregator.Transactions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}
