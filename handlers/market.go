package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"portfolio-tracker/analytics"
)

const randomQuoteCount = 5

type MarketHandler struct {
	analytics *analytics.Service
	log       zerolog.Logger
}

func NewMarketHandler(svc *analytics.Service, log zerolog.Logger) *MarketHandler {
	return &MarketHandler{
		analytics: svc,
		log:       log.With().Str("handler", "market").Logger(),
	}
}

// StockData returns a snapshot of ?symbol (default AAPL) over ?range
// (default 1d).
func (h *MarketHandler) StockData(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.DefaultQuery("symbol", "AAPL")))
	period := strings.TrimSpace(c.DefaultQuery("range", "1d"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "symbol is required"})
		return
	}

	snap, err := h.analytics.StockSnapshot(c.Request.Context(), symbol, period)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *MarketHandler) RandomStocks(c *gin.Context) {
	c.JSON(http.StatusOK, h.analytics.RandomQuotes(c.Request.Context(), randomQuoteCount))
}

func (h *MarketHandler) StockIndices(c *gin.Context) {
	c.JSON(http.StatusOK, h.analytics.Indices(c.Request.Context()))
}

func (h *MarketHandler) AnnualizedReturn(c *gin.Context) {
	c.JSON(http.StatusOK, h.analytics.AnnualizedReturns(c.Request.Context()))
}
