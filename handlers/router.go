// Package handlers exposes the ledger, valuation and market services over HTTP.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"portfolio-tracker/analytics"
	"portfolio-tracker/auth"
	"portfolio-tracker/ledger"
	"portfolio-tracker/middleware"
	"portfolio-tracker/valuation"
)

// Pinger is a dependency checked by GET /health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type RouterConfig struct {
	Auth       *auth.Service
	Engine     *ledger.Engine
	Aggregator *valuation.Aggregator
	Analytics  *analytics.Service
	Log        zerolog.Logger

	// JWTSecret and AuthRequired gate the trading and portfolio routes.
	JWTSecret    string
	AuthRequired bool

	// Health lists named dependencies checked by GET /health.
	Health map[string]Pinger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(cfg.Log))

	authHandler := NewAuthHandler(cfg.Auth, cfg.Log)
	portfolioHandler := NewPortfolioHandler(cfg.Engine, cfg.Aggregator, cfg.Log)
	marketHandler := NewMarketHandler(cfg.Analytics, cfg.Log)

	router.GET("/health", health(cfg.Health))

	api := router.Group("/api")
	{
		api.POST("/register", authHandler.Register)
		api.POST("/login", authHandler.Login)
		api.POST("/oauth-register", authHandler.OAuthRegister)
		api.POST("/refresh", authHandler.Refresh)
		api.POST("/logout", authHandler.Logout)

		api.GET("/stock-data", marketHandler.StockData)
		api.GET("/stocks", marketHandler.RandomStocks)
		api.GET("/stock-indices", marketHandler.StockIndices)
		api.GET("/annualized-return", marketHandler.AnnualizedReturn)
	}

	trading := api.Group("")
	self := []gin.HandlerFunc{}
	if cfg.AuthRequired {
		trading.Use(middleware.JWTAuth(cfg.JWTSecret))
		self = append(self, middleware.RequireSelf(middleware.ParamUserID))
	}
	{
		trading.POST("/buy_stock", portfolioHandler.BuyStock)
		trading.POST("/sell_stock", portfolioHandler.SellStock)
		trading.GET("/view_portfolio/:user_id", append(self, portfolioHandler.ViewPortfolio)...)
		trading.GET("/view_transactions/:user_id", append(self, portfolioHandler.ViewTransactions)...)
	}

	return router
}

func health(deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps))
		for name, dep := range deps {
			if err := dep.PingContext(ctx); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": checks})
	}
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }
