package api

import (
	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginswagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/curvemargin/marginbook/internal/archive"
	"github.com/curvemargin/marginbook/internal/config"
	"github.com/curvemargin/marginbook/internal/events"
	"github.com/curvemargin/marginbook/internal/metrics"
	"github.com/curvemargin/marginbook/internal/orderbook"
	"github.com/curvemargin/marginbook/internal/params"
	"github.com/curvemargin/marginbook/internal/tradeengine"
)

// NewRouter assembles the gin engine for the order book and trade
// engine HTTP surface: request-id, CORS, and rate-limit middleware are
// global; bearer auth guards every mutating route. publisher and
// paramsStore may be nil.
func NewRouter(cfg *config.Config, books *orderbook.Store, arch *archive.Store, em *metrics.EngineMetrics, publisher *events.Publisher, paramsStore *params.Store, logger *zap.Logger) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(CORS(cfg.API.AllowedOrigins))

	rateLimit, err := RateLimit(cfg.API.RateLimit)
	if err != nil {
		return nil, err
	}
	r.Use(rateLimit)

	auth := AuthClaims([]byte(cfg.API.JWTSecret))

	tradeParams := tradeengine.Params{
		FeeBps:             cfg.Trade.DefaultFeeBps,
		MaxTokenDifference: cfg.Trade.MaxTokenDifference,
	}

	orderHandler := NewOrderHandler(books, logger)
	tradeHandler := NewTradeHandler(books, arch, em, publisher, paramsStore, logger, tradeParams)

	v1 := r.Group("/v1")
	orderHandler.RegisterRoutes(v1, auth)
	tradeHandler.RegisterRoutes(v1, auth)

	r.GET("/healthz", func(c *gin.Context) { Success(c, gin.H{"status": "ok"}) })
	r.GET("/swagger/*any", ginswagger.WrapHandler(swaggerfiles.Handler))

	return r, nil
}
