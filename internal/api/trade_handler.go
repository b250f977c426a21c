package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/curvemargin/marginbook/internal/archive"
	"github.com/curvemargin/marginbook/internal/events"
	"github.com/curvemargin/marginbook/internal/kvstore"
	"github.com/curvemargin/marginbook/internal/metrics"
	"github.com/curvemargin/marginbook/internal/orderbook"
	"github.com/curvemargin/marginbook/internal/params"
	"github.com/curvemargin/marginbook/internal/tradeengine"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// TradeHandler exposes the trade engine's spot and margin settlement
// operations. Every endpoint loads both sides of a mint's book fresh,
// computes a plan, applies it through one batch, and reports the
// outcome to metrics before responding.
type TradeHandler struct {
	books         *orderbook.Store
	archive       *archive.Store
	metrics       *metrics.EngineMetrics
	publisher     *events.Publisher
	paramsStore   *params.Store
	breaker       *KVBreaker
	logger        *zap.Logger
	defaultParams tradeengine.Params
}

// NewTradeHandler builds a TradeHandler over the given stores.
// publisher and paramsStore may be nil: with no publisher, settled
// trades are not fanned out; with no params store, every trade falls
// back to defaultParams instead of a freshly read admin_params row.
func NewTradeHandler(books *orderbook.Store, archive *archive.Store, em *metrics.EngineMetrics, publisher *events.Publisher, paramsStore *params.Store, logger *zap.Logger, defaultParams tradeengine.Params) *TradeHandler {
	return &TradeHandler{
		books:         books,
		archive:       archive,
		metrics:       em,
		publisher:     publisher,
		paramsStore:   paramsStore,
		breaker:       NewKVBreaker("trade_engine"),
		logger:        logger,
		defaultParams: defaultParams,
	}
}

// tradeParams reads the current admin_params row fresh for every
// trade, per §1's requirement that the engine treat it as opaque
// configuration rather than state it caches; falls back to
// defaultParams if the row is unavailable.
func (h *TradeHandler) tradeParams() tradeengine.Params {
	if h.paramsStore == nil {
		return h.defaultParams
	}
	admin, err := h.paramsStore.LoadAdmin()
	if err != nil {
		h.logger.Warn("falling back to default trade params", zap.Error(err))
		return h.defaultParams
	}
	return tradeengine.Params{
		FeeBps:             admin.DefaultFeeBps,
		MaxTokenDifference: h.defaultParams.MaxTokenDifference,
	}
}

// RegisterRoutes wires the trade endpoints under router.
func (h *TradeHandler) RegisterRoutes(router *gin.RouterGroup, auth gin.HandlerFunc) {
	trade := router.Group("/mints/:mint")
	trade.Use(auth)
	{
		trade.POST("/buy", h.PlanBuy)
		trade.POST("/sell", h.PlanSell)
		trade.POST("/positions/long", h.OpenLong)
		trade.POST("/positions/short", h.OpenShort)
		trade.POST("/positions/:id/close-long", h.CloseLong)
		trade.POST("/positions/:id/close-short", h.CloseShort)
	}
}

type priceRequest struct {
	CurrentPrice string `json:"current_price" binding:"required"`
}

type buyRequest struct {
	priceRequest
	TargetTokenAmount uint64 `json:"target_token_amount" binding:"required"`
	MaxSolAmount      uint64 `json:"max_sol_amount" binding:"required"`
}

// PlanBuy handles POST /mints/:mint/buy: a spot buy of exactly
// target_token_amount tokens, settled against the short book.
//
// @Summary Plan and settle a spot buy
// @Description Buy exactly target_token_amount tokens against the short book, walking the curve and liquidating any crossed slots
// @Tags Trade
// @Accept json
// @Produce json
// @Param mint path string true "mint address (hex, 64 chars)"
// @Param request body buyRequest true "buy request"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Failure 409 {object} Envelope
// @Router /v1/mints/{mint}/buy [post]
func (h *TradeHandler) PlanBuy(c *gin.Context) {
	mint := c.Param("mint")
	var req buyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}
	currentPrice, err := parsePriceHex(req.CurrentPrice)
	if err != nil {
		Fail(c, err)
		return
	}

	start := nowUnix()
	result, err := h.breaker.Do(func() (interface{}, error) {
		upBook, err := h.books.Load(mint, orderbook.Up)
		if err != nil {
			return nil, err
		}
		plan, err := tradeengine.PlanBuy(upBook, currentPrice, 0, req.TargetTokenAmount, req.MaxSolAmount, h.tradeParams())
		if err != nil {
			return nil, err
		}
		batch := kvstore.NewBatch()
		if err := tradeengine.ApplyBuyPlan(h.books, h.archive, batch, mint, upBook, plan, nowUnix()); err != nil {
			return nil, err
		}
		if err := h.books.Write(batch); err != nil {
			return nil, err
		}
		return plan, nil
	})
	h.observe("buy", start, result, err)
	if err != nil {
		Fail(c, err)
		return
	}
	if plan, ok := result.(tradeengine.BuyPlan); ok && h.publisher != nil {
		h.publisher.Publish(c.Request.Context(), events.TradeSettledFromBuy(mint, plan, nowUnix()))
	}
	Success(c, result)
}

type sellRequest struct {
	priceRequest
	SellTokenAmount uint64 `json:"sell_token_amount" binding:"required"`
	MinSolOutput    uint64 `json:"min_sol_output" binding:"required"`
}

// PlanSell handles POST /mints/:mint/sell: a spot sell of exactly
// sell_token_amount tokens, settled against the long book.
//
// @Summary Plan and settle a spot sell
// @Description Sell exactly sell_token_amount tokens against the long book, walking the curve and liquidating any crossed slots
// @Tags Trade
// @Accept json
// @Produce json
// @Param mint path string true "mint address (hex, 64 chars)"
// @Param request body sellRequest true "sell request"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Failure 409 {object} Envelope
// @Router /v1/mints/{mint}/sell [post]
func (h *TradeHandler) PlanSell(c *gin.Context) {
	mint := c.Param("mint")
	var req sellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}
	currentPrice, err := parsePriceHex(req.CurrentPrice)
	if err != nil {
		Fail(c, err)
		return
	}

	start := nowUnix()
	result, err := h.breaker.Do(func() (interface{}, error) {
		downBook, err := h.books.Load(mint, orderbook.Down)
		if err != nil {
			return nil, err
		}
		plan, err := tradeengine.PlanSell(downBook, currentPrice, 0, req.SellTokenAmount, req.MinSolOutput, h.tradeParams())
		if err != nil {
			return nil, err
		}
		batch := kvstore.NewBatch()
		if err := tradeengine.ApplySellPlan(h.books, h.archive, batch, mint, downBook, plan, nowUnix()); err != nil {
			return nil, err
		}
		if err := h.books.Write(batch); err != nil {
			return nil, err
		}
		return plan, nil
	})
	h.observe("sell", start, result, err)
	if err != nil {
		Fail(c, err)
		return
	}
	if plan, ok := result.(tradeengine.SellPlan); ok && h.publisher != nil {
		h.publisher.Publish(c.Request.Context(), events.TradeSettledFromSell(mint, plan, nowUnix()))
	}
	Success(c, result)
}

type openLongRequest struct {
	priceRequest
	TargetTokenAmount uint64 `json:"target_token_amount" binding:"required"`
	MarginSolAmount   uint64 `json:"margin_sol_amount" binding:"required"`
	BorrowAmount      uint64 `json:"borrow_amount" binding:"required"`
	StopLossPrice     string `json:"stop_loss_price" binding:"required"`
	BorrowFeeBps      uint16 `json:"borrow_fee_bps"`
	User              string `json:"user" binding:"required,len=64"`
	OrderID           uint64 `json:"order_id" binding:"required"`
	StartTime         uint32 `json:"start_time"`
	EndTime           uint32 `json:"end_time"`
}

// OpenLong handles POST /mints/:mint/positions/long.
//
// @Summary Open a margin long
// @Description Buy against the short book with borrowed SOL, then insert the resulting order into the long book behind its stop-loss price
// @Tags Trade
// @Accept json
// @Produce json
// @Param mint path string true "mint address (hex, 64 chars)"
// @Param request body openLongRequest true "open long request"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Failure 409 {object} Envelope
// @Router /v1/mints/{mint}/positions/long [post]
func (h *TradeHandler) OpenLong(c *gin.Context) {
	mint := c.Param("mint")
	var req openLongRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}
	currentPrice, err := parsePriceHex(req.CurrentPrice)
	if err != nil {
		Fail(c, err)
		return
	}
	stopLossPrice, err := parsePriceHex(req.StopLossPrice)
	if err != nil {
		Fail(c, err)
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		Fail(c, err)
		return
	}

	start := nowUnix()
	result, err := h.breaker.Do(func() (interface{}, error) {
		upBook, err := h.books.Load(mint, orderbook.Up)
		if err != nil {
			return nil, err
		}
		downBook, err := h.books.Load(mint, orderbook.Down)
		if err != nil {
			return nil, err
		}
		plan, err := tradeengine.PlanOpenLong(upBook, downBook, currentPrice, req.TargetTokenAmount,
			req.MarginSolAmount, req.BorrowAmount, stopLossPrice, req.BorrowFeeBps, user, req.OrderID,
			req.StartTime, req.EndTime, h.tradeParams())
		if err != nil {
			return nil, err
		}

		batch := kvstore.NewBatch()
		if err := tradeengine.ApplyBuyPlan(h.books, h.archive, batch, mint, upBook, plan.Buy, nowUnix()); err != nil {
			return nil, err
		}
		slot, err := tradeengine.InsertAfterPostLiquidation(h.books, batch, mint, orderbook.Down, downBook, plan.RefIndex, plan.NewOrder, nowUnix())
		if err != nil {
			return nil, err
		}
		if err := h.books.Write(batch); err != nil {
			return nil, err
		}
		return gin.H{"buy": plan.Buy, "slot_index": slot}, nil
	})
	h.observe("open_long", start, result, err)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

type openShortRequest struct {
	priceRequest
	SellTokenAmount uint64 `json:"sell_token_amount" binding:"required"`
	MarginSolAmount uint64 `json:"margin_sol_amount" binding:"required"`
	BorrowAmount    uint64 `json:"borrow_amount" binding:"required"`
	StopLossPrice   string `json:"stop_loss_price" binding:"required"`
	MinSolOutput    uint64 `json:"min_sol_output"`
	BorrowFeeBps    uint16 `json:"borrow_fee_bps"`
	User            string `json:"user" binding:"required,len=64"`
	OrderID         uint64 `json:"order_id" binding:"required"`
	StartTime       uint32 `json:"start_time"`
	EndTime         uint32 `json:"end_time"`
}

// OpenShort handles POST /mints/:mint/positions/short.
//
// @Summary Open a margin short
// @Description Sell against the long book with borrowed tokens, then insert the resulting order into the short book behind its stop-loss price
// @Tags Trade
// @Accept json
// @Produce json
// @Param mint path string true "mint address (hex, 64 chars)"
// @Param request body openShortRequest true "open short request"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Failure 409 {object} Envelope
// @Router /v1/mints/{mint}/positions/short [post]
func (h *TradeHandler) OpenShort(c *gin.Context) {
	mint := c.Param("mint")
	var req openShortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}
	currentPrice, err := parsePriceHex(req.CurrentPrice)
	if err != nil {
		Fail(c, err)
		return
	}
	stopLossPrice, err := parsePriceHex(req.StopLossPrice)
	if err != nil {
		Fail(c, err)
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		Fail(c, err)
		return
	}

	start := nowUnix()
	result, err := h.breaker.Do(func() (interface{}, error) {
		downBook, err := h.books.Load(mint, orderbook.Down)
		if err != nil {
			return nil, err
		}
		upBook, err := h.books.Load(mint, orderbook.Up)
		if err != nil {
			return nil, err
		}
		plan, err := tradeengine.PlanOpenShort(downBook, upBook, currentPrice, req.SellTokenAmount,
			req.MarginSolAmount, req.BorrowAmount, stopLossPrice, req.MinSolOutput, req.BorrowFeeBps,
			user, req.OrderID, req.StartTime, req.EndTime, h.tradeParams())
		if err != nil {
			return nil, err
		}

		batch := kvstore.NewBatch()
		if err := tradeengine.ApplySellPlan(h.books, h.archive, batch, mint, downBook, plan.Sell, nowUnix()); err != nil {
			return nil, err
		}
		slot, err := tradeengine.InsertAfterPostLiquidation(h.books, batch, mint, orderbook.Up, upBook, plan.RefIndex, plan.NewOrder, nowUnix())
		if err != nil {
			return nil, err
		}
		if err := h.books.Write(batch); err != nil {
			return nil, err
		}
		return gin.H{"sell": plan.Sell, "slot_index": slot}, nil
	})
	h.observe("open_short", start, result, err)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

type closeRequest struct {
	priceRequest
	MinSolOutput uint64 `json:"min_sol_output"`
	MaxSolAmount uint64 `json:"max_sol_amount"`
}

// CloseLong handles POST /mints/:mint/positions/:id/close-long.
//
// @Summary Close a margin long
// @Description Sell a long position's tokens back against the long book and settle its borrow
// @Tags Trade
// @Accept json
// @Produce json
// @Param mint path string true "mint address (hex, 64 chars)"
// @Param id path int true "order id"
// @Param request body closeRequest true "close request"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Failure 404 {object} Envelope
// @Router /v1/mints/{mint}/positions/{id}/close-long [post]
func (h *TradeHandler) CloseLong(c *gin.Context) {
	mint := c.Param("mint")
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}
	currentPrice, err := parsePriceHex(req.CurrentPrice)
	if err != nil {
		Fail(c, err)
		return
	}

	start := nowUnix()
	result, err := h.breaker.Do(func() (interface{}, error) {
		downBook, err := h.books.Load(mint, orderbook.Down)
		if err != nil {
			return nil, err
		}
		_, order, err := downBook.GetOrderByID(parseOrderIDParam(c))
		if err != nil {
			return nil, err
		}
		plan, err := tradeengine.PlanCloseLong(downBook, currentPrice, order, req.MinSolOutput, h.tradeParams())
		if err != nil {
			return nil, err
		}
		batch := kvstore.NewBatch()
		if err := tradeengine.ApplySellPlan(h.books, h.archive, batch, mint, downBook, plan, nowUnix()); err != nil {
			return nil, err
		}
		if err := h.books.Write(batch); err != nil {
			return nil, err
		}
		return plan, nil
	})
	h.observe("close_long", start, result, err)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// CloseShort handles POST /mints/:mint/positions/:id/close-short.
//
// @Summary Close a margin short
// @Description Buy back a short position's tokens against the short book and settle its borrow
// @Tags Trade
// @Accept json
// @Produce json
// @Param mint path string true "mint address (hex, 64 chars)"
// @Param id path int true "order id"
// @Param request body closeRequest true "close request"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Failure 404 {object} Envelope
// @Router /v1/mints/{mint}/positions/{id}/close-short [post]
func (h *TradeHandler) CloseShort(c *gin.Context) {
	mint := c.Param("mint")
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}
	currentPrice, err := parsePriceHex(req.CurrentPrice)
	if err != nil {
		Fail(c, err)
		return
	}

	start := nowUnix()
	result, err := h.breaker.Do(func() (interface{}, error) {
		upBook, err := h.books.Load(mint, orderbook.Up)
		if err != nil {
			return nil, err
		}
		_, order, err := upBook.GetOrderByID(parseOrderIDParam(c))
		if err != nil {
			return nil, err
		}
		plan, err := tradeengine.PlanCloseShort(upBook, currentPrice, order, req.MaxSolAmount, h.tradeParams())
		if err != nil {
			return nil, err
		}
		batch := kvstore.NewBatch()
		if err := tradeengine.ApplyBuyPlan(h.books, h.archive, batch, mint, upBook, plan, nowUnix()); err != nil {
			return nil, err
		}
		if err := h.books.Write(batch); err != nil {
			return nil, err
		}
		return plan, nil
	})
	h.observe("close_short", start, result, err)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

func parseOrderIDParam(c *gin.Context) uint64 {
	var id uint64
	_, _ = fmt.Sscan(c.Param("id"), &id)
	return id
}

// observe records a settled (or failed) plan's outcome to metrics and
// logs it under a k-sortable correlation id, so a trade's full
// lifecycle can be grepped out of the logs in the order it happened.
func (h *TradeHandler) observe(side string, startedAt uint32, result interface{}, err error) {
	correlationID := ksuid.New().String()
	elapsed := float64(nowUnix() - startedAt)
	if err != nil {
		h.metrics.ObservePlanError(string(apperrors.Code(err)))
		h.logger.Warn("trade plan failed",
			zap.String("correlation_id", correlationID),
			zap.String("side", side),
			zap.Error(err))
		return
	}
	var liquidations int
	var liquidateFeeSol uint64
	switch plan := result.(type) {
	case tradeengine.BuyPlan:
		liquidations = len(plan.LiquidateIndices)
		liquidateFeeSol = plan.LiquidateFeeSol
	case tradeengine.SellPlan:
		liquidations = len(plan.LiquidateIndices)
		liquidateFeeSol = plan.LiquidateFeeSol
	}
	h.metrics.ObservePlan(side, elapsed, liquidations, liquidateFeeSol)
	h.logger.Info("trade plan settled",
		zap.String("correlation_id", correlationID),
		zap.String("side", side),
		zap.Int("liquidations", liquidations),
		zap.Uint64("liquidate_fee_sol", liquidateFeeSol))
}
