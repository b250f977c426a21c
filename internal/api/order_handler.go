package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/curvemargin/marginbook/internal/curve"
	"github.com/curvemargin/marginbook/internal/kvstore"
	"github.com/curvemargin/marginbook/internal/orderbook"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// OrderHandler exposes the order book engine's insert/update/remove/
// traverse surface over HTTP. It owns no state beyond the KV-backed
// orderbook.Store; every call loads, mutates an in-memory copy, and
// commits through a single batch.
type OrderHandler struct {
	store    *orderbook.Store
	breaker  *KVBreaker
	logger   *zap.Logger
	validate *validator.Validate
}

// NewOrderHandler builds an OrderHandler over store.
func NewOrderHandler(store *orderbook.Store, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		store:    store,
		breaker:  NewKVBreaker("order_book"),
		logger:   logger,
		validate: validator.New(),
	}
}

// RegisterRoutes wires the order book endpoints under router.
func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup, auth gin.HandlerFunc) {
	books := router.Group("/books/:mint/:direction")
	{
		books.GET("/orders", h.ListActive)
		books.GET("/orders/:id", h.GetOrderByID)
	}

	mutating := router.Group("/books/:mint/:direction")
	mutating.Use(auth)
	{
		mutating.POST("/orders", h.InsertAfter)
		mutating.PATCH("/orders/:index", h.UpdateOrder)
		mutating.POST("/remove-batch", h.BatchRemove)
	}
}

func directionFromParam(s string) (orderbook.Direction, bool) {
	switch s {
	case "up":
		return orderbook.Up, true
	case "dn", "down":
		return orderbook.Down, true
	default:
		return 0, false
	}
}

// insertOrderRequest is the wire shape for opening a new slot directly
// (used by maintenance/admin tooling; ordinary trading flows insert via
// the trade-engine open endpoints instead).
type insertOrderRequest struct {
	RefIndex       uint16 `json:"ref_index"`
	User           string `json:"user" binding:"required,len=64"`
	OrderID        uint64 `json:"order_id" binding:"required"`
	OrderType      uint8  `json:"order_type" binding:"required,oneof=1 2"`
	LockLpStart    string `json:"lock_lp_start_price" binding:"required"`
	LockLpEnd      string `json:"lock_lp_end_price" binding:"required"`
	OpenPrice      string `json:"open_price" binding:"required"`
	LockLpSol      uint64 `json:"lock_lp_sol_amount"`
	LockLpToken    uint64 `json:"lock_lp_token_amount"`
	NextLpSol      uint64 `json:"next_lp_sol_amount"`
	NextLpToken    uint64 `json:"next_lp_token_amount"`
	BorrowAmount   uint64 `json:"borrow_amount"`
	BorrowFeeBps   uint16 `json:"borrow_fee_bps"`
	StartTime      uint32 `json:"start_time"`
	EndTime        uint32 `json:"end_time"`
}

func parsePriceHex(s string) (curve.Price, error) {
	raw, err := hexDecode32(s)
	if err != nil {
		return curve.Price{}, err
	}
	return curve.PriceFromBytes16LE(raw), nil
}

// InsertAfter handles POST /books/:mint/:direction/orders.
//
// @Summary Insert order slot
// @Description Insert a new margin order slot after ref_index in the given book
// @Tags Orders
// @Accept json
// @Produce json
// @Param mint path string true "mint address (hex, 64 chars)"
// @Param direction path string true "book direction" Enums(up, dn)
// @Param ref_index query string false "use 'head' to insert at the list head"
// @Param request body insertOrderRequest true "order slot"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Failure 500 {object} Envelope
// @Router /v1/books/{mint}/{direction}/orders [post]
func (h *OrderHandler) InsertAfter(c *gin.Context) {
	mint := c.Param("mint")
	dir, ok := directionFromParam(c.Param("direction"))
	if !ok {
		Fail(c, apperrors.New(apperrors.ErrInvalidSlotIndex, "unknown direction"))
		return
	}

	var req insertOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}

	user, err := parseAddress(req.User)
	if err != nil {
		Fail(c, err)
		return
	}
	startPrice, err := parsePriceHex(req.LockLpStart)
	if err != nil {
		Fail(c, err)
		return
	}
	endPrice, err := parsePriceHex(req.LockLpEnd)
	if err != nil {
		Fail(c, err)
		return
	}
	openPrice, err := parsePriceHex(req.OpenPrice)
	if err != nil {
		Fail(c, err)
		return
	}

	order := orderbook.MarginOrder{
		User:                user,
		OrderID:             req.OrderID,
		OrderType:           orderbook.OrderType(req.OrderType),
		LockLpSolAmount:     req.LockLpSol,
		LockLpTokenAmount:   req.LockLpToken,
		NextLpSolAmount:     req.NextLpSol,
		NextLpTokenAmount:   req.NextLpToken,
		BorrowAmount:        req.BorrowAmount,
		BorrowFee:           req.BorrowFeeBps,
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
	}
	order.SetStartPrice(startPrice)
	order.SetEndPrice(endPrice)
	order.SetOpenPrice(openPrice)

	refIndex := req.RefIndex
	if c.Query("ref_index") == "head" {
		refIndex = orderbook.NoSlot
	}

	result, err := h.breaker.Do(func() (interface{}, error) {
		book, err := h.store.Load(mint, dir)
		if err != nil {
			return nil, err
		}
		batch := kvstore.NewBatch()
		idx, err := h.store.StageInsertAfter(batch, mint, dir, book, refIndex, order, nowUnix())
		if err != nil {
			return nil, err
		}
		if err := h.store.Write(batch); err != nil {
			return nil, err
		}
		return idx, nil
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"slot_index": result})
}

// GetOrderByID handles GET /books/:mint/:direction/orders/:id.
//
// @Summary Get order by id
// @Description Look up a single active order by its on-chain order id
// @Tags Orders
// @Produce json
// @Param mint path string true "mint address (hex, 64 chars)"
// @Param direction path string true "book direction" Enums(up, dn)
// @Param id path int true "order id"
// @Success 200 {object} Envelope
// @Failure 404 {object} Envelope
// @Router /v1/books/{mint}/{direction}/orders/{id} [get]
func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	mint := c.Param("mint")
	dir, ok := directionFromParam(c.Param("direction"))
	if !ok {
		Fail(c, apperrors.New(apperrors.ErrInvalidSlotIndex, "unknown direction"))
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, apperrors.New(apperrors.ErrInvalidOrderId, "order id must be numeric"))
		return
	}

	book, err := h.store.Load(mint, dir)
	if err != nil {
		Fail(c, err)
		return
	}
	idx, order, err := book.GetOrderByID(id)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"slot_index": idx, "order": order})
}

// ListActive handles GET /books/:mint/:direction/orders.
//
// @Summary List active orders
// @Description List every active order slot in a book, in list order
// @Tags Orders
// @Produce json
// @Param mint path string true "mint address (hex, 64 chars)"
// @Param direction path string true "book direction" Enums(up, dn)
// @Success 200 {object} Envelope
// @Failure 500 {object} Envelope
// @Router /v1/books/{mint}/{direction}/orders [get]
func (h *OrderHandler) ListActive(c *gin.Context) {
	mint := c.Param("mint")
	dir, ok := directionFromParam(c.Param("direction"))
	if !ok {
		Fail(c, apperrors.New(apperrors.ErrInvalidSlotIndex, "unknown direction"))
		return
	}
	book, err := h.store.Load(mint, dir)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, book.GetAllActiveOrders())
}

// updateOrderRequest carries the optional monetary fields update_order accepts.
type updateOrderRequest struct {
	ExpectedVersion     uint32  `json:"expected_version" binding:"required"`
	MarginSolAmount     *uint64 `json:"margin_sol_amount"`
	BorrowAmount        *uint64 `json:"borrow_amount"`
	PositionAssetAmount *uint64 `json:"position_asset_amount"`
	RealizedSolAmount   *uint64 `json:"realized_sol_amount"`
}

// UpdateOrder handles PATCH /books/:mint/:direction/orders/:index.
//
// @Summary Update order slot
// @Description Apply an optimistic-locked delta to a single order slot
// @Tags Orders
// @Accept json
// @Produce json
// @Param mint path string true "mint address (hex, 64 chars)"
// @Param direction path string true "book direction" Enums(up, dn)
// @Param index path int true "slot index"
// @Param request body updateOrderRequest true "update delta"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Failure 409 {object} Envelope
// @Router /v1/books/{mint}/{direction}/orders/{index} [patch]
func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	mint := c.Param("mint")
	dir, ok := directionFromParam(c.Param("direction"))
	if !ok {
		Fail(c, apperrors.New(apperrors.ErrInvalidSlotIndex, "unknown direction"))
		return
	}
	index, err := strconv.ParseUint(c.Param("index"), 10, 16)
	if err != nil {
		Fail(c, apperrors.New(apperrors.ErrInvalidSlotIndex, "index must be numeric"))
		return
	}

	var req updateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}

	result, err := h.breaker.Do(func() (interface{}, error) {
		book, err := h.store.Load(mint, dir)
		if err != nil {
			return nil, err
		}
		batch := kvstore.NewBatch()
		delta := orderbook.UpdateDelta{
			MarginSolAmount:     req.MarginSolAmount,
			BorrowAmount:        req.BorrowAmount,
			PositionAssetAmount: req.PositionAssetAmount,
			RealizedSolAmount:   req.RealizedSolAmount,
		}
		v, err := h.store.StageUpdateOrder(batch, mint, dir, book, uint16(index), req.ExpectedVersion, delta, nowUnix())
		if err != nil {
			return nil, err
		}
		if err := h.store.Write(batch); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"version": result})
}

type batchRemoveRequest struct {
	Indices []uint16 `json:"indices" binding:"required,min=1,max=20"`
}

// BatchRemove handles POST /books/:mint/:direction/remove-batch.
//
// @Summary Batch remove order slots
// @Description Remove up to 20 order slots from a book in one commit
// @Tags Orders
// @Accept json
// @Produce json
// @Param mint path string true "mint address (hex, 64 chars)"
// @Param direction path string true "book direction" Enums(up, dn)
// @Param request body batchRemoveRequest true "slot indices to remove"
// @Success 200 {object} Envelope
// @Failure 400 {object} Envelope
// @Router /v1/books/{mint}/{direction}/remove-batch [post]
func (h *OrderHandler) BatchRemove(c *gin.Context) {
	mint := c.Param("mint")
	dir, ok := directionFromParam(c.Param("direction"))
	if !ok {
		Fail(c, apperrors.New(apperrors.ErrInvalidSlotIndex, "unknown direction"))
		return
	}
	var req batchRemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Msg: err.Error()})
		return
	}

	result, err := h.breaker.Do(func() (interface{}, error) {
		book, err := h.store.Load(mint, dir)
		if err != nil {
			return nil, err
		}
		batch := kvstore.NewBatch()
		removed, err := h.store.StageBatchRemove(batch, mint, dir, book, req.Indices)
		if err != nil {
			return nil, err
		}
		if err := h.store.Write(batch); err != nil {
			return nil, err
		}
		return removed, nil
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}
