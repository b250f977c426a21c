// Package tradeengine computes settlement plans for spot buys/sells and
// margin opens/closes: it walks the order book from the current price,
// decides which margin positions must be liquidated, and returns an
// in-memory plan the caller applies through a single KV batch alongside
// the order book's own mutation. The engine holds no state of its own.
package tradeengine

import (
	"github.com/curvemargin/marginbook/internal/curve"
	"github.com/curvemargin/marginbook/internal/orderbook"
)

// BuyPlan is the settlement plan for a target-token-amount buy.
type BuyPlan struct {
	RequiredSol        uint64
	OutputToken        uint64
	TargetPrice        curve.Price
	FeeSol             uint64
	LiquidateFeeSol    uint64
	LiquidateIndices   []uint16
	BorrowTokenReserve uint64 // credited back to the virtual token reserve
}

// SellPlan is the settlement plan for a target-token-amount sell.
type SellPlan struct {
	SellToken         uint64
	OutputSol         uint64
	TargetPrice       curve.Price
	FeeSol            uint64
	LiquidateFeeSol   uint64
	LiquidateIndices  []uint16
	BorrowSolReserve  uint64 // credited back to the virtual sol reserve
}

// Params bundles the per-trade tunables normally sourced from
// internal/params' admin_params row, read fresh for every trade.
type Params struct {
	FeeBps             uint16
	MaxTokenDifference uint64
}

func defaultParams(p Params) Params {
	if p.MaxTokenDifference == 0 {
		p.MaxTokenDifference = DefaultMaxTokenDifference
	}
	return p
}

// liveOrders returns every live slot in list order, skipping tombstones;
// Book.Traverse already does this since it walks next_order pointers
// which only ever reference live slots.
func liveOrders(book *orderbook.Book) []orderbook.IndexedOrder {
	return book.GetAllActiveOrders()
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
