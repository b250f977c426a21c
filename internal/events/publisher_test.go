package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/curvemargin/marginbook/internal/orderbook"
	"github.com/curvemargin/marginbook/internal/tradeengine"
)

func TestTradeSettledFromBuy(t *testing.T) {
	plan := tradeengine.BuyPlan{
		RequiredSol:      1000,
		OutputToken:      2000,
		FeeSol:           10,
		LiquidateIndices: []uint16{3, 4},
		LiquidateFeeSol:  5,
	}
	evt := TradeSettledFromBuy("mintA", plan, 123)

	assert.Equal(t, "mintA", evt.Mint)
	assert.Equal(t, "buy", evt.Side)
	assert.Equal(t, orderbook.Up, evt.Direction)
	assert.Equal(t, uint64(1000), evt.InputAmount)
	assert.Equal(t, uint64(2000), evt.OutputAmount)
	assert.Equal(t, uint64(10), evt.FeeSol)
	assert.Equal(t, []uint16{3, 4}, evt.LiquidatedOrders)
	assert.Equal(t, uint64(5), evt.LiquidateFeeSol)
	assert.Equal(t, uint32(123), evt.SettledAt)
}

func TestTradeSettledFromSell(t *testing.T) {
	plan := tradeengine.SellPlan{
		SellToken:        500,
		OutputSol:        700,
		FeeSol:           7,
		LiquidateIndices: []uint16{1},
		LiquidateFeeSol:  2,
	}
	evt := TradeSettledFromSell("mintB", plan, 456)

	assert.Equal(t, "mintB", evt.Mint)
	assert.Equal(t, "sell", evt.Side)
	assert.Equal(t, orderbook.Down, evt.Direction)
	assert.Equal(t, uint64(500), evt.InputAmount)
	assert.Equal(t, uint64(700), evt.OutputAmount)
	assert.Equal(t, uint64(7), evt.FeeSol)
	assert.Equal(t, []uint16{1}, evt.LiquidatedOrders)
	assert.Equal(t, uint64(2), evt.LiquidateFeeSol)
	assert.Equal(t, uint32(456), evt.SettledAt)
}
