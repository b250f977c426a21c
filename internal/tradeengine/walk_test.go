package tradeengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvemargin/marginbook/internal/curve"
	"github.com/curvemargin/marginbook/internal/orderbook"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

func testParams() Params {
	return Params{FeeBps: 100, MaxTokenDifference: DefaultMaxTokenDifference}
}

func TestPlanBuyEmptyBookFastPath(t *testing.T) {
	book := orderbook.NewBook(orderbook.Up, [32]byte{}, 1)
	start := curve.InitialPrice()

	plan, err := PlanBuy(book, start, 0, 1_000_000_000, 1<<40, testParams())
	require.NoError(t, err)
	assert.Greater(t, plan.RequiredSol, uint64(0))
	assert.Equal(t, uint64(1_000_000_000), plan.OutputToken)
	assert.Empty(t, plan.LiquidateIndices)
}

func TestPlanBuyRejectsWhenOverMaxSol(t *testing.T) {
	book := orderbook.NewBook(orderbook.Up, [32]byte{}, 1)
	start := curve.InitialPrice()

	_, err := PlanBuy(book, start, 0, 1_000_000_000, 1, testParams())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrExceedsMaxSolAmount, apperrors.Code(err))
}

func TestPlanSellEmptyBookFastPath(t *testing.T) {
	book := orderbook.NewBook(orderbook.Down, [32]byte{}, 1)
	start := curve.InitialPrice()

	plan, err := PlanSell(book, start, 0, 1_000_000_000, 0, testParams())
	require.NoError(t, err)
	assert.Greater(t, plan.OutputSol, uint64(0))
	assert.Equal(t, uint64(1_000_000_000), plan.SellToken)
	assert.Empty(t, plan.LiquidateIndices)
}

func TestPlanSellRejectsBelowMinOutput(t *testing.T) {
	book := orderbook.NewBook(orderbook.Down, [32]byte{}, 1)
	start := curve.InitialPrice()

	_, err := PlanSell(book, start, 0, 1_000_000_000, 1<<62, testParams())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInsufficientSolOutput, apperrors.Code(err))
}

// liquidationOrder builds a margin order whose borrow invariant
// (borrow_amount == lock_lp_token_amount for shorts, == lock_lp_sol_amount
// for longs) holds, so it is eligible for liquidation during a walk.
func liquidationOrder(t *testing.T, id uint64, start, end curve.Price, lockSol, lockToken, nextToken uint64, borrowIsToken bool) orderbook.MarginOrder {
	t.Helper()
	o := orderbook.MarginOrder{
		OrderID:           id,
		OrderType:         orderbook.Short,
		LockLpSolAmount:   lockSol,
		LockLpTokenAmount: lockToken,
		NextLpTokenAmount: nextToken,
		BorrowFee:         0,
	}
	if borrowIsToken {
		o.BorrowAmount = lockToken
	} else {
		o.BorrowAmount = lockSol
	}
	o.SetStartPrice(start)
	o.SetEndPrice(end)
	o.SetOpenPrice(start)
	return o
}

func TestPlanBuyLiquidatesCrossedShort(t *testing.T) {
	book := orderbook.NewBook(orderbook.Up, [32]byte{}, 1)
	startPrice := curve.InitialPrice()

	windowStart, solCost, err := curve.BuyFromPriceWithTokenOutput(startPrice, 1_000_000_000)
	require.NoError(t, err)
	windowEnd, _, err := curve.BuyFromPriceWithTokenOutput(windowStart, 2_000_000_000)
	require.NoError(t, err)

	order := liquidationOrder(t, 1, windowStart, windowEnd, solCost, 1_000_000_000, 2_000_000_000, true)
	_, err = book.InsertAfter(orderbook.NoSlot, order, 1)
	require.NoError(t, err)

	target := uint64(1_500_000_000)
	plan, err := PlanBuy(book, startPrice, 0, target, 1<<62, testParams())
	require.NoError(t, err)
	assert.Equal(t, []uint16{0}, plan.LiquidateIndices)
	assert.Greater(t, plan.RequiredSol, uint64(0))
	assert.Equal(t, target, plan.OutputToken)

	_, tokenOut, err := curve.BuyFromPriceToPrice(startPrice, plan.TargetPrice)
	require.NoError(t, err)
	assert.LessOrEqual(t, absDiff(tokenOut, target), uint64(DefaultMaxTokenDifference))
}

func TestPlanBuyPassOrderIDSkipsLiquidation(t *testing.T) {
	book := orderbook.NewBook(orderbook.Up, [32]byte{}, 1)
	startPrice := curve.InitialPrice()

	windowStart, solCost, err := curve.BuyFromPriceWithTokenOutput(startPrice, 1_000_000_000)
	require.NoError(t, err)
	windowEnd, _, err := curve.BuyFromPriceWithTokenOutput(windowStart, 2_000_000_000)
	require.NoError(t, err)

	order := liquidationOrder(t, 5, windowStart, windowEnd, solCost, 1_000_000_000, 2_000_000_000, true)
	_, err = book.InsertAfter(orderbook.NoSlot, order, 1)
	require.NoError(t, err)

	plan, err := PlanBuy(book, startPrice, 5, 3_000_000_000, 1<<62, testParams())
	require.NoError(t, err)
	assert.Empty(t, plan.LiquidateIndices)
}
