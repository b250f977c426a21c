package tradeengine

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvemargin/marginbook/internal/curve"
	"github.com/curvemargin/marginbook/internal/orderbook"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

func percentOf(p curve.Price, pct int64) curve.Price {
	v := new(big.Int).Mul(p.Int(), big.NewInt(pct))
	v.Quo(v, big.NewInt(100))
	out, _ := curve.NewPrice(v)
	return out
}

func TestPlanOpenLongHappyPath(t *testing.T) {
	upBook := orderbook.NewBook(orderbook.Up, [32]byte{}, 1)
	downBook := orderbook.NewBook(orderbook.Down, [32]byte{}, 1)
	start := curve.InitialPrice()

	buyPlan, err := PlanBuy(upBook, start, 0, 1_000_000_000, 1<<62, testParams())
	require.NoError(t, err)
	stopLoss := percentOf(buyPlan.TargetPrice, 80)

	plan, err := PlanOpenLong(upBook, downBook, start, 1_000_000_000, MinMarginSolAmount, 0, stopLoss, 100, [32]byte{1}, 42, 0, 0, testParams())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), plan.NewOrder.OrderID)
	assert.Equal(t, orderbook.Long, plan.NewOrder.OrderType)
	assert.Equal(t, 0, plan.NewOrder.EndPrice().Cmp(stopLoss))
}

func TestPlanOpenLongRejectsBelowMinMargin(t *testing.T) {
	upBook := orderbook.NewBook(orderbook.Up, [32]byte{}, 1)
	downBook := orderbook.NewBook(orderbook.Down, [32]byte{}, 1)
	start := curve.InitialPrice()

	_, err := PlanOpenLong(upBook, downBook, start, 1_000_000_000, 1, 0, start, 100, [32]byte{}, 1, 0, 0, testParams())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInsufficientMargin, apperrors.Code(err))
}

func TestPlanOpenLongRejectsStopLossAboveTradePrice(t *testing.T) {
	upBook := orderbook.NewBook(orderbook.Up, [32]byte{}, 1)
	downBook := orderbook.NewBook(orderbook.Down, [32]byte{}, 1)
	start := curve.InitialPrice()

	buyPlan, err := PlanBuy(upBook, start, 0, 1_000_000_000, 1<<62, testParams())
	require.NoError(t, err)
	stopLoss := percentOf(buyPlan.TargetPrice, 120)

	_, err = PlanOpenLong(upBook, downBook, start, 1_000_000_000, MinMarginSolAmount, 0, stopLoss, 100, [32]byte{}, 1, 0, 0, testParams())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidStopLossPrice, apperrors.Code(err))
}

func TestPlanOpenLongRejectsStopLossTooClose(t *testing.T) {
	upBook := orderbook.NewBook(orderbook.Up, [32]byte{}, 1)
	downBook := orderbook.NewBook(orderbook.Down, [32]byte{}, 1)
	start := curve.InitialPrice()

	buyPlan, err := PlanBuy(upBook, start, 0, 1_000_000_000, 1<<62, testParams())
	require.NoError(t, err)
	stopLoss := percentOf(buyPlan.TargetPrice, 99) // well under MinStopLossPercent

	_, err = PlanOpenLong(upBook, downBook, start, 1_000_000_000, MinMarginSolAmount, 0, stopLoss, 100, [32]byte{}, 1, 0, 0, testParams())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidStopLossPrice, apperrors.Code(err))
}

func TestPlanCloseLongRejectsWrongOrderType(t *testing.T) {
	downBook := orderbook.NewBook(orderbook.Down, [32]byte{}, 1)
	start := curve.InitialPrice()
	order := orderbook.MarginOrder{OrderID: 1, OrderType: orderbook.Short, PositionAssetAmount: 1_000_000}

	_, err := PlanCloseLong(downBook, start, order, 0, testParams())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrOrderIdMismatch, apperrors.Code(err))
}

func TestPlanCloseShortRejectsWrongOrderType(t *testing.T) {
	upBook := orderbook.NewBook(orderbook.Up, [32]byte{}, 1)
	start := curve.InitialPrice()
	order := orderbook.MarginOrder{OrderID: 1, OrderType: orderbook.Long, PositionAssetAmount: 1_000_000}

	_, err := PlanCloseShort(upBook, start, order, 1<<62, testParams())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrOrderIdMismatch, apperrors.Code(err))
}
