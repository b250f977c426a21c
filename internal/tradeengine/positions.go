package tradeengine

import (
	"math/big"

	"github.com/curvemargin/marginbook/internal/curve"
	"github.com/curvemargin/marginbook/internal/orderbook"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// OpenLongPlan is the result of opening a long position: the buy
// settlement against the short (UP) book, plus the new margin order to
// be inserted into the long (DOWN) book once the buy's liquidations
// have been applied.
type OpenLongPlan struct {
	Buy      BuyPlan
	NewOrder orderbook.MarginOrder
	RefIndex uint16
}

// OpenShortPlan is the mirror of OpenLongPlan for short positions.
type OpenShortPlan struct {
	Sell     SellPlan
	NewOrder orderbook.MarginOrder
	RefIndex uint16
}

// PlanOpenLong buys targetTokenAmount tokens against upBook, then sizes
// a new long order whose liquidation window runs from the resulting
// price down to stopLossPrice, positioned for insertion into downBook.
func PlanOpenLong(upBook, downBook *orderbook.Book, currentPrice curve.Price, targetTokenAmount, marginSolAmount, borrowAmount uint64, stopLossPrice curve.Price, borrowFeeBps uint16, user [32]byte, orderID uint64, startTime, endTime uint32, params Params) (OpenLongPlan, error) {
	if marginSolAmount < MinMarginSolAmount {
		return OpenLongPlan{}, apperrors.Newf(apperrors.ErrInsufficientMargin, "margin %d below minimum %d", marginSolAmount, MinMarginSolAmount)
	}

	buyPlan, err := PlanBuy(upBook, currentPrice, 0, targetTokenAmount, marginSolAmount+borrowAmount, params)
	if err != nil {
		return OpenLongPlan{}, err
	}

	if stopLossPrice.Cmp(buyPlan.TargetPrice) >= 0 {
		return OpenLongPlan{}, apperrors.New(apperrors.ErrInvalidStopLossPrice, "stop loss must be below the post-trade price for a long")
	}
	if err := checkMinStopLossPercent(buyPlan.TargetPrice, stopLossPrice); err != nil {
		return OpenLongPlan{}, err
	}

	lockToken, lockSol, err := curve.SellFromPriceToPrice(buyPlan.TargetPrice, stopLossPrice)
	if err != nil {
		return OpenLongPlan{}, apperrors.Wrap(err, apperrors.ErrLongMarginOverflow, "size long liquidation window")
	}

	order := orderbook.MarginOrder{
		User:                user,
		OrderID:             orderID,
		OrderType:           orderbook.Long,
		LockLpSolAmount:     lockSol,
		LockLpTokenAmount:   lockToken,
		MarginInitSolAmount: marginSolAmount,
		MarginSolAmount:     marginSolAmount,
		BorrowAmount:        lockSol,
		PositionAssetAmount: targetTokenAmount,
		BorrowFee:           borrowFeeBps,
		StartTime:           startTime,
		EndTime:             endTime,
	}
	order.SetStartPrice(buyPlan.TargetPrice)
	order.SetEndPrice(stopLossPrice)
	order.SetOpenPrice(currentPrice)

	return OpenLongPlan{
		Buy:      buyPlan,
		NewOrder: order,
		RefIndex: downBook.FindInsertAfterIndex(buyPlan.TargetPrice),
	}, nil
}

// PlanOpenShort is the mirror of PlanOpenLong: sells sellTokenAmount
// tokens against downBook, sizing a new short order whose liquidation
// window runs from the resulting price up to stopLossPrice.
func PlanOpenShort(downBook, upBook *orderbook.Book, currentPrice curve.Price, sellTokenAmount, marginSolAmount, borrowAmount uint64, stopLossPrice curve.Price, minSolOutput uint64, borrowFeeBps uint16, user [32]byte, orderID uint64, startTime, endTime uint32, params Params) (OpenShortPlan, error) {
	if marginSolAmount < MinMarginSolAmount {
		return OpenShortPlan{}, apperrors.Newf(apperrors.ErrInsufficientMargin, "margin %d below minimum %d", marginSolAmount, MinMarginSolAmount)
	}

	sellPlan, err := PlanSell(downBook, currentPrice, 0, sellTokenAmount, minSolOutput, params)
	if err != nil {
		return OpenShortPlan{}, err
	}

	if stopLossPrice.Cmp(sellPlan.TargetPrice) <= 0 {
		return OpenShortPlan{}, apperrors.New(apperrors.ErrInvalidStopLossPrice, "stop loss must be above the post-trade price for a short")
	}
	if err := checkMinStopLossPercent(sellPlan.TargetPrice, stopLossPrice); err != nil {
		return OpenShortPlan{}, err
	}

	lockSol, lockToken, err := curve.BuyFromPriceToPrice(sellPlan.TargetPrice, stopLossPrice)
	if err != nil {
		return OpenShortPlan{}, apperrors.Wrap(err, apperrors.ErrShortMarginOverflow, "size short liquidation window")
	}

	order := orderbook.MarginOrder{
		User:                user,
		OrderID:             orderID,
		OrderType:           orderbook.Short,
		LockLpSolAmount:     lockSol,
		LockLpTokenAmount:   lockToken,
		MarginInitSolAmount: marginSolAmount,
		MarginSolAmount:     marginSolAmount,
		BorrowAmount:        lockToken,
		PositionAssetAmount: sellTokenAmount,
		BorrowFee:           borrowFeeBps,
		StartTime:           startTime,
		EndTime:             endTime,
	}
	order.SetStartPrice(sellPlan.TargetPrice)
	order.SetEndPrice(stopLossPrice)
	order.SetOpenPrice(currentPrice)

	return OpenShortPlan{
		Sell:     sellPlan,
		NewOrder: order,
		RefIndex: upBook.FindInsertAfterIndex(sellPlan.TargetPrice),
	}, nil
}

// PlanCloseLong closes a long by selling its full position size back
// against downBook, passing its own order id so the walk never
// liquidates it against itself.
func PlanCloseLong(downBook *orderbook.Book, currentPrice curve.Price, order orderbook.MarginOrder, minSolOutput uint64, params Params) (SellPlan, error) {
	if order.OrderType != orderbook.Long {
		return SellPlan{}, apperrors.New(apperrors.ErrOrderIdMismatch, "order is not a long position")
	}
	return PlanSell(downBook, currentPrice, order.OrderID, order.PositionAssetAmount, minSolOutput, params)
}

// PlanCloseShort closes a short by buying its full position size back
// against upBook, passing its own order id so the walk never
// liquidates it against itself.
func PlanCloseShort(upBook *orderbook.Book, currentPrice curve.Price, order orderbook.MarginOrder, maxSolAmount uint64, params Params) (BuyPlan, error) {
	if order.OrderType != orderbook.Short {
		return BuyPlan{}, apperrors.New(apperrors.ErrOrderIdMismatch, "order is not a short position")
	}
	return PlanBuy(upBook, currentPrice, order.OrderID, order.PositionAssetAmount, maxSolAmount, params)
}

// checkMinStopLossPercent rejects a stop loss closer to reference than
// MinStopLossPercent of reference, computed in big.Int arithmetic since
// Q64.64 prices routinely exceed the range of a uint64.
func checkMinStopLossPercent(reference, stopLoss curve.Price) error {
	if reference.Int().Sign() == 0 {
		return apperrors.New(apperrors.ErrInvalidStopLossPrice, "reference price is zero")
	}
	lo, hi := reference, stopLoss
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	diff := new(big.Int).Sub(hi.Int(), lo.Int())
	percent := new(big.Int).Mul(diff, big.NewInt(100))
	percent.Quo(percent, reference.Int())
	if percent.Cmp(big.NewInt(MinStopLossPercent)) < 0 {
		return apperrors.Newf(apperrors.ErrInvalidStopLossPrice, "stop loss distance %s%% below minimum %d%%", percent.String(), MinStopLossPercent)
	}
	return nil
}
