package tradeengine

import (
	"github.com/curvemargin/marginbook/internal/curve"
	"github.com/curvemargin/marginbook/internal/orderbook"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// PlanBuy walks upBook (the short/UP book) from head, computing the
// settlement for acquiring exactly targetTokens tokens starting at
// currentPrice. passOrderID, if nonzero, names an order being
// self-closed in the same trade: its window liquidity counts toward
// cumulative supply but it is never liquidated.
func PlanBuy(upBook *orderbook.Book, currentPrice curve.Price, passOrderID uint64, targetTokens, maxSolAmount uint64, params Params) (BuyPlan, error) {
	params = defaultParams(params)
	orders := liveOrders(upBook)

	fastPlan, ok, err := fastPathBuy(orders, currentPrice, passOrderID, targetTokens, params)
	if err != nil {
		return BuyPlan{}, err
	}
	if ok {
		return finalizeBuy(fastPlan, maxSolAmount, params)
	}

	_, headAvailableToken, herr := curve.BuyFromPriceToPrice(currentPrice, orders[0].Order.StartPrice())
	if herr != nil {
		return BuyPlan{}, herr
	}

	var (
		totalTokenAmount  = headAvailableToken
		stopLossSol       uint64
		stopLossToken     uint64
		liquidateIndices  []uint16
		liquidateFeeSol   uint64
		borrowTokenCredit uint64
	)

	for _, io := range orders {
		order := io.Order
		if passOrderID != 0 && order.OrderID == passOrderID {
			totalTokenAmount += order.LockLpTokenAmount + order.NextLpTokenAmount
		} else {
			stopLossSol += order.LockLpSolAmount
			stopLossToken += order.LockLpTokenAmount
			totalTokenAmount += order.NextLpTokenAmount
			liquidateIndices = append(liquidateIndices, io.Index)

			if order.BorrowAmount != order.LockLpTokenAmount {
				return BuyPlan{}, apperrors.Newf(apperrors.ErrOrderIdMismatch,
					"order %d: borrow_amount %d does not equal lock_lp_token_amount %d",
					order.OrderID, order.BorrowAmount, order.LockLpTokenAmount)
			}
			borrowTokenCredit += order.BorrowAmount

			fee, ferr := curve.WithFee(order.LockLpSolAmount, order.BorrowFee)
			if ferr != nil {
				return BuyPlan{}, apperrors.Wrap(ferr, apperrors.ErrFeeAccumulationOverflow, "accumulate liquidation fee")
			}
			liquidateFeeSol += fee - order.LockLpSolAmount
		}

		if totalTokenAmount < targetTokens {
			continue
		}

		remaining := totalTokenAmount - targetTokens
		segment := order.NextLpTokenAmount
		if remaining > segment {
			remaining = segment
		}
		tokensIntoSegment := segment - remaining

		finalPrice, _, berr := curve.BuyFromPriceWithTokenOutput(order.EndPrice(), tokensIntoSegment)
		if berr != nil {
			return BuyPlan{}, berr
		}

		wholeSolCost, wholeTokenOut, rerr := curve.BuyFromPriceToPrice(currentPrice, finalPrice)
		if rerr != nil {
			return BuyPlan{}, rerr
		}

		requiredSol := wholeSolCost - stopLossSol
		outputToken := wholeTokenOut - stopLossToken

		if absDiff(outputToken, targetTokens) > params.MaxTokenDifference {
			return BuyPlan{}, apperrors.Newf(apperrors.ErrTokenAmountDifferenceOutOfRange,
				"output token %d diverges from target %d by more than %d", outputToken, targetTokens, params.MaxTokenDifference)
		}

		plan := BuyPlan{
			RequiredSol:        requiredSol,
			OutputToken:        targetTokens,
			TargetPrice:        finalPrice,
			LiquidateFeeSol:    liquidateFeeSol,
			LiquidateIndices:   liquidateIndices,
			BorrowTokenReserve: borrowTokenCredit,
		}
		return finalizeBuy(plan, maxSolAmount, params)
	}

	return BuyPlan{}, apperrors.New(apperrors.ErrInsufficientMarketLiquidity, "book exhausted before reaching target token amount")
}

// fastPathBuy covers an empty book, a book containing only
// passOrderID, and a non-liquidating buy that stays below the head
// order's window start.
func fastPathBuy(orders []orderbook.IndexedOrder, currentPrice curve.Price, passOrderID, targetTokens uint64, params Params) (BuyPlan, bool, error) {
	relevant := orders
	if passOrderID != 0 {
		filtered := relevant[:0:0]
		for _, o := range orders {
			if o.Order.OrderID != passOrderID {
				filtered = append(filtered, o)
			}
		}
		relevant = filtered
	}

	if len(relevant) == 0 {
		target, sol, err := curve.BuyFromPriceWithTokenOutput(currentPrice, targetTokens)
		if err != nil {
			return BuyPlan{}, false, err
		}
		return BuyPlan{RequiredSol: sol, OutputToken: targetTokens, TargetPrice: target}, true, nil
	}

	head := relevant[0].Order
	_, tokenOut, err := curve.BuyFromPriceToPrice(currentPrice, head.StartPrice())
	if err != nil {
		return BuyPlan{}, false, err
	}
	if tokenOut < targetTokens {
		return BuyPlan{}, false, nil
	}

	target, sol, err := curve.BuyFromPriceWithTokenOutput(currentPrice, targetTokens)
	if err != nil {
		return BuyPlan{}, false, err
	}
	return BuyPlan{RequiredSol: sol, OutputToken: targetTokens, TargetPrice: target}, true, nil
}

func finalizeBuy(plan BuyPlan, maxSolAmount uint64, params Params) (BuyPlan, error) {
	feeInclusive, err := curve.WithFee(plan.RequiredSol, params.FeeBps)
	if err != nil {
		return BuyPlan{}, apperrors.Wrap(err, apperrors.ErrFeeSplitOverflow, "apply trade fee")
	}
	plan.FeeSol = feeInclusive - plan.RequiredSol

	// The trade leg alone is bounded by maxSolAmount; liquidate_fee_sol
	// is reported to the caller but not counted against their slippage
	// limit, since it is owed by the liquidated positions, not the payer.
	if feeInclusive > maxSolAmount {
		return BuyPlan{}, apperrors.Newf(apperrors.ErrExceedsMaxSolAmount,
			"total sol with fee %d exceeds max %d", feeInclusive, maxSolAmount)
	}
	return plan, nil
}

// PlanSell is the mirror of PlanBuy: it walks downBook (the long/DOWN
// book) from head, selling exactly sellTokens tokens, subject to
// minSolOutput after fees.
func PlanSell(downBook *orderbook.Book, currentPrice curve.Price, passOrderID uint64, sellTokens, minSolOutput uint64, params Params) (SellPlan, error) {
	params = defaultParams(params)
	orders := liveOrders(downBook)

	fastPlan, ok, err := fastPathSell(orders, currentPrice, passOrderID, sellTokens, params)
	if err != nil {
		return SellPlan{}, err
	}
	if ok {
		return finalizeSell(fastPlan, minSolOutput, params)
	}

	headAvailableToken, _, herr := curve.SellFromPriceToPrice(currentPrice, orders[0].Order.StartPrice())
	if herr != nil {
		return SellPlan{}, herr
	}

	var (
		totalTokenAmount = headAvailableToken
		stopLossSol      uint64
		stopLossToken    uint64
		liquidateIndices []uint16
		liquidateFeeSol  uint64
		borrowSolCredit  uint64
	)

	for _, io := range orders {
		order := io.Order
		if passOrderID != 0 && order.OrderID == passOrderID {
			totalTokenAmount += order.LockLpTokenAmount + order.NextLpTokenAmount
		} else {
			stopLossSol += order.LockLpSolAmount
			stopLossToken += order.LockLpTokenAmount
			totalTokenAmount += order.NextLpTokenAmount
			liquidateIndices = append(liquidateIndices, io.Index)

			if order.BorrowAmount != order.LockLpSolAmount {
				return SellPlan{}, apperrors.Newf(apperrors.ErrOrderIdMismatch,
					"order %d: borrow_amount %d does not equal lock_lp_sol_amount %d",
					order.OrderID, order.BorrowAmount, order.LockLpSolAmount)
			}
			borrowSolCredit += order.BorrowAmount

			fee, ferr := curve.WithFee(order.LockLpSolAmount, order.BorrowFee)
			if ferr != nil {
				return SellPlan{}, apperrors.Wrap(ferr, apperrors.ErrFeeAccumulationOverflow, "accumulate liquidation fee")
			}
			liquidateFeeSol += fee - order.LockLpSolAmount
		}

		if totalTokenAmount < sellTokens {
			continue
		}

		remaining := totalTokenAmount - sellTokens
		segment := order.NextLpTokenAmount
		if remaining > segment {
			remaining = segment
		}
		tokensIntoSegment := segment - remaining

		finalPrice, _, serr := curve.SellFromPriceWithTokenInput(order.EndPrice(), tokensIntoSegment)
		if serr != nil {
			return SellPlan{}, serr
		}

		wholeTokenIn, wholeSolOut, rerr := curve.SellFromPriceToPrice(currentPrice, finalPrice)
		if rerr != nil {
			return SellPlan{}, rerr
		}

		outputSol := wholeSolOut - stopLossSol
		inputToken := wholeTokenIn - stopLossToken

		if absDiff(inputToken, sellTokens) > params.MaxTokenDifference {
			return SellPlan{}, apperrors.Newf(apperrors.ErrTokenAmountDifferenceOutOfRange,
				"input token %d diverges from target %d by more than %d", inputToken, sellTokens, params.MaxTokenDifference)
		}

		plan := SellPlan{
			SellToken:        sellTokens,
			OutputSol:        outputSol,
			TargetPrice:      finalPrice,
			LiquidateFeeSol:  liquidateFeeSol,
			LiquidateIndices: liquidateIndices,
			BorrowSolReserve: borrowSolCredit,
		}
		return finalizeSell(plan, minSolOutput, params)
	}

	return SellPlan{}, apperrors.New(apperrors.ErrInsufficientMarketLiquidity, "book exhausted before reaching target token amount")
}

func fastPathSell(orders []orderbook.IndexedOrder, currentPrice curve.Price, passOrderID, sellTokens uint64, params Params) (SellPlan, bool, error) {
	relevant := orders
	if passOrderID != 0 {
		filtered := relevant[:0:0]
		for _, o := range orders {
			if o.Order.OrderID != passOrderID {
				filtered = append(filtered, o)
			}
		}
		relevant = filtered
	}

	if len(relevant) == 0 {
		target, sol, err := curve.SellFromPriceWithTokenInput(currentPrice, sellTokens)
		if err != nil {
			return SellPlan{}, false, err
		}
		return SellPlan{SellToken: sellTokens, OutputSol: sol, TargetPrice: target}, true, nil
	}

	head := relevant[0].Order
	tokenIn, _, err := curve.SellFromPriceToPrice(currentPrice, head.StartPrice())
	if err != nil {
		return SellPlan{}, false, err
	}
	if tokenIn < sellTokens {
		return SellPlan{}, false, nil
	}

	target, sol, err := curve.SellFromPriceWithTokenInput(currentPrice, sellTokens)
	if err != nil {
		return SellPlan{}, false, err
	}
	return SellPlan{SellToken: sellTokens, OutputSol: sol, TargetPrice: target}, true, nil
}

func finalizeSell(plan SellPlan, minSolOutput uint64, params Params) (SellPlan, error) {
	afterFee, err := curve.AfterFee(plan.OutputSol, params.FeeBps)
	if err != nil {
		return SellPlan{}, apperrors.Wrap(err, apperrors.ErrFeeSplitOverflow, "apply trade fee")
	}
	plan.FeeSol = plan.OutputSol - afterFee
	plan.OutputSol = afterFee

	if plan.LiquidateFeeSol > plan.OutputSol {
		return SellPlan{}, apperrors.New(apperrors.ErrInsufficientSolOutput, "liquidation fees exceed sell output")
	}
	plan.OutputSol -= plan.LiquidateFeeSol

	if plan.OutputSol < minSolOutput {
		return SellPlan{}, apperrors.Newf(apperrors.ErrInsufficientSolOutput,
			"output sol %d below minimum %d", plan.OutputSol, minSolOutput)
	}
	return plan, nil
}
