package tradeengine

import (
	"github.com/curvemargin/marginbook/internal/archive"
	"github.com/curvemargin/marginbook/internal/kvstore"
	"github.com/curvemargin/marginbook/internal/orderbook"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// ApplyBuyPlan stages plan's liquidations into a single batch: every
// liquidated order is removed from upBook and archived as a forced
// close at closeTime, before any new order is inserted. This ordering
// follows the design's Open Question (a): a caller-supplied insertion
// point for a newly opened position must be validated against the
// post-liquidation book state, never the pre-trade one.
func ApplyBuyPlan(obStore *orderbook.Store, archStore *archive.Store, batch *kvstore.Batch, mint string, upBook *orderbook.Book, plan BuyPlan, closeTime uint32) error {
	return applyLiquidations(obStore, archStore, batch, mint, orderbook.Up, upBook, plan.LiquidateIndices, closeTime)
}

// ApplySellPlan is the DOWN-book counterpart of ApplyBuyPlan.
func ApplySellPlan(obStore *orderbook.Store, archStore *archive.Store, batch *kvstore.Batch, mint string, downBook *orderbook.Book, plan SellPlan, closeTime uint32) error {
	return applyLiquidations(obStore, archStore, batch, mint, orderbook.Down, downBook, plan.LiquidateIndices, closeTime)
}

func applyLiquidations(obStore *orderbook.Store, archStore *archive.Store, batch *kvstore.Batch, mint string, dir orderbook.Direction, book *orderbook.Book, indices []uint16, closeTime uint32) error {
	if len(indices) == 0 {
		return nil
	}
	removed, err := obStore.StageBatchRemove(batch, mint, dir, book, indices)
	if err != nil {
		return err
	}
	for _, r := range removed {
		if err := archStore.StageClose(batch, mint, dir, r.Order, closeTime, archive.CloseForced); err != nil {
			return err
		}
	}
	return nil
}

// InsertAfterPostLiquidation inserts a newly opened margin order into
// book after the liquidations named by a plan have already been staged
// in the same batch, so the ordering check in InsertAfter runs against
// the post-liquidation state.
func InsertAfterPostLiquidation(obStore *orderbook.Store, batch *kvstore.Batch, mint string, dir orderbook.Direction, book *orderbook.Book, refIndex uint16, order orderbook.MarginOrder, now uint32) (uint16, error) {
	if order.OrderID == 0 {
		return 0, apperrors.New(apperrors.ErrInvalidOrderId, "order_id must not be zero")
	}
	return obStore.StageInsertAfter(batch, mint, dir, book, refIndex, order, now)
}
