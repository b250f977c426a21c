// Package orderbook implements the persistent, doubly-linked,
// price-ordered list of margin orders for one (mint, direction) pair:
// a binary header plus a fixed-stride slot arena encoded into a single
// KV value, with stable u16 slot indices and an auxiliary order-id
// index maintained as companion keys.
package orderbook

import (
	"github.com/curvemargin/marginbook/internal/curve"
)

// NoSlot is the sentinel u16 value meaning "no slot" for next/prev
// pointers, book head/tail, and insertion anchors.
const NoSlot uint16 = 0xFFFF

// Direction is the book-level ordering tag: Down books hold long
// positions (lock_lp_start_price strictly decreasing head-to-tail), Up
// books hold shorts (strictly increasing).
type Direction uint8

const (
	Down Direction = 1
	Up   Direction = 2
)

// OrderType mirrors the on-chain position kind carried by a single
// margin order: 1 = long (lives in a Down book), 2 = short (Up book).
type OrderType uint8

const (
	Long  OrderType = 1
	Short OrderType = 2
)

// MarginOrder is the slot record. Fields are fixed-width so the book
// encodes as a flat, stride-addressable byte array. A live slot never
// has OrderID == 0; a tombstoned slot (post-removal) always does.
type MarginOrder struct {
	User      [32]byte
	OrderID   uint64
	OrderType OrderType

	LockLpStartPrice [16]byte
	LockLpEndPrice   [16]byte
	OpenPrice        [16]byte

	LockLpSolAmount   uint64
	LockLpTokenAmount uint64
	NextLpSolAmount   uint64
	NextLpTokenAmount uint64

	MarginInitSolAmount uint64
	MarginSolAmount     uint64
	BorrowAmount        uint64
	PositionAssetAmount uint64
	RealizedSolAmount   uint64

	BorrowFee uint16
	StartTime uint32
	EndTime   uint32

	Version uint32

	NextOrder uint16
	PrevOrder uint16
}

// IsLive reports whether the slot holds a real order rather than a
// tombstone left by batch removal.
func (m *MarginOrder) IsLive() bool { return m.OrderID != 0 }

// StartPrice returns the order's locked window start as a curve.Price.
func (m *MarginOrder) StartPrice() curve.Price {
	return curve.PriceFromBytes16LE(m.LockLpStartPrice)
}

// EndPrice returns the order's locked window end as a curve.Price.
func (m *MarginOrder) EndPrice() curve.Price {
	return curve.PriceFromBytes16LE(m.LockLpEndPrice)
}

// SetStartPrice stores p as the locked window start.
func (m *MarginOrder) SetStartPrice(p curve.Price) { m.LockLpStartPrice = p.Bytes16LE() }

// SetEndPrice stores p as the locked window end.
func (m *MarginOrder) SetEndPrice(p curve.Price) { m.LockLpEndPrice = p.Bytes16LE() }

// OpenPriceValue returns the price the position was opened at.
func (m *MarginOrder) OpenPriceValue() curve.Price { return curve.PriceFromBytes16LE(m.OpenPrice) }

// SetOpenPrice stores p as the price the position was opened at.
func (m *MarginOrder) SetOpenPrice(p curve.Price) { m.OpenPrice = p.Bytes16LE() }

// windowBounds returns the order's window as (lo, hi) regardless of
// which end is numerically larger, for overlap checks.
func (m *MarginOrder) windowBounds() (lo, hi curve.Price) {
	s, e := m.StartPrice(), m.EndPrice()
	if s.Cmp(e) <= 0 {
		return s, e
	}
	return e, s
}

// UpdateDelta carries the partial, optional field set accepted by
// update_order: only monetary fields may be mutated in place; the
// window and linked-list pointers are untouched.
type UpdateDelta struct {
	LockLpSolAmount     *uint64
	LockLpTokenAmount   *uint64
	NextLpSolAmount     *uint64
	NextLpTokenAmount   *uint64
	MarginSolAmount     *uint64
	BorrowAmount        *uint64
	PositionAssetAmount *uint64
	RealizedSolAmount   *uint64
}

func (d UpdateDelta) apply(m *MarginOrder) {
	if d.LockLpSolAmount != nil {
		m.LockLpSolAmount = *d.LockLpSolAmount
	}
	if d.LockLpTokenAmount != nil {
		m.LockLpTokenAmount = *d.LockLpTokenAmount
	}
	if d.NextLpSolAmount != nil {
		m.NextLpSolAmount = *d.NextLpSolAmount
	}
	if d.NextLpTokenAmount != nil {
		m.NextLpTokenAmount = *d.NextLpTokenAmount
	}
	if d.MarginSolAmount != nil {
		m.MarginSolAmount = *d.MarginSolAmount
	}
	if d.BorrowAmount != nil {
		m.BorrowAmount = *d.BorrowAmount
	}
	if d.PositionAssetAmount != nil {
		m.PositionAssetAmount = *d.PositionAssetAmount
	}
	if d.RealizedSolAmount != nil {
		m.RealizedSolAmount = *d.RealizedSolAmount
	}
}
