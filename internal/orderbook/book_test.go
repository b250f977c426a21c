package orderbook

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvemargin/marginbook/internal/curve"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

func priceAt(t *testing.T, n int64) curve.Price {
	t.Helper()
	p, err := curve.NewPrice(big.NewInt(n))
	require.NoError(t, err)
	return p
}

func newOrder(t *testing.T, id uint64, start, end int64) MarginOrder {
	t.Helper()
	o := MarginOrder{OrderID: id, OrderType: Long}
	o.SetStartPrice(priceAt(t, start))
	o.SetEndPrice(priceAt(t, end))
	o.SetOpenPrice(priceAt(t, start))
	return o
}

func TestInsertAfterHeadThenTraverse(t *testing.T) {
	book := NewBook(Down, [32]byte{}, 1)
	_, err := book.InsertAfter(NoSlot, newOrder(t, 1, 100, 90), 1)
	require.NoError(t, err)
	_, err = book.InsertAfter(NoSlot, newOrder(t, 2, 120, 110), 1)
	require.NoError(t, err)

	orders := book.GetAllActiveOrders()
	require.Len(t, orders, 2)
	assert.Equal(t, uint64(2), orders[0].Order.OrderID)
	assert.Equal(t, uint64(1), orders[1].Order.OrderID)
}

func TestInsertAfterRejectsOverlap(t *testing.T) {
	book := NewBook(Down, [32]byte{}, 1)
	idx, err := book.InsertAfter(NoSlot, newOrder(t, 1, 100, 80), 1)
	require.NoError(t, err)

	_, err = book.InsertAfter(idx, newOrder(t, 2, 95, 70), 1)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNoValidInsertPosition, apperrors.Code(err))
}

func TestInsertAfterRejectsWrongOrderDirection(t *testing.T) {
	book := NewBook(Down, [32]byte{}, 1)
	idx, err := book.InsertAfter(NoSlot, newOrder(t, 1, 100, 90), 1)
	require.NoError(t, err)

	// inserting after idx with a higher start price violates Down ordering
	_, err = book.InsertAfter(idx, newOrder(t, 2, 110, 105), 1)
	require.Error(t, err)
}

func TestInsertAfterRejectsDuplicateOrderID(t *testing.T) {
	book := NewBook(Down, [32]byte{}, 1)
	_, err := book.InsertAfter(NoSlot, newOrder(t, 1, 100, 90), 1)
	require.NoError(t, err)

	_, err = book.InsertAfter(NoSlot, newOrder(t, 1, 50, 40), 1)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrOrderIdMismatch, apperrors.Code(err))
}

func TestInsertAfterRejectsZeroOrderID(t *testing.T) {
	book := NewBook(Down, [32]byte{}, 1)
	_, err := book.InsertAfter(NoSlot, newOrder(t, 0, 100, 90), 1)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvalidOrderId, apperrors.Code(err))
}

func TestGetOrderByID(t *testing.T) {
	book := NewBook(Down, [32]byte{}, 1)
	idx, err := book.InsertAfter(NoSlot, newOrder(t, 42, 100, 90), 1)
	require.NoError(t, err)

	gotIdx, order, err := book.GetOrderByID(42)
	require.NoError(t, err)
	assert.Equal(t, idx, gotIdx)
	assert.Equal(t, uint64(42), order.OrderID)

	_, _, err = book.GetOrderByID(999)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.Code(err))
}

func TestUpdateOrderVersionMonotonic(t *testing.T) {
	book := NewBook(Down, [32]byte{}, 1)
	idx, err := book.InsertAfter(NoSlot, newOrder(t, 1, 100, 90), 1)
	require.NoError(t, err)

	amt := uint64(500)
	v, err := book.UpdateOrder(idx, 0, UpdateDelta{MarginSolAmount: &amt}, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v)

	order, err := book.GetOrder(idx)
	require.NoError(t, err)
	assert.Equal(t, amt, order.MarginSolAmount)

	_, err = book.UpdateOrder(idx, 0, UpdateDelta{}, 3)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrVersionMismatch, apperrors.Code(err))
}

func TestBatchRemoveByIndicesUnsafe(t *testing.T) {
	book := NewBook(Down, [32]byte{}, 1)
	i1, err := book.InsertAfter(NoSlot, newOrder(t, 1, 100, 90), 1)
	require.NoError(t, err)
	i2, err := book.InsertAfter(i1, newOrder(t, 2, 80, 70), 1)
	require.NoError(t, err)
	_, err = book.InsertAfter(i2, newOrder(t, 3, 60, 50), 1)
	require.NoError(t, err)

	removed, err := book.BatchRemoveByIndicesUnsafe([]uint16{i2})
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, uint64(2), removed[0].Order.OrderID)

	remaining := book.GetAllActiveOrders()
	require.Len(t, remaining, 2)
	assert.Equal(t, uint64(1), remaining[0].Order.OrderID)
	assert.Equal(t, uint64(3), remaining[1].Order.OrderID)

	_, _, err = book.GetOrderByID(2)
	require.Error(t, err)
}

func TestBatchRemoveRejectsDuplicateIndex(t *testing.T) {
	book := NewBook(Down, [32]byte{}, 1)
	idx, err := book.InsertAfter(NoSlot, newOrder(t, 1, 100, 90), 1)
	require.NoError(t, err)

	_, err = book.BatchRemoveByIndicesUnsafe([]uint16{idx, idx})
	require.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	book := NewBook(Down, [32]byte{1, 2, 3}, 1)
	_, err := book.InsertAfter(NoSlot, newOrder(t, 1, 100, 90), 1)
	require.NoError(t, err)
	_, err = book.InsertAfter(NoSlot, newOrder(t, 2, 120, 110), 1)
	require.NoError(t, err)

	data, err := book.Encode()
	require.NoError(t, err)

	decoded, err := DecodeBook(data)
	require.NoError(t, err)
	assert.Equal(t, book.Header, decoded.Header)
	assert.Equal(t, book.GetAllActiveOrders(), decoded.GetAllActiveOrders())
}

func TestDecodeBookRejectsCorruption(t *testing.T) {
	book := NewBook(Down, [32]byte{}, 1)
	data, err := book.Encode()
	require.NoError(t, err)
	data[0] ^= 0xFF

	_, err = DecodeBook(data)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCorruption, apperrors.Code(err))
}
