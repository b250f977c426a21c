package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvemargin/marginbook/internal/kvstore"
	"github.com/curvemargin/marginbook/internal/orderbook"
)

func newTestArchive(t *testing.T) (*Store, *kvstore.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	kv, err := kvstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	store, err := NewStore(kv)
	require.NoError(t, err)
	return store, kv
}

func TestStageCloseThenListClosedByUser(t *testing.T) {
	store, _ := newTestArchive(t)
	user := [32]byte{7}
	order := orderbook.MarginOrder{User: user, OrderID: 1}

	batch := kvstore.NewBatch()
	require.NoError(t, store.StageClose(batch, "mintA", orderbook.Down, order, 100, CloseNormal))
	require.NoError(t, store.Write(batch))

	records, err := store.ListClosedByUser(user, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].Order.OrderID)
	assert.Equal(t, CloseNormal, records[0].CloseType)
}

func TestListClosedByUserFiltersOutsideTimeWindow(t *testing.T) {
	store, _ := newTestArchive(t)
	user := [32]byte{3}

	batch := kvstore.NewBatch()
	require.NoError(t, store.StageClose(batch, "mintA", orderbook.Down, orderbook.MarginOrder{User: user, OrderID: 1}, 50, CloseForced))
	require.NoError(t, store.StageClose(batch, "mintA", orderbook.Down, orderbook.MarginOrder{User: user, OrderID: 2}, 150, CloseForced))
	require.NoError(t, store.Write(batch))

	records, err := store.ListClosedByUser(user, 100, 200, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(2), records[0].Order.OrderID)
}

func TestListClosedByUserOrderedNewestFirst(t *testing.T) {
	store, _ := newTestArchive(t)
	user := [32]byte{9}

	batch := kvstore.NewBatch()
	require.NoError(t, store.StageClose(batch, "mintA", orderbook.Down, orderbook.MarginOrder{User: user, OrderID: 1}, 10, CloseNormal))
	require.NoError(t, store.StageClose(batch, "mintA", orderbook.Down, orderbook.MarginOrder{User: user, OrderID: 2}, 20, CloseNormal))
	require.NoError(t, store.Write(batch))

	records, err := store.ListClosedByUser(user, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint32(20), records[0].CloseTime)
	assert.Equal(t, uint32(10), records[1].CloseTime)
}

func TestListClosedByUserRespectsLimit(t *testing.T) {
	store, _ := newTestArchive(t)
	user := [32]byte{1}

	batch := kvstore.NewBatch()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, store.StageClose(batch, "mintA", orderbook.Down, orderbook.MarginOrder{User: user, OrderID: i}, uint32(i*10), CloseNormal))
	}
	require.NoError(t, store.Write(batch))

	records, err := store.ListClosedByUser(user, 0, 0, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
