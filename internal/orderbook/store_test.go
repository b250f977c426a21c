package orderbook

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvemargin/marginbook/internal/kvstore"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.db")
	kv, err := kvstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return NewStore(kv)
}

func TestStageInitializeThenLoad(t *testing.T) {
	store := newTestStore(t)
	batch := kvstore.NewBatch()
	require.NoError(t, store.StageInitialize(batch, "mintA", Down, [32]byte{9}, 1))
	require.NoError(t, store.Write(batch))

	book, err := store.Load("mintA", Down)
	require.NoError(t, err)
	assert.Equal(t, Down, book.Header.Direction)
	assert.Equal(t, [32]byte{9}, book.Header.Authority)
}

func TestStageInitializeRejectsDoubleInit(t *testing.T) {
	store := newTestStore(t)
	batch := kvstore.NewBatch()
	require.NoError(t, store.StageInitialize(batch, "mintA", Down, [32]byte{}, 1))
	require.NoError(t, store.Write(batch))

	batch2 := kvstore.NewBatch()
	err := store.StageInitialize(batch2, "mintA", Down, [32]byte{}, 2)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrAlreadyInitialized, apperrors.Code(err))
}

func TestStageInsertAfterWritesSecondaryKeysAndBatchCommitsAtomically(t *testing.T) {
	store := newTestStore(t)
	initBatch := kvstore.NewBatch()
	require.NoError(t, store.StageInitialize(initBatch, "mintA", Down, [32]byte{}, 1))
	require.NoError(t, store.Write(initBatch))

	book, err := store.Load("mintA", Down)
	require.NoError(t, err)

	batch := kvstore.NewBatch()
	idx, err := store.StageInsertAfter(batch, "mintA", Down, book, NoSlot, newOrder(t, 7, 100, 90), 2)
	require.NoError(t, err)
	require.NoError(t, store.Write(batch))

	reloaded, err := store.Load("mintA", Down)
	require.NoError(t, err)
	order, err := reloaded.GetOrder(idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), order.OrderID)

	ids, err := store.ListActiveByMint("mintA", Down, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{7}, ids)
}

func TestStageBatchRemoveClearsSecondaryKeys(t *testing.T) {
	store := newTestStore(t)
	initBatch := kvstore.NewBatch()
	require.NoError(t, store.StageInitialize(initBatch, "mintA", Down, [32]byte{}, 1))
	require.NoError(t, store.Write(initBatch))

	book, err := store.Load("mintA", Down)
	require.NoError(t, err)
	insertBatch := kvstore.NewBatch()
	idx, err := store.StageInsertAfter(insertBatch, "mintA", Down, book, NoSlot, newOrder(t, 7, 100, 90), 2)
	require.NoError(t, err)
	require.NoError(t, store.Write(insertBatch))

	book, err = store.Load("mintA", Down)
	require.NoError(t, err)
	removeBatch := kvstore.NewBatch()
	_, err = store.StageBatchRemove(removeBatch, "mintA", Down, book, []uint16{idx})
	require.NoError(t, err)
	require.NoError(t, store.Write(removeBatch))

	ids, err := store.ListActiveByMint("mintA", Down, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
