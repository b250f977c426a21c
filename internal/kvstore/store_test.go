package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGetNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get([]byte("missing"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.Code(err))
}

func TestPutThenGet(t *testing.T) {
	store := openTestStore(t)
	batch := NewBatch()
	batch.Put([]byte("key1"), []byte("value1"))
	require.NoError(t, store.Write(batch))

	got, err := store.Get([]byte("key1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), got)
}

func TestBatchAtomicity(t *testing.T) {
	store := openTestStore(t)
	batch := NewBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	require.NoError(t, store.Write(batch))

	a, err := store.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), a)

	b, err := store.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), b)
}

func TestWriteThenDelete(t *testing.T) {
	store := openTestStore(t)
	put := NewBatch()
	put.Put([]byte("k"), []byte("v"))
	require.NoError(t, store.Write(put))

	del := NewBatch()
	del.Delete([]byte("k"))
	require.NoError(t, store.Write(del))

	_, err := store.Get([]byte("k"))
	require.Error(t, err)
}

func TestEmptyBatchIsNoOp(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Write(NewBatch()))
}

func TestScanForwardWithPrefixAndLimit(t *testing.T) {
	store := openTestStore(t)
	batch := NewBatch()
	batch.Put([]byte("book:a:up"), []byte("1"))
	batch.Put([]byte("book:a:dn"), []byte("2"))
	batch.Put([]byte("book:b:up"), []byte("3"))
	batch.Put([]byte("other:x"), []byte("4"))
	require.NoError(t, store.Write(batch))

	rows, err := store.Scan([]byte("book:"), Forward, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	limited, err := store.Scan([]byte("book:"), Forward, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	assert.Equal(t, []byte("book:a:dn"), limited[0].Key)
	assert.Equal(t, []byte("book:a:up"), limited[1].Key)
}

func TestScanBackward(t *testing.T) {
	store := openTestStore(t)
	batch := NewBatch()
	batch.Put([]byte("book:a"), []byte("1"))
	batch.Put([]byte("book:b"), []byte("2"))
	batch.Put([]byte("book:c"), []byte("3"))
	require.NoError(t, store.Write(batch))

	rows, err := store.Scan([]byte("book:"), Backward, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []byte("book:c"), rows[0].Key)
	assert.Equal(t, []byte("book:a"), rows[2].Key)
}

func TestScanNoMatches(t *testing.T) {
	store := openTestStore(t)
	rows, err := store.Scan([]byte("nope:"), Forward, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
