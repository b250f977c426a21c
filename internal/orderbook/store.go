package orderbook

import (
	"fmt"

	"github.com/curvemargin/marginbook/internal/kvstore"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// Store binds the in-memory book engine to the embedded KV store,
// maintaining the book value and its active_order/active_user/active_id
// secondary projections (§6.1) as one atomic batch per mutation.
type Store struct {
	kv *kvstore.Store
}

// NewStore wraps kv for order-book access.
func NewStore(kv *kvstore.Store) *Store {
	return &Store{kv: kv}
}

func directionTag(d Direction) string {
	if d == Up {
		return "up"
	}
	return "dn"
}

func bookKey(mint string, dir Direction) []byte {
	return []byte(fmt.Sprintf("book:%s:%s", mint, directionTag(dir)))
}

func activeOrderKey(mint string, dir Direction, slot uint16, orderID uint64) []byte {
	return []byte(fmt.Sprintf("active_order:%s:%s:%010d:%010d", mint, directionTag(dir), slot, orderID))
}

func activeUserKey(user [32]byte, mint string, dir Direction, slot uint16, orderID uint64) []byte {
	return []byte(fmt.Sprintf("active_user:%x:%s:%s:%010d:%010d", user, mint, directionTag(dir), slot, orderID))
}

func activeIDKey(mint string, dir Direction, orderID uint64) []byte {
	return []byte(fmt.Sprintf("active_id:%s:%s:%010d", mint, directionTag(dir), orderID))
}

// Load reads and decodes the book for (mint, direction).
func (s *Store) Load(mint string, dir Direction) (*Book, error) {
	raw, err := s.kv.Get(bookKey(mint, dir))
	if err != nil {
		return nil, err
	}
	return DecodeBook(raw)
}

// StageInitialize writes an empty header for a book that must not
// already exist.
func (s *Store) StageInitialize(batch *kvstore.Batch, mint string, dir Direction, authority [32]byte, now uint32) error {
	if _, err := s.kv.Get(bookKey(mint, dir)); err == nil {
		return apperrors.Newf(apperrors.ErrAlreadyInitialized, "book %s:%s already initialized", mint, directionTag(dir))
	} else if apperrors.Code(err) != apperrors.ErrNotFound {
		return err
	}
	book := NewBook(dir, authority, now)
	return s.stageBook(batch, mint, dir, book)
}

func (s *Store) stageBook(batch *kvstore.Batch, mint string, dir Direction, book *Book) error {
	encoded, err := book.Encode()
	if err != nil {
		return err
	}
	batch.Put(bookKey(mint, dir), encoded)
	return nil
}

// StageInsertAfter mutates book in memory (insert after refIndex) and
// stages the book value plus the new order's secondary keys into batch.
func (s *Store) StageInsertAfter(batch *kvstore.Batch, mint string, dir Direction, book *Book, refIndex uint16, order MarginOrder, now uint32) (uint16, error) {
	idx, err := book.InsertAfter(refIndex, order, now)
	if err != nil {
		return 0, err
	}
	s.stageActiveKeys(batch, mint, dir, idx, order)
	return idx, s.stageBook(batch, mint, dir, book)
}

// StageInsertBefore is the insert_before counterpart of StageInsertAfter.
func (s *Store) StageInsertBefore(batch *kvstore.Batch, mint string, dir Direction, book *Book, refIndex uint16, order MarginOrder, now uint32) (uint16, error) {
	idx, err := book.InsertBefore(refIndex, order, now)
	if err != nil {
		return 0, err
	}
	s.stageActiveKeys(batch, mint, dir, idx, order)
	return idx, s.stageBook(batch, mint, dir, book)
}

func (s *Store) stageActiveKeys(batch *kvstore.Batch, mint string, dir Direction, slot uint16, order MarginOrder) {
	batch.Put(activeOrderKey(mint, dir, slot, order.OrderID), nil)
	batch.Put(activeUserKey(order.User, mint, dir, slot, order.OrderID), nil)
	batch.Put(activeIDKey(mint, dir, order.OrderID), []byte(fmt.Sprintf("%010d", slot)))
}

func (s *Store) unstageActiveKeys(batch *kvstore.Batch, mint string, dir Direction, slot uint16, order MarginOrder) {
	batch.Delete(activeOrderKey(mint, dir, slot, order.OrderID))
	batch.Delete(activeUserKey(order.User, mint, dir, slot, order.OrderID))
	batch.Delete(activeIDKey(mint, dir, order.OrderID))
}

// StageUpdateOrder mutates the slot at index in memory and stages the
// re-encoded book value. Secondary keys are unaffected since neither
// the slot index nor the order id change.
func (s *Store) StageUpdateOrder(batch *kvstore.Batch, mint string, dir Direction, book *Book, index uint16, expectedVersion uint32, delta UpdateDelta, now uint32) (uint32, error) {
	v, err := book.UpdateOrder(index, expectedVersion, delta, now)
	if err != nil {
		return 0, err
	}
	return v, s.stageBook(batch, mint, dir, book)
}

// StageBatchRemove removes indices from book in memory and stages the
// book value plus removal of each victim's secondary keys. Callers
// needing archival must write the returned orders into the archive
// within the same batch before committing.
func (s *Store) StageBatchRemove(batch *kvstore.Batch, mint string, dir Direction, book *Book, indices []uint16) ([]IndexedOrder, error) {
	removed, err := book.BatchRemoveByIndicesUnsafe(indices)
	if err != nil {
		return nil, err
	}
	for _, r := range removed {
		s.unstageActiveKeys(batch, mint, dir, r.Index, r.Order)
	}
	return removed, s.stageBook(batch, mint, dir, book)
}

// Write commits batch atomically against the underlying KV store.
func (s *Store) Write(batch *kvstore.Batch) error {
	return s.kv.Write(batch)
}

// ListActiveByMint scans active_order: projections for (mint, direction).
func (s *Store) ListActiveByMint(mint string, dir Direction, limit int) ([]uint64, error) {
	prefix := []byte(fmt.Sprintf("active_order:%s:%s:", mint, directionTag(dir)))
	rows, err := s.kv.Scan(prefix, kvstore.Forward, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(rows))
	for _, row := range rows {
		var orderID uint64
		// key: active_order:<mint>:<dir>:<slot:010>:<order_id:010>
		key := string(row.Key)
		if len(key) < 10 {
			continue
		}
		idStr := key[len(key)-10:]
		var parsed uint64
		fmt.Sscanf(idStr, "%010d", &parsed)
		orderID = parsed
		ids = append(ids, orderID)
	}
	return ids, nil
}

// ListActiveByUser scans active_user: projections for a user, optionally
// narrowed to mint and/or direction via key-prefix construction by the
// caller's handler layer; this helper returns raw matching keys.
func (s *Store) ListActiveByUser(user [32]byte, limit int) ([]kvstore.KV, error) {
	prefix := []byte(fmt.Sprintf("active_user:%x:", user))
	return s.kv.Scan(prefix, kvstore.Forward, limit)
}
