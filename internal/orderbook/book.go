package orderbook

import (
	"github.com/curvemargin/marginbook/internal/curve"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// InsertAfter inserts order immediately after refIndex (NoSlot meaning
// "at head"), validating direction ordering and window non-overlap
// against its new neighbours. It returns the newly allocated stable
// slot index.
func (b *Book) InsertAfter(refIndex uint16, order MarginOrder, now uint32) (uint16, error) {
	var prevIdx uint16 = refIndex
	var nextIdx uint16
	if refIndex == NoSlot {
		nextIdx = b.Header.Head
	} else {
		ref, err := b.liveSlot(refIndex)
		if err != nil {
			return 0, err
		}
		nextIdx = ref.NextOrder
	}
	return b.insertBetween(prevIdx, nextIdx, order, now)
}

// InsertBefore inserts order immediately before refIndex (NoSlot
// meaning "at tail"). Symmetric to InsertAfter.
func (b *Book) InsertBefore(refIndex uint16, order MarginOrder, now uint32) (uint16, error) {
	var nextIdx uint16 = refIndex
	var prevIdx uint16
	if refIndex == NoSlot {
		prevIdx = b.Header.Tail
	} else {
		ref, err := b.liveSlot(refIndex)
		if err != nil {
			return 0, err
		}
		prevIdx = ref.PrevOrder
	}
	return b.insertBetween(prevIdx, nextIdx, order, now)
}

func (b *Book) insertBetween(prevIdx, nextIdx uint16, order MarginOrder, now uint32) (uint16, error) {
	if order.OrderID == 0 {
		return 0, apperrors.New(apperrors.ErrInvalidOrderId, "order_id must not be zero")
	}
	if _, exists := b.liveIDs[order.OrderID]; exists {
		return 0, apperrors.Newf(apperrors.ErrOrderIdMismatch, "order_id %d already live in book", order.OrderID)
	}

	var prev, next *MarginOrder
	if prevIdx != NoSlot {
		s, err := b.liveSlot(prevIdx)
		if err != nil {
			return 0, err
		}
		prev = s
	}
	if nextIdx != NoSlot {
		s, err := b.liveSlot(nextIdx)
		if err != nil {
			return 0, err
		}
		next = s
	}

	if err := b.validatePlacement(prev, order, next); err != nil {
		return 0, err
	}

	newIndex := uint16(len(b.Slots))
	if int(newIndex) != len(b.Slots) {
		return 0, apperrors.New(apperrors.ErrExceedsMaxCapacity, "slot index exceeds u16 range")
	}
	order.PrevOrder = prevIdx
	order.NextOrder = nextIdx
	b.Slots = append(b.Slots, order)
	b.Header.TotalCapacity = uint16(len(b.Slots))

	if prevIdx != NoSlot {
		b.Slots[prevIdx].NextOrder = newIndex
	} else {
		b.Header.Head = newIndex
	}
	if nextIdx != NoSlot {
		b.Slots[nextIdx].PrevOrder = newIndex
	} else {
		b.Header.Tail = newIndex
	}

	b.Header.Total++
	if order.OrderID+1 > b.Header.OrderIDCounter {
		b.Header.OrderIDCounter = order.OrderID + 1
	}
	b.Header.LastModified = now
	b.liveIDs[order.OrderID] = newIndex

	return newIndex, nil
}

// validatePlacement enforces §3.4(4): strict monotonic window-start
// ordering in the book's direction, and non-overlap of the new order's
// window with its immediate neighbours.
func (b *Book) validatePlacement(prev *MarginOrder, order MarginOrder, next *MarginOrder) error {
	start := order.StartPrice()
	lo, hi := order.windowBounds()

	if prev != nil {
		pStart := prev.StartPrice()
		ok := false
		if b.Header.Direction == Down {
			ok = pStart.Cmp(start) > 0
		} else {
			ok = pStart.Cmp(start) < 0
		}
		if !ok {
			return apperrors.New(apperrors.ErrNoValidInsertPosition, "new order violates ordering against predecessor")
		}
		pLo, pHi := prev.windowBounds()
		if !(hi.Cmp(pLo) < 0 || lo.Cmp(pHi) > 0) {
			return apperrors.New(apperrors.ErrNoValidInsertPosition, "new order window overlaps predecessor")
		}
	}
	if next != nil {
		nStart := next.StartPrice()
		ok := false
		if b.Header.Direction == Down {
			ok = nStart.Cmp(start) < 0
		} else {
			ok = nStart.Cmp(start) > 0
		}
		if !ok {
			return apperrors.New(apperrors.ErrNoValidInsertPosition, "new order violates ordering against successor")
		}
		nLo, nHi := next.windowBounds()
		if !(hi.Cmp(nLo) < 0 || lo.Cmp(nHi) > 0) {
			return apperrors.New(apperrors.ErrNoValidInsertPosition, "new order window overlaps successor")
		}
	}
	return nil
}

func (b *Book) liveSlot(index uint16) (*MarginOrder, error) {
	if int(index) >= len(b.Slots) {
		return nil, apperrors.Newf(apperrors.ErrInvalidSlotIndex, "slot %d out of range", index)
	}
	s := &b.Slots[index]
	if !s.IsLive() {
		return nil, apperrors.Newf(apperrors.ErrInvalidSlotIndex, "slot %d is not live", index)
	}
	return s, nil
}

// GetOrder returns a copy of the order at index.
func (b *Book) GetOrder(index uint16) (MarginOrder, error) {
	s, err := b.liveSlot(index)
	if err != nil {
		return MarginOrder{}, err
	}
	return *s, nil
}

// GetOrderByID returns a copy of the live order carrying id, and its
// slot index.
func (b *Book) GetOrderByID(id uint64) (uint16, MarginOrder, error) {
	idx, ok := b.liveIDs[id]
	if !ok {
		return 0, MarginOrder{}, apperrors.Newf(apperrors.ErrNotFound, "order_id %d not found", id)
	}
	return idx, b.Slots[idx], nil
}

// UpdateOrder applies delta to the slot at index if expectedVersion
// matches its current version, then increments the version.
func (b *Book) UpdateOrder(index uint16, expectedVersion uint32, delta UpdateDelta, now uint32) (uint32, error) {
	s, err := b.liveSlot(index)
	if err != nil {
		return 0, err
	}
	if s.Version != expectedVersion {
		return 0, apperrors.Newf(apperrors.ErrVersionMismatch, "expected version %d, have %d", expectedVersion, s.Version)
	}
	delta.apply(s)
	s.Version++
	b.Header.LastModified = now
	return s.Version, nil
}

// Traverse walks the list from startIndex (NoSlot meaning head) via
// next_order, invoking visit on each live order until it returns false,
// limit is reached (<=0 meaning unbounded), or the list ends.
func (b *Book) Traverse(startIndex uint16, limit int, visit func(index uint16, order MarginOrder) bool) (processed int, lastIndex uint16) {
	idx := startIndex
	if idx == NoSlot {
		idx = b.Header.Head
	}
	lastIndex = NoSlot
	for idx != NoSlot {
		order := b.Slots[idx]
		if !visit(idx, order) {
			lastIndex = idx
			processed++
			break
		}
		lastIndex = idx
		processed++
		if limit > 0 && processed >= limit {
			break
		}
		idx = order.NextOrder
	}
	return processed, lastIndex
}

// FindInsertAfterIndex returns the ref index to pass to InsertAfter so
// that an order with the given window start lands in the correct
// position for the book's direction: the last live order whose start
// price still precedes startPrice in list order, or NoSlot if
// startPrice belongs at the head.
func (b *Book) FindInsertAfterIndex(startPrice curve.Price) uint16 {
	anchor := NoSlot
	b.Traverse(NoSlot, 0, func(index uint16, order MarginOrder) bool {
		s := order.StartPrice()
		holds := false
		if b.Header.Direction == Down {
			holds = s.Cmp(startPrice) > 0
		} else {
			holds = s.Cmp(startPrice) < 0
		}
		if !holds {
			return false
		}
		anchor = index
		return true
	})
	return anchor
}

// GetAllActiveOrders returns every live order in list order.
func (b *Book) GetAllActiveOrders() []IndexedOrder {
	out := make([]IndexedOrder, 0, b.Header.Total)
	b.Traverse(NoSlot, 0, func(index uint16, order MarginOrder) bool {
		out = append(out, IndexedOrder{Index: index, Order: order})
		return true
	})
	return out
}

// IndexedOrder pairs a slot index with the order copy found there.
type IndexedOrder struct {
	Index uint16
	Order MarginOrder
}

// BatchRemoveByIndicesUnsafe removes every slot named in indices,
// re-splicing the linked list, and returns the removed orders. Indices
// may be given in any order; duplicates are an error. It is "unsafe" in
// that it does not re-validate §3.4(4) for the remaining list, which is
// always preserved automatically by construction of pure removal.
func (b *Book) BatchRemoveByIndicesUnsafe(indices []uint16) ([]IndexedOrder, error) {
	seen := make(map[uint16]bool, len(indices))
	for _, idx := range indices {
		if seen[idx] {
			return nil, apperrors.Newf(apperrors.ErrInvalidSlotIndex, "duplicate index %d in batch remove", idx)
		}
		seen[idx] = true
		if _, err := b.liveSlot(idx); err != nil {
			return nil, err
		}
	}

	totalBefore := b.Header.Total
	removed := make([]IndexedOrder, 0, len(indices))

	for _, idx := range indices {
		s := &b.Slots[idx]
		removedOrder := *s

		prev, next := s.PrevOrder, s.NextOrder
		if prev != NoSlot {
			b.Slots[prev].NextOrder = next
		} else {
			b.Header.Head = next
		}
		if next != NoSlot {
			b.Slots[next].PrevOrder = prev
		} else {
			b.Header.Tail = prev
		}

		s.NextOrder = NoSlot
		s.PrevOrder = NoSlot
		delete(b.liveIDs, s.OrderID)
		s.OrderID = 0

		b.Header.Total--
		removed = append(removed, IndexedOrder{Index: idx, Order: removedOrder})
	}

	if totalBefore-uint16(len(indices)) != b.Header.Total {
		return nil, apperrors.New(apperrors.ErrLinkedListDeleteCountMismatch, "post-removal total does not match expected count")
	}

	return removed, nil
}
