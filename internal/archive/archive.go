// Package archive stores closed margin orders under a keyspace disjoint
// from the live order books, indexed by user and close time so history
// queries never have to touch the live book values. Stored records are
// zstd-compressed JSON, following the original storage design's habit of
// compressing large order snapshots before persisting them.
package archive

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/curvemargin/marginbook/internal/kvstore"
	"github.com/curvemargin/marginbook/internal/orderbook"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// CloseType distinguishes an owner-initiated close from a forced
// liquidation or expiry close.
type CloseType uint8

const (
	CloseNormal CloseType = 1
	CloseForced CloseType = 2
)

// ClosedOrder is the immutable snapshot written when a live slot is
// removed: the order as it stood at close time, plus close metadata.
type ClosedOrder struct {
	Mint      string                `json:"mint"`
	Direction orderbook.Direction   `json:"direction"`
	Order     orderbook.MarginOrder `json:"order"`
	CloseTime uint32                `json:"close_time"`
	CloseType CloseType             `json:"close_type"`
}

// Store writes and queries closed-order records.
type Store struct {
	kv      *kvstore.Store
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewStore builds an archive store over kv. The zstd encoder/decoder are
// reused across calls; they are safe for sequential use from a single
// goroutine, matching how the book store is used under its caller's lease.
func NewStore(kv *kvstore.Store) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrIoError, "create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrIoError, "create zstd decoder")
	}
	return &Store{kv: kv, encoder: enc, decoder: dec}, nil
}

func closedOrderKey(user [32]byte, closeTime uint32, mint string, dir orderbook.Direction, orderID uint64) []byte {
	dirTag := "dn"
	if dir == orderbook.Up {
		dirTag = "up"
	}
	return []byte(fmt.Sprintf("closed_order:%x:%010d:%s:%s:%010d", user, closeTime, mint, dirTag, orderID))
}

// StageClose appends a closed-order write to batch. Callers combine this
// with the order book's StageBatchRemove in the same batch so the
// removal and the archive write commit atomically.
func (s *Store) StageClose(batch *kvstore.Batch, mint string, dir orderbook.Direction, order orderbook.MarginOrder, closeTime uint32, closeType CloseType) error {
	rec := ClosedOrder{
		Mint:      mint,
		Direction: dir,
		Order:     order,
		CloseTime: closeTime,
		CloseType: closeType,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrIoError, "marshal closed order")
	}
	compressed := s.encoder.EncodeAll(raw, nil)
	batch.Put(closedOrderKey(order.User, closeTime, mint, dir, order.OrderID), compressed)
	return nil
}

// Write commits batch atomically.
func (s *Store) Write(batch *kvstore.Batch) error {
	return s.kv.Write(batch)
}

// ListClosedByUser returns closed orders for user within [startTime,
// endTime] (0 meaning unbounded on that side), newest first, up to
// limit records.
func (s *Store) ListClosedByUser(user [32]byte, startTime, endTime uint32, limit int) ([]ClosedOrder, error) {
	prefix := []byte(fmt.Sprintf("closed_order:%x:", user))
	rows, err := s.kv.Scan(prefix, kvstore.Backward, 0)
	if err != nil {
		return nil, err
	}

	out := make([]ClosedOrder, 0, len(rows))
	for _, row := range rows {
		raw, derr := s.decoder.DecodeAll(row.Value, nil)
		if derr != nil {
			return nil, apperrors.Wrap(derr, apperrors.ErrCorruption, "decompress closed order")
		}
		var rec ClosedOrder
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCorruption, "unmarshal closed order")
		}
		if startTime != 0 && rec.CloseTime < startTime {
			continue
		}
		if endTime != 0 && rec.CloseTime > endTime {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
