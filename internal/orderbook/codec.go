package orderbook

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

const headerFormatVersion uint8 = 1

// Header is the book's fixed-size metadata block.
type Header struct {
	Version       uint8
	Direction     Direction
	Bump          uint8
	Pad           uint8
	Authority     [32]byte
	OrderIDCounter uint64
	CreatedAt     uint32
	LastModified  uint32
	TotalCapacity uint16
	Head          uint16
	Tail          uint16
	Total         uint16
}

// Book is the in-memory decoding of a single book's KV value: the
// header plus the full slot arena, addressed by stable index. Mutation
// happens entirely on this in-memory copy; callers re-encode and stage
// the result into a KV batch.
type Book struct {
	Header Header
	Slots  []MarginOrder

	liveIDs map[uint64]uint16
}

// NewBook returns an empty, initialized book for the given direction
// and authority, as produced by initialize(authority).
func NewBook(direction Direction, authority [32]byte, now uint32) *Book {
	return &Book{
		Header: Header{
			Version:       headerFormatVersion,
			Direction:     direction,
			Authority:     authority,
			CreatedAt:     now,
			LastModified:  now,
			TotalCapacity: 0,
			Head:          NoSlot,
			Tail:          NoSlot,
			Total:         0,
		},
		Slots:   nil,
		liveIDs: make(map[uint64]uint16),
	}
}

func (b *Book) rebuildIndex() {
	b.liveIDs = make(map[uint64]uint16, len(b.Slots))
	for i := range b.Slots {
		if b.Slots[i].IsLive() {
			b.liveIDs[b.Slots[i].OrderID] = uint16(i)
		}
	}
}

// Encode serializes the header and slot arena followed by a blake2b-256
// checksum over that payload, for corruption detection on decode.
func (b *Book) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, b.Header); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrIoError, "encode book header")
	}
	for i := range b.Slots {
		if err := binary.Write(buf, binary.LittleEndian, b.Slots[i]); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrIoError, "encode slot %d", i)
		}
	}
	sum := blake2b.Sum256(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes(), nil
}

// DecodeBook parses a book value, validating its trailing checksum
// before trusting the header or slots.
func DecodeBook(data []byte) (*Book, error) {
	const checksumLen = 32
	if len(data) < checksumLen {
		return nil, apperrors.New(apperrors.ErrCorruption, "book value shorter than checksum")
	}
	payload, wantSum := data[:len(data)-checksumLen], data[len(data)-checksumLen:]
	gotSum := blake2b.Sum256(payload)
	if !bytes.Equal(gotSum[:], wantSum) {
		return nil, apperrors.New(apperrors.ErrCorruption, "book checksum mismatch")
	}

	r := bytes.NewReader(payload)
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCorruption, "decode book header")
	}

	slots := make([]MarginOrder, h.TotalCapacity)
	for i := range slots {
		if err := binary.Read(r, binary.LittleEndian, &slots[i]); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCorruption, "decode slot %d", i)
		}
	}

	book := &Book{Header: h, Slots: slots}
	book.rebuildIndex()
	return book, nil
}

// Clone returns a deep copy safe to mutate independently of b.
func (b *Book) Clone() *Book {
	out := &Book{Header: b.Header, Slots: append([]MarginOrder(nil), b.Slots...)}
	out.rebuildIndex()
	return out
}
