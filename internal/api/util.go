package api

import (
	"encoding/hex"
	"time"

	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// hexDecode32 decodes a 32-character hex string into a 16-byte buffer,
// the wire encoding for a Q64.64 price.
func hexDecode32(s string) ([16]byte, error) {
	var out [16]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return out, apperrors.Newf(apperrors.ErrInvalidStopLossPrice, "invalid price %q", s)
	}
	copy(out[:], raw)
	return out, nil
}

// nowUnix returns the current time as a uint32 unix timestamp, the
// resolution used throughout the on-disk order book header and slots.
func nowUnix() uint32 {
	return uint32(time.Now().Unix())
}
