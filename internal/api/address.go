package api

import (
	"encoding/hex"

	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// parseAddress decodes a 32-byte hex-encoded address (mint or user).
func parseAddress(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, apperrors.Newf(apperrors.ErrInvalidOrderId, "invalid address %q", s)
	}
	copy(out[:], raw)
	return out, nil
}
