// Package api exposes the HTTP surface over the order book and trade
// engines. Per §6.3 the core is transport-agnostic; handlers here are
// responsible only for parameter decoding and response shaping.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// Envelope is the uniform response body: {code, msg, data}.
type Envelope struct {
	Code uint32      `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

// Success writes a 200 envelope carrying data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Code: http.StatusOK, Msg: "ok", Data: data})
}

// Fail writes an error envelope, mapping the margin engine's error code
// family to an HTTP status.
func Fail(c *gin.Context, err error) {
	status := httpStatusFor(err)
	c.JSON(status, Envelope{Code: uint32(status), Msg: err.Error(), Data: nil})
}

func httpStatusFor(err error) int {
	switch apperrors.Code(err) {
	case apperrors.ErrNotFound, apperrors.ErrCloseOrderNotFound:
		return http.StatusNotFound
	case apperrors.ErrInvalidOrderId, apperrors.ErrEmptyCloseIndices, apperrors.ErrTooManyCloseIndices,
		apperrors.ErrInvalidStopLossPrice, apperrors.ErrInvalidFeePercentage, apperrors.ErrVersionMismatch,
		apperrors.ErrInsufficientMargin, apperrors.ErrExceedsMaxSolAmount, apperrors.ErrInsufficientSolOutput,
		apperrors.ErrTokenAmountDifferenceOutOfRange, apperrors.ErrCooldownNotExpired,
		apperrors.ErrOrderNotExpiredMustCloseByOwner:
		return http.StatusBadRequest
	case apperrors.ErrInsufficientLiquidity, apperrors.ErrInsufficientMarketLiquidity:
		return http.StatusConflict
	case apperrors.ErrCorruption:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
