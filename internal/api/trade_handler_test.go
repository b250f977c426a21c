package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/curvemargin/marginbook/internal/archive"
	"github.com/curvemargin/marginbook/internal/curve"
	"github.com/curvemargin/marginbook/internal/kvstore"
	"github.com/curvemargin/marginbook/internal/metrics"
	"github.com/curvemargin/marginbook/internal/orderbook"
	"github.com/curvemargin/marginbook/internal/tradeengine"
)

func newTradeTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	kv := newTestKV(t)
	books := orderbook.NewStore(kv)
	arch, err := archive.NewStore(kv)
	require.NoError(t, err)

	batch := kvstore.NewBatch()
	require.NoError(t, books.StageInitialize(batch, testMint, orderbook.Up, [32]byte{}, 1))
	require.NoError(t, books.StageInitialize(batch, testMint, orderbook.Down, [32]byte{}, 1))
	require.NoError(t, books.Write(batch))

	em := metrics.NewEngineMetrics(prometheus.NewRegistry(), zaptest.NewLogger(t))
	handler := NewTradeHandler(books, arch, em, nil, nil, zaptest.NewLogger(t), tradeengine.Params{
		FeeBps:             100,
		MaxTokenDifference: tradeengine.DefaultMaxTokenDifference,
	})

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1, noAuth)
	return r
}

func currentPriceHex(t *testing.T) string {
	t.Helper()
	return hex.EncodeToString(func() []byte {
		b := curve.InitialPrice().Bytes16LE()
		return b[:]
	}())
}

func TestPlanBuyEmptyBookFastPathOverHTTP(t *testing.T) {
	r := newTradeTestRouter(t)

	reqBody := buyRequest{
		priceRequest:      priceRequest{CurrentPrice: currentPriceHex(t)},
		TargetTokenAmount: 1_000_000_000,
		MaxSolAmount:      1 << 62,
	}
	payload, err := json.Marshal(reqBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/mints/"+testMint+"/buy", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "ok", env.Msg)
}

func TestPlanBuyRejectsMalformedPrice(t *testing.T) {
	r := newTradeTestRouter(t)

	reqBody := buyRequest{
		priceRequest:      priceRequest{CurrentPrice: "not-hex"},
		TargetTokenAmount: 1,
		MaxSolAmount:      1,
	}
	payload, err := json.Marshal(reqBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/mints/"+testMint+"/buy", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlanSellRejectsBelowMinOutputOverHTTP(t *testing.T) {
	r := newTradeTestRouter(t)

	reqBody := sellRequest{
		priceRequest:    priceRequest{CurrentPrice: currentPriceHex(t)},
		SellTokenAmount: 1_000_000_000,
		MinSolOutput:    1 << 62,
	}
	payload, err := json.Marshal(reqBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/mints/"+testMint+"/sell", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCloseLongNotFoundOverHTTP(t *testing.T) {
	r := newTradeTestRouter(t)

	reqBody := closeRequest{priceRequest: priceRequest{CurrentPrice: currentPriceHex(t)}}
	payload, err := json.Marshal(reqBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/mints/"+testMint+"/positions/123/close-long", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
