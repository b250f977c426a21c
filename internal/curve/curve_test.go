package curve

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceBytesRoundTrip(t *testing.T) {
	p := InitialPrice()
	b := p.Bytes16LE()
	got := PriceFromBytes16LE(b)
	assert.Equal(t, 0, p.Cmp(got))
}

func TestNewPriceRejectsOutOfRange(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 129)
	_, err := NewPrice(tooBig)
	require.Error(t, err)

	negative := big.NewInt(-1)
	_, err = NewPrice(negative)
	require.Error(t, err)
}

func TestPriceToReservesRoundTrip(t *testing.T) {
	p := InitialPrice()
	sol, token, err := PriceToReserves(p)
	require.NoError(t, err)
	assert.Equal(t, virtualSolReserve, sol)
	assert.Equal(t, virtualTokenReserve, token)
}

func TestBuyThenSellReturnsNearStartingPrice(t *testing.T) {
	start := InitialPrice()
	target, solCost, err := BuyFromPriceWithTokenOutput(start, 1_000_000_000)
	require.NoError(t, err)
	assert.Greater(t, solCost, uint64(0))
	assert.Equal(t, 1, target.Cmp(start))

	back, solGain, err := SellFromPriceWithTokenInput(target, 1_000_000_000)
	require.NoError(t, err)
	assert.Greater(t, solGain, uint64(0))
	// selling back the same token delta should not overshoot the start price
	assert.True(t, back.Cmp(start) <= 0)
}

func TestBuyFromPriceWithTokenOutputRejectsExcessiveDelta(t *testing.T) {
	start := InitialPrice()
	_, token0, err := PriceToReserves(start)
	require.NoError(t, err)
	_, _, err = BuyFromPriceWithTokenOutput(start, token0)
	require.Error(t, err)
}

func TestBuyFromPriceToPriceRejectsBackwardRange(t *testing.T) {
	start := InitialPrice()
	target, _, err := BuyFromPriceWithTokenOutput(start, 1_000_000_000)
	require.NoError(t, err)

	_, _, err = BuyFromPriceToPrice(target, start)
	require.Error(t, err)

	solCost, tokenOut, err := BuyFromPriceToPrice(start, target)
	require.NoError(t, err)
	assert.Greater(t, solCost, uint64(0))
	assert.Greater(t, tokenOut, uint64(0))
}

func TestSellFromPriceToPriceRejectsBackwardRange(t *testing.T) {
	start := InitialPrice()
	target, _, err := SellFromPriceWithTokenInput(start, 1_000_000_000)
	require.NoError(t, err)

	_, _, err = SellFromPriceToPrice(target, start)
	require.Error(t, err)

	tokenIn, solOut, err := SellFromPriceToPrice(start, target)
	require.NoError(t, err)
	assert.Greater(t, tokenIn, uint64(0))
	assert.Greater(t, solOut, uint64(0))
}

func TestWithFeeAndAfterFeeAreInverseDirections(t *testing.T) {
	amount := uint64(1_000_000)
	withFee, err := WithFee(amount, 100) // 1%
	require.NoError(t, err)
	assert.Greater(t, withFee, amount)

	afterFee, err := AfterFee(amount, 100)
	require.NoError(t, err)
	assert.Less(t, afterFee, amount)
}

func TestWithFeeRoundsUp(t *testing.T) {
	got, err := WithFee(3, 1) // 3 * 10001 / 10000 = 3.0003, rounds up to 4 after +9999 ceil
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got, uint64(3))
}

func TestAfterFeeRoundsDown(t *testing.T) {
	got, err := AfterFee(3, 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, got, uint64(3))
}
