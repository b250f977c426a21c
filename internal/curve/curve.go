// Package curve implements the pure, deterministic fixed-point math of
// the bonding curve: a constant-product relationship between a virtual
// SOL reserve and a virtual token reserve, addressed through a Q64.64
// fixed-point Price. Every function here is side-effect free; callers
// (the trade engine) own all persistence and mutation.
package curve

import (
	"math/big"

	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// Scale is 2^64, the Q64.64 fixed-point denominator.
var Scale = new(big.Int).Lsh(big.NewInt(1), 64)

// maxU128 bounds every Price: it must fit in 128 bits.
var maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// maxU64 bounds every reserve/amount value.
var maxU64 = new(big.Int).SetUint64(^uint64(0))

// virtualSolReserve and virtualTokenReserve anchor the curve's constant
// product K = virtualSolReserve * virtualTokenReserve. They are the
// reserves at InitialPrice, chosen the way a pump.fun-style bonding
// curve seeds its virtual liquidity.
const (
	virtualSolReserve   uint64 = 30_000_000_000          // 30 SOL, lamports
	virtualTokenReserve uint64 = 1_073_000_000_000_000   // smallest-unit tokens
)

// k is the constant product anchoring the curve: sol * token = k for
// every reachable price.
var k = new(big.Int).Mul(big.NewInt(0).SetUint64(virtualSolReserve), big.NewInt(0).SetUint64(virtualTokenReserve))

// Price is a Q64.64 fixed-point, non-negative, at most 128 bits wide.
type Price struct {
	v *big.Int
}

// NewPrice wraps a big.Int as a Price, rejecting out-of-range values.
func NewPrice(v *big.Int) (Price, error) {
	if v.Sign() < 0 || v.Cmp(maxU128) > 0 {
		return Price{}, apperrors.New(apperrors.ErrBuyOverflow, "price out of u128 range")
	}
	return Price{v: new(big.Int).Set(v)}, nil
}

// Int returns the underlying big.Int; callers must not mutate it.
func (p Price) Int() *big.Int { return p.v }

// Cmp compares two prices.
func (p Price) Cmp(o Price) int { return p.v.Cmp(o.v) }

// Bytes16LE serializes the price into a 16-byte little-endian buffer,
// matching the on-disk MarginOrder layout.
func (p Price) Bytes16LE() [16]byte {
	var out [16]byte
	be := p.v.FillBytes(make([]byte, 16)) // big-endian, 16 bytes
	for i := 0; i < 16; i++ {
		out[i] = be[15-i]
	}
	return out
}

// PriceFromBytes16LE parses a 16-byte little-endian buffer into a Price.
func PriceFromBytes16LE(b [16]byte) Price {
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = b[15-i]
	}
	return Price{v: new(big.Int).SetBytes(be)}
}

// InitialPrice returns the curve's starting price: virtualSolReserve /
// virtualTokenReserve, in Q64.64.
func InitialPrice() Price {
	num := new(big.Int).Mul(big.NewInt(0).SetUint64(virtualSolReserve), Scale)
	v := new(big.Int).Quo(num, big.NewInt(0).SetUint64(virtualTokenReserve))
	return Price{v: v}
}

// PriceToReserves returns the (sol, token) pair on the curve at price p,
// solving sol*token = k and sol*Scale/token = p.v for sol via integer
// square root rounded to the nearest integer, then deriving token from
// the product invariant.
func PriceToReserves(p Price) (sol, token uint64, err error) {
	if p.v.Sign() <= 0 {
		return 0, 0, apperrors.New(apperrors.ErrBuyOverflow, "price must be positive")
	}
	// sol^2 = k * p / Scale
	num := new(big.Int).Mul(k, p.v)
	solSq := new(big.Int).Quo(num, Scale)
	solBig := new(big.Int).Sqrt(solSq)
	// Sqrt floors; round up when solSq is closer to (solBig+1)^2, so the
	// truncation in p.v does not shift reserves one lamport low.
	if new(big.Int).Sub(solSq, new(big.Int).Mul(solBig, solBig)).Cmp(solBig) > 0 {
		solBig.Add(solBig, big.NewInt(1))
	}
	if solBig.Sign() == 0 {
		return 0, 0, apperrors.New(apperrors.ErrReserveDeductionOverflow, "degenerate reserves at price")
	}
	tokenBig := new(big.Int).Quo(k, solBig)
	if solBig.Cmp(maxU64) > 0 || tokenBig.Cmp(maxU64) > 0 {
		return 0, 0, apperrors.New(apperrors.ErrReserveAdditionOverflow, "reserves exceed u64 range")
	}
	return solBig.Uint64(), tokenBig.Uint64(), nil
}

func priceFromReserves(sol, token uint64) (Price, error) {
	if token == 0 {
		return Price{}, apperrors.New(apperrors.ErrSellOverflow, "zero token reserve")
	}
	num := new(big.Int).Mul(big.NewInt(0).SetUint64(sol), Scale)
	v := new(big.Int).Quo(num, big.NewInt(0).SetUint64(token))
	return NewPrice(v)
}

// BuyFromPriceWithTokenOutput returns the price reached, and the SOL
// cost before fees, of removing deltaToken tokens from the curve's
// virtual reserve starting at p.
func BuyFromPriceWithTokenOutput(p Price, deltaToken uint64) (target Price, solCost uint64, err error) {
	sol0, token0, err := PriceToReserves(p)
	if err != nil {
		return Price{}, 0, err
	}
	if deltaToken >= token0 {
		return Price{}, 0, apperrors.New(apperrors.ErrBuyOverflow, "buy exceeds available token reserve")
	}
	token1 := token0 - deltaToken
	sol1Big := new(big.Int).Quo(k, big.NewInt(0).SetUint64(token1))
	if sol1Big.Cmp(maxU64) > 0 {
		return Price{}, 0, apperrors.New(apperrors.ErrBuyOverflow, "sol reserve overflow on buy")
	}
	sol1 := sol1Big.Uint64()
	if sol1 < sol0 {
		return Price{}, 0, apperrors.New(apperrors.ErrBuyOverflow, "non-monotonic buy")
	}
	target, err = priceFromReserves(sol1, token1)
	if err != nil {
		return Price{}, 0, err
	}
	return target, sol1 - sol0, nil
}

// SellFromPriceWithTokenInput returns the price reached, and the SOL
// gained before fees, of adding deltaToken tokens to the curve's
// virtual reserve starting at p.
func SellFromPriceWithTokenInput(p Price, deltaToken uint64) (target Price, solGain uint64, err error) {
	sol0, token0, err := PriceToReserves(p)
	if err != nil {
		return Price{}, 0, err
	}
	token1 := token0 + deltaToken
	if token1 < token0 {
		return Price{}, 0, apperrors.New(apperrors.ErrSellOverflow, "token reserve overflow on sell")
	}
	sol1Big := new(big.Int).Quo(k, big.NewInt(0).SetUint64(token1))
	sol1 := sol1Big.Uint64()
	if sol1 > sol0 {
		return Price{}, 0, apperrors.New(apperrors.ErrSellOverflow, "non-monotonic sell")
	}
	target, err = priceFromReserves(sol1, token1)
	if err != nil {
		return Price{}, 0, err
	}
	return target, sol0 - sol1, nil
}

// BuyFromPriceToPrice returns the SOL cost and token output of moving
// the curve from p0 to p1 via a buy (p1 must not be below p0).
func BuyFromPriceToPrice(p0, p1 Price) (solCost, tokenOut uint64, err error) {
	sol0, token0, err := PriceToReserves(p0)
	if err != nil {
		return 0, 0, err
	}
	sol1, token1, err := PriceToReserves(p1)
	if err != nil {
		return 0, 0, err
	}
	if sol1 < sol0 || token1 > token0 {
		return 0, 0, apperrors.New(apperrors.ErrBuyOverflow, "buy range moves price backward")
	}
	return sol1 - sol0, token0 - token1, nil
}

// SellFromPriceToPrice returns the token input and SOL output of moving
// the curve from p0 to p1 via a sell (p1 must not be above p0).
func SellFromPriceToPrice(p0, p1 Price) (tokenIn, solOut uint64, err error) {
	sol0, token0, err := PriceToReserves(p0)
	if err != nil {
		return 0, 0, err
	}
	sol1, token1, err := PriceToReserves(p1)
	if err != nil {
		return 0, 0, err
	}
	if sol1 > sol0 || token1 < token0 {
		return 0, 0, apperrors.New(apperrors.ErrSellOverflow, "sell range moves price backward")
	}
	return token1 - token0, sol0 - sol1, nil
}

// WithFee returns amount scaled up by bps/10000, rounded up so the
// trader never under-pays due to truncation.
func WithFee(amount uint64, bps uint16) (uint64, error) {
	num := new(big.Int).Mul(big.NewInt(0).SetUint64(amount), big.NewInt(10_000+int64(bps)))
	num.Add(num, big.NewInt(9_999))
	res := new(big.Int).Quo(num, big.NewInt(10_000))
	if res.Cmp(maxU64) > 0 {
		return 0, apperrors.New(apperrors.ErrFeeSplitOverflow, "fee-inclusive amount overflows u64")
	}
	return res.Uint64(), nil
}

// AfterFee returns amount scaled down by bps/10000, rounded down so
// payouts never exceed the pre-fee amount.
func AfterFee(amount uint64, bps uint16) (uint64, error) {
	num := new(big.Int).Mul(big.NewInt(0).SetUint64(amount), big.NewInt(10_000-int64(bps)))
	res := new(big.Int).Quo(num, big.NewInt(10_000))
	if res.Cmp(maxU64) > 0 {
		return 0, apperrors.New(apperrors.ErrFeeSplitOverflow, "fee-deducted amount overflows u64")
	}
	return res.Uint64(), nil
}
