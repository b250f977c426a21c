package tradeengine

// Constants ported from the upstream bonding-curve program's economic
// policy. They are defaults; the API trade handler overrides only the fee
// bps per trade from an admin_params row read via internal/params.
const (
	TradeCooldownSeconds = 2
	MinTradeTokenAmount  = 100_000
	MinMarginSolAmount   = 2_000_000

	// DefaultMaxTokenDifference is the plan-consistency tolerance: the
	// absolute gap, in smallest token units, the liquidation walk's
	// final curve computation may diverge from the requested target.
	// Widening it silently weakens the plan-consistency property;
	// narrowing it may reject legitimate trades.
	DefaultMaxTokenDifference = 20

	MinStopLossPercent = 3

	FeeRetentionProbabilityDenominator = 20

	// DefaultMaxCloseInsertIndices bounds how many orders a single
	// batch-remove close may target in one trade.
	DefaultMaxCloseInsertIndices = 20
)
