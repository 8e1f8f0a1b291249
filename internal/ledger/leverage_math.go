package ledger

import "github.com/Elliptic-DAO/elp-protocol/internal/emath"

// ComputePnl returns the signed profit of a position at the given price.
// price_ratio = entry/current (e8s); diff = 1.0 - price_ratio;
// pnl = covered_amount * diff.
func ComputePnl(p LeveragePosition, currentRate uint64) int64 {
	priceRatio := emath.DivE8s(p.EntryPrice.Rate, currentRate)
	diff := int64(emath.E8s) - int64(priceRatio)
	if diff > 0 {
		return int64(emath.MulE8s(p.CoveredAmount, uint64(diff)))
	}
	return -int64(emath.MulE8s(uint64(-diff), p.CoveredAmount))
}

// ComputeCashOutAmount returns the amount owed to the position owner at the
// given price: net margin plus profit, or net margin minus loss. The result
// going negative indicates a missed liquidation and is a defect.
func ComputeCashOutAmount(p LeveragePosition, currentRate uint64) uint64 {
	pnl := ComputePnl(p, currentRate)
	netMargin := p.Amount - p.Fee
	if pnl > 0 {
		return netMargin + uint64(pnl)
	}
	loss := uint64(-pnl)
	if loss > netMargin {
		panic("FATAL: cash-out amount went negative, position should have been liquidated")
	}
	return netMargin - loss
}

// ComputeMarginRatio scores a position's distance to liquidation; lower is
// riskier. ratio = ((amount+covered)*current - amount*entry) / (amount*entry).
func ComputeMarginRatio(currentRate, entryRate, amount, coveredAmount uint64) uint64 {
	totalPositionValue := emath.MulE8s(amount+coveredAmount, currentRate)
	margin := emath.MulE8s(amount, entryRate)
	equity := emath.SaturatingSub(totalPositionValue, margin)
	return emath.DivE8s(equity, margin)
}

// LiquidationPrice is the price at or below which the position must be
// liquidated: entry * covered/(covered+amount).
func LiquidationPrice(p LeveragePosition) uint64 {
	liquidationRatio := emath.DivE8s(p.CoveredAmount, p.CoveredAmount+p.Amount)
	return emath.MulE8s(liquidationRatio, p.EntryPrice.Rate)
}

// ShouldLiquidate reports whether the position must be liquidated at the
// given price.
func ShouldLiquidate(p LeveragePosition, currentRate uint64) bool {
	return currentRate <= LiquidationPrice(p)
}
