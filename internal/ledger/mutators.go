package ledger

import (
	"fmt"
	"sort"

	"github.com/Elliptic-DAO/elp-protocol/internal/emath"
)

// The direct mutators below are the only code that touches the per-entity
// maps and the running totals, and every mutator updates both in the same
// call. They are used by the live path (through the audit layer) and by
// replay, which is what keeps the two equivalent.

// AddLiquidity credits the net amount to the caller's pooled balance.
func (s *State) AddLiquidity(liq Liquidity) {
	toAdd := liq.Amount - liq.Fee
	s.LiquidityAmount += toAdd
	s.LiquidityProvided[liq.Caller] += toAdd
}

// RemoveLiquidity debits the full requested amount from the caller's pooled
// balance. The caller must have been validated to hold at least liq.Amount.
func (s *State) RemoveLiquidity(liq Liquidity) {
	if liq.Amount > s.LiquidityAmount {
		panic(fmt.Sprintf("FATAL: removing %d liquidity with only %d pooled", liq.Amount, s.LiquidityAmount))
	}
	provided, ok := s.LiquidityProvided[liq.Caller]
	if !ok || provided < liq.Amount {
		panic(fmt.Sprintf("FATAL: removing nonexistent liquidity for %s", liq.Caller))
	}
	s.LiquidityAmount -= liq.Amount
	s.LiquidityProvided[liq.Caller] = provided - liq.Amount
}

// ClaimLiquidityRewards zeroes the owner's accrued reward balance.
func (s *State) ClaimLiquidityRewards(owner Principal) {
	delete(s.LiquidityRewards, owner)
}

// OpenLeveragePosition stores the position and moves its covered exposure
// and net margin into the running totals.
func (s *State) OpenLeveragePosition(p LeveragePosition) {
	if p.Fee > p.Amount {
		panic(fmt.Sprintf("FATAL: position fee %d exceeds margin %d", p.Fee, p.Amount))
	}
	s.CollateralCoveredAmount += p.CoveredAmount
	s.LeverageMarginAmount += p.Amount - p.Fee
	s.insertPosition(p)
	s.BlockIndexToOwner[p.DepositBlockIndex] = p.Owner
}

// CloseLeveragePosition removes the position and settles its PnL against the
// collateral pool: profit is drawn from collateral, loss returned to it.
// The protocol fee charged on the cash-out is distributed separately by the
// audit layer.
func (s *State) CloseLeveragePosition(p LeveragePosition, closePrice IcpPrice) {
	cashOut := ComputeCashOutAmount(p, closePrice.Rate)
	netMargin := p.Amount - p.Fee

	if !s.removePosition(p) {
		panic("FATAL: closing a position that is not in the owner's set")
	}
	s.CollateralCoveredAmount -= p.CoveredAmount
	if netMargin > s.LeverageMarginAmount {
		panic(fmt.Sprintf("FATAL: margin pool underflow: %d > %d", netMargin, s.LeverageMarginAmount))
	}
	s.LeverageMarginAmount -= netMargin

	if cashOut > netMargin {
		profit := cashOut - netMargin
		if profit > s.CollateralAmount {
			panic(fmt.Sprintf("FATAL: collateral pool underflow: profit %d > %d", profit, s.CollateralAmount))
		}
		s.CollateralAmount -= profit
	} else {
		s.CollateralAmount += netMargin - cashOut
	}

	delete(s.BlockIndexToOwner, p.DepositBlockIndex)
}

// LiquidateLeveragePosition removes the position without paying the owner;
// the forfeited margin is folded into the collateral pool.
func (s *State) LiquidateLeveragePosition(p LeveragePosition) {
	if !s.removePosition(p) {
		panic("FATAL: liquidating a position that is not in the owner's set")
	}
	netMargin := p.Amount - p.Fee
	s.CollateralCoveredAmount -= p.CoveredAmount
	if netMargin > s.LeverageMarginAmount {
		panic(fmt.Sprintf("FATAL: margin pool underflow: %d > %d", netMargin, s.LeverageMarginAmount))
	}
	s.LeverageMarginAmount -= netMargin
	s.CollateralAmount += netMargin
	delete(s.BlockIndexToOwner, p.DepositBlockIndex)
}

// RecordOpenSwap stores an in-flight swap keyed by its inbound block index.
func (s *State) RecordOpenSwap(swap Swap) {
	s.OpenSwaps[swap.FromBlockIndex] = swap
}

// FinishSwap settles the outbound leg of an open swap in the totals and
// drops it from the open set. Settling an index with no open swap is a no-op.
func (s *State) FinishSwap(fromBlockIndex uint64) {
	swap, ok := s.OpenSwaps[fromBlockIndex]
	if !ok {
		return
	}
	delete(s.OpenSwaps, fromBlockIndex)

	if swap.From == AssetEUSD {
		s.TotalEusdBurned += swap.FromAmount
		deposited := swap.FromAmount - swap.Fee
		transferredIcp := emath.DivE8s(deposited, swap.Rate)
		if transferredIcp > s.CollateralAmount {
			panic(fmt.Sprintf("FATAL: collateral pool underflow on swap settle: %d > %d", transferredIcp, s.CollateralAmount))
		}
		s.CollateralAmount -= transferredIcp
	} else {
		deposited := swap.FromAmount - swap.Fee
		s.CollateralAmount += deposited
		s.TotalEusdMinted += emath.MulE8s(deposited, swap.Rate)
	}
}

// DistributeFee grows the available fee pool and immediately distributes it
// pro-rata over the current liquidity providers. Shares are computed in
// floating arithmetic and truncated to integers; the remainder stays in the
// pool for the next distribution. With no providers the pool just grows.
func (s *State) DistributeFee(fee uint64) {
	s.TotalAvailableFees += fee

	totalLiquidity := s.TotalLiquidityAmount()
	if totalLiquidity == 0 {
		return
	}

	pool := s.TotalAvailableFees

	providers := make([]Principal, 0, len(s.LiquidityProvided))
	for p := range s.LiquidityProvided {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	var distributed uint64
	for _, p := range providers {
		share := float64(s.LiquidityProvided[p]) / float64(totalLiquidity)
		reward := uint64(share * float64(pool))
		if reward == 0 {
			continue
		}
		s.LiquidityRewards[p] += reward
		distributed += reward
	}

	if distributed > pool {
		panic(fmt.Sprintf("FATAL: distributed %d exceeds fee pool %d", distributed, pool))
	}
	s.TotalAvailableFees -= distributed
}

// insertPosition adds the position to its owner's ordered set. A position
// with the same deposit block index is already a member; inserting it again
// is a no-op.
func (s *State) insertPosition(p LeveragePosition) {
	positions := s.LeveragePositions[p.Owner]
	for _, existing := range positions {
		if existing.DepositBlockIndex == p.DepositBlockIndex {
			return
		}
	}
	i := sort.Search(len(positions), func(i int) bool { return p.Less(positions[i]) })
	positions = append(positions, LeveragePosition{})
	copy(positions[i+1:], positions[i:])
	positions[i] = p
	s.LeveragePositions[p.Owner] = positions
}

// removePosition drops the position identified by its deposit block index
// from the owner's set, reporting whether it was present.
func (s *State) removePosition(p LeveragePosition) bool {
	positions, ok := s.LeveragePositions[p.Owner]
	if !ok {
		return false
	}
	for i, existing := range positions {
		if existing.DepositBlockIndex == p.DepositBlockIndex {
			s.LeveragePositions[p.Owner] = append(positions[:i], positions[i+1:]...)
			if len(s.LeveragePositions[p.Owner]) == 0 {
				delete(s.LeveragePositions, p.Owner)
			}
			return true
		}
	}
	return false
}
