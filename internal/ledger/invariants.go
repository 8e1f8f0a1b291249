package ledger

import (
	"fmt"
	"reflect"

	"github.com/Elliptic-DAO/elp-protocol/internal/emath"
)

// CheckInvariants verifies the numeric invariants tying the per-entity maps
// to the running totals. A violation is a programming defect, never a
// recoverable condition; callers are expected to treat a non-nil result as
// fatal.
func (s *State) CheckInvariants() error {
	coveredRatio := s.CoveredRatio()
	if coveredRatio >= emath.E8s {
		return fmt.Errorf(
			"covered ratio is >= 1: covered amount %d, collateral amount %d",
			s.CollateralCoveredAmount, s.CollateralAmount,
		)
	}

	if s.TotalEusdBurned > s.TotalEusdMinted {
		return fmt.Errorf(
			"inconsistent eusd: burned %d, minted %d",
			s.TotalEusdBurned, s.TotalEusdMinted,
		)
	}

	if sum := s.TotalLiquidityAmount(); sum != s.LiquidityAmount {
		return fmt.Errorf(
			"inconsistent liquidity: sum %d, tracked %d",
			sum, s.LiquidityAmount,
		)
	}

	if sum := s.TotalLeverageAmount(); sum != s.LeverageMarginAmount {
		return fmt.Errorf(
			"inconsistent leverage: sum %d, tracked %d",
			sum, s.LeverageMarginAmount,
		)
	}

	if covered := s.LeverageCoveredAmount(); covered != s.CollateralCoveredAmount {
		return fmt.Errorf(
			"inconsistent covered collateral: sum %d, tracked %d",
			covered, s.CollateralCoveredAmount,
		)
	}

	return nil
}

// MustCheckInvariants panics on any invariant violation.
func (s *State) MustCheckInvariants() {
	if err := s.CheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
}

// SemanticallyEqual reports whether the other state holds the same data,
// modulo the price-history index and the live-only guard sets. Used to
// compare the live state against one freshly replayed from the event log.
func (s *State) SemanticallyEqual(other *State) error {
	if err := eq("liquidity_provided", s.LiquidityProvided, other.LiquidityProvided); err != nil {
		return err
	}
	if err := eq("liquidity_rewards", s.LiquidityRewards, other.LiquidityRewards); err != nil {
		return err
	}
	if err := eq("leverage_positions", s.LeveragePositions, other.LeveragePositions); err != nil {
		return err
	}
	if err := eq("block_index_to_owner", s.BlockIndexToOwner, other.BlockIndexToOwner); err != nil {
		return err
	}
	if err := eq("open_swaps", s.OpenSwaps, other.OpenSwaps); err != nil {
		return err
	}
	if err := eq("fees", s.Fees, other.Fees); err != nil {
		return err
	}
	if err := eq("collateral_amount", s.CollateralAmount, other.CollateralAmount); err != nil {
		return err
	}
	if err := eq("liquidity_amount", s.LiquidityAmount, other.LiquidityAmount); err != nil {
		return err
	}
	if err := eq("leverage_margin_amount", s.LeverageMarginAmount, other.LeverageMarginAmount); err != nil {
		return err
	}
	if err := eq("collateral_covered_amount", s.CollateralCoveredAmount, other.CollateralCoveredAmount); err != nil {
		return err
	}
	if err := eq("total_eusd_minted", s.TotalEusdMinted, other.TotalEusdMinted); err != nil {
		return err
	}
	if err := eq("total_eusd_burned", s.TotalEusdBurned, other.TotalEusdBurned); err != nil {
		return err
	}
	if err := eq("total_available_fees", s.TotalAvailableFees, other.TotalAvailableFees); err != nil {
		return err
	}
	if err := eq("mode", s.Mode.Kind, other.Mode.Kind); err != nil {
		return err
	}
	return nil
}

func eq(field string, a, b any) error {
	if !reflect.DeepEqual(a, b) {
		return fmt.Errorf("%s does not match: %v != %v", field, a, b)
	}
	return nil
}
