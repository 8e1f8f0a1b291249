package ledger_test

import (
	"testing"

	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

func newState() *ledger.State {
	return ledger.NewState(ledger.InitArgs{})
}

func TestAddLiquidity_CreditsNetAmount(t *testing.T) {
	s := newState()
	s.AddLiquidity(ledger.Liquidity{Caller: "alice", Type: ledger.LiquidityAdd, Amount: 100_000_000, Fee: 250_000})

	if got := s.LiquidityProvided["alice"]; got != 99_750_000 {
		t.Errorf("provided: got %d, want 99_750_000", got)
	}
	if s.LiquidityAmount != 99_750_000 {
		t.Errorf("tracked total: got %d, want 99_750_000", s.LiquidityAmount)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestRemoveLiquidity_DebitsFullAmount(t *testing.T) {
	s := newState()
	s.AddLiquidity(ledger.Liquidity{Caller: "alice", Type: ledger.LiquidityAdd, Amount: 100_000_000})
	s.RemoveLiquidity(ledger.Liquidity{Caller: "alice", Type: ledger.LiquidityRemove, Amount: 40_000_000})

	if got := s.LiquidityProvided["alice"]; got != 60_000_000 {
		t.Errorf("provided: got %d, want 60_000_000", got)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestRemoveLiquidity_UnknownProviderPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	newState().RemoveLiquidity(ledger.Liquidity{Caller: "mallory", Type: ledger.LiquidityRemove, Amount: 1})
}

func TestOpenClosePosition_TotalsInLockStep(t *testing.T) {
	s := newState()
	s.CollateralAmount = 1_000_000_000

	p := position(100_000_000, 400_000_000, 1_000_000_000, 250_000)
	s.OpenLeveragePosition(p)

	if s.LeverageMarginAmount != 99_750_000 {
		t.Errorf("margin total: got %d, want 99_750_000", s.LeverageMarginAmount)
	}
	if s.CollateralCoveredAmount != 400_000_000 {
		t.Errorf("covered total: got %d, want 400_000_000", s.CollateralCoveredAmount)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Fatalf("invariants after open: %v", err)
	}

	// Close at a profit: the 80_000_000 gain is drawn from collateral.
	s.CloseLeveragePosition(p, ledger.IcpPrice{Rate: 1_250_000_000})

	if s.LeverageMarginAmount != 0 {
		t.Errorf("margin total after close: got %d, want 0", s.LeverageMarginAmount)
	}
	if s.CollateralCoveredAmount != 0 {
		t.Errorf("covered total after close: got %d, want 0", s.CollateralCoveredAmount)
	}
	if s.CollateralAmount != 1_000_000_000-80_000_000 {
		t.Errorf("collateral: got %d, want %d", s.CollateralAmount, 1_000_000_000-80_000_000)
	}
	if _, ok := s.LeveragePositionByIndex(p.DepositBlockIndex); ok {
		t.Error("position should be gone after close")
	}
	if err := s.CheckInvariants(); err != nil {
		t.Errorf("invariants after close: %v", err)
	}
}

func TestClosePosition_LossReturnsToCollateral(t *testing.T) {
	s := newState()
	s.CollateralAmount = 1_000_000_000

	p := position(100_000_000, 400_000_000, 1_000_000_000, 250_000)
	s.OpenLeveragePosition(p)
	s.CloseLeveragePosition(p, ledger.IcpPrice{Rate: 900_000_000})

	// Net margin 99_750_000, cash-out 55_305_556: difference returns to
	// the collateral pool.
	want := uint64(1_000_000_000 + 99_750_000 - 55_305_556)
	if s.CollateralAmount != want {
		t.Errorf("collateral: got %d, want %d", s.CollateralAmount, want)
	}
}

func TestLiquidatePosition_ForfeitsMarginToCollateral(t *testing.T) {
	s := newState()
	s.CollateralAmount = 1_000_000_000

	p := position(100_000_000, 400_000_000, 1_000_000_000, 250_000)
	s.OpenLeveragePosition(p)
	s.LiquidateLeveragePosition(p)

	if s.CollateralAmount != 1_000_000_000+99_750_000 {
		t.Errorf("collateral: got %d, want %d", s.CollateralAmount, 1_000_000_000+99_750_000)
	}
	if s.LeverageMarginAmount != 0 || s.CollateralCoveredAmount != 0 {
		t.Errorf("totals not cleared: margin %d, covered %d", s.LeverageMarginAmount, s.CollateralCoveredAmount)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestInsertPosition_DuplicateBlockIndexIsNoop(t *testing.T) {
	s := newState()
	s.CollateralAmount = 1_000_000_000

	p := position(100_000_000, 400_000_000, 1_000_000_000, 0)
	s.OpenLeveragePosition(p)
	s.OpenLeveragePosition(p)

	if got := len(s.LeveragePositions["alice"]); got != 1 {
		t.Errorf("positions: got %d, want 1", got)
	}
}

func TestFinishSwap_IcpToEusd(t *testing.T) {
	s := newState()
	swap := ledger.Swap{
		Caller:         "alice",
		From:           ledger.AssetICP,
		FromBlockIndex: 7,
		FromAmount:     999_990_000,
		To:             ledger.AssetEUSD,
		Rate:           1_000_000_000,
		Fee:            2_499_975,
	}
	s.RecordOpenSwap(swap)
	s.FinishSwap(7)

	if s.CollateralAmount != 997_490_025 {
		t.Errorf("collateral: got %d, want 997_490_025", s.CollateralAmount)
	}
	if s.TotalEusdMinted != 9_974_900_250 {
		t.Errorf("minted: got %d, want 9_974_900_250", s.TotalEusdMinted)
	}
	if len(s.OpenSwaps) != 0 {
		t.Error("swap should be removed from the open set")
	}
}

func TestFinishSwap_EusdToIcp(t *testing.T) {
	s := newState()
	s.CollateralAmount = 997_490_025
	s.TotalEusdMinted = 9_974_900_250

	swap := ledger.Swap{
		Caller:         "alice",
		From:           ledger.AssetEUSD,
		FromBlockIndex: 8,
		FromAmount:     9_974_900_250,
		To:             ledger.AssetICP,
		Rate:           1_000_000_000,
		Fee:            24_937_250,
	}
	s.RecordOpenSwap(swap)
	s.FinishSwap(8)

	if s.TotalEusdBurned != 9_974_900_250 {
		t.Errorf("burned: got %d, want 9_974_900_250", s.TotalEusdBurned)
	}
	// (amount - fee) / rate leaves the truncation dust behind.
	if s.CollateralAmount != 997_490_025-994_996_300 {
		t.Errorf("collateral: got %d, want %d", s.CollateralAmount, 997_490_025-994_996_300)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestFinishSwap_UnknownIndexIsNoop(t *testing.T) {
	s := newState()
	s.FinishSwap(42)
	if s.TotalEusdMinted != 0 || s.TotalEusdBurned != 0 {
		t.Error("unknown swap index must not mutate totals")
	}
}

func TestDistributeFee_ProRataWithRemainder(t *testing.T) {
	s := newState()
	s.AddLiquidity(ledger.Liquidity{Caller: "alice", Type: ledger.LiquidityAdd, Amount: 10_000})
	s.AddLiquidity(ledger.Liquidity{Caller: "bob", Type: ledger.LiquidityAdd, Amount: 20_000})
	s.AddLiquidity(ledger.Liquidity{Caller: "carol", Type: ledger.LiquidityAdd, Amount: 40_000})

	s.DistributeFee(100_000)

	want := map[ledger.Principal]uint64{"alice": 14_285, "bob": 28_571, "carol": 57_142}
	for p, w := range want {
		if got := s.LiquidityRewards[p]; got != w {
			t.Errorf("reward[%s]: got %d, want %d", p, got, w)
		}
	}
	// 99_998 distributed, 2 carried forward.
	if s.TotalAvailableFees != 2 {
		t.Errorf("carried-forward pool: got %d, want 2", s.TotalAvailableFees)
	}
}

func TestDistributeFee_Conservation(t *testing.T) {
	s := newState()
	amounts := []uint64{13, 7_777, 100_001, 999_999_937, 3}
	for i, a := range amounts {
		s.AddLiquidity(ledger.Liquidity{Caller: ledger.Principal(rune('a' + i)), Type: ledger.LiquidityAdd, Amount: a})
	}

	var fees uint64 = 123_456_789
	s.DistributeFee(fees)

	var distributed uint64
	for _, r := range s.LiquidityRewards {
		distributed += r
	}
	if distributed+s.TotalAvailableFees != fees {
		t.Errorf("conservation: distributed %d + pool %d != %d", distributed, s.TotalAvailableFees, fees)
	}
	if distributed > fees {
		t.Errorf("distributed %d exceeds the fee pool %d", distributed, fees)
	}
}

func TestDistributeFee_NoProvidersPoolsTheFee(t *testing.T) {
	s := newState()
	s.DistributeFee(100_000)

	if s.TotalAvailableFees != 100_000 {
		t.Errorf("pool: got %d, want 100_000", s.TotalAvailableFees)
	}
	if len(s.LiquidityRewards) != 0 {
		t.Error("no rewards should accrue without providers")
	}
}

func TestDistributeFee_CarriedRemainderIsDistributedLater(t *testing.T) {
	s := newState()
	s.DistributeFee(100_000)
	s.AddLiquidity(ledger.Liquidity{Caller: "alice", Type: ledger.LiquidityAdd, Amount: 10_000})

	// The pooled fee pays out on the next distribution, even a zero one.
	s.DistributeFee(0)

	if got := s.LiquidityRewards["alice"]; got != 100_000 {
		t.Errorf("reward: got %d, want 100_000", got)
	}
	if s.TotalAvailableFees != 0 {
		t.Errorf("pool: got %d, want 0", s.TotalAvailableFees)
	}
}
