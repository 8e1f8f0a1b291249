package ledger_test

import (
	"testing"

	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

func position(amount, covered, entry, fee uint64) ledger.LeveragePosition {
	return ledger.LeveragePosition{
		Owner:             "alice",
		Amount:            amount,
		CoveredAmount:     covered,
		EntryPrice:        ledger.IcpPrice{Rate: entry},
		DepositBlockIndex: 1,
		Fee:               fee,
	}
}

func TestComputePnl_PriceUp(t *testing.T) {
	// Entry 10.0, current 12.5: ratio 0.8, diff 0.2, pnl = covered * 0.2.
	p := position(100_000_000, 400_000_000, 1_000_000_000, 0)
	pnl := ledger.ComputePnl(p, 1_250_000_000)
	if pnl != 80_000_000 {
		t.Errorf("pnl: got %d, want 80_000_000", pnl)
	}
}

func TestComputePnl_PriceDown(t *testing.T) {
	// Entry 10.0, current 8.0: ratio 1.25, diff -0.25, pnl = -covered * 0.25.
	p := position(100_000_000, 400_000_000, 1_000_000_000, 0)
	pnl := ledger.ComputePnl(p, 800_000_000)
	if pnl != -100_000_000 {
		t.Errorf("pnl: got %d, want -100_000_000", pnl)
	}
}

func TestComputePnl_FlatPrice(t *testing.T) {
	p := position(100_000_000, 400_000_000, 1_000_000_000, 0)
	if pnl := ledger.ComputePnl(p, 1_000_000_000); pnl != 0 {
		t.Errorf("pnl at entry price: got %d, want 0", pnl)
	}
}

func TestComputeCashOutAmount_Profit(t *testing.T) {
	p := position(100_000_000, 400_000_000, 1_000_000_000, 250_000)
	got := ledger.ComputeCashOutAmount(p, 1_250_000_000)
	want := uint64(100_000_000-250_000) + 80_000_000
	if got != want {
		t.Errorf("cash-out: got %d, want %d", got, want)
	}
}

func TestComputeCashOutAmount_Loss(t *testing.T) {
	// Current 9.0: ratio 1.11111111, loss = covered * 0.11111111.
	p := position(100_000_000, 400_000_000, 1_000_000_000, 250_000)
	got := ledger.ComputeCashOutAmount(p, 900_000_000)
	loss := uint64(44_444_444) // 400_000_000 * 11_111_111 / 1e8
	want := uint64(100_000_000-250_000) - loss
	if got != want {
		t.Errorf("cash-out: got %d, want %d", got, want)
	}
}

func TestComputeCashOutAmount_NegativePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for negative cash-out")
		}
	}()
	// Below the liquidation price the loss exceeds the net margin.
	p := position(100_000_000, 400_000_000, 1_000_000_000, 250_000)
	ledger.ComputeCashOutAmount(p, 700_000_000)
}

func TestLiquidationPrice(t *testing.T) {
	// entry * covered/(covered+margin) = 10.0 * 4/5 = 8.0.
	p := position(100_000_000, 400_000_000, 1_000_000_000, 0)
	if got := ledger.LiquidationPrice(p); got != 800_000_000 {
		t.Errorf("liquidation price: got %d, want 800_000_000", got)
	}
}

func TestShouldLiquidate_Boundary(t *testing.T) {
	p := position(100_000_000, 400_000_000, 1_000_000_000, 0)
	cases := []struct {
		rate uint64
		want bool
	}{
		{799_999_999, true},
		{800_000_000, true},
		{800_000_001, false},
	}
	for _, tc := range cases {
		if got := ledger.ShouldLiquidate(p, tc.rate); got != tc.want {
			t.Errorf("ShouldLiquidate(%d): got %v, want %v", tc.rate, got, tc.want)
		}
	}
}

func TestComputeMarginRatio_AscendingIsRiskier(t *testing.T) {
	current := uint64(900_000_000)
	// Same structure, higher entry price means a deeper loss and a lower
	// score.
	safe := ledger.ComputeMarginRatio(current, 900_000_000, 100_000_000, 400_000_000)
	risky := ledger.ComputeMarginRatio(current, 1_000_000_000, 100_000_000, 400_000_000)
	if risky >= safe {
		t.Errorf("margin ratio: risky %d should be below safe %d", risky, safe)
	}
}
