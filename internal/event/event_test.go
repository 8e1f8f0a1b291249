package event_test

import (
	"testing"

	"github.com/Elliptic-DAO/elp-protocol/internal/event"
	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

func TestEncodeDecode_Swap(t *testing.T) {
	e := event.Event{
		Type: event.TypeSwap,
		Swap: &ledger.Swap{
			Caller:         "alice",
			From:           ledger.AssetICP,
			FromBlockIndex: 7,
			FromAmount:     999_990_000,
			To:             ledger.AssetEUSD,
			Rate:           1_000_000_000,
			Fee:            2_499_975,
			Timestamp:      1_700_000_000_000_000_000,
		},
	}

	data, err := e.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := event.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != event.TypeSwap || got.Swap == nil {
		t.Fatalf("wrong shape after round trip: %+v", got)
	}
	if *got.Swap != *e.Swap {
		t.Errorf("payload mismatch: got %+v, want %+v", *got.Swap, *e.Swap)
	}
}

func TestEncodeDecode_LiquidationHasNoOutputBlock(t *testing.T) {
	e := event.Event{
		Type: event.TypeCloseLeveragePosition,
		CloseLeveragePosition: &event.CloseLeveragePosition{
			DepositBlockIndex: 12,
			OutputBlockIndex:  nil,
			Fee:               0,
			Timestamp:         42,
			IcpPrice:          ledger.IcpPrice{Rate: 790_000_000},
		},
	}

	data, err := e.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := event.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CloseLeveragePosition == nil {
		t.Fatal("missing close payload")
	}
	if got.CloseLeveragePosition.OutputBlockIndex != nil {
		t.Errorf("liquidation must decode with a nil output block, got %d",
			*got.CloseLeveragePosition.OutputBlockIndex)
	}
}

func TestEncodeDecode_ManualCloseKeepsOutputBlock(t *testing.T) {
	out := uint64(99)
	e := event.Event{
		Type: event.TypeCloseLeveragePosition,
		CloseLeveragePosition: &event.CloseLeveragePosition{
			DepositBlockIndex: 12,
			OutputBlockIndex:  &out,
			Fee:               1_000,
			Timestamp:         42,
			IcpPrice:          ledger.IcpPrice{Rate: 1_100_000_000},
		},
	}

	data, err := e.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := event.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CloseLeveragePosition == nil || got.CloseLeveragePosition.OutputBlockIndex == nil {
		t.Fatalf("missing output block after round trip: %+v", got)
	}
	if *got.CloseLeveragePosition.OutputBlockIndex != out {
		t.Errorf("output block: got %d, want %d", *got.CloseLeveragePosition.OutputBlockIndex, out)
	}
}

func TestDecode_RejectsMissingType(t *testing.T) {
	if _, err := event.Decode([]byte(`{"swap":{}}`)); err == nil {
		t.Error("decode must reject an event without a type tag")
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	if _, err := event.Decode([]byte(`{"type":`)); err == nil {
		t.Error("decode must reject malformed JSON")
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		e       event.Event
		wantErr bool
	}{
		{"init with payload", event.Event{Type: event.TypeInit, Init: &ledger.InitArgs{}}, false},
		{"init without payload", event.Event{Type: event.TypeInit}, true},
		{"swap without payload", event.Event{Type: event.TypeSwap}, true},
		{"unknown type", event.Event{Type: "frobnicate"}, true},
		{
			"liquidity with payload",
			event.Event{Type: event.TypeLiquidity, Liquidity: &ledger.Liquidity{Caller: "alice"}},
			false,
		},
		{
			"claim with payload",
			event.Event{Type: event.TypeClaimLiquidityRewards, ClaimLiquidityRewards: &event.ClaimLiquidityRewards{Owner: "alice"}},
			false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.e.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("got err %v, want error %v", err, tc.wantErr)
			}
		})
	}
}
