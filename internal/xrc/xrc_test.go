package xrc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Elliptic-DAO/elp-protocol/internal/xrc"
)

func TestRateE8s_Normalization(t *testing.T) {
	for _, tc := range []struct {
		name string
		rate xrc.ExchangeRate
		want uint64
	}{
		{"already e8s", xrc.ExchangeRate{Rate: 1_000_000_000, Decimals: 8}, 1_000_000_000},
		{"nine decimals", xrc.ExchangeRate{Rate: 10_000_000_000, Decimals: 9}, 1_000_000_000},
		{"six decimals", xrc.ExchangeRate{Rate: 10_000_000, Decimals: 6}, 1_000_000_000},
		{"zero decimals", xrc.ExchangeRate{Rate: 10, Decimals: 0}, 1_000_000_000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rate.RateE8s(); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestStaticOracle(t *testing.T) {
	ctx := context.Background()
	o := xrc.NewStaticOracle(1_000_000_000, 1_700_000_000)

	quote, err := o.GetIcpRate(ctx)
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if quote.RateE8s() != 1_000_000_000 || quote.Timestamp != 1_700_000_000 {
		t.Errorf("quote: got %+v", quote)
	}

	boom := errors.New("oracle offline")
	o.FailWith(boom)
	if _, err := o.GetIcpRate(ctx); !errors.Is(err, boom) {
		t.Errorf("got %v, want injected error", err)
	}

	// SetRate clears the injected failure.
	o.SetRate(900_000_000, 1_700_000_060)
	quote, err = o.GetIcpRate(ctx)
	if err != nil {
		t.Fatalf("get rate after recovery: %v", err)
	}
	if quote.RateE8s() != 900_000_000 {
		t.Errorf("rate after recovery: got %d", quote.RateE8s())
	}
}

func TestStaticOracle_NoRateSet(t *testing.T) {
	var o xrc.StaticOracle
	if _, err := o.GetIcpRate(context.Background()); !errors.Is(err, xrc.ErrNoRate) {
		t.Errorf("got %v, want ErrNoRate", err)
	}
}
