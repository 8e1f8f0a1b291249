package audit

import (
	"errors"
	"fmt"

	"github.com/Elliptic-DAO/elp-protocol/internal/event"
	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

// ErrEmptyLog reports a replay over zero events.
var ErrEmptyLog = errors.New("event log is empty")

// Replay folds an ordered event log into a fresh state. The first event must
// be Init; anything else, or an empty log, is a fatal inconsistency. Each
// event applies the same mutation function the live path uses.
func Replay(events []event.Event) (*ledger.State, error) {
	if len(events) == 0 {
		return nil, ErrEmptyLog
	}
	first := events[0]
	if first.Type != event.TypeInit || first.Init == nil {
		return nil, fmt.Errorf("inconsistent log: first event is %q, not init", first.Type)
	}
	s := ledger.NewState(*first.Init)

	for _, ev := range events[1:] {
		if err := apply(s, ev); err != nil {
			return nil, fmt.Errorf("inconsistent log: %w", err)
		}
	}
	return s, nil
}

func apply(s *ledger.State, ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	switch ev.Type {
	case event.TypeInit:
		s.Reinit(*ev.Init)

	case event.TypeUpgrade:
		s.Upgrade(*ev.Upgrade)

	case event.TypeOpenLeveragePosition:
		p := *ev.OpenLeveragePosition
		s.RecordPrice(p.Timestamp, p.EntryPrice)
		s.OpenLeveragePosition(p)
		s.DistributeFee(p.Fee)

	case event.TypeCloseLeveragePosition:
		c := ev.CloseLeveragePosition
		s.RecordPrice(c.Timestamp, c.IcpPrice)
		position, ok := s.LeveragePositionByIndex(c.DepositBlockIndex)
		if !ok {
			return fmt.Errorf("cannot close leverage position %d: not found", c.DepositBlockIndex)
		}
		if c.OutputBlockIndex == nil {
			s.LiquidateLeveragePosition(position)
		} else {
			s.CloseLeveragePosition(position, c.IcpPrice)
		}
		s.DistributeFee(c.Fee)

	case event.TypeSwap:
		swap := *ev.Swap
		s.RecordPrice(swap.Timestamp, ledger.IcpPrice{Rate: swap.Rate})
		s.RecordOpenSwap(swap)
		s.DistributeFee(swap.Fee)

	case event.TypeSwapSuccess:
		s.FinishSwap(ev.SwapSuccess.FromBlockIndex)
		s.DistributeFee(0)

	case event.TypeLiquidity:
		liq := *ev.Liquidity
		switch liq.Type {
		case ledger.LiquidityAdd:
			s.AddLiquidity(liq)
		case ledger.LiquidityRemove:
			s.RemoveLiquidity(liq)
		}
		s.DistributeFee(liq.Fee)

	case event.TypeClaimLiquidityRewards:
		s.ClaimLiquidityRewards(ev.ClaimLiquidityRewards.Owner)
	}
	return nil
}
