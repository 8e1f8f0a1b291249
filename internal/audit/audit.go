// Package audit is the write path of the ledger: every Record function
// appends one event to the durable log and then applies the matching state
// mutation. Replay applies the same mutation functions, which is what
// guarantees that a replayed state equals the live one.
package audit

import (
	"context"
	"fmt"

	"github.com/Elliptic-DAO/elp-protocol/internal/event"
	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

// Store is the durable append-only log the audit layer writes to. Append
// must be atomic: once it returns nil the event stands, even if the
// surrounding operation later fails.
type Store interface {
	Append(ctx context.Context, ev event.Event) error
}

// RecordInit appends the log's mandatory first event.
func RecordInit(ctx context.Context, store Store, s *ledger.State, args ledger.InitArgs) error {
	if err := store.Append(ctx, event.Event{Type: event.TypeInit, Init: &args}); err != nil {
		return fmt.Errorf("record init: %w", err)
	}
	s.Reinit(args)
	return nil
}

// RecordUpgrade marks a code upgrade in the log.
func RecordUpgrade(ctx context.Context, store Store, s *ledger.State, args ledger.UpgradeArgs) error {
	if err := store.Append(ctx, event.Event{Type: event.TypeUpgrade, Upgrade: &args}); err != nil {
		return fmt.Errorf("record upgrade: %w", err)
	}
	s.Upgrade(args)
	return nil
}

// RecordSwap opens the inbound leg of a swap and distributes its fee.
func RecordSwap(ctx context.Context, store Store, s *ledger.State, swap ledger.Swap) error {
	if err := store.Append(ctx, event.Event{Type: event.TypeSwap, Swap: &swap}); err != nil {
		return fmt.Errorf("record swap: %w", err)
	}
	s.RecordOpenSwap(swap)
	s.DistributeFee(swap.Fee)
	return nil
}

// RecordSwapSuccess settles the outbound leg of an open swap.
func RecordSwapSuccess(ctx context.Context, store Store, s *ledger.State, fromBlockIndex, toBlockIndex uint64) error {
	ev := event.Event{
		Type: event.TypeSwapSuccess,
		SwapSuccess: &event.SwapSuccess{
			FromBlockIndex: fromBlockIndex,
			ToBlockIndex:   toBlockIndex,
		},
	}
	if err := store.Append(ctx, ev); err != nil {
		return fmt.Errorf("record swap success: %w", err)
	}
	s.FinishSwap(fromBlockIndex)
	s.DistributeFee(0)
	return nil
}

// RecordOpenLeveragePosition stores a newly opened position and distributes
// its fee.
func RecordOpenLeveragePosition(ctx context.Context, store Store, s *ledger.State, p ledger.LeveragePosition) error {
	if err := store.Append(ctx, event.Event{Type: event.TypeOpenLeveragePosition, OpenLeveragePosition: &p}); err != nil {
		return fmt.Errorf("record open leverage position: %w", err)
	}
	s.OpenLeveragePosition(p)
	s.DistributeFee(p.Fee)
	return nil
}

// RecordCloseLeveragePosition settles a paid-out close.
func RecordCloseLeveragePosition(
	ctx context.Context,
	store Store,
	s *ledger.State,
	outputBlockIndex uint64,
	depositBlockIndex uint64,
	fee uint64,
	timestampNanos uint64,
	price ledger.IcpPrice,
) error {
	ev := event.Event{
		Type: event.TypeCloseLeveragePosition,
		CloseLeveragePosition: &event.CloseLeveragePosition{
			DepositBlockIndex: depositBlockIndex,
			OutputBlockIndex:  &outputBlockIndex,
			Fee:               fee,
			Timestamp:         timestampNanos,
			IcpPrice:          price,
		},
	}
	if err := store.Append(ctx, ev); err != nil {
		return fmt.Errorf("record close leverage position: %w", err)
	}
	position, ok := s.LeveragePositionByIndex(depositBlockIndex)
	if !ok {
		panic("FATAL: inconsistent state, cannot close leverage position")
	}
	s.CloseLeveragePosition(position, price)
	s.DistributeFee(fee)
	return nil
}

// RecordLiquidateLeveragePosition settles a liquidation: the position is
// removed without paying the owner, recorded as a close with no output
// block index.
func RecordLiquidateLeveragePosition(
	ctx context.Context,
	store Store,
	s *ledger.State,
	depositBlockIndex uint64,
	fee uint64,
	timestampNanos uint64,
	price ledger.IcpPrice,
) error {
	ev := event.Event{
		Type: event.TypeCloseLeveragePosition,
		CloseLeveragePosition: &event.CloseLeveragePosition{
			DepositBlockIndex: depositBlockIndex,
			OutputBlockIndex:  nil,
			Fee:               fee,
			Timestamp:         timestampNanos,
			IcpPrice:          price,
		},
	}
	if err := store.Append(ctx, ev); err != nil {
		return fmt.Errorf("record liquidate leverage position: %w", err)
	}
	position, ok := s.LeveragePositionByIndex(depositBlockIndex)
	if !ok {
		panic("FATAL: inconsistent state, cannot liquidate leverage position")
	}
	s.LiquidateLeveragePosition(position)
	s.DistributeFee(fee)
	return nil
}

// RecordLiquidity applies an add or remove of pooled liquidity and
// distributes its fee.
func RecordLiquidity(ctx context.Context, store Store, s *ledger.State, liq ledger.Liquidity) error {
	if err := store.Append(ctx, event.Event{Type: event.TypeLiquidity, Liquidity: &liq}); err != nil {
		return fmt.Errorf("record liquidity: %w", err)
	}
	switch liq.Type {
	case ledger.LiquidityAdd:
		s.AddLiquidity(liq)
	case ledger.LiquidityRemove:
		s.RemoveLiquidity(liq)
	}
	s.DistributeFee(liq.Fee)
	return nil
}

// RecordClaimLiquidityRewards zeroes the owner's reward balance.
func RecordClaimLiquidityRewards(ctx context.Context, store Store, s *ledger.State, owner ledger.Principal) error {
	ev := event.Event{
		Type:                  event.TypeClaimLiquidityRewards,
		ClaimLiquidityRewards: &event.ClaimLiquidityRewards{Owner: owner},
	}
	if err := store.Append(ctx, ev); err != nil {
		return fmt.Errorf("record claim liquidity rewards: %w", err)
	}
	s.ClaimLiquidityRewards(owner)
	return nil
}
