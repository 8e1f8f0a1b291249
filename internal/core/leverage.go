package core

import (
	"context"
	"sort"

	"github.com/Elliptic-DAO/elp-protocol/internal/audit"
	"github.com/Elliptic-DAO/elp-protocol/internal/emath"
	"github.com/Elliptic-DAO/elp-protocol/internal/icrc"
	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
	"github.com/Elliptic-DAO/elp-protocol/internal/sched"
)

// OpenLeveragePosition pulls margin from the caller's deposit subaccount
// and opens a position covering coveredAmount of collateral at the latest
// oracle price. The returned block index is the position's identity.
func (e *Engine) OpenLeveragePosition(
	ctx context.Context,
	caller ledger.Principal,
	amount, coveredAmount, takeProfit uint64,
) (uint64, error) {
	e.mu.Lock()
	if !e.state.Mode.AllowsDeposit(caller) {
		e.mu.Unlock()
		return 0, ErrDepositsNotAllowed
	}
	if !e.state.HasPriceData() {
		e.mu.Unlock()
		return 0, ErrNoPriceData
	}
	if amount < e.state.MinAmountLeverage {
		e.mu.Unlock()
		return 0, ErrAmountTooSmall
	}
	if coveredAmount == 0 || coveredAmount > e.state.LeverageCoverableAmount() {
		e.mu.Unlock()
		return 0, ErrNotEnoughFundsToCover
	}
	if err := e.acquireGuard(ledger.GuardLeverage, caller); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()
	defer e.releaseGuard(ledger.GuardLeverage, caller)

	sub := icrc.ComputeSubaccount(caller, 0)
	blockIndex, err := e.icp.Transfer(ctx, icrc.TransferArg{
		FromSubaccount: &sub,
		To:             icrc.Account{Owner: e.self},
		Amount:         amount,
	})
	if err != nil {
		e.countTransferError("ICP")
		return 0, wrapLedgerErr("ICP", "transfer", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	price, _ := e.state.LastIcpPrice()
	position := ledger.LeveragePosition{
		Owner:             caller,
		Amount:            amount,
		CoveredAmount:     coveredAmount,
		TakeProfit:        takeProfit,
		Timestamp:         uint64(e.now().UnixNano()),
		EntryPrice:        price,
		DepositBlockIndex: blockIndex,
		Fee:               emath.MulE8s(amount, e.state.Fees.BaseFee),
	}
	if err := audit.RecordOpenLeveragePosition(ctx, e.store, e.state, position); err != nil {
		return 0, err
	}
	e.log.Info().
		Str("caller", string(caller)).
		Uint64("amount", amount).
		Uint64("covered_amount", coveredAmount).
		Uint64("entry_price", price.Rate).
		Uint64("block_index", blockIndex).
		Msg("opened leverage position")
	if e.met != nil {
		e.met.PositionsOpened.Inc()
	}
	e.updateGauges()
	return blockIndex, nil
}

// CloseLeveragePosition closes a caller-owned position at the current price
// and pays out the cash-out amount net of the protocol fee and the network
// fee. Positions younger than MinTimeToClose cannot be closed by the owner.
func (e *Engine) CloseLeveragePosition(
	ctx context.Context,
	caller ledger.Principal,
	depositBlockIndex uint64,
) (uint64, error) {
	e.mu.Lock()
	if !e.state.Mode.AllowsUpdate(caller) {
		e.mu.Unlock()
		return 0, ErrUpdatesNotAllowed
	}
	if !e.state.HasPriceData() {
		e.mu.Unlock()
		return 0, ErrNoPriceData
	}
	position, ok := e.state.LeveragePositionByIndex(depositBlockIndex)
	if !ok {
		e.mu.Unlock()
		return 0, ErrPositionNotFound
	}
	if position.Owner != caller {
		e.mu.Unlock()
		return 0, ErrNotOwner
	}
	openedAt := int64(position.Timestamp)
	if e.now().UnixNano()-openedAt < int64(MinTimeToClose) {
		e.mu.Unlock()
		return 0, ErrTooEarlyToClose
	}
	lastPrice, _ := e.state.LastIcpPrice()
	if ledger.ShouldLiquidate(position, lastPrice.Rate) {
		e.mu.Unlock()
		// The risk sweep owns liquidation; nothing is owed to the caller.
		e.queue.ScheduleNow(sched.TaskCheckLeveragePositions, nil)
		return 0, ErrLiquidatable
	}
	if err := e.acquireGuard(ledger.GuardLeverage, caller); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	price, _ := e.state.LastIcpPrice()
	baseFee := e.state.Fees.BaseFee
	e.mu.Unlock()
	defer e.releaseGuard(ledger.GuardLeverage, caller)

	cashOut := ledger.ComputeCashOutAmount(position, price.Rate)
	fee := emath.MulE8s(cashOut, baseFee)
	payout := emath.SaturatingSub(cashOut, fee+ledger.IcpTransferFee)
	if payout == 0 {
		return 0, ErrAmountTooSmall
	}

	blockIndex, err := e.icp.Transfer(ctx, icrc.TransferArg{
		To:     icrc.Account{Owner: caller},
		Amount: payout,
	})
	if err != nil {
		e.countTransferError("ICP")
		return 0, wrapLedgerErr("ICP", "transfer", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := audit.RecordCloseLeveragePosition(
		ctx, e.store, e.state,
		blockIndex, depositBlockIndex, fee, uint64(e.now().UnixNano()), price,
	); err != nil {
		return 0, err
	}
	e.log.Info().
		Str("caller", string(caller)).
		Uint64("deposit_block_index", depositBlockIndex).
		Uint64("payout", payout).
		Msg("closed leverage position")
	if e.met != nil {
		e.met.PositionsClosed.WithLabelValues("manual").Inc()
	}
	e.updateGauges()
	return blockIndex, nil
}

// checkLeveragePositions is the automated risk sweep: it liquidates
// underwater positions, force-closes positions whose take-profit target is
// reached, and runs a margin-call scan whenever covered exposure exceeds
// available collateral.
func (e *Engine) checkLeveragePositions(ctx context.Context) {
	e.mu.Lock()
	price, ok := e.state.LastIcpPrice()
	if !ok {
		e.mu.Unlock()
		return
	}
	positions := e.state.AllLeveragePositions()
	e.mu.Unlock()

	for _, p := range positions {
		switch {
		case ledger.ShouldLiquidate(p, price.Rate):
			e.liquidatePosition(ctx, p, price)
		case p.TakeProfit > 0 && price.Rate >= p.TakeProfit:
			payout := ledger.ComputeCashOutAmount(p, price.Rate)
			if payout > ledger.IcpTransferFee {
				e.queue.ScheduleNow(sched.TaskCloseLeveragePosition, &p)
			}
		}
	}

	e.marginCallScan(price)
}

// marginCallScan force-closes the riskiest positions, ascending margin
// ratio first, until covered exposure no longer exceeds the collateral
// backing it.
func (e *Engine) marginCallScan(price ledger.IcpPrice) {
	e.mu.Lock()
	collateral := e.state.CollateralAmount
	covered := e.state.LeverageCoveredAmount()
	positions := e.state.AllLeveragePositions()
	e.mu.Unlock()

	if covered <= collateral {
		return
	}
	e.log.Warn().
		Uint64("covered", covered).
		Uint64("collateral", collateral).
		Msg("covered exposure exceeds collateral, margin calling")

	sort.Slice(positions, func(i, j int) bool {
		ri := ledger.ComputeMarginRatio(price.Rate, positions[i].EntryPrice.Rate, positions[i].Amount, positions[i].CoveredAmount)
		rj := ledger.ComputeMarginRatio(price.Rate, positions[j].EntryPrice.Rate, positions[j].Amount, positions[j].CoveredAmount)
		return ri < rj
	})

	for _, p := range positions {
		if covered <= collateral {
			break
		}
		p := p
		e.queue.ScheduleNow(sched.TaskCloseLeveragePosition, &p)
		covered -= p.CoveredAmount
	}
}

// liquidatePosition removes an underwater position without paying its
// owner. No external transfer happens, so the whole step is atomic.
func (e *Engine) liquidatePosition(ctx context.Context, p ledger.LeveragePosition, price ledger.IcpPrice) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The owner may be mid-close; their guard covers the position.
	if err := e.acquireGuard(ledger.GuardLeverage, p.Owner); err != nil {
		e.log.Debug().Str("owner", string(p.Owner)).Msg("owner busy, skipping liquidation this round")
		return
	}
	defer func() {
		e.releaseGuardLocked(ledger.GuardLeverage, p.Owner)
	}()

	if _, ok := e.state.LeveragePositionByIndex(p.DepositBlockIndex); !ok {
		return
	}
	if err := audit.RecordLiquidateLeveragePosition(
		ctx, e.store, e.state,
		p.DepositBlockIndex, 0, uint64(e.now().UnixNano()), price,
	); err != nil {
		e.log.Error().Err(err).
			Uint64("deposit_block_index", p.DepositBlockIndex).
			Msg("recording liquidation failed")
		return
	}
	e.log.Info().
		Str("owner", string(p.Owner)).
		Uint64("deposit_block_index", p.DepositBlockIndex).
		Uint64("price", price.Rate).
		Msg("liquidated leverage position")
	if e.met != nil {
		e.met.Liquidations.Inc()
		e.met.PositionsClosed.WithLabelValues("liquidation").Inc()
	}
	e.updateGauges()
}

// forceClosePosition is the one-shot forced close behind take-profit and
// margin calls. A failed outbound transfer re-enqueues the task.
func (e *Engine) forceClosePosition(ctx context.Context, stale *ledger.LeveragePosition) {
	if stale == nil {
		return
	}

	e.mu.Lock()
	position, ok := e.state.LeveragePositionByIndex(stale.DepositBlockIndex)
	if !ok {
		e.mu.Unlock()
		return
	}
	if err := e.acquireGuard(ledger.GuardLeverage, position.Owner); err != nil {
		e.mu.Unlock()
		e.queue.ScheduleNow(sched.TaskCloseLeveragePosition, stale)
		return
	}
	price, _ := e.state.LastIcpPrice()
	baseFee := e.state.Fees.BaseFee
	e.mu.Unlock()
	defer e.releaseGuard(ledger.GuardLeverage, position.Owner)

	// The price may have moved since the task was scheduled; if the
	// position is underwater now, liquidate instead of paying out.
	if ledger.ShouldLiquidate(position, price.Rate) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.state.LeveragePositionByIndex(position.DepositBlockIndex); !ok {
			return
		}
		if err := audit.RecordLiquidateLeveragePosition(
			ctx, e.store, e.state,
			position.DepositBlockIndex, 0, uint64(e.now().UnixNano()), price,
		); err != nil {
			e.log.Error().Err(err).
				Uint64("deposit_block_index", position.DepositBlockIndex).
				Msg("recording liquidation failed")
			return
		}
		if e.met != nil {
			e.met.Liquidations.Inc()
			e.met.PositionsClosed.WithLabelValues("liquidation").Inc()
		}
		e.updateGauges()
		return
	}

	cashOut := ledger.ComputeCashOutAmount(position, price.Rate)
	fee := emath.MulE8s(cashOut, baseFee)
	payout := emath.SaturatingSub(cashOut, fee)
	if payout == 0 {
		return
	}

	blockIndex, err := e.icp.Transfer(ctx, icrc.TransferArg{
		To:     icrc.Account{Owner: position.Owner},
		Amount: payout,
	})
	if err != nil {
		e.countTransferError("ICP")
		e.log.Warn().Err(err).
			Uint64("deposit_block_index", position.DepositBlockIndex).
			Msg("forced close transfer failed, requeueing")
		e.queue.ScheduleNow(sched.TaskCloseLeveragePosition, stale)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := audit.RecordCloseLeveragePosition(
		ctx, e.store, e.state,
		blockIndex, position.DepositBlockIndex, fee, uint64(e.now().UnixNano()), price,
	); err != nil {
		e.log.Error().Err(err).
			Uint64("deposit_block_index", position.DepositBlockIndex).
			Msg("recording forced close failed after payout")
		return
	}
	e.log.Info().
		Str("owner", string(position.Owner)).
		Uint64("deposit_block_index", position.DepositBlockIndex).
		Uint64("payout", payout).
		Msg("force closed leverage position")
	if e.met != nil {
		e.met.PositionsClosed.WithLabelValues("sweep").Inc()
	}
	e.updateGauges()
}
