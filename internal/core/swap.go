package core

import (
	"context"
	"errors"

	"github.com/Elliptic-DAO/elp-protocol/internal/audit"
	"github.com/Elliptic-DAO/elp-protocol/internal/emath"
	"github.com/Elliptic-DAO/elp-protocol/internal/guard"
	"github.com/Elliptic-DAO/elp-protocol/internal/icrc"
	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
	"github.com/Elliptic-DAO/elp-protocol/internal/sched"
)

// ConvertIcpToEusd pulls ICP from the caller's deposit subaccount and opens
// a swap minting eUSD. The returned block index identifies the inbound leg;
// the outbound mint settles later via the sweep.
func (e *Engine) ConvertIcpToEusd(ctx context.Context, caller ledger.Principal, amount uint64) (uint64, error) {
	e.mu.Lock()
	if !e.state.Mode.AllowsDeposit(caller) {
		e.mu.Unlock()
		return 0, ErrDepositsNotAllowed
	}
	if !e.state.HasPriceData() {
		e.mu.Unlock()
		return 0, ErrNoPriceData
	}
	if amount < e.state.MinAmountToStable {
		e.mu.Unlock()
		return 0, ErrAmountTooSmall
	}
	if err := e.acquireGuard(ledger.GuardConvert, caller); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()
	defer e.releaseGuard(ledger.GuardConvert, caller)

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
	swap := ledger.Swap{
		Caller:         caller,
		From:           ledger.AssetICP,
		FromBlockIndex: blockIndex,
		FromAmount:     amount,
		To:             ledger.AssetEUSD,
		Rate:           price.Rate,
		Fee:            emath.MulE8s(amount, e.state.Fees.BaseFee),
		Timestamp:      uint64(e.now().UnixNano()),
	}
	if err := audit.RecordSwap(ctx, e.store, e.state, swap); err != nil {
		return 0, err
	}
	e.log.Info().
		Str("caller", string(caller)).
		Uint64("amount", amount).
		Uint64("block_index", blockIndex).
		Msg("opened ICP to eUSD swap")
	if e.met != nil {
		e.met.SwapsRequested.WithLabelValues("icp_to_eusd").Inc()
	}
	e.updateGauges()
	return blockIndex, nil
}

// ConvertEusdToIcp burns eUSD from the caller's deposit subaccount and
// opens a swap redeeming ICP. Burning shrinks the protocol's synthetic
// backing, so a margin-call check is scheduled right away.
func (e *Engine) ConvertEusdToIcp(ctx context.Context, caller ledger.Principal, amount uint64) (uint64, error) {
	e.mu.Lock()
	if !e.state.Mode.AllowsUpdate(caller) {
		e.mu.Unlock()
		return 0, ErrUpdatesNotAllowed
	}
	if !e.state.HasPriceData() {
		e.mu.Unlock()
		return 0, ErrNoPriceData
	}
	if amount < e.state.MinAmountFromStable {
		e.mu.Unlock()
		return 0, ErrAmountTooSmall
	}
	if err := e.acquireGuard(ledger.GuardConvert, caller); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()
	defer e.releaseGuard(ledger.GuardConvert, caller)

	// The protocol is the eUSD minting account, so moving the deposit to
	// its main account burns the tokens.
	sub := icrc.ComputeSubaccount(caller, 0)
	blockIndex, err := e.eusd.Transfer(ctx, icrc.TransferArg{
		FromSubaccount: &sub,
		To:             icrc.Account{Owner: e.self},
		Amount:         amount,
	})
	if err != nil {
		e.countTransferError("eUSD")
		return 0, wrapLedgerErr("eUSD", "transfer", err)
	}

	e.mu.Lock()
	price, _ := e.state.LastIcpPrice()
	swap := ledger.Swap{
		Caller:         caller,
		From:           ledger.AssetEUSD,
		FromBlockIndex: blockIndex,
		FromAmount:     amount,
		To:             ledger.AssetICP,
		Rate:           price.Rate,
		Fee:            emath.MulE8s(amount, e.state.Fees.BaseFee),
		Timestamp:      uint64(e.now().UnixNano()),
	}
	if err := audit.RecordSwap(ctx, e.store, e.state, swap); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	e.log.Info().
		Str("caller", string(caller)).
		Uint64("amount", amount).
		Uint64("block_index", blockIndex).
		Msg("opened eUSD to ICP swap")
	if e.met != nil {
		e.met.SwapsRequested.WithLabelValues("eusd_to_icp").Inc()
	}
	e.updateGauges()
	e.mu.Unlock()

	e.queue.ScheduleNow(sched.TaskCheckLeveragePositions, nil)
	return blockIndex, nil
}

// processLogic drives the pending-swap sweep. Single-run: a second entry
// while one is in flight is skipped. Always re-arms itself, even when the
// body fails or is skipped.
func (e *Engine) processLogic(ctx context.Context) {
	defer e.queue.ScheduleAfter(sched.TaskProcessLogic, ProcessLogicInterval, e.now())

	e.mu.Lock()
	if !guard.AcquireSweep(e.state) {
		e.mu.Unlock()
		return
	}
	swaps := e.state.OpenSwapsOrdered()
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		guard.ReleaseSweep(e.state)
		e.mu.Unlock()
	}()

	for _, swap := range swaps {
		e.settleSwap(ctx, swap)
	}
}

// settleSwap attempts the outbound leg of one open swap. Failure leaves the
// swap open; the next sweep retries it, with no cap on attempts.
func (e *Engine) settleSwap(ctx context.Context, swap ledger.Swap) {
	net := swap.FromAmount - swap.Fee

	var (
		toBlock   uint64
		err       error
		direction string
	)
	if swap.From == ledger.AssetICP {
		direction = "icp_to_eusd"
		minted := emath.MulE8s(net, swap.Rate)
		toBlock, err = e.eusd.Transfer(ctx, icrc.TransferArg{
			To:     icrc.Account{Owner: swap.Caller},
			Amount: minted,
		})
	} else {
		direction = "eusd_to_icp"
		redeemed := emath.DivE8s(net, swap.Rate)
		toBlock, err = e.icp.Transfer(ctx, icrc.TransferArg{
			To:     icrc.Account{Owner: swap.Caller},
			Amount: redeemed,
		})
	}
	if err != nil {
		e.log.Warn().Err(err).
			Uint64("from_block_index", swap.FromBlockIndex).
			Str("direction", direction).
			Msg("outbound swap leg failed, will retry")
		if e.met != nil {
			e.met.SwapSweepFailures.Inc()
		}
		return
	}

	e.mu.Lock()
	if err := audit.RecordSwapSuccess(ctx, e.store, e.state, swap.FromBlockIndex, toBlock); err != nil {
		// The outbound transfer settled but the event did not append; the
		// swap stays open and the next sweep will pay again. Needs operator
		// attention, hence error level.
		e.log.Error().Err(err).
			Uint64("from_block_index", swap.FromBlockIndex).
			Msg("recording swap success failed after outbound settle")
		e.mu.Unlock()
		return
	}
	e.updateGauges()
	e.mu.Unlock()

	if e.met != nil {
		e.met.SwapsSettled.WithLabelValues(direction).Inc()
	}
	if swap.From == ledger.AssetEUSD {
		e.queue.ScheduleNow(sched.TaskCheckLeveragePositions, nil)
	}
}

// acquireGuard acquires a per-principal guard. Caller holds the lock.
func (e *Engine) acquireGuard(f ledger.GuardFamily, p ledger.Principal) error {
	if err := guard.Acquire(e.state, f, p); err != nil {
		if e.met != nil {
			reason := "too_many_concurrent_requests"
			if errors.Is(err, guard.ErrAlreadyProcessing) {
				reason = "already_processing"
			}
			e.met.GuardRejections.WithLabelValues(f.String(), reason).Inc()
		}
		return err
	}
	if e.met != nil {
		e.met.GuardsHeld.WithLabelValues(f.String()).Inc()
	}
	return nil
}

// releaseGuardLocked is releaseGuard for callers already holding the lock.
func (e *Engine) releaseGuardLocked(f ledger.GuardFamily, p ledger.Principal) {
	guard.Release(e.state, f, p)
	if e.met != nil {
		e.met.GuardsHeld.WithLabelValues(f.String()).Dec()
	}
}

func (e *Engine) releaseGuard(f ledger.GuardFamily, p ledger.Principal) {
	e.mu.Lock()
	guard.Release(e.state, f, p)
	e.mu.Unlock()
	if e.met != nil {
		e.met.GuardsHeld.WithLabelValues(f.String()).Dec()
	}
}

func (e *Engine) countTransferError(asset string) {
	if e.met != nil {
		e.met.LedgerTransferErrors.WithLabelValues(asset).Inc()
	}
}
