package core

import (
	"context"

	"github.com/Elliptic-DAO/elp-protocol/internal/audit"
	"github.com/Elliptic-DAO/elp-protocol/internal/emath"
	"github.com/Elliptic-DAO/elp-protocol/internal/icrc"
	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

// SlippageCeiling is the collateral ratio above which liquidity withdraws
// in full, e8s (120%).
const SlippageCeiling = 120_000_000

// SlippageSlope maps a collateral ratio to the withdrawable fraction:
// zero at a 0% ratio, one at the ceiling. e8s, 1/1.2.
const SlippageSlope = 83_333_333

// WithdrawableAmount scales a requested withdrawal by the slippage curve.
func WithdrawableAmount(requested, collateralRatio uint64) uint64 {
	if collateralRatio > SlippageCeiling {
		return requested
	}
	return emath.MulE8s(requested, emath.MulE8s(SlippageSlope, collateralRatio))
}

// AddLiquidity pulls ICP from the caller's deposit subaccount into the
// pooled liquidity balance. The protocol fee is withheld from the credited
// amount and distributed to providers, the caller included.
func (e *Engine) AddLiquidity(ctx context.Context, caller ledger.Principal, amount uint64) (uint64, error) {
	e.mu.Lock()
	if !e.state.Mode.AllowsDeposit(caller) {
		e.mu.Unlock()
		return 0, ErrDepositsNotAllowed
	}
	if amount < e.state.MinAmountLiquidity {
		e.mu.Unlock()
		return 0, ErrAmountTooSmall
	}
	if err := e.acquireGuard(ledger.GuardLiquidity, caller); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()
	defer e.releaseGuard(ledger.GuardLiquidity, caller)

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
	liq := ledger.Liquidity{
		Caller:     caller,
		Type:       ledger.LiquidityAdd,
		Amount:     amount,
		BlockIndex: blockIndex,
		Timestamp:  uint64(e.now().UnixNano()),
		Fee:        emath.MulE8s(amount, e.state.Fees.BaseFee),
	}
	if err := audit.RecordLiquidity(ctx, e.store, e.state, liq); err != nil {
		return 0, err
	}
	e.log.Info().
		Str("caller", string(caller)).
		Uint64("amount", amount).
		Uint64("block_index", blockIndex).
		Msg("added liquidity")
	if e.met != nil {
		e.met.LiquidityOps.WithLabelValues("add").Inc()
	}
	e.updateGauges()
	return blockIndex, nil
}

// RemoveLiquidity withdraws pooled liquidity. The full requested amount is
// debited from the caller's balance; the payout is the fee-net amount scaled
// by the slippage curve, full above a 120% collateral ratio and linearly less
// below it. The scaled-away remainder stays with the protocol.
func (e *Engine) RemoveLiquidity(ctx context.Context, caller ledger.Principal, amount uint64) (uint64, error) {
	e.mu.Lock()
	if !e.state.Mode.AllowsUpdate(caller) {
		e.mu.Unlock()
		return 0, ErrUpdatesNotAllowed
	}
	if !e.state.HasPriceData() {
		e.mu.Unlock()
		return 0, ErrNoPriceData
	}
	provided := e.state.LiquidityProvided[caller]
	if provided == 0 || amount > provided {
		e.mu.Unlock()
		return 0, ErrInsufficientLiquidity
	}

	fee := emath.MulE8s(amount, e.state.Fees.BaseFee)
	if amount <= fee+ledger.IcpTransferFee {
		e.mu.Unlock()
		return 0, ErrAmountTooSmall
	}
	withdraw := WithdrawableAmount(amount-fee, e.state.CollateralRatio())
	if withdraw <= ledger.IcpTransferFee {
		e.mu.Unlock()
		return 0, ErrAmountTooSmall
	}
	if err := e.acquireGuard(ledger.GuardLiquidity, caller); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()
	defer e.releaseGuard(ledger.GuardLiquidity, caller)

	payout := withdraw - ledger.IcpTransferFee
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
	liq := ledger.Liquidity{
		Caller:     caller,
		Type:       ledger.LiquidityRemove,
		Amount:     amount,
		BlockIndex: blockIndex,
		Timestamp:  uint64(e.now().UnixNano()),
		Fee:        fee,
	}
	if err := audit.RecordLiquidity(ctx, e.store, e.state, liq); err != nil {
		return 0, err
	}
	e.log.Info().
		Str("caller", string(caller)).
		Uint64("requested", amount).
		Uint64("withdrawn", withdraw).
		Uint64("block_index", blockIndex).
		Msg("removed liquidity")
	if e.met != nil {
		e.met.LiquidityOps.WithLabelValues("remove").Inc()
	}
	e.updateGauges()
	return blockIndex, nil
}

// ClaimLiquidityRewards pays out the caller's accrued rewards, net of the
// network fee, and zeroes the balance.
func (e *Engine) ClaimLiquidityRewards(ctx context.Context, caller ledger.Principal) (uint64, error) {
	e.mu.Lock()
	if !e.state.Mode.AllowsUpdate(caller) {
		e.mu.Unlock()
		return 0, ErrUpdatesNotAllowed
	}
	rewards := e.state.LiquidityRewards[caller]
	if rewards == 0 {
		e.mu.Unlock()
		return 0, ErrNothingToClaim
	}
	if rewards <= ledger.IcpTransferFee {
		e.mu.Unlock()
		return 0, ErrAmountTooSmall
	}
	if err := e.acquireGuard(ledger.GuardLiquidity, caller); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()
	defer e.releaseGuard(ledger.GuardLiquidity, caller)

	blockIndex, err := e.icp.Transfer(ctx, icrc.TransferArg{
		To:     icrc.Account{Owner: caller},
		Amount: rewards - ledger.IcpTransferFee,
	})
	if err != nil {
		e.countTransferError("ICP")
		return 0, wrapLedgerErr("ICP", "transfer", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := audit.RecordClaimLiquidityRewards(ctx, e.store, e.state, caller); err != nil {
		return 0, err
	}
	e.log.Info().
		Str("caller", string(caller)).
		Uint64("rewards", rewards).
		Msg("claimed liquidity rewards")
	if e.met != nil {
		e.met.LiquidityOps.WithLabelValues("claim").Inc()
	}
	return blockIndex, nil
}
