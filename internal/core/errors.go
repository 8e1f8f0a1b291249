package core

import (
	"errors"
	"fmt"

	"github.com/Elliptic-DAO/elp-protocol/internal/icrc"
)

// Validation errors. Returned synchronously before any external call or
// state mutation.
var (
	ErrAmountTooSmall        = errors.New("amount too small")
	ErrNotEnoughFundsToCover = errors.New("not enough funds to cover")
	ErrNoPriceData           = errors.New("no price data available")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity provided")
	ErrNothingToClaim        = errors.New("no liquidity rewards to claim")
	ErrPositionNotFound      = errors.New("leverage position not found")
	ErrNotOwner              = errors.New("caller does not own this position")
	ErrTooEarlyToClose       = errors.New("position cannot be closed yet")
	ErrLiquidatable          = errors.New("position is past its liquidation price")
	ErrUpdatesNotAllowed     = errors.New("updates are not allowed for this caller")
	ErrDepositsNotAllowed    = errors.New("deposits are not allowed for this caller")
)

// LedgerError wraps a failed external ledger call. The inbound state is
// untouched: the transfer either fully succeeded or fully failed.
type LedgerError struct {
	Asset string
	Op    string
	Err   error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Asset, e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

func wrapLedgerErr(asset, op string, err error) error {
	var te *icrc.TransferError
	if errors.As(err, &te) {
		return &LedgerError{Asset: asset, Op: op, Err: te}
	}
	return &LedgerError{Asset: asset, Op: op, Err: err}
}
