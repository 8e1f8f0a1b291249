// Package icrc is the narrow interface the core uses to talk to the token
// ledgers. Both the ICP and the eUSD ledger are consumed through the same
// Client; the core never sees how transfers are actually wired.
package icrc

import (
	"context"
	"fmt"

	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

// Subaccount is a 32-byte sub-account selector within a principal's account.
type Subaccount [32]byte

// Account addresses a balance on a ledger.
type Account struct {
	Owner      ledger.Principal `json:"owner"`
	Subaccount *Subaccount      `json:"subaccount,omitempty"`
}

// TransferArg describes one ledger transfer. A nil FromSubaccount draws from
// the caller's default account.
type TransferArg struct {
	FromSubaccount *Subaccount `json:"from_subaccount,omitempty"`
	To             Account     `json:"to"`
	Amount         uint64      `json:"amount"`
}

// Client is a single token ledger instance.
type Client interface {
	// Transfer settles a transfer and returns the block index assigned to it.
	// Failures are *TransferError where the ledger rejected the transfer.
	Transfer(ctx context.Context, arg TransferArg) (uint64, error)
	// BalanceOf returns the current balance of an account.
	BalanceOf(ctx context.Context, account Account) (uint64, error)
}

// ErrorKind classifies ledger transfer rejections.
type ErrorKind int32

const (
	ErrGeneric ErrorKind = iota
	ErrInsufficientFunds
	ErrBadFee
	ErrDuplicate
)

// TransferError is a transfer rejection reported by a ledger. It is wrapped
// and surfaced verbatim to the caller of the failed operation.
type TransferError struct {
	Kind ErrorKind

	// Balance is set for ErrInsufficientFunds.
	Balance uint64
	// ExpectedFee is set for ErrBadFee.
	ExpectedFee uint64
	// DuplicateOf is set for ErrDuplicate.
	DuplicateOf uint64
	// Code and Message are set for ErrGeneric.
	Code    int64
	Message string
}

func (e *TransferError) Error() string {
	switch e.Kind {
	case ErrInsufficientFunds:
		return fmt.Sprintf("ledger: insufficient funds (balance %d)", e.Balance)
	case ErrBadFee:
		return fmt.Sprintf("ledger: bad fee (expected %d)", e.ExpectedFee)
	case ErrDuplicate:
		return fmt.Sprintf("ledger: duplicate of block %d", e.DuplicateOf)
	default:
		return fmt.Sprintf("ledger: error %d: %s", e.Code, e.Message)
	}
}
