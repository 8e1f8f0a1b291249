package icrc

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

// InMemoryLedger simulates a token ledger: per-account balances, a transfer
// fee charged on top of the amount, and a minting account from which
// transfers create supply and to which transfers destroy it. Used in tests
// and for local development.
type InMemoryLedger struct {
	mu             sync.Mutex
	balances       map[string]uint64
	fee            uint64
	mintingAccount ledger.Principal
	nextBlock      uint64
	failNext       error
}

// NewInMemoryLedger builds an empty ledger with the given transfer fee and
// minting account.
func NewInMemoryLedger(fee uint64, mintingAccount ledger.Principal) *InMemoryLedger {
	return &InMemoryLedger{
		balances:       make(map[string]uint64),
		fee:            fee,
		mintingAccount: mintingAccount,
		nextBlock:      1,
	}
}

// Only the minting principal's main account mints and burns. Subaccounts
// owned by the same principal hold balances like any other account.
func (l *InMemoryLedger) isMinting(a Account) bool {
	return a.Owner == l.mintingAccount && (a.Subaccount == nil || *a.Subaccount == Subaccount{})
}

func accountKey(a Account) string {
	if a.Subaccount == nil {
		return string(a.Owner)
	}
	return string(a.Owner) + ":" + hex.EncodeToString(a.Subaccount[:])
}

// Balance returns the balance of an account without going through the
// Client interface. Test helper.
func (l *InMemoryLedger) Balance(a Account) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountKey(a)]
}

// Mint credits an account directly, bypassing fees. Test helper.
func (l *InMemoryLedger) Mint(a Account, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[accountKey(a)] += amount
}

// FailNextTransfer makes the next transfer fail with the given error,
// simulating an external-ledger outage. Test helper.
func (l *InMemoryLedger) FailNextTransfer(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// TransferFrom settles a transfer between two explicit accounts. Transfers
// out of the minting account create supply; transfers into it burn. Regular
// transfers charge the ledger fee on top of the amount.
func (l *InMemoryLedger) TransferFrom(from, to Account, amount uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return 0, err
	}

	switch {
	case l.isMinting(from):
		l.balances[accountKey(to)] += amount

	case l.isMinting(to):
		fromKey := accountKey(from)
		if l.balances[fromKey] < amount {
			return 0, &TransferError{Kind: ErrInsufficientFunds, Balance: l.balances[fromKey]}
		}
		l.balances[fromKey] -= amount

	default:
		fromKey := accountKey(from)
		if l.balances[fromKey] < amount+l.fee {
			return 0, &TransferError{Kind: ErrInsufficientFunds, Balance: l.balances[fromKey]}
		}
		l.balances[fromKey] -= amount + l.fee
		l.balances[accountKey(to)] += amount
	}

	idx := l.nextBlock
	l.nextBlock++
	return idx, nil
}

// BoundClient binds the ledger to one caller identity so it satisfies
// Client: transfers draw from the identity's (sub)accounts.
type BoundClient struct {
	Ledger *InMemoryLedger
	Self   ledger.Principal
}

var _ Client = (*BoundClient)(nil)

func (c *BoundClient) Transfer(_ context.Context, arg TransferArg) (uint64, error) {
	from := Account{Owner: c.Self, Subaccount: arg.FromSubaccount}
	return c.Ledger.TransferFrom(from, arg.To, arg.Amount)
}

func (c *BoundClient) BalanceOf(_ context.Context, account Account) (uint64, error) {
	return c.Ledger.Balance(account), nil
}
