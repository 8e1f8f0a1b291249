// Package event defines the append-only event log entries. Every mutation of
// the ledger state is recorded as exactly one event; replaying the full log
// from an empty state reproduces the live state.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

// Type discriminates event payloads.
type Type string

const (
	TypeInit                  Type = "init"
	TypeUpgrade               Type = "upgrade"
	TypeOpenLeveragePosition  Type = "open_leverage_position"
	TypeCloseLeveragePosition Type = "close_leverage_position"
	TypeSwap                  Type = "swap"
	TypeSwapSuccess           Type = "swap_success"
	TypeLiquidity             Type = "liquidity"
	TypeClaimLiquidityRewards Type = "claim_liquidity_rewards"
)

// CloseLeveragePosition records a position close. OutputBlockIndex is nil
// when the position was liquidated and nothing was paid out.
type CloseLeveragePosition struct {
	DepositBlockIndex uint64          `json:"deposit_block_index"`
	OutputBlockIndex  *uint64         `json:"output_block_index,omitempty"`
	Fee               uint64          `json:"fee"`
	Timestamp         uint64          `json:"timestamp"`
	IcpPrice          ledger.IcpPrice `json:"icp_price"`
}

// SwapSuccess records the settlement of the outbound leg of an open swap.
type SwapSuccess struct {
	FromBlockIndex uint64 `json:"from_block_index"`
	ToBlockIndex   uint64 `json:"to_block_index"`
}

// ClaimLiquidityRewards records a reward payout that zeroed the owner's
// accrued balance.
type ClaimLiquidityRewards struct {
	Owner ledger.Principal `json:"owner"`
}

// Event is a tagged union; exactly the payload field matching Type is set.
type Event struct {
	Type Type `json:"type"`

	Init                  *ledger.InitArgs         `json:"init,omitempty"`
	Upgrade               *ledger.UpgradeArgs      `json:"upgrade,omitempty"`
	OpenLeveragePosition  *ledger.LeveragePosition `json:"open_leverage_position,omitempty"`
	CloseLeveragePosition *CloseLeveragePosition   `json:"close_leverage_position,omitempty"`
	Swap                  *ledger.Swap             `json:"swap,omitempty"`
	SwapSuccess           *SwapSuccess             `json:"swap_success,omitempty"`
	Liquidity             *ledger.Liquidity        `json:"liquidity,omitempty"`
	ClaimLiquidityRewards *ClaimLiquidityRewards   `json:"claim_liquidity_rewards,omitempty"`
}

// Encode serializes the event for the durable log.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode deserializes an event from the durable log.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type tag")
	}
	return e, nil
}

// Validate checks that the payload matching the type tag is present.
func (e Event) Validate() error {
	var ok bool
	switch e.Type {
	case TypeInit:
		ok = e.Init != nil
	case TypeUpgrade:
		ok = e.Upgrade != nil
	case TypeOpenLeveragePosition:
		ok = e.OpenLeveragePosition != nil
	case TypeCloseLeveragePosition:
		ok = e.CloseLeveragePosition != nil
	case TypeSwap:
		ok = e.Swap != nil
	case TypeSwapSuccess:
		ok = e.SwapSuccess != nil
	case TypeLiquidity:
		ok = e.Liquidity != nil
	case TypeClaimLiquidityRewards:
		ok = e.ClaimLiquidityRewards != nil
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if !ok {
		return fmt.Errorf("event %q is missing its payload", e.Type)
	}
	return nil
}
