package ledger

import "fmt"

// Principal is the unique identifier of a protocol participant.
type Principal string

// Asset identifies one of the two assets the protocol converts between.
type Asset int32

const (
	AssetICP Asset = iota
	AssetEUSD
)

func (a Asset) String() string {
	switch a {
	case AssetICP:
		return "ICP"
	case AssetEUSD:
		return "eUSD"
	default:
		return "Unknown"
	}
}

// IcpPrice is an ICP/USD exchange rate in e8s.
type IcpPrice struct {
	Rate uint64 `json:"rate"`
}

// LeveragePosition is an open leveraged position. DepositBlockIndex is the
// block index of the margin transfer that opened it and acts as its identity.
type LeveragePosition struct {
	Owner             Principal `json:"owner"`
	Amount            uint64    `json:"amount"`
	CoveredAmount     uint64    `json:"covered_amount"`
	TakeProfit        uint64    `json:"take_profit"`
	Timestamp         uint64    `json:"timestamp"`
	EntryPrice        IcpPrice  `json:"icp_entry_price"`
	DepositBlockIndex uint64    `json:"deposit_block_index"`
	Fee               uint64    `json:"fee"`
}

// Less orders positions by (amount, covered_amount, take_profit, timestamp,
// entry_price, deposit_block_index, fee, owner) for deterministic iteration.
func (p LeveragePosition) Less(other LeveragePosition) bool {
	if p.Amount != other.Amount {
		return p.Amount < other.Amount
	}
	if p.CoveredAmount != other.CoveredAmount {
		return p.CoveredAmount < other.CoveredAmount
	}
	if p.TakeProfit != other.TakeProfit {
		return p.TakeProfit < other.TakeProfit
	}
	if p.Timestamp != other.Timestamp {
		return p.Timestamp < other.Timestamp
	}
	if p.EntryPrice.Rate != other.EntryPrice.Rate {
		return p.EntryPrice.Rate < other.EntryPrice.Rate
	}
	if p.DepositBlockIndex != other.DepositBlockIndex {
		return p.DepositBlockIndex < other.DepositBlockIndex
	}
	if p.Fee != other.Fee {
		return p.Fee < other.Fee
	}
	return p.Owner < other.Owner
}

// Swap is an in-flight conversion whose inbound leg has settled and whose
// outbound leg is still pending, keyed by the inbound block index.
type Swap struct {
	Caller         Principal `json:"caller"`
	From           Asset     `json:"from"`
	FromBlockIndex uint64    `json:"from_block_index"`
	FromAmount     uint64    `json:"from_amount"`
	To             Asset     `json:"to"`
	Rate           uint64    `json:"rate"`
	Fee            uint64    `json:"fee"`
	Timestamp      uint64    `json:"timestamp"`
}

// LiquidityType discriminates pooled-liquidity operations.
type LiquidityType int32

const (
	LiquidityAdd LiquidityType = iota
	LiquidityRemove
)

func (lt LiquidityType) String() string {
	switch lt {
	case LiquidityAdd:
		return "Add"
	case LiquidityRemove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// Liquidity is a settled add/remove of pooled liquidity.
type Liquidity struct {
	Caller     Principal     `json:"caller"`
	Type       LiquidityType `json:"operation_type"`
	Amount     uint64        `json:"amount"`
	BlockIndex uint64        `json:"block_index"`
	Timestamp  uint64        `json:"timestamp"`
	Fee        uint64        `json:"fee"`
}

// FeeSchedule holds the protocol fee rates, all e8s fractions.
type FeeSchedule struct {
	BaseFee        uint64 `json:"base_fee"`
	LiquidationFee uint64 `json:"liquidation_fee"`
	StabilityFee   uint64 `json:"stability_fee"`
}

// ModeKind selects which callers may reach the update entry points.
type ModeKind int32

const (
	ModeGeneralAvailability ModeKind = iota
	ModeReadOnly
	ModeRestrictedTo
	ModeDepositsRestrictedTo
)

// Mode gates access to the protocol's mutating operations.
type Mode struct {
	Kind       ModeKind    `json:"kind"`
	Principals []Principal `json:"principals,omitempty"`
}

func (m Mode) String() string {
	switch m.Kind {
	case ModeReadOnly:
		return "Read-only"
	case ModeRestrictedTo:
		return fmt.Sprintf("Restricted to: %v", m.Principals)
	case ModeDepositsRestrictedTo:
		return fmt.Sprintf("Deposits restricted to: %v", m.Principals)
	default:
		return "General availability"
	}
}

// AllowsUpdate reports whether the caller may run mutating operations.
func (m Mode) AllowsUpdate(caller Principal) bool {
	switch m.Kind {
	case ModeReadOnly:
		return false
	case ModeRestrictedTo:
		for _, p := range m.Principals {
			if p == caller {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// AllowsDeposit reports whether the caller may run deposit-side operations
// (swap in, open position, add liquidity).
func (m Mode) AllowsDeposit(caller Principal) bool {
	if m.Kind == ModeDepositsRestrictedTo {
		for _, p := range m.Principals {
			if p == caller {
				return true
			}
		}
		return false
	}
	return m.AllowsUpdate(caller)
}

// ProtocolStatus is the protocol-wide view surfaced to clients, all e8s.
type ProtocolStatus struct {
	CollateralRatio uint64 `json:"collateral_ratio"`
	CoveredRatio    uint64 `json:"covered_ratio"`
	IcpPrice        uint64 `json:"icp_price"`
	TVL             uint64 `json:"tvl"`
	CoverableAmount uint64 `json:"coverable_amount"`
	ProtocolBalance uint64 `json:"protocol_balance"`
}

// UserData is the per-principal view surfaced to clients.
type UserData struct {
	ClaimableLiquidityRewards uint64             `json:"claimable_liquidity_rewards"`
	LiquidityProvided         uint64             `json:"liquidity_provided"`
	LeveragePositions         []LeveragePosition `json:"leverage_positions,omitempty"`
}
