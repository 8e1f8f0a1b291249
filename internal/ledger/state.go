// Package ledger holds the in-memory state of the protocol: balances,
// positions, open swaps, running totals and the invariants tying them
// together. The state is exclusively owned by the engine and is only ever
// mutated inside synchronous sections; everything here is single-threaded.
package ledger

import (
	"math"
	"sort"

	"github.com/Elliptic-DAO/elp-protocol/internal/emath"
)

const (
	DefaultMinAmountFromStable = 100_000_000
	DefaultMinAmountToStable   = 100_000_000
	DefaultMinAmountLeverage   = 100_000_000
	DefaultMinAmountLiquidity  = 100_000_000

	// IcpTransferFee is the network fee the ICP ledger charges per transfer.
	IcpTransferFee = 10_000
	// EusdTransferFee is the network fee the eUSD ledger charges per transfer.
	EusdTransferFee = 1_000_000

	DefaultBaseFee        = 250_000   // 0.25%
	DefaultLiquidationFee = 2_500_000 // 2.5%
)

// InitArgs configures a fresh state. Zero-valued minimums fall back to the
// protocol defaults.
type InitArgs struct {
	MinAmountToStable   uint64 `json:"min_amount_to_stable,omitempty"`
	MinAmountFromStable uint64 `json:"min_amount_from_stable,omitempty"`
	MinAmountLeverage   uint64 `json:"min_amount_leverage,omitempty"`
	MinAmountLiquidity  uint64 `json:"min_amount_liquidity,omitempty"`
	Mode                Mode   `json:"mode"`
}

// UpgradeArgs carries nothing today; the event exists so code upgrades leave
// a mark in the log.
type UpgradeArgs struct{}

// GuardFamily selects one of the per-principal guard sets.
type GuardFamily int32

const (
	GuardLiquidity GuardFamily = iota
	GuardLeverage
	GuardConvert
)

func (f GuardFamily) String() string {
	switch f {
	case GuardLiquidity:
		return "liquidity"
	case GuardLeverage:
		return "leverage"
	case GuardConvert:
		return "convert"
	default:
		return "unknown"
	}
}

// State is the process-wide ledger state. One instance per deployment,
// replaced wholesale by replay on restart.
type State struct {
	LiquidityProvided map[Principal]uint64
	LiquidityRewards  map[Principal]uint64

	// LeveragePositions keeps each owner's positions sorted by
	// LeveragePosition.Less; membership is decided by DepositBlockIndex.
	LeveragePositions map[Principal][]LeveragePosition
	BlockIndexToOwner map[uint64]Principal

	OpenSwaps map[uint64]Swap

	Fees FeeSchedule

	CollateralAmount        uint64
	LiquidityAmount         uint64
	LeverageMarginAmount    uint64
	CollateralCoveredAmount uint64

	// ProtocolBalance is the main account's ICP balance as of the last
	// balance audit. Live-only: not recorded, not compared by replay.
	ProtocolBalance uint64

	TotalEusdMinted    uint64
	TotalEusdBurned    uint64
	TotalAvailableFees uint64

	Mode Mode

	MinAmountToStable   uint64
	MinAmountFromStable uint64
	MinAmountLeverage   uint64
	MinAmountLiquidity  uint64

	// IcpPrices is the recorded price history, timestamp (ns) to rate.
	IcpPrices   map[uint64]IcpPrice
	lastPriceTS uint64
	hasPrice    bool

	// Guard sets, one per operation family, plus the single sweep slot.
	// Not part of the event log; they exist only for the live process.
	SweepRunning   bool
	liquidityLocks map[Principal]struct{}
	leverageLocks  map[Principal]struct{}
	convertLocks   map[Principal]struct{}
}

// NewState builds an empty state from init arguments.
func NewState(args InitArgs) *State {
	s := &State{
		LiquidityProvided: make(map[Principal]uint64),
		LiquidityRewards:  make(map[Principal]uint64),
		LeveragePositions: make(map[Principal][]LeveragePosition),
		BlockIndexToOwner: make(map[uint64]Principal),
		OpenSwaps:         make(map[uint64]Swap),
		IcpPrices:         make(map[uint64]IcpPrice),
		liquidityLocks:    make(map[Principal]struct{}),
		leverageLocks:     make(map[Principal]struct{}),
		convertLocks:      make(map[Principal]struct{}),
		Fees: FeeSchedule{
			BaseFee:        DefaultBaseFee,
			LiquidationFee: DefaultLiquidationFee,
			StabilityFee:   0,
		},
	}
	s.Reinit(args)
	return s
}

// Reinit re-applies init arguments to an existing state. Used when an Init
// event appears mid-log.
func (s *State) Reinit(args InitArgs) {
	s.Mode = args.Mode
	s.MinAmountToStable = orDefault(args.MinAmountToStable, DefaultMinAmountToStable)
	s.MinAmountFromStable = orDefault(args.MinAmountFromStable, DefaultMinAmountFromStable)
	s.MinAmountLeverage = orDefault(args.MinAmountLeverage, DefaultMinAmountLeverage)
	s.MinAmountLiquidity = orDefault(args.MinAmountLiquidity, DefaultMinAmountLiquidity)
}

// Upgrade applies upgrade arguments. Nothing to do today.
func (s *State) Upgrade(UpgradeArgs) {}

func orDefault(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

// RecordPrice appends a price sample to the history.
func (s *State) RecordPrice(timestampNanos uint64, price IcpPrice) {
	s.IcpPrices[timestampNanos] = price
	if !s.hasPrice || timestampNanos >= s.lastPriceTS {
		s.lastPriceTS = timestampNanos
		s.hasPrice = true
	}
}

// LastIcpPrice returns the most recent price sample, if any.
func (s *State) LastIcpPrice() (IcpPrice, bool) {
	if !s.hasPrice {
		return IcpPrice{}, false
	}
	return s.IcpPrices[s.lastPriceTS], true
}

// LastIcpPriceTimestamp returns the timestamp of the most recent sample.
func (s *State) LastIcpPriceTimestamp() (uint64, bool) {
	if !s.hasPrice {
		return 0, false
	}
	return s.lastPriceTS, true
}

// HasPriceData reports whether at least one price sample was recorded.
func (s *State) HasPriceData() bool { return s.hasPrice }

// TotalLiquidityAmount sums the per-provider pooled balances.
func (s *State) TotalLiquidityAmount() uint64 {
	var sum uint64
	for _, amount := range s.LiquidityProvided {
		sum += amount
	}
	return sum
}

// TotalLeverageAmount sums the net margin (amount - fee) of all open positions.
func (s *State) TotalLeverageAmount() uint64 {
	var sum uint64
	for _, positions := range s.LeveragePositions {
		for _, p := range positions {
			sum += p.Amount - p.Fee
		}
	}
	return sum
}

// LeverageCoveredAmount sums the covered exposure of all open positions.
func (s *State) LeverageCoveredAmount() uint64 {
	var sum uint64
	for _, positions := range s.LeveragePositions {
		for _, p := range positions {
			sum += p.CoveredAmount
		}
	}
	return sum
}

// LeverageCoverableAmount is the collateral not yet backing leverage exposure.
func (s *State) LeverageCoverableAmount() uint64 {
	return emath.SaturatingSub(s.CollateralAmount, s.LeverageCoveredAmount())
}

// TVL is the total value locked at the latest price, in e8s USD.
// Requires at least one price sample.
func (s *State) TVL() uint64 {
	price, ok := s.LastIcpPrice()
	if !ok {
		return 0
	}
	locked := s.CollateralAmount + s.LeverageMarginAmount + s.LiquidityAmount
	return emath.MulE8s(locked, price.Rate)
}

// CollateralRatio is TVL over net outstanding eUSD. When nothing is minted
// the ratio is infinite, represented as the maximum value.
func (s *State) CollateralRatio() uint64 {
	diff := emath.SaturatingSub(s.TotalEusdMinted, s.TotalEusdBurned)
	if diff == 0 {
		return math.MaxUint64
	}
	return emath.DivE8s(s.TVL(), diff)
}

// CoveredRatio is covered collateral over collateral; zero when both are zero.
func (s *State) CoveredRatio() uint64 {
	if s.CollateralAmount == 0 && s.CollateralCoveredAmount == 0 {
		return 0
	}
	return emath.DivE8s(s.CollateralCoveredAmount, s.CollateralAmount)
}

// Status builds the protocol-wide client view.
func (s *State) Status() ProtocolStatus {
	price, _ := s.LastIcpPrice()
	return ProtocolStatus{
		CollateralRatio: s.CollateralRatio(),
		CoveredRatio:    s.CoveredRatio(),
		IcpPrice:        price.Rate,
		TVL:             s.TVL(),
		CoverableAmount: s.LeverageCoverableAmount(),
		ProtocolBalance: s.ProtocolBalance,
	}
}

// UserData builds the per-principal client view.
func (s *State) UserData(p Principal) UserData {
	d := UserData{
		ClaimableLiquidityRewards: s.LiquidityRewards[p],
		LiquidityProvided:         s.LiquidityProvided[p],
	}
	if positions, ok := s.LeveragePositions[p]; ok {
		d.LeveragePositions = append([]LeveragePosition(nil), positions...)
	}
	return d
}

// LeveragePositionByIndex looks a position up by its identity key.
func (s *State) LeveragePositionByIndex(depositBlockIndex uint64) (LeveragePosition, bool) {
	owner, ok := s.BlockIndexToOwner[depositBlockIndex]
	if !ok {
		return LeveragePosition{}, false
	}
	for _, p := range s.LeveragePositions[owner] {
		if p.DepositBlockIndex == depositBlockIndex {
			return p, true
		}
	}
	return LeveragePosition{}, false
}

// AllLeveragePositions returns every open position in deterministic order:
// owners sorted lexicographically, positions in their stored order.
func (s *State) AllLeveragePositions() []LeveragePosition {
	owners := make([]Principal, 0, len(s.LeveragePositions))
	for owner := range s.LeveragePositions {
		owners = append(owners, owner)
	}
	sortPrincipals(owners)

	var out []LeveragePosition
	for _, owner := range owners {
		out = append(out, s.LeveragePositions[owner]...)
	}
	return out
}

// OpenSwapsOrdered returns the open swaps sorted by inbound block index.
func (s *State) OpenSwapsOrdered() []Swap {
	indexes := make([]uint64, 0, len(s.OpenSwaps))
	for idx := range s.OpenSwaps {
		indexes = append(indexes, idx)
	}
	sortUint64(indexes)

	out := make([]Swap, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, s.OpenSwaps[idx])
	}
	return out
}

// GuardSet returns the pending-request set of the given family.
func (s *State) GuardSet(f GuardFamily) map[Principal]struct{} {
	switch f {
	case GuardLiquidity:
		return s.liquidityLocks
	case GuardLeverage:
		return s.leverageLocks
	case GuardConvert:
		return s.convertLocks
	default:
		panic("FATAL: unknown guard family")
	}
}

func sortPrincipals(ps []Principal) {
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
}

func sortUint64(xs []uint64) {
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
}
