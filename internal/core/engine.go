// Package core wires the ledger state, the audit log, the external ledgers
// and the oracle into the protocol's settlement engines. All state access
// goes through a single mutex; external calls are made with the mutex
// released and state is touched again only after their outcome is known.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Elliptic-DAO/elp-protocol/internal/audit"
	"github.com/Elliptic-DAO/elp-protocol/internal/event"
	"github.com/Elliptic-DAO/elp-protocol/internal/icrc"
	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
	"github.com/Elliptic-DAO/elp-protocol/internal/notify"
	"github.com/Elliptic-DAO/elp-protocol/internal/observability"
	"github.com/Elliptic-DAO/elp-protocol/internal/sched"
	"github.com/Elliptic-DAO/elp-protocol/internal/xrc"
)

const (
	// ProcessLogicInterval is the re-arm delay of the pending-swap sweep.
	ProcessLogicInterval = 5 * time.Second
	// FetchPriceInterval is the re-arm delay of the oracle poll.
	FetchPriceInterval = 10 * time.Minute
	// MinTimeToClose is how long a position must stay open before its owner
	// may close it.
	MinTimeToClose = time.Hour
)

// EventLog is the durable append-only store the engine records to and
// replays from.
type EventLog interface {
	audit.Store
	LoadAll(ctx context.Context) ([]event.Event, error)
	Iterate(ctx context.Context, skip, limit uint64) ([]event.Event, error)
	Count(ctx context.Context) (uint64, error)
}

// Config carries the engine's collaborators. Icp and Eusd are the two
// external token ledgers; Self is the protocol's own principal, which is
// also the eUSD minting account.
type Config struct {
	Self      ledger.Principal
	Log       EventLog
	Icp       icrc.Client
	Eusd      icrc.Client
	Oracle    xrc.Client
	Publisher *notify.Publisher
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
}

type Engine struct {
	mu    sync.Mutex
	state *ledger.State
	store audit.Store
	elog  EventLog

	icp    icrc.Client
	eusd   icrc.Client
	oracle xrc.Client

	queue *sched.Queue
	pub   *notify.Publisher
	met   *observability.Metrics
	log   zerolog.Logger
	now   func() time.Time
	self  ledger.Principal
}

func NewEngine(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		elog:   cfg.Log,
		icp:    cfg.Icp,
		eusd:   cfg.Eusd,
		oracle: cfg.Oracle,
		queue:  sched.NewQueue(),
		pub:    cfg.Publisher,
		met:    cfg.Metrics,
		log:    cfg.Logger,
		now:    now,
		self:   cfg.Self,
	}
	e.store = &publishingLog{log: cfg.Log, engine: e}
	return e
}

// Boot replays the event log into a fresh state and records an Upgrade
// marker, or records Init on an empty log. Must be called once before any
// other method.
func (e *Engine) Boot(ctx context.Context, args ledger.InitArgs) error {
	start := e.now()
	events, err := e.elog.LoadAll(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(events) == 0 {
		e.state = ledger.NewState(args)
		if err := audit.RecordInit(ctx, e.store, e.state, args); err != nil {
			return err
		}
		e.log.Info().Msg("initialized empty ledger")
	} else {
		replayed, err := audit.Replay(events)
		if err != nil {
			return err
		}
		e.state = replayed
		if err := audit.RecordUpgrade(ctx, e.store, e.state, ledger.UpgradeArgs{}); err != nil {
			return err
		}
		e.log.Info().
			Int("events", len(events)).
			Dur("took", e.now().Sub(start)).
			Msg("replayed event log")
		if e.met != nil {
			e.met.ReplayEvents.Add(float64(len(events)))
			e.met.ReplayDuration.Set(e.now().Sub(start).Seconds())
		}
	}
	if e.met != nil {
		if n, err := e.elog.Count(ctx); err == nil {
			e.met.EventLogSize.Set(float64(n))
		}
	}

	e.updateGauges()
	return nil
}

// Seed enqueues the fixed startup task set. The queue is not persisted, so
// this runs on every boot.
func (e *Engine) Seed() {
	e.queue.ScheduleNow(sched.TaskFetchPrice, nil)
	e.queue.ScheduleNow(sched.TaskProcessLogic, nil)
}

// OnTick is the host scheduler's entry point: it pops at most one ready
// task and dispatches it. Ready but unpopped tasks wait for the next tick.
func (e *Engine) OnTick(ctx context.Context) {
	task, ok := e.queue.PopReady(e.now())
	if e.met != nil {
		e.met.TaskQueueSize.Set(float64(e.queue.Len()))
	}
	if !ok {
		return
	}
	if e.met != nil {
		e.met.TasksDispatched.WithLabelValues(string(task.Kind)).Inc()
	}

	switch task.Kind {
	case sched.TaskFetchPrice:
		e.fetchPrice(ctx)
	case sched.TaskProcessLogic:
		e.processLogic(ctx)
	case sched.TaskCheckLeveragePositions:
		e.checkLeveragePositions(ctx)
	case sched.TaskCloseLeveragePosition:
		e.forceClosePosition(ctx, task.Position)
	default:
		e.log.Error().Str("kind", string(task.Kind)).Msg("unknown task kind")
	}
}

// fetchPrice polls the oracle and reschedules itself unconditionally,
// whether or not the poll succeeded.
func (e *Engine) fetchPrice(ctx context.Context) {
	defer e.queue.ScheduleAfter(sched.TaskFetchPrice, FetchPriceInterval, e.now())
	if err := e.RefreshPrice(ctx); err != nil {
		e.log.Warn().Err(err).Msg("oracle fetch failed")
		if e.met != nil {
			e.met.OracleFetchErrors.Inc()
		}
	}
}

// RefreshPrice fetches a quote from the oracle and records it immediately.
// A recorded price schedules a leverage risk check.
func (e *Engine) RefreshPrice(ctx context.Context) error {
	quote, err := e.oracle.GetIcpRate(ctx)
	if err != nil {
		return err
	}

	ts := quote.Timestamp * uint64(time.Second)
	if ts == 0 {
		ts = uint64(e.now().UnixNano())
	}
	rate := quote.RateE8s()

	e.mu.Lock()
	e.state.RecordPrice(ts, ledger.IcpPrice{Rate: rate})
	e.mu.Unlock()

	e.log.Debug().Uint64("rate", rate).Msg("recorded oracle price")
	if e.met != nil {
		e.met.IcpRate.Set(float64(rate))
	}

	// Every fresh price can move positions across their liquidation or
	// take-profit thresholds.
	e.queue.ScheduleNow(sched.TaskCheckLeveragePositions, nil)
	return nil
}

// ProcessPendingSwaps runs the settlement sweep outside the tick cycle.
// Used by management endpoints and tests; the periodic ProcessLogic task
// calls the same body.
func (e *Engine) ProcessPendingSwaps(ctx context.Context) {
	e.processLogic(ctx)
}

// CheckLeveragePositions runs the risk sweep outside the tick cycle.
func (e *Engine) CheckLeveragePositions(ctx context.Context) {
	e.checkLeveragePositions(ctx)
}

// DepositAccount derives the caller's deposit address on the protocol's
// ledgers.
func (e *Engine) DepositAccount(caller ledger.Principal) icrc.Account {
	sub := icrc.ComputeSubaccount(caller, 0)
	return icrc.Account{Owner: e.self, Subaccount: &sub}
}

// Events reads a page of the recorded event log.
func (e *Engine) Events(ctx context.Context, skip, limit uint64) ([]event.Event, error) {
	return e.elog.Iterate(ctx, skip, limit)
}

// Status returns the protocol-wide client view.
func (e *Engine) Status() ledger.ProtocolStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Status()
}

// UserData returns the per-principal client view.
func (e *Engine) UserData(p ledger.Principal) ledger.UserData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.UserData(p)
}

// SelfCheck replays the recorded log and compares it with the live state.
// Meaningful only when no settlement sweep is mid-flight.
func (e *Engine) SelfCheck(ctx context.Context) error {
	events, err := e.elog.LoadAll(ctx)
	if err != nil {
		return err
	}
	replayed, err := audit.Replay(events)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.state.CheckInvariants(); err != nil {
		return err
	}
	return e.state.SemanticallyEqual(replayed)
}

// AuditBalances compares the protocol's main-account ICP balance against the
// tracked totals. Diagnostic only: a few payout paths cover the outbound
// network fee out of pocket, so the ledger may drift slightly below the
// tracked sum over time. A shortfall is logged, never acted on.
func (e *Engine) AuditBalances(ctx context.Context) error {
	balance, err := e.icp.BalanceOf(ctx, icrc.Account{Owner: e.self})
	if err != nil {
		return wrapLedgerErr("ICP", "balance_of", err)
	}

	e.mu.Lock()
	e.state.ProtocolBalance = balance
	tracked := e.state.CollateralAmount +
		e.state.LiquidityAmount +
		e.state.LeverageMarginAmount +
		e.state.TotalAvailableFees
	for _, rewards := range e.state.LiquidityRewards {
		tracked += rewards
	}
	e.mu.Unlock()

	entry := e.log.Info()
	if balance < tracked {
		entry = e.log.Warn()
	}
	entry.
		Uint64("ledger_balance", balance).
		Uint64("tracked", tracked).
		Msg("protocol balance audit")
	return nil
}

// updateGauges refreshes the protocol-state metrics. Caller holds the lock.
func (e *Engine) updateGauges() {
	if e.met == nil {
		return
	}
	s := e.state
	e.met.CollateralRatio.Set(clampGauge(s.CollateralRatio()))
	e.met.CoveredRatio.Set(float64(s.CoveredRatio()))
	e.met.TotalCollateral.Set(float64(s.CollateralAmount))
	e.met.TotalLiquidity.Set(float64(s.LiquidityAmount))
	e.met.TotalMinted.Set(float64(s.TotalEusdMinted))
	e.met.TotalBurned.Set(float64(s.TotalEusdBurned))
	e.met.OpenPositions.Set(float64(len(s.AllLeveragePositions())))
	e.met.OpenSwaps.Set(float64(len(s.OpenSwaps)))
	e.met.AvailableFees.Set(float64(s.TotalAvailableFees))
}

// clampGauge keeps the infinite collateral ratio from flooding the gauge.
func clampGauge(v uint64) float64 {
	const limit = 1 << 53
	if v > limit {
		return limit
	}
	return float64(v)
}

// publishingLog appends to the durable log, then mirrors the event to NATS
// and bumps the event counters. Publish failures never fail the append.
type publishingLog struct {
	log    EventLog
	engine *Engine
}

func (p *publishingLog) Append(ctx context.Context, ev event.Event) error {
	if err := p.log.Append(ctx, ev); err != nil {
		return err
	}
	p.engine.pub.Publish(ctx, ev)
	if m := p.engine.met; m != nil {
		m.EventsRecorded.WithLabelValues(string(ev.Type)).Inc()
		m.EventLogSize.Inc()
	}
	return nil
}
