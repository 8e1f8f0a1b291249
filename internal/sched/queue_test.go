package sched_test

import (
	"testing"
	"time"

	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
	"github.com/Elliptic-DAO/elp-protocol/internal/sched"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestPopReady_OrdersByReadyTime(t *testing.T) {
	q := sched.NewQueue()
	q.ScheduleAfter(sched.TaskFetchPrice, 10*time.Minute, t0)
	q.ScheduleAfter(sched.TaskProcessLogic, 5*time.Second, t0)

	got, ok := q.PopReady(t0.Add(time.Hour))
	if !ok || got.Kind != sched.TaskProcessLogic {
		t.Errorf("first pop: got %q ok=%v, want process_logic", got.Kind, ok)
	}
	got, ok = q.PopReady(t0.Add(time.Hour))
	if !ok || got.Kind != sched.TaskFetchPrice {
		t.Errorf("second pop: got %q ok=%v, want fetch_price", got.Kind, ok)
	}
}

func TestPopReady_NothingReady(t *testing.T) {
	q := sched.NewQueue()
	q.ScheduleAfter(sched.TaskProcessLogic, 5*time.Second, t0)

	if _, ok := q.PopReady(t0.Add(time.Second)); ok {
		t.Error("task must not pop before its ready time")
	}
	if q.Len() != 1 {
		t.Errorf("len: got %d, want 1", q.Len())
	}
}

func TestPopReady_AtMostOnePerCall(t *testing.T) {
	q := sched.NewQueue()
	q.ScheduleNow(sched.TaskFetchPrice, nil)
	q.ScheduleNow(sched.TaskProcessLogic, nil)

	if _, ok := q.PopReady(t0); !ok {
		t.Fatal("first pop must succeed")
	}
	if q.Len() != 1 {
		t.Errorf("one ready task must stay queued, len %d", q.Len())
	}
}

func TestPopReady_EqualReadyTimesAreFIFO(t *testing.T) {
	q := sched.NewQueue()
	q.ScheduleAt(sched.Task{ReadyAt: t0, Kind: sched.TaskCheckLeveragePositions})
	q.ScheduleAt(sched.Task{ReadyAt: t0, Kind: sched.TaskProcessLogic})
	q.ScheduleAt(sched.Task{ReadyAt: t0, Kind: sched.TaskFetchPrice})

	want := []sched.Kind{
		sched.TaskCheckLeveragePositions,
		sched.TaskProcessLogic,
		sched.TaskFetchPrice,
	}
	for i, k := range want {
		got, ok := q.PopReady(t0)
		if !ok || got.Kind != k {
			t.Errorf("pop %d: got %q ok=%v, want %q", i, got.Kind, ok, k)
		}
	}
}

func TestSchedule_DedupesByKind(t *testing.T) {
	q := sched.NewQueue()
	q.ScheduleNow(sched.TaskCheckLeveragePositions, nil)
	q.ScheduleAfter(sched.TaskCheckLeveragePositions, time.Minute, t0)

	if q.Len() != 1 {
		t.Errorf("duplicate kind must be dropped, len %d", q.Len())
	}

	// Popping clears membership, so the kind can be scheduled again.
	if _, ok := q.PopReady(t0); !ok {
		t.Fatal("pop must succeed")
	}
	q.ScheduleNow(sched.TaskCheckLeveragePositions, nil)
	if q.Len() != 1 {
		t.Errorf("kind must be schedulable after pop, len %d", q.Len())
	}
}

func TestSchedule_ForcedClosesDedupePerPosition(t *testing.T) {
	q := sched.NewQueue()
	p1 := &ledger.LeveragePosition{Owner: "alice", DepositBlockIndex: 1}
	p2 := &ledger.LeveragePosition{Owner: "bob", DepositBlockIndex: 2}

	q.ScheduleNow(sched.TaskCloseLeveragePosition, p1)
	q.ScheduleNow(sched.TaskCloseLeveragePosition, p1)
	q.ScheduleNow(sched.TaskCloseLeveragePosition, p2)

	if q.Len() != 2 {
		t.Errorf("closes must dedupe per deposit block index, len %d", q.Len())
	}
}
