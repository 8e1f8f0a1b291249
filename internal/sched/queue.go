package sched

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

// Kind identifies a scheduled unit of work.
type Kind string

const (
	// TaskFetchPrice queries the oracle and re-arms itself.
	TaskFetchPrice Kind = "fetch_price"
	// TaskProcessLogic drives the pending-swap sweep and re-arms itself.
	TaskProcessLogic Kind = "process_logic"
	// TaskCheckLeveragePositions runs the risk sweep. Scheduled on demand
	// after each price update, never self-rescheduling.
	TaskCheckLeveragePositions Kind = "check_leverage_positions"
	// TaskCloseLeveragePosition force-closes one position. Re-enqueued on
	// transfer failure.
	TaskCloseLeveragePosition Kind = "close_leverage_position"
)

// Task is a (ready-time, kind) pair. Position is set only for
// TaskCloseLeveragePosition.
type Task struct {
	ReadyAt  time.Time
	Kind     Kind
	Position *ledger.LeveragePosition
}

func (t Task) key() string {
	if t.Kind == TaskCloseLeveragePosition && t.Position != nil {
		return fmt.Sprintf("%s/%d", t.Kind, t.Position.DepositBlockIndex)
	}
	return string(t.Kind)
}

// Queue is a deduplicating priority queue of tasks ordered by ready time.
// Membership is in-memory only; on restart the owner reseeds the startup
// task set.
type Queue struct {
	mu      sync.Mutex
	heap    taskHeap
	pending map[string]bool
	seq     uint64
}

func NewQueue() *Queue {
	return &Queue{pending: make(map[string]bool)}
}

// ScheduleAt enqueues a task unless an identical one is already pending.
// Identity is the kind, plus the position's deposit block index for
// forced closes.
func (q *Queue) ScheduleAt(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := t.key()
	if q.pending[k] {
		return
	}
	q.pending[k] = true
	q.seq++
	heap.Push(&q.heap, entry{task: t, seq: q.seq})
}

// ScheduleNow enqueues a task ready immediately.
func (q *Queue) ScheduleNow(kind Kind, pos *ledger.LeveragePosition) {
	q.ScheduleAt(Task{Kind: kind, Position: pos})
}

// ScheduleAfter enqueues a task ready after the given delay.
func (q *Queue) ScheduleAfter(kind Kind, delay time.Duration, now time.Time) {
	q.ScheduleAt(Task{Kind: kind, ReadyAt: now.Add(delay)})
}

// PopReady removes and returns the earliest task whose ready time has
// passed. At most one task is popped per call; ready but unpopped tasks
// stay queued for subsequent ticks.
func (q *Queue) PopReady(now time.Time) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return Task{}, false
	}
	if q.heap[0].task.ReadyAt.After(now) {
		return Task{}, false
	}
	t := heap.Pop(&q.heap).(entry).task
	delete(q.pending, t.key())
	return t, true
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// entry ties a task to its insertion sequence so equal ready times pop in
// FIFO order.
type entry struct {
	task Task
	seq  uint64
}

type taskHeap []entry

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.ReadyAt.Equal(h[j].task.ReadyAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].task.ReadyAt.Before(h[j].task.ReadyAt)
}
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
