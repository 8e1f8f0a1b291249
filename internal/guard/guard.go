// Package guard serializes state-mutating operations that suspend on
// external calls. A guard is keyed by (operation family, principal) and held
// for the whole operation; it must be released on every exit path so a
// failed call can never lock a principal out permanently.
package guard

import (
	"errors"

	"github.com/Elliptic-DAO/elp-protocol/internal/ledger"
)

// MaxConcurrent caps outstanding guards per family.
const MaxConcurrent = 100

var (
	// ErrAlreadyProcessing means the principal already holds a guard in
	// this family.
	ErrAlreadyProcessing = errors.New("already processing a request for this principal")
	// ErrTooManyConcurrentRequests means the family is at its fan-out cap.
	ErrTooManyConcurrentRequests = errors.New("too many concurrent requests")
)

// Acquire marks the principal busy in the family's pending set. The caller
// must already hold the state's exclusive section.
func Acquire(s *ledger.State, family ledger.GuardFamily, p ledger.Principal) error {
	set := s.GuardSet(family)
	if _, held := set[p]; held {
		return ErrAlreadyProcessing
	}
	if len(set) >= MaxConcurrent {
		return ErrTooManyConcurrentRequests
	}
	set[p] = struct{}{}
	return nil
}

// Release removes the principal from the family's pending set. Releasing a
// guard that is not held is a no-op.
func Release(s *ledger.State, family ledger.GuardFamily, p ledger.Principal) {
	delete(s.GuardSet(family), p)
}

// AcquireSweep takes the single-slot guard protecting the periodic
// settlement sweep, reporting whether it was free.
func AcquireSweep(s *ledger.State) bool {
	if s.SweepRunning {
		return false
	}
	s.SweepRunning = true
	return true
}

// ReleaseSweep frees the sweep guard.
func ReleaseSweep(s *ledger.State) {
	s.SweepRunning = false
}
