package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle position of a Transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusAttesting  Status = "attesting"
	StatusMinting    Status = "minting"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// ErrInvalidTransition is returned when a status change is not on the graph.
var ErrInvalidTransition = errors.New("invalid status transition")

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// bridgeTransitions is the graph for deposits and withdrawals.
// Key is the current status, value is the list of valid next statuses.
var bridgeTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirming, StatusFailed},
	StatusConfirming: {StatusAttesting, StatusFailed},
	StatusAttesting:  {StatusMinting, StatusFailed},
	StatusMinting:    {StatusComplete, StatusFailed},
}

// directTransitions is the graph for swaps and liquidity operations.
var directTransitions = map[Status][]Status{
	StatusPending: {StatusComplete, StatusFailed},
}

// ValidTransitions returns the transition table for kind.
func ValidTransitions(kind Kind) map[Status][]Status {
	if kind.IsBridge() {
		return bridgeTransitions
	}
	return directTransitions
}

// CanTransition checks if kind may move from one status to another.
func CanTransition(kind Kind, from, to Status) bool {
	for _, target := range ValidTransitions(kind)[from] {
		if target == to {
			return true
		}
	}
	return false
}

// StatusesFor lists every status reachable by kind, in lifecycle order.
func StatusesFor(kind Kind) []Status {
	if kind.IsBridge() {
		return []Status{StatusPending, StatusConfirming, StatusAttesting, StatusMinting, StatusComplete, StatusFailed}
	}
	return []Status{StatusPending, StatusComplete, StatusFailed}
}

// InitialStep is the step a freshly recorded transaction of kind starts in.
func InitialStep(kind Kind) Step {
	if kind.IsBridge() {
		return StepBurn
	}
	return StepExecution
}

// Transition is a recorded status change.
type Transition struct {
	TransactionID string
	Kind          Kind
	From          Status
	To            Status
	Step          Step
	Reason        string
	Timestamp     time.Time
}

// NewTransition creates a new transition record.
func NewTransition(tx *Transaction, from Status, reason string) Transition {
	return Transition{
		TransactionID: tx.ID,
		Kind:          tx.Kind,
		From:          from,
		To:            tx.Status,
		Step:          tx.Step,
		Reason:        reason,
		Timestamp:     time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the graph.
func (t Transition) IsValid() bool {
	return CanTransition(t.Kind, t.From, t.To)
}
