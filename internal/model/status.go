package model

import "fmt"

// Status describes the processing lifecycle of a submission.
type Status string

const (
	StatusPending            Status = "pending"
	StatusInProgress         Status = "in_progress"
	StatusCompleted          Status = "completed"
	StatusRejected           Status = "rejected"
	StatusQuarantined        Status = "quarantined_pending_review"
	StatusQuarantineApproved Status = "quarantined_approved"
	StatusQuarantineRejected Status = "quarantined_rejected"
	StatusFailed             Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusRejected,
	StatusQuarantined,
	StatusQuarantineApproved,
	StatusQuarantineRejected,
	StatusFailed,
}

// terminalStatuses are final verdicts. No automatic processing ever runs
// against a record in one of these states.
var terminalStatuses = map[Status]struct{}{
	StatusCompleted:          {},
	StatusRejected:           {},
	StatusQuarantineApproved: {},
	StatusQuarantineRejected: {},
	StatusFailed:             {},
}

// transitions is the closed edge set of the state machine. Quarantine
// resolution edges are reachable only through human review.
var transitions = map[Status][]Status{
	StatusPending:     {StatusInProgress},
	StatusInProgress:  {StatusPending, StatusInProgress, StatusCompleted, StatusRejected, StatusQuarantined, StatusFailed},
	StatusQuarantined: {StatusQuarantineApproved, StatusQuarantineRejected},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// IsTerminal reports whether a status is a final verdict.
func IsTerminal(s Status) bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsSettled reports whether automatic processing must not touch the record
// again. Quarantined records are settled for the pipeline even though a human
// reviewer can still move them.
func IsSettled(s Status) bool {
	return IsTerminal(s) || s == StatusQuarantined
}

// Transition validates a status edge. It returns the target status when the
// edge exists and an error otherwise, so every caller goes through the same
// table instead of scattering setter logic.
func Transition(from, to Status) (Status, error) {
	for _, next := range transitions[from] {
		if next == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("illegal status transition %s -> %s", from, to)
}
