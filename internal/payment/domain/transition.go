package domain

// Outcome classifies what a reported event means for the current status.
type Outcome int

const (
	// OutcomeApply moves the order to a new status.
	OutcomeApply Outcome = iota
	// OutcomeNoop leaves the order unchanged; the event is consistent with
	// the current state (duplicate or stale-but-agreeing delivery).
	OutcomeNoop
	// OutcomeAnomaly is a terminal-state contradiction (e.g. FAILED reported
	// for a confirmed order). Never applied, recorded for audit.
	OutcomeAnomaly
)

// Next evaluates the status transition table. It is the single state
// machine shared by the webhook and verification paths; statuses only move
// forward: pending -> confirmed|failed, confirmed -> refunded.
func Next(current OrderStatus, reported EventStatus) (OrderStatus, Outcome) {
	switch current {
	case StatusPending:
		switch reported {
		case EventSuccess:
			return StatusConfirmed, OutcomeApply
		case EventFailed:
			return StatusFailed, OutcomeApply
		case EventRefunded:
			return StatusPending, OutcomeAnomaly
		default:
			return StatusPending, OutcomeNoop
		}
	case StatusConfirmed:
		switch reported {
		case EventFailed:
			return StatusConfirmed, OutcomeAnomaly
		case EventRefunded:
			return StatusRefunded, OutcomeApply
		default:
			return StatusConfirmed, OutcomeNoop
		}
	case StatusFailed:
		switch reported {
		case EventSuccess, EventRefunded:
			return StatusFailed, OutcomeAnomaly
		default:
			return StatusFailed, OutcomeNoop
		}
	case StatusRefunded:
		if reported == EventFailed {
			return StatusRefunded, OutcomeAnomaly
		}
		return StatusRefunded, OutcomeNoop
	default:
		return current, OutcomeNoop
	}
}
