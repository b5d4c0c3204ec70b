package session

import "time"

// LinkHealth summarises how the last few refreshes went.
type LinkHealth string

const (
	LinkOK       LinkHealth = "ok"
	LinkDegraded LinkHealth = "degraded"
	LinkDown     LinkHealth = "down"
)

// HealthPolicy sets the failure and recovery thresholds of the link machine.
type HealthPolicy struct {
	DegradedAfterFailures int
	DownAfterFailures     int
	RecoverAfterSuccesses int
}

func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{DegradedAfterFailures: 1, DownAfterFailures: 3, RecoverAfterSuccesses: 1}
}

func (p HealthPolicy) normalized() HealthPolicy {
	if p.DegradedAfterFailures < 1 {
		p.DegradedAfterFailures = 1
	}
	if p.DownAfterFailures < p.DegradedAfterFailures {
		p.DownAfterFailures = p.DegradedAfterFailures
	}
	if p.RecoverAfterSuccesses < 1 {
		p.RecoverAfterSuccesses = 1
	}
	return p
}

type HealthState struct {
	Current              LinkHealth
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastTransitionAt     time.Time
}

func NextHealth(policy HealthPolicy, state HealthState, success bool, now time.Time) HealthState {
	policy = policy.normalized()
	if state.Current == "" {
		state.Current = LinkOK
	}
	if state.LastTransitionAt.IsZero() {
		state.LastTransitionAt = now
	}

	if success {
		state.ConsecutiveSuccesses++
		state.ConsecutiveFailures = 0
		if state.Current != LinkOK && state.ConsecutiveSuccesses >= policy.RecoverAfterSuccesses {
			state.Current = LinkOK
			state.LastTransitionAt = now
		}
		return state
	}

	state.ConsecutiveFailures++
	state.ConsecutiveSuccesses = 0
	switch state.Current {
	case LinkOK:
		if state.ConsecutiveFailures >= policy.DegradedAfterFailures {
			state.Current = LinkDegraded
			state.LastTransitionAt = now
		}
		if state.ConsecutiveFailures >= policy.DownAfterFailures {
			state.Current = LinkDown
		}
	case LinkDegraded:
		if state.ConsecutiveFailures >= policy.DownAfterFailures {
			state.Current = LinkDown
			state.LastTransitionAt = now
		}
	case LinkDown:
		// stays down until enough refreshes succeed
	}
	return state
}
