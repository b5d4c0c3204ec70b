package session

import (
	"testing"
	"time"
)

func TestHealthTransitionPolicy(t *testing.T) {
	policy := DefaultHealthPolicy()
	now := time.Now().UTC()
	state := HealthState{Current: LinkOK, LastTransitionAt: now}

	state = NextHealth(policy, state, false, now.Add(1*time.Second))
	if state.Current != LinkDegraded {
		t.Fatalf("ok->degraded expected, got %s", state.Current)
	}
	state = NextHealth(policy, state, false, now.Add(2*time.Second))
	if state.Current != LinkDegraded {
		t.Fatalf("expected degraded after two failures, got %s", state.Current)
	}
	state = NextHealth(policy, state, false, now.Add(3*time.Second))
	if state.Current != LinkDown {
		t.Fatalf("degraded->down expected after failures, got %s", state.Current)
	}

	state = NextHealth(policy, state, true, now.Add(4*time.Second))
	if state.Current != LinkOK {
		t.Fatalf("down->ok expected on recovery threshold, got %s", state.Current)
	}
	if !state.LastTransitionAt.Equal(now.Add(4 * time.Second)) {
		t.Fatalf("expected transition time updated, got %v", state.LastTransitionAt)
	}
}

func TestRecoveryNeedsConsecutiveSuccesses(t *testing.T) {
	policy := HealthPolicy{DegradedAfterFailures: 1, DownAfterFailures: 2, RecoverAfterSuccesses: 2}
	now := time.Now().UTC()
	var state HealthState
	state = NextHealth(policy, state, false, now)
	state = NextHealth(policy, state, false, now)
	if state.Current != LinkDown {
		t.Fatalf("expected down, got %s", state.Current)
	}
	state = NextHealth(policy, state, true, now)
	state = NextHealth(policy, state, false, now)
	state = NextHealth(policy, state, true, now)
	if state.Current != LinkDown {
		t.Fatalf("interleaved failure should reset recovery, got %s", state.Current)
	}
	state = NextHealth(policy, state, true, now)
	if state.Current != LinkOK {
		t.Fatalf("expected ok after two consecutive successes, got %s", state.Current)
	}
}

func TestZeroPolicyIsNormalized(t *testing.T) {
	state := NextHealth(HealthPolicy{}, HealthState{}, false, time.Now())
	if state.Current != LinkDown {
		t.Fatalf("zero policy should degrade and go down on the first failure, got %s", state.Current)
	}
}
