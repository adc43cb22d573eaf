package services

import (
	"sync"

	"github.com/promptwatch/promptwatch-go/internal/infrastructure/messaging"
)

// QueryState is the lifecycle state of one composite query key.
//
// Transitions: Idle → Pending (batch window open / dedup in flight) →
// Cached (served fresh) → Stale (TTL expired, optionally served
// optimistically while a refresh is pending) → Error (fetch or compute
// failed; a prior cached value, if any, is still served flagged) → Idle.
type QueryState string

const (
	StateIdle    QueryState = "idle"
	StatePending QueryState = "pending"
	StateCached  QueryState = "cached"
	StateStale   QueryState = "stale"
	StateError   QueryState = "error"
)

// lifecycleTracker records per-key query states and publishes transitions
// to the staleness broadcaster.
type lifecycleTracker struct {
	states      map[string]QueryState
	mu          sync.Mutex
	broadcaster *messaging.StalenessBroadcaster
}

func newLifecycleTracker(broadcaster *messaging.StalenessBroadcaster) *lifecycleTracker {
	return &lifecycleTracker{
		states:      make(map[string]QueryState),
		broadcaster: broadcaster,
	}
}

// transition moves key to state, broadcasting only on change.
func (t *lifecycleTracker) transition(key string, state QueryState) {
	t.mu.Lock()
	if t.states[key] == state {
		t.mu.Unlock()
		return
	}
	if state == StateIdle {
		delete(t.states, key)
	} else {
		t.states[key] = state
	}
	t.mu.Unlock()

	if t.broadcaster != nil {
		t.broadcaster.Broadcast(key, string(state))
	}
}

// state returns the current state for key, defaulting to Idle.
func (t *lifecycleTracker) state(key string) QueryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, exists := t.states[key]; exists {
		return s
	}
	return StateIdle
}

// resetAll returns every tracked key to Idle, broadcasting each transition.
func (t *lifecycleTracker) resetAll() {
	t.mu.Lock()
	keys := make([]string, 0, len(t.states))
	for key := range t.states {
		keys = append(keys, key)
	}
	t.mu.Unlock()

	for _, key := range keys {
		t.transition(key, StateIdle)
	}
}

// snapshot copies the state table for the status endpoint.
func (t *lifecycleTracker) snapshot() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]string, len(t.states))
	for key, state := range t.states {
		out[key] = string(state)
	}
	return out
}
