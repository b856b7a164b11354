// Package progress is the process-wide busy state machine for long
// operations. At most one long operation runs at a time; everything else
// observes its action text and percent.
package progress

import (
	"errors"
	"sync"
)

// ErrBusy is returned when a long operation is requested while another is in
// flight. Callers are expected to surface it, not queue behind it.
var ErrBusy = errors.New("another operation is already running")

const idleAction = "Idle"

// State is a snapshot of the coordinator.
type State struct {
	Busy      bool   `json:"busy"`
	Action    string `json:"action"`
	Percent   int    `json:"percent"`
	LastError string `json:"lastError,omitempty"`
}

// Tracker coordinates exclusive long operations and fans progress updates
// out to subscribers.
type Tracker struct {
	mu    sync.Mutex
	state State
	subs  map[chan State]struct{}
}

func New() *Tracker {
	return &Tracker{
		state: State{Action: idleAction},
		subs:  make(map[chan State]struct{}),
	}
}

// State returns the current snapshot.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Update advances the current operation's action text and percent. Percent
// is clamped to 0..100; monotonicity is the operation's business.
func (t *Tracker) Update(action string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.mu.Lock()
	t.state.Action = action
	t.state.Percent = percent
	t.broadcastLocked()
	t.mu.Unlock()
}

// RunExclusive runs fn as the process's single long operation. It fails
// immediately with ErrBusy if one is already running, and resets to idle on
// every exit path, recording fn's error for later inspection.
func (t *Tracker) RunExclusive(action string, fn func() error) error {
	t.mu.Lock()
	if t.state.Busy {
		t.mu.Unlock()
		return ErrBusy
	}
	t.state = State{Busy: true, Action: action}
	t.broadcastLocked()
	t.mu.Unlock()

	err := fn()

	t.mu.Lock()
	t.state.Busy = false
	t.state.Action = idleAction
	t.state.Percent = 0
	if err != nil {
		t.state.LastError = err.Error()
	}
	t.broadcastLocked()
	t.mu.Unlock()
	return err
}

// Subscribe registers a progress listener. The returned cancel func must be
// called to release it. Slow listeners miss intermediate updates rather than
// blocking operations.
func (t *Tracker) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 8)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		delete(t.subs, ch)
		t.mu.Unlock()
	}
	return ch, cancel
}

func (t *Tracker) broadcastLocked() {
	for ch := range t.subs {
		select {
		case ch <- t.state:
		default:
		}
	}
}
