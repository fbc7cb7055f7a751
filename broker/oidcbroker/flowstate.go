package oidcbroker

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// flowState tracks one pending interactive login between BeginLogin and the
// provider callback.
type flowState struct {
	Nonce        string
	CodeVerifier string
	CreatedAt    time.Time
}

// flowStateRepo is a thread-safe in-memory repository of pending login flows,
// keyed by the opaque state parameter.
type flowStateRepo struct {
	mu     sync.RWMutex
	states map[string]*flowState
}

func newFlowStateRepo() *flowStateRepo {
	return &flowStateRepo{states: make(map[string]*flowState)}
}

func (r *flowStateRepo) Upsert(state string, fs *flowState) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if fs == nil {
		return errors.New("flow state cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[state] = &flowState{
		Nonce:        fs.Nonce,
		CodeVerifier: fs.CodeVerifier,
		CreatedAt:    fs.CreatedAt,
	}
	return nil
}

// Take returns and removes the pending flow for state. A state is only good
// for a single callback.
func (r *flowStateRepo) Take(state string) (*flowState, bool) {
	if state == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fs, ok := r.states[state]
	if !ok {
		return nil, false
	}
	delete(r.states, state)
	return fs, true
}

// Prune drops pending flows older than maxAge and returns how many were
// removed.
func (r *flowStateRepo) Prune(maxAge time.Duration, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for state, fs := range r.states {
		if now.Sub(fs.CreatedAt) > maxAge {
			delete(r.states, state)
			removed++
		}
	}
	return removed
}
