// Package sessionwatch keeps the UI-visible session flags aligned with the
// identity provider's account cache. Flags are always derived fresh from the
// broker, never persisted, and never touch the session store.
package sessionwatch

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tallerpinturas/go-gallery-gateway/broker"
)

// Flags is the derived session state the UI layer reads.
type Flags struct {
	Authenticated bool   `json:"authenticated"`
	DisplayName   string `json:"display_name"`

	// Loading tracks route transitions only, never session state.
	Loading bool `json:"loading"`
}

// RouteEvent signals an application route transition.
type RouteEvent int

const (
	RouteStart RouteEvent = iota
	RouteEnd
	RouteCancel
	RouteError
)

// State tracks watcher lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateWatching
	StateStopped
)

// Watcher subscribes to the broker's lifecycle events and the application's
// route transitions, re-deriving Flags on every relevant signal.
type Watcher struct {
	broker broker.Broker
	routes <-chan RouteEvent
	log    zerolog.Logger

	mu    sync.RWMutex
	state State
	flags Flags

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Watcher and brings it to Watching: broker initialization
// is attempted once, with the already-initialized condition treated as a
// successful transition. The first revalidation runs before New returns, so
// callers immediately see correct flags on application start.
func New(ctx context.Context, b broker.Broker, routes <-chan RouteEvent, log zerolog.Logger) (*Watcher, error) {
	if b == nil {
		return nil, errors.New("[sessionwatch.New] broker is required")
	}

	w := &Watcher{
		broker: b,
		routes: routes,
		log:    log,
		state:  StateInitializing,
		done:   make(chan struct{}),
	}

	if err := b.Initialize(ctx); err != nil && !errors.Is(err, broker.AlreadyInitialisedErr) {
		w.setState(StateUninitialized)
		return nil, errors.Wrap(err, "[sessionwatch.New] broker initialise")
	}
	w.setState(StateWatching)

	w.Revalidate()

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Revalidate re-derives the flags from the broker's current account cache.
// Idempotent; its only side effects are the broker's active-account pointer
// and the watcher's own flags.
func (w *Watcher) Revalidate() {
	accounts := w.broker.Accounts()

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(accounts) == 0 {
		w.flags.Authenticated = false
		w.flags.DisplayName = ""
		return
	}

	first := accounts[0]
	w.broker.SetActiveAccount(first.ExternalID)
	w.flags.Authenticated = true
	w.flags.DisplayName = displayName(first)
}

// Flags returns the current derived session flags.
func (w *Watcher) Flags() Flags {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.flags
}

// State returns the watcher lifecycle state.
func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Close tears the watcher down: both subscriptions are cancelled and no
// callback runs after Close returns.
func (w *Watcher) Close() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	w.setState(StateStopped)
}

func (w *Watcher) run() {
	defer w.wg.Done()

	events := w.broker.Events()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Type == broker.EventLoginSuccess || ev.Type == broker.EventTokenRefresh {
				w.log.Debug().Str("event", string(ev.Type)).Msg("broker event, revalidating")
				w.Revalidate()
			}
		case re, ok := <-w.routes:
			if !ok {
				w.routes = nil
				continue
			}
			w.setLoading(re == RouteStart)
		}
	}
}

func (w *Watcher) setLoading(loading bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flags.Loading = loading
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

func displayName(a broker.Account) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Username
}
