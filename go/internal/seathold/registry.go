package seathold

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry hands out views onto shared per-session controllers. Views of the
// same key see the same countdown; the controller stops when the last view
// unmounts.
type Registry struct {
	deps   Deps
	config Config

	mu      sync.Mutex
	entries map[Key]*registryEntry
	closed  bool
}

type registryEntry struct {
	ctrl *Controller
	refs int
}

func NewRegistry(deps Deps, config Config) *Registry {
	return &Registry{
		deps:    deps,
		config:  config,
		entries: make(map[Key]*registryEntry),
	}
}

// Mount attaches a view to the session and requests a mount-path sync.
func (r *Registry) Mount(key Key) (*View, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	entry, ok := r.entries[key]
	if !ok {
		ctrl := NewController(key, r.deps, r.config)
		ctrl.Start(context.Background())
		entry = &registryEntry{ctrl: ctrl}
		r.entries[key] = entry
		log.Debug().Str("session", key.String()).Msg("Started seat hold session")
	}
	entry.refs++
	r.mu.Unlock()

	entry.ctrl.Mount()
	return &View{registry: r, ctrl: entry.ctrl}, nil
}

// Sessions returns the number of live sessions.
func (r *Registry) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[Key]*registryEntry)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.ctrl.Close()
	}
}

func (r *Registry) release(ctrl *Controller) {
	r.mu.Lock()
	entry, ok := r.entries[ctrl.Key()]
	if !ok || entry.ctrl != ctrl {
		r.mu.Unlock()
		return
	}
	entry.refs--
	last := entry.refs <= 0
	if last {
		delete(r.entries, ctrl.Key())
	}
	r.mu.Unlock()

	if last {
		ctrl.Close()
		log.Debug().Str("session", ctrl.Key().String()).Msg("Stopped seat hold session")
	}
}

// View is one consumer's handle on a session.
type View struct {
	registry *Registry
	ctrl     *Controller

	mu         sync.Mutex
	lastSignal string
	hasSignal  bool
	expiry     func()
	cancels    []func()
	unmounted  bool
}

func (v *View) Key() Key {
	return v.ctrl.Key()
}

func (v *View) Snapshot() Snapshot {
	return v.ctrl.Snapshot()
}

// Remaining returns the seconds left and whether a countdown is shown.
func (v *View) Remaining() (int, bool) {
	return v.ctrl.Snapshot().Remaining()
}

// Display returns the MM:SS countdown and whether it is shown.
func (v *View) Display() (string, bool) {
	return v.ctrl.Snapshot().Display()
}

// TriggerResync requests a trigger-path sync.
func (v *View) TriggerResync() {
	v.ctrl.TriggerResync()
}

// SelectionChanged triggers a resync when signal differs from the last one
// seen by this view. The first signal only records the baseline.
func (v *View) SelectionChanged(signal string) {
	v.mu.Lock()
	changed := v.hasSignal && signal != v.lastSignal
	v.lastSignal = signal
	v.hasSignal = true
	v.mu.Unlock()

	if changed {
		v.ctrl.TriggerResync()
	}
}

// OnExpired sets the view's expiry callback, replacing any earlier one.
func (v *View) OnExpired(h ExpiredHandler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unmounted {
		return
	}
	if v.expiry != nil {
		v.expiry()
	}
	v.expiry = v.ctrl.OnExpired(h)
}

// Watch calls fn after every visible change until the view unmounts.
func (v *View) Watch(fn func(Snapshot)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unmounted {
		return
	}
	v.cancels = append(v.cancels, v.ctrl.Watch(fn))
}

// Unmount detaches the view. It is idempotent.
func (v *View) Unmount() {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.unmounted = true
	cancels := v.cancels
	v.cancels = nil
	if v.expiry != nil {
		cancels = append(cancels, v.expiry)
		v.expiry = nil
	}
	v.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	v.registry.release(v.ctrl)
}
