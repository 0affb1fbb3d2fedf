// Package procstate holds the two pieces of intentionally process-global
// state the agent needs, as one explicit value rather than package-level
// variables: the sidecar-disabled latch, and a per-directory singleton
// registry so multiple embeddable-client instances pointed at the same
// working directory share one processor.
package procstate

import (
	"sync"
	"sync/atomic"
)

// ProcessState is constructed once at program start (or once per test) and
// threaded through explicitly.
type ProcessState struct {
	sidecarDisabled atomic.Bool

	mu         sync.Mutex
	singletons map[string]any
	building   map[string]*sync.Mutex
}

// New returns an empty ProcessState.
func New() *ProcessState {
	return &ProcessState{
		singletons: make(map[string]any),
		building:   make(map[string]*sync.Mutex),
	}
}

// TripSidecarDisabled sets the sidecar latch. It is sticky: once tripped,
// nothing in this process clears it again.
func (p *ProcessState) TripSidecarDisabled() {
	p.sidecarDisabled.Store(true)
}

// SidecarDisabled reports whether the latch has been tripped.
func (p *ProcessState) SidecarDisabled() bool {
	return p.sidecarDisabled.Load()
}

// GetOrCreate returns the existing singleton registered under key, or calls
// construct to build one. construct runs outside the state's main mutex —
// only the per-key construction lock — so building one singleton never
// blocks lookups for unrelated keys.
func (p *ProcessState) GetOrCreate(key string, construct func() (any, error)) (any, error) {
	p.mu.Lock()
	if v, ok := p.singletons[key]; ok {
		p.mu.Unlock()
		return v, nil
	}
	lock, ok := p.building[key]
	if !ok {
		lock = &sync.Mutex{}
		p.building[key] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	p.mu.Lock()
	if v, ok := p.singletons[key]; ok {
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	v, err := construct()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.singletons[key] = v
	delete(p.building, key)
	p.mu.Unlock()

	return v, nil
}
