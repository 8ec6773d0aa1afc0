package pipeline

import (
	"context"
	"sort"
	"sync"

	"holo/internal/stage"
)

// Registry maps stages to runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[StageName]Runner
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[StageName]Runner)}
}

// Register sets the runner for stage, replacing any previous one.
func (r *Registry) Register(name StageName, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[name] = runner
}

// Lookup returns the runner for stage.
func (r *Registry) Lookup(name StageName) (Runner, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[name]
	return runner, ok
}

// Stages lists the registered stage names in sorted order.
func (r *Registry) Stages() []StageName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// Health queries every distinct runner that implements HealthChecker.
func (r *Registry) Health(ctx context.Context) []stage.Health {
	r.mu.RLock()
	seen := make(map[HealthChecker]struct{})
	var checkers []HealthChecker
	for _, name := range r.sortedLocked() {
		hc, ok := r.runners[name].(HealthChecker)
		if !ok {
			continue
		}
		if _, dup := seen[hc]; dup {
			continue
		}
		seen[hc] = struct{}{}
		checkers = append(checkers, hc)
	}
	r.mu.RUnlock()

	out := make([]stage.Health, 0, len(checkers))
	for _, hc := range checkers {
		out = append(out, hc.HealthCheck(ctx))
	}
	return out
}

func (r *Registry) sortedLocked() []StageName {
	names := make([]StageName, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
