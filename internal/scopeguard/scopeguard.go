// Package scopeguard provides a defer-driven stand-in for the scoped
// acquisition/guaranteed-release idiom: a stack of cleanup functions that
// always runs on scope exit unless explicitly dismissed.
//
// Go has no destructors, so the transactional installer uses two of these
// guards via ordinary defer: one that always fires (the extracted temp-dir
// cleaner) and one that fires only on failure (the placed-file restorer),
// the latter dismissed right after the catalog transaction commits.
package scopeguard

import "sync"

// Guard accumulates cleanup actions and runs them, most-recently-pushed
// first, when Run is called — unless Dismiss was called first, in which
// case Run is a no-op. A zero Guard is ready to use.
type Guard struct {
	mu        sync.Mutex
	actions   []func()
	dismissed bool
}

// Push adds a cleanup action to the guard. Actions run in reverse order of
// Push, matching the usual defer-stack intuition.
func (g *Guard) Push(action func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = append(g.actions, action)
}

// Dismiss cancels the guard: a subsequent Run does nothing. Call this once
// the operation the guard was protecting has succeeded.
func (g *Guard) Dismiss() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dismissed = true
}

// Run executes every pushed action in reverse order, unless the guard has
// been dismissed. Intended to be called via defer at the top of the
// function that owns the guard.
func (g *Guard) Run() {
	g.mu.Lock()
	dismissed := g.dismissed
	actions := g.actions
	g.mu.Unlock()

	if dismissed {
		return
	}
	for i := len(actions) - 1; i >= 0; i-- {
		actions[i]()
	}
}
