package state

import "github.com/loykin/apptrack/internal/metrics"

// Middleware runs after an action has been reduced, outside the store lock.
// Returned actions are queued behind the current one in the same Dispatch.
type Middleware func(s *Store, a Action) []Action

// maxChain bounds how many actions one Dispatch call may apply.
const maxChain = 64

// Use appends middleware to the chain.
func (s *Store) Use(mw ...Middleware) {
	s.mwMu.Lock()
	s.middleware = append(s.middleware, mw...)
	s.mwMu.Unlock()
}

// Dispatch applies a and every follow-up action it produces, in order.
//
// Each action takes the lock fresh, so middleware may call Dispatch itself
// without deadlocking. Dispatch is safe for concurrent use; the lock makes
// each reduction atomic but does not order actions from different callers.
func (s *Store) Dispatch(a Action) {
	queue := []Action{a}
	for n := 0; len(queue) > 0; n++ {
		if n >= maxChain {
			s.log.Error("Dropping follow-up actions; chain too long", "root", a.Kind(), "dropped", len(queue))
			return
		}
		act := queue[0]
		queue = queue[1:]

		reduced := act
		if p, ok := act.(preparer); ok {
			reduced = p.prepare(s)
		}
		s.mu.Lock()
		s.reduce(reduced)
		s.mu.Unlock()
		metrics.IncAction(act.Kind())

		s.mwMu.RLock()
		mws := s.middleware
		s.mwMu.RUnlock()
		for _, mw := range mws {
			queue = append(queue, mw(s, act)...)
		}
	}
}
