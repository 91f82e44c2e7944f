package session

import "sync"

// Session wraps State with a mutex so it stays safe standalone. The desk
// core serializes compound mutations on top of this.
type Session struct {
	mu sync.RWMutex
	st State
}

func New() *Session {
	return &Session{}
}

func (s *Session) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

func (s *Session) Set(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = st.normalize()
}

// Apply mutates the state in place under the lock, then normalizes.
func (s *Session) Apply(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
	s.st = s.st.normalize()
}

// Clear resets every field, not just the connected flag.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = State{}
}
