package api

import "time"

// Pending returns the number of remembered queries.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// SetClock replaces the server clock.
func (s *Server) SetClock(now func() time.Time) { s.now = now }
