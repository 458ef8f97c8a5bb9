package telemetry

import "sync"

type exposureKey struct {
	identity string
	subject  string
}

// exposureSet remembers which (identity, subject) pairs were already exposed
// in each session, along with the value that was shown.
type exposureSet struct {
	mu       sync.Mutex
	sessions map[string]map[exposureKey]any
}

func newExposureSet() *exposureSet {
	return &exposureSet{sessions: make(map[string]map[exposureKey]any)}
}

// add records the pair and reports whether it was new.
func (s *exposureSet) add(session, identity, subject string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, ok := s.sessions[session]
	if !ok {
		seen = make(map[exposureKey]any)
		s.sessions[session] = seen
	}
	k := exposureKey{identity: identity, subject: subject}
	if _, dup := seen[k]; dup {
		return false
	}
	seen[k] = value
	return true
}

// remove forgets a pair, used when its exposure event could not be queued.
func (s *exposureSet) remove(session, identity, subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seen, ok := s.sessions[session]; ok {
		delete(seen, exposureKey{identity: identity, subject: subject})
	}
}

// exposed returns the value last exposed for the pair.
func (s *exposureSet) exposed(session, identity, subject string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sessions[session][exposureKey{identity: identity, subject: subject}]
	return v, ok
}

func (s *exposureSet) clear(session string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.sessions[session])
	delete(s.sessions, session)
	return n
}

func (s *exposureSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, seen := range s.sessions {
		n += len(seen)
	}
	return n
}
