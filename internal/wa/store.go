package wa

import "sync"

// Store is the in-memory reconciliation store: the current Status of every
// session id plus a change signal per id. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*storeEntry
}

type storeEntry struct {
	status  Status
	changed chan struct{}
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*storeEntry)}
}

func (s *Store) entry(id string) *storeEntry {
	e, ok := s.entries[id]
	if !ok {
		e = &storeEntry{changed: make(chan struct{})}
		s.entries[id] = e
	}
	return e
}

// Get returns the status for id. Unknown ids are PhaseUnstarted.
func (s *Store) Get(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.status
	}
	return Status{}
}

// Apply replaces the status for id with fn(current) and wakes waiters when
// the status changed.
func (s *Store) Apply(id string, fn func(Status) Status) (prev, next Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(id)
	prev = e.status
	next = fn(prev)
	e.status = next
	if next != prev {
		close(e.changed)
		e.changed = make(chan struct{})
	}
	return prev, next
}

// Reset forgets id and wakes its waiters.
func (s *Store) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		close(e.changed)
		delete(s.entries, id)
	}
}

// Changed returns a channel closed on the next change to id. Callers must
// fetch it before reading the status they are waiting on.
func (s *Store) Changed(id string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(id).changed
}

// Snapshot copies every started session's status.
func (s *Store) Snapshot() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.entries))
	for id, e := range s.entries {
		if e.status.Phase != PhaseUnstarted {
			out[id] = e.status
		}
	}
	return out
}
