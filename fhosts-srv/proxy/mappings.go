package proxy

import "sync"

// Store is the hostname substitution table. It is the only mutable state
// shared between the control loop and concurrent request handlers.
type Store struct {
	mu    sync.RWMutex
	table map[string]string
}

// NewStore creates an empty mapping store.
func NewStore() *Store {
	return &Store{table: make(map[string]string)}
}

// Replace atomically swaps the entire table. The new set is authoritative;
// there are no incremental diff semantics. Concurrent lookups observe
// either the old or the new table, never a mix.
func (s *Store) Replace(mappings map[string]string) {
	table := make(map[string]string, len(mappings))
	for hostname, target := range mappings {
		table[hostname] = target
	}

	s.mu.Lock()
	s.table = table
	s.mu.Unlock()
}

// Lookup returns the substitution target for hostname, or hostname itself
// when no mapping exists. No mapping is not an error.
func (s *Store) Lookup(hostname string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if target, ok := s.table[hostname]; ok {
		return target
	}
	return hostname
}

// Len returns the number of mappings currently installed.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}

// Snapshot returns a copy of the current table.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.table))
	for hostname, target := range s.table {
		out[hostname] = target
	}
	return out
}
