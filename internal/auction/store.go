package auction

import "sync"

// Store is the in-memory cache of active auction records, keyed by auction id
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Get returns the record for an auction id, nil when unknown
func (s *Store) Get(auctionID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[auctionID]
}

// Put inserts a record, replacing any existing one with the same auction id
func (s *Store) Put(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.AuctionID] = rec
}

// Remove evicts the record for an auction id
func (s *Store) Remove(auctionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, auctionID)
}

// Len reports the number of cached records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear drops every cached record
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*Record)
}
