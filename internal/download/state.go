// Package download coordinates the cache-download lifecycle of resolved
// sources: it starts transfers through the byte-fetcher, polls them to a
// terminal state, and merges the fetcher's event streams into one
// per-resource progress view.
package download

import (
	"sync"
	"time"
)

// State is the per-resource download state.
type State string

const (
	StateIdle        State = "idle"
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateReady       State = "ready"
	StateCompleted   State = "completed"
	StateError       State = "error"
)

// Terminal reports whether a state ends the download attempt.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// Record is the plain per-resource state record. All mutation goes through
// the explicit transition functions on recordStore; consumers only ever see
// copies.
type Record struct {
	ResourceID string
	SourceKey  string
	State      State
	Bytes      int64
	Total      int64
	Err        string
	UpdatedAt  time.Time
}

// Percent returns progress as 0..100, or 0 when the total is unknown.
func (r *Record) Percent() float64 {
	if r.Total <= 0 {
		return 0
	}
	p := float64(r.Bytes) / float64(r.Total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// recordStore holds the per-resource records behind a lock.
type recordStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func newRecordStore() *recordStore {
	return &recordStore{records: make(map[string]*Record)}
}

// transition applies fn to the record for resourceID, creating it first if
// needed, and returns a copy of the result.
func (s *recordStore) transition(resourceID, sourceKey string, fn func(*Record)) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[resourceID]
	if !ok {
		r = &Record{ResourceID: resourceID, SourceKey: sourceKey, State: StateIdle}
		s.records[resourceID] = r
	}
	if sourceKey != "" {
		r.SourceKey = sourceKey
	}
	fn(r)
	r.UpdatedAt = time.Now()
	return *r
}

// get returns a copy of the record for resourceID.
func (s *recordStore) get(resourceID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[resourceID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// remove drops the record for resourceID.
func (s *recordStore) remove(resourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, resourceID)
}

// snapshot returns copies of every record.
func (s *recordStore) snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	return out
}

// active counts records in non-terminal, non-idle states.
func (s *recordStore) active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.records {
		if r.State == StateQueued || r.State == StateDownloading || r.State == StateReady {
			n++
		}
	}
	return n
}
