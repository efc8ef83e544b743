package filing

import (
	"sort"
	"sync"

	"github.com/finfiles/finfiles/pkg/models"
)

// Store is the in-memory filing index. It exclusively owns the canonical
// records; queries return copies, never aliases into the index.
//
// The accession_id index is the one resource mutated by concurrent
// fetcher workers. The check-and-insert in Admit runs under a single
// mutex, so two concurrent admissions of the same id can never both
// insert.
type Store struct {
	mu   sync.RWMutex
	byID map[string]models.Filing
	seq  uint64 // admission sequence, monotonically increasing
}

// NewStore creates an empty filing store.
func NewStore() *Store {
	return &Store{byID: make(map[string]models.Filing)}
}

// Admit atomically checks the accession id and inserts the record if it
// is new. It returns the admission sequence number and whether the record
// was admitted; a duplicate is an expected outcome, not an error, and
// leaves the store unchanged.
func (s *Store) Admit(f models.Filing) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[f.AccessionID]; exists {
		return 0, false
	}
	s.seq++
	s.byID[f.AccessionID] = f
	return s.seq, true
}

// Insert is an idempotent insert: a second insert with the same accession
// id is a no-op.
func (s *Store) Insert(f models.Filing) {
	s.Admit(f)
}

// Get returns a filing by accession id.
func (s *Store) Get(accessionID string) (models.Filing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byID[accessionID]
	return f, ok
}

// Len returns the number of stored filings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Query returns filings matching the spec, ordered by filed_date
// descending with accession_id ascending as the deterministic tie-break.
// The result is a consistent snapshot: concurrent inserts are observed in
// full or not at all, and never block the read.
func (s *Store) Query(spec FilterSpec) []models.Filing {
	s.mu.RLock()
	out := make([]models.Filing, 0, len(s.byID))
	for _, f := range s.byID {
		if Matches(f, spec) {
			out = append(out, f)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiledDate.Equal(out[j].FiledDate) {
			return out[i].FiledDate.After(out[j].FiledDate)
		}
		return out[i].AccessionID < out[j].AccessionID
	})
	return out
}
