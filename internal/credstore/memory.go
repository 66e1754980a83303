package credstore

import (
	"sync"

	"github.com/cortexlake/cdl/internal/sdk"
)

// MemoryStore keeps profiles in process memory. Nothing is persisted.
type MemoryStore struct {
	mu  sync.Mutex
	all map[int]*sdk.Profile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{all: make(map[int]*sdk.Profile)}
}

// Init is a no-op.
func (s *MemoryStore) Init() error {
	return nil
}

func (s *MemoryStore) FetchCredential(field sdk.Field, profile string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, rec := find(s.all, profile); rec != nil {
		return rec.Get(field), nil
	}
	return "", nil
}

func (s *MemoryStore) WriteCredentials(snap sdk.Snapshot, profile string, cacheToken bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := find(s.all, profile)
	if id == 0 {
		id = nextID(s.all)
	}
	s.all[id] = sdk.NewProfile(profile, snap, cacheToken)
	return id, nil
}

func (s *MemoryStore) RemoveProfile(profile string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.all {
		if rec.Profile == profile {
			delete(s.all, id)
			removed++
		}
	}
	return removed, nil
}
