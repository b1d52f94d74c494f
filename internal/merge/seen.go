package merge

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCapacity = 500

// SeenIDs is a bounded set of message ids. When full, the id added first is
// evicted first.
type SeenIDs struct {
	cache *lru.Cache[string, struct{}]
}

func NewSeenIDs(capacity int) *SeenIDs {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// Only fails for a non-positive size.
	cache, _ := lru.New[string, struct{}](capacity)
	return &SeenIDs{cache: cache}
}

// Add records id and reports whether it was new. Existing ids are not
// touched, so eviction order stays insertion order.
func (s *SeenIDs) Add(id string) bool {
	if s.cache.Contains(id) {
		return false
	}
	s.cache.Add(id, struct{}{})
	return true
}

func (s *SeenIDs) Contains(id string) bool {
	return s.cache.Contains(id)
}

func (s *SeenIDs) Len() int {
	return s.cache.Len()
}

func (s *SeenIDs) Clear() {
	s.cache.Purge()
}
