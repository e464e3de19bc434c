// Package conversation keeps the single pending clarification per user.
package conversation

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Exchange is the user's message and the clarifying question asked about it.
type Exchange struct {
	UserMessage string    `json:"user_message"`
	Question    string    `json:"question"`
	AskedAt     time.Time `json:"asked_at"`
}

// Store holds at most one Exchange per user. Entries expire after ttl and
// the least recently used user is evicted beyond capacity.
type Store struct {
	cache *expirable.LRU[string, Exchange]
}

func NewStore(capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{cache: expirable.NewLRU[string, Exchange](capacity, nil, ttl)}
}

func (s *Store) Get(userID string) (Exchange, bool) {
	return s.cache.Get(userID)
}

// Put replaces any earlier exchange for the user.
func (s *Store) Put(userID string, ex Exchange) {
	s.cache.Add(userID, ex)
}

func (s *Store) Clear(userID string) {
	s.cache.Remove(userID)
}

func (s *Store) Len() int {
	return s.cache.Len()
}
