package client

import (
	"container/list"
	"sync"
)

// lruSet is a fixed-capacity set of message ids with least-recently-used
// eviction. Both dedup sets (sent and received ids) use it; eviction is
// an explicit overflow rule, not a side effect of iteration order.
type lruSet struct {
	mu    sync.Mutex
	max   int
	order *list.List // front = most recent
	index map[string]*list.Element
}

func newLRUSet(max int) *lruSet {
	if max <= 0 {
		max = 200
	}
	return &lruSet{
		max:   max,
		order: list.New(),
		index: make(map[string]*list.Element, max),
	}
}

// Insert records id as most recently used, evicting the oldest entry on
// overflow.
func (s *lruSet) Insert(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.index[id]; ok {
		s.order.MoveToFront(el)
		return
	}
	s.index[id] = s.order.PushFront(id)
	if s.order.Len() > s.max {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
}

// Contains reports membership and refreshes the entry's recency.
func (s *lruSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.index[id]
	if ok {
		s.order.MoveToFront(el)
	}
	return ok
}

func (s *lruSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
