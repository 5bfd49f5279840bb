package vectorstore

import (
	"sync"
	"time"
)

// sequence hands out strictly increasing ids for backends that have no
// autoincrement. Wall-clock based so ids keep growing across restarts.
type sequence struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newSequence() *sequence {
	return &sequence{now: time.Now}
}

func (s *sequence) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now().UnixNano()
	if n <= s.last {
		n = s.last + 1
	}
	s.last = n
	return n
}
