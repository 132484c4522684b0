package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedSenders bounds the limiter map; beyond it the map is cleared
// rather than evicted piecemeal.
const maxTrackedSenders = 10000

// senderLimiter applies a per-sender token bucket to inbound updates so a
// single flooding user cannot fill the queue.
type senderLimiter struct {
	mu       sync.RWMutex
	limiters map[int64]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newSenderLimiter(perMinute, burst int) *senderLimiter {
	return &senderLimiter{
		limiters: make(map[int64]*rate.Limiter),
		rps:      rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

// Allow reports whether the sender may submit another update now.
func (s *senderLimiter) Allow(senderID int64) bool {
	return s.limiter(senderID).Allow()
}

func (s *senderLimiter) limiter(senderID int64) *rate.Limiter {
	s.mu.RLock()
	l, ok := s.limiters[senderID]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[senderID]; ok {
		return l
	}

	if len(s.limiters) > maxTrackedSenders {
		s.limiters = make(map[int64]*rate.Limiter)
	}

	l = rate.NewLimiter(s.rps, s.burst)
	s.limiters[senderID] = l
	return l
}
