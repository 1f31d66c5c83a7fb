package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/pkg/errors"
	"github.com/charlesng35/opsdash/pkg/logger"
	"github.com/charlesng35/opsdash/pkg/response"
)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// memoryRateStore provides process-local rate limiting. It is concurrency-safe.
type memoryRateStore struct {
	mu    sync.Mutex
	data  map[string]*memoryCounter
	clock func() time.Time
}

type memoryCounter struct {
	count     int
	windowEnd time.Time
}

// NewMemoryRateStore constructs an in-memory rate store. Expired counters are swept every
// sweep interval until ctx is done.
func NewMemoryRateStore(ctx context.Context, sweep time.Duration) RateStore {
	store := &memoryRateStore{
		data:  make(map[string]*memoryCounter),
		clock: time.Now,
	}
	if sweep <= 0 {
		sweep = time.Minute
	}

	go store.cleanupLoop(ctx, sweep)
	return store
}

func (s *memoryRateStore) cleanupLoop(ctx context.Context, sweep time.Duration) {
	tick := time.NewTicker(sweep)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		now := s.clock()
		s.mu.Lock()
		for key, counter := range s.data {
			if now.After(counter.windowEnd) {
				delete(s.data, key)
			}
		}
		s.mu.Unlock()
	}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.data[key]
	if !ok || now.After(counter.windowEnd) {
		counter = &memoryCounter{windowEnd: now.Add(window)}
		s.data[key] = counter
	}

	counter.count++

	return counter.count, counter.windowEnd.Sub(now), nil
}

// RateLimit limits requests per (clientIP, route) within a fixed window using store.
// A store error lets the request through.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP() + "|" + c.FullPath()
		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			logger.WithModule("ratelimit").Warn("rate store unavailable", zap.Error(err))
			c.Next()
			return
		}

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > maxRequests {
			c.Header("Retry-After", strconv.Itoa(int(ttl.Seconds())+1))
			response.Abort(c, errors.ErrRateLimit)
			return
		}

		c.Next()
	}
}
