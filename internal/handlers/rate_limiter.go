package handlers

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const staffLimiterIdle = 10 * time.Minute

type rateLimiter interface {
	// Allow reports whether staffID may mutate now, and otherwise how long to wait.
	Allow(staffID string) (bool, time.Duration)
}

// staffRateLimiter gives every staff member a token bucket of limit tokens refilled over window.
type staffRateLimiter struct {
	every rate.Limit
	burst int
	clock func() time.Time

	mu        sync.Mutex
	buckets   map[string]*staffBucket
	lastSwept time.Time
}

type staffBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newStaffRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &staffRateLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		clock:   clock,
		buckets: make(map[string]*staffBucket),
	}
}

func (l *staffRateLimiter) Allow(staffID string) (bool, time.Duration) {
	staffID = strings.TrimSpace(staffID)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[staffID]
	if !ok {
		bucket = &staffBucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[staffID] = bucket
	}
	bucket.lastSeen = now
	l.sweepLocked(now)

	reservation := bucket.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// sweepLocked drops buckets of staff who have been idle long enough for their bucket to be full again.
func (l *staffRateLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSwept) < staffLimiterIdle {
		return
	}
	l.lastSwept = now
	for id, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= staffLimiterIdle {
			delete(l.buckets, id)
		}
	}
}
