package security

import (
	"time"

	"golang.org/x/time/rate"
)

// Bucket is a per-connection token bucket guarding authenticated calls.
// It refills continuously at capacity/minute and allows bursts up to the
// full capacity. Each connection owns its own bucket and drains it from
// its serial request path.
type Bucket struct {
	lim *rate.Limiter
}

// NewBucket creates a bucket allowing perMinute requests per minute.
func NewBucket(perMinute int) *Bucket {
	return &Bucket{
		lim: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
}

// Take consumes one token. When the bucket is empty it consumes nothing
// and reports the wait until the next token becomes available.
func (b *Bucket) Take() (ok bool, retryAfter time.Duration) {
	r := b.lim.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}
