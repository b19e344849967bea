package admission

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrCapacityUnavailable is returned when the buckets stay empty for every
// permitted wait iteration.
var ErrCapacityUnavailable = errors.New("rate limit capacity unavailable")

// Buckets is the dual token bucket: tokens per minute and requests per
// minute. Both refill continuously and are capped at their per-minute burst.
type Buckets struct {
	mu                sync.Mutex
	tokens            *rate.Limiter
	requests          *rate.Limiter
	tokensPerMinute   int
	requestsPerMinute int
	minWait           time.Duration
	maxIterations     int
	now               func() time.Time
	sleep             func(context.Context, time.Duration) error
}

func NewBuckets(cfg Config) *Buckets {
	cfg = cfg.withDefaults()
	return &Buckets{
		tokens:            rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60), cfg.TokensPerMinute),
		requests:          rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), cfg.RequestsPerMinute),
		tokensPerMinute:   cfg.TokensPerMinute,
		requestsPerMinute: cfg.RequestsPerMinute,
		minWait:           cfg.MinWait,
		maxIterations:     cfg.MaxWaitIterations,
		now:               cfg.Now,
		sleep:             cfg.Sleep,
	}
}

// TryDebit takes estimatedTokens and one request slot when both buckets have
// room. Otherwise nothing is debited and the suggested wait is returned.
func (b *Buckets) TryDebit(estimatedTokens int) (bool, time.Duration) {
	estimatedTokens = b.clampTokens(estimatedTokens)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	availableTokens := b.tokens.TokensAt(now)
	availableRequests := b.requests.TokensAt(now)
	if availableTokens >= float64(estimatedTokens) && availableRequests >= 1 {
		b.tokens.AllowN(now, estimatedTokens)
		b.requests.AllowN(now, 1)
		return true, 0
	}

	tokensNeeded := math.Max(0, float64(estimatedTokens)-availableTokens)
	tokenWait := time.Duration(tokensNeeded / float64(b.tokens.Limit()) * float64(time.Second))
	requestWait := time.Duration(float64(time.Second) / float64(b.requests.Limit()))
	wait := tokenWait
	if requestWait > wait {
		wait = requestWait
	}
	if wait < b.minWait {
		wait = b.minWait
	}
	return false, wait
}

// WaitForCapacity blocks until both buckets admit the call, sleeping between
// checks. The loop is bounded by MaxWaitIterations.
func (b *Buckets) WaitForCapacity(ctx context.Context, estimatedTokens int) error {
	for attempt := 0; attempt < b.maxIterations; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, wait := b.TryDebit(estimatedTokens)
		if ok {
			return nil
		}
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return ErrCapacityUnavailable
}

// Remaining reports the fraction of each burst currently available, in percent.
func (b *Buckets) Remaining() (tokensPct float64, requestsPct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	tokensPct = clampPercent(b.tokens.TokensAt(now) / float64(b.tokensPerMinute) * 100)
	requestsPct = clampPercent(b.requests.TokensAt(now) / float64(b.requestsPerMinute) * 100)
	return tokensPct, requestsPct
}

// A single estimate larger than the whole burst could never be admitted.
func (b *Buckets) clampTokens(estimated int) int {
	if estimated < 1 {
		return 1
	}
	if estimated > b.tokensPerMinute {
		return b.tokensPerMinute
	}
	return estimated
}

func clampPercent(value float64) float64 {
	return math.Max(0, math.Min(100, value))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
