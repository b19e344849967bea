package admission

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const usageWindow = time.Minute

type Config struct {
	TokensPerMinute   int
	RequestsPerMinute int
	MaxConcurrent     int
	MinWait           time.Duration
	MaxWaitIterations int
	Now               func() time.Time
	Sleep             func(context.Context, time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.TokensPerMinute <= 0 {
		c.TokensPerMinute = 60000
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 30
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.MinWait <= 0 {
		c.MinWait = time.Second
	}
	if c.MaxWaitIterations <= 0 {
		c.MaxWaitIterations = 120
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

type Usage struct {
	TokensLastMinute       int     `json:"tokens_last_minute"`
	RequestsLastMinute     int     `json:"requests_last_minute"`
	TokenCapacityPercent   float64 `json:"token_capacity_percent"`
	RequestCapacityPercent float64 `json:"request_capacity_percent"`
	InFlight               int     `json:"in_flight"`
	Queued                 int     `json:"queued"`
	MaxConcurrent          int     `json:"max_concurrent"`
	TokensPerMinuteLimit   int     `json:"tokens_per_minute_limit"`
	RequestsPerMinuteLimit int     `json:"requests_per_minute_limit"`
}

type usageRecord struct {
	at     time.Time
	tokens int
}

// Controller gates provider calls: a FIFO queue slot first, then bucket
// capacity. Every admitted call is recorded in a rolling one-minute history.
type Controller struct {
	queue   *Queue
	buckets *Buckets
	cfg     Config
	logger  *zap.Logger

	mu      sync.Mutex
	history []usageRecord
}

func NewController(cfg Config, logger *zap.Logger) *Controller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		queue:   NewQueue(cfg.MaxConcurrent),
		buckets: NewBuckets(cfg),
		cfg:     cfg,
		logger:  logger,
	}
}

// Do runs fn once a queue slot and bucket capacity for estimatedTokens are
// available.
func (c *Controller) Do(ctx context.Context, estimatedTokens int, fn func(context.Context) error) error {
	return c.queue.Run(ctx, func(ctx context.Context) error {
		if ok, _ := c.buckets.TryDebit(estimatedTokens); !ok {
			c.logger.Debug("waiting for rate limit capacity", zap.Int("estimated_tokens", estimatedTokens))
			if err := c.buckets.WaitForCapacity(ctx, estimatedTokens); err != nil {
				return err
			}
		}
		c.record(estimatedTokens)
		return fn(ctx)
	})
}

func (c *Controller) WaitForCapacity(ctx context.Context, estimatedTokens int) error {
	if err := c.buckets.WaitForCapacity(ctx, estimatedTokens); err != nil {
		return err
	}
	c.record(estimatedTokens)
	return nil
}

func (c *Controller) Usage() Usage {
	c.mu.Lock()
	c.pruneLocked(c.cfg.Now())
	usage := Usage{RequestsLastMinute: len(c.history)}
	for _, record := range c.history {
		usage.TokensLastMinute += record.tokens
	}
	c.mu.Unlock()

	usage.TokenCapacityPercent, usage.RequestCapacityPercent = c.buckets.Remaining()
	usage.InFlight = c.queue.InFlight()
	usage.Queued = c.queue.Queued()
	usage.MaxConcurrent = c.queue.Limit()
	usage.TokensPerMinuteLimit = c.cfg.TokensPerMinute
	usage.RequestsPerMinuteLimit = c.cfg.RequestsPerMinute
	return usage
}

func (c *Controller) record(tokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.cfg.Now()
	c.pruneLocked(now)
	c.history = append(c.history, usageRecord{at: now, tokens: tokens})
}

func (c *Controller) pruneLocked(now time.Time) {
	cutoff := now.Add(-usageWindow)
	keep := 0
	for keep < len(c.history) && !c.history[keep].at.After(cutoff) {
		keep++
	}
	if keep > 0 {
		c.history = append(c.history[:0], c.history[keep:]...)
	}
}

// EstimateTokens approximates prompt size at four characters per token plus
// an allowance for the reply.
func EstimateTokens(prompt string) int {
	return len(prompt)/4 + 500
}
