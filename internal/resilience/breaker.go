package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen reports that too many recent errors have been observed and
// new attempts are blocked until the window decays.
var ErrCircuitOpen = errors.New("too many recent errors")

type BreakerConfig struct {
	Name      string
	Threshold int
	Window    time.Duration
}

type BreakerStatus struct {
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	Threshold           int    `json:"threshold"`
}

// Breaker is the process-wide error boundary in front of gateway calls. It
// opens once Threshold failures land within Window and stays open for Window.
type Breaker struct {
	mu     sync.RWMutex
	cb     *gobreaker.CircuitBreaker
	cfg    BreakerConfig
	logger *zap.Logger
}

func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "llm-providers"
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{cfg: cfg, logger: logger}
	b.cb = b.newCircuitBreaker()
	return b
}

func (b *Breaker) newCircuitBreaker() *gobreaker.CircuitBreaker {
	threshold := uint32(b.cfg.Threshold)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        b.cfg.Name,
		MaxRequests: 1,
		Interval:    b.cfg.Window,
		Timeout:     b.cfg.Window,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// Execute runs fn through the breaker. A rejected call returns an error
// wrapping ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.RLock()
	cb := b.cb
	b.mu.RUnlock()

	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (b *Breaker) ShouldBlock() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb.State() == gobreaker.StateOpen
}

func (b *Breaker) Status() BreakerStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counts := b.cb.Counts()
	return BreakerStatus{
		State:               b.cb.State().String(),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		Threshold:           b.cfg.Threshold,
	}
}

// Reset discards all failure history and closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cb = b.newCircuitBreaker()
	b.logger.Info("circuit breaker reset", zap.String("breaker", b.cfg.Name))
}
