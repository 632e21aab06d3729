package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliabilityConfig параметры обёртки над Transport
type ReliabilityConfig struct {
	Name          string
	RatePerSecond float64
	RateBurst     int
	Attempts      uint
	SendTimeout   time.Duration
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CBMaxFailures uint32
}

// ReliableTransport: rate limiter -> circuit breaker -> retry с учётом Retry-After
type ReliableTransport struct {
	next     Transport
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	timeout  time.Duration
}

func NewReliableTransport(next Transport, cfg ReliabilityConfig, metrics *Metrics) *ReliableTransport {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if cfg.Name == "" {
		cfg.Name = "channel-gateway"
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.CBMaxFailures == 0 {
		cfg.CBMaxFailures = 5
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	maxFailures := cfg.CBMaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > maxFailures
		},
		// Постоянные ошибки адресата: не признак деградации шлюза
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &ReliableTransport{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(limit, burst),
		attempts: cfg.Attempts,
		timeout:  cfg.SendTimeout,
	}
}

// ErrCircuitOpen: шлюз выбит, попытка не делалась
var ErrCircuitOpen = errors.New("outbox: transport circuit is open")

func (w *ReliableTransport) Send(ctx context.Context, msg Message) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.RetryIf(func(err error) bool { return !IsPermanent(err) }),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Шлюз сам сказал, сколько ждать
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()
			return w.next.Send(tCtx, msg)
		})
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}
