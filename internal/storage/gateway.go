package storage

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/liftlog/internal/kv"
)

// Config holds gateway tuning knobs. Zero values fall back to defaults.
type Config struct {
	Timeout       time.Duration // per-attempt timeout
	MaxRetries    int           // total attempts
	BaseDelay     time.Duration // first backoff delay
	MaxDelay      time.Duration // backoff cap
	BackoffFactor float64
	Compressor    Compressor
}

// DefaultConfig returns the standard gateway tuning.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		MaxRetries:    3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
		Compressor:    NopCompressor{},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.Compressor == nil {
		c.Compressor = def.Compressor
	}
	return c
}

// Gateway wraps a kv.Store with per-attempt timeouts, classified
// retries with exponential backoff, and an owned metrics sink. It is
// the only component allowed to touch the store.
type Gateway struct {
	store   kv.Store
	cfg     Config
	metrics *Metrics

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New creates a gateway over store.
func New(store kv.Store, cfg Config) *Gateway {
	return &Gateway{
		store:    store,
		cfg:      cfg.withDefaults(),
		metrics:  NewMetrics(),
		inflight: make(map[string]struct{}),
	}
}

// Store exposes the underlying kv store to the gateway's own read/write
// helpers. Repositories must not call it directly.
func (g *Gateway) Store() kv.Store {
	return g.store
}

// Metrics returns the gateway's metrics sink.
func (g *Gateway) Metrics() *Metrics {
	return g.metrics
}

// Execute runs fn under the gateway's retry policy. The operation races
// a per-attempt timeout; retryable failures are re-attempted with
// exponential backoff plus up to 10% jitter. Exhausted retries surface
// as a single *StorageError. A second call with the same op/key while
// the first is still running is rejected with ErrInFlight. Cancelling
// ctx aborts the loop, including mid-backoff.
func Execute[T any](ctx context.Context, g *Gateway, op, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	token := op
	if key != "" {
		token = op + ":" + key
	}
	if !g.acquire(token) {
		return zero, ErrInFlight
	}
	defer g.release(token)

	g.metrics.RecordOperation(ctx)
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			g.metrics.RecordRetry(ctx)
			delay := g.backoff(attempt - 1)
			log.Debug().Str("op", op).Str("key", key).Int("attempt", attempt).
				Dur("delay", delay).Msg("Retrying storage operation")
			if err := sleepContext(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		result, err := runAttempt(ctx, g, fn)
		if err == nil {
			g.metrics.RecordSuccess(ctx, time.Since(start))
			return result, nil
		}
		lastErr = err
		if !Classify(err).Retryable() {
			break
		}
	}

	g.metrics.RecordFailure(ctx, time.Since(start))
	storageErr := &StorageError{Op: op, Key: key, Kind: Classify(lastErr), Err: lastErr}
	log.Warn().Err(storageErr).Str("op", op).Str("key", key).
		Bool("retryable", storageErr.Retryable()).Msg("Storage operation failed")
	return zero, storageErr
}

// runAttempt races fn against the per-attempt timeout. Whichever
// settles first wins; a timeout surfaces as a distinct retryable kind.
func runAttempt[T any](ctx context.Context, g *Gateway, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn(attemptCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, Tag(KindCancelled, ctx.Err())
		}
		return zero, Tagf(KindTimeout, "operation timed out after %s", g.cfg.Timeout)
	}
}

// backoff returns min(base*factor^n, max) plus up to 10% random jitter.
func (g *Gateway) backoff(n int) time.Duration {
	delay := time.Duration(float64(g.cfg.BaseDelay) * math.Pow(g.cfg.BackoffFactor, float64(n)))
	if delay > g.cfg.MaxDelay {
		delay = g.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}

func (g *Gateway) acquire(token string) bool {
	g.inflightMu.Lock()
	defer g.inflightMu.Unlock()
	if _, busy := g.inflight[token]; busy {
		return false
	}
	g.inflight[token] = struct{}{}
	return true
}

func (g *Gateway) release(token string) {
	g.inflightMu.Lock()
	defer g.inflightMu.Unlock()
	delete(g.inflight, token)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return Tag(KindCancelled, ctx.Err())
	}
}
