package ocr

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/voterroll-worker/internal/logging"
)

// GuardConfig bounds every recognition call.
type GuardConfig struct {
	Timeout        time.Duration // per attempt
	MaxRetries     int           // extra attempts for transient errors
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Guard wraps an engine with a per-call timeout and retry with exponential
// backoff for transient failures.
type Guard struct {
	engine Engine
	cfg    GuardConfig
	logger *logging.Logger
}

// NewGuard wraps engine. Zero backoff values fall back to 1s initial and
// 10s maximum.
func NewGuard(engine Engine, cfg GuardConfig) *Guard {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	return &Guard{
		engine: engine,
		cfg:    cfg,
		logger: logging.NewLogger("OCRGuard"),
	}
}

func (g *Guard) Name() string { return g.engine.Name() }

// Recognize calls the wrapped engine until it succeeds, fails permanently,
// runs out of attempts or ctx is done.
func (g *Guard) Recognize(ctx context.Context, in Input) (*Result, error) {
	attempts := g.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := g.once(ctx, in)
		if err == nil {
			return res, nil
		}
		lastErr = err

		// The caller's deadline is not a transient engine condition.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTransient(err) || attempt == attempts {
			break
		}

		backoff := g.backoff(attempt)
		g.logger.Warn("OCR attempt failed, retrying",
			"cell", in.ID, "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
		}
	}

	return nil, lastErr
}

func (g *Guard) once(ctx context.Context, in Input) (*Result, error) {
	if g.cfg.Timeout <= 0 {
		return g.engine.Recognize(ctx, in)
	}
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	return g.engine.Recognize(callCtx, in)
}

func (g *Guard) backoff(attempt int) time.Duration {
	d := g.cfg.InitialBackoff << (attempt - 1)
	if d <= 0 || d > g.cfg.MaxBackoff {
		d = g.cfg.MaxBackoff
	}
	return d
}
