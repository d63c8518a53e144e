package llm

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Middleware decorates a Client to inject cross-cutting concerns
// (rate limiting, retries, logging).
type Middleware func(Client) Client

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Client, mws ...Middleware) Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// -------- Retry with linear backoff --------

// SleepFunc pauses between attempts. Injectable so backoff timing is
// testable without real timers.
type SleepFunc func(d time.Duration)

// Retry retries GenerateJSON up to maxAttempts with linear backoff
// (delay = base * attempt). Permanent errors are not retried. A nil sleep
// uses time.Sleep.
func Retry(maxAttempts int, base time.Duration, sleep SleepFunc) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	return func(next Client) Client {
		return &retrying{next: next, max: maxAttempts, base: base, sleep: sleep}
	}
}

type retrying struct {
	next  Client
	max   int
	base  time.Duration
	sleep SleepFunc
}

func (r *retrying) Name() string { return r.next.Name() }
func (r *retrying) Close() error { return r.next.Close() }

func (r *retrying) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	var last error
	for i := 0; i < r.max; i++ {
		resp, err := r.next.GenerateJSON(ctx, prompt, input)
		if err == nil {
			return resp, nil
		}
		if IsPermanent(err) {
			return nil, err
		}
		last = err
		log.Printf("llm: attempt %d/%d failed on %s: %v", i+1, r.max, r.next.Name(), err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if i < r.max-1 {
			r.sleep(r.base * time.Duration(i+1))
		}
	}
	return nil, last
}

// -------- Rate limiting --------

// RateLimit throttles requests to at most rps per second with a burst
// capacity. rps <= 0 disables the limiter.
func RateLimit(rps float64, burst int) Middleware {
	return func(next Client) Client {
		return &rateLimited{next: next, rl: newRPSLimiter(rps, burst)}
	}
}

type rateLimited struct {
	next Client
	rl   *rpsLimiter
}

func (c *rateLimited) Name() string { return c.next.Name() }
func (c *rateLimited) Close() error {
	c.rl.Stop()
	return c.next.Close()
}

func (c *rateLimited) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}
	return c.next.GenerateJSON(ctx, prompt, input)
}

// -------- Logging --------

// WithLogging logs request size and errors. Provide a custom logger or nil
// to use log.Default().
func WithLogging(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next Client) Client {
		return &logging{next: next, log: logger}
	}
}

type logging struct {
	next Client
	log  *log.Logger
}

func (l *logging) Name() string { return l.next.Name() }
func (l *logging) Close() error { return l.next.Close() }

func (l *logging) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, _ := json.Marshal(input)
	l.log.Printf("LLM request (%s): %d bytes", l.next.Name(), len(prompt)+len(in))
	raw, err := l.next.GenerateJSON(ctx, prompt, input)
	if err != nil {
		l.log.Printf("LLM error (%s): %v", l.next.Name(), err)
	}
	return raw, err
}
