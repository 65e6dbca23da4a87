// Package completion wraps a model backend behind complete(model, prompt) and
// owns the call policy: timeout, retries, circuit breaking and reply cleanup.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/cortexchat/internal/control"
	"github.com/stupiduntilnot/cortexchat/internal/model"
)

// ErrCircuitOpen is returned while the backend is being given a rest.
var ErrCircuitOpen = errors.New("completion backend circuit open")

// EmptyReply replaces a blank model response.
const EmptyReply = "(empty model response)"

// DefaultSlowThreshold marks a reply as slow.
const DefaultSlowThreshold = 10 * time.Second

// Reply is a trimmed completion plus call metadata.
type Reply struct {
	Text     string
	Model    string
	Latency  time.Duration
	Slow     bool
	Attempts int
}

// Options configures a Gateway. The zero value is one attempt, no deadline,
// no breaker, and DefaultSlowThreshold.
type Options struct {
	Policy        control.Policy
	SlowThreshold time.Duration
	Breaker       *control.CircuitBreaker
	Logger        *zap.Logger
}

// Gateway is safe for concurrent use when its provider is.
type Gateway struct {
	provider model.Provider
	policy   control.Policy
	slow     time.Duration
	breaker  *control.CircuitBreaker
	log      *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(provider model.Provider, opts Options) *Gateway {
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = DefaultSlowThreshold
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Gateway{
		provider: provider,
		policy:   opts.Policy,
		slow:     opts.SlowThreshold,
		breaker:  opts.Breaker,
		log:      opts.Logger,
		now:      time.Now,
		sleep:    control.Sleep,
	}
}

// Complete sends prompt to modelID and blocks until a reply or a final error.
func (g *Gateway) Complete(ctx context.Context, modelID, prompt string) (Reply, error) {
	if _, err := model.Lookup(modelID); err != nil {
		return Reply{}, err
	}

	start := g.now()
	attempts := 0
	for {
		if g.breaker != nil && !g.breaker.Allow(g.now()) {
			return Reply{}, ErrCircuitOpen
		}
		attempts++
		text, err := g.call(ctx, modelID, prompt)
		if err == nil {
			if g.breaker != nil {
				g.breaker.RecordSuccess()
			}
			return g.reply(modelID, text, start, attempts), nil
		}

		if g.breaker != nil && g.breaker.RecordFailure(g.now()) {
			g.log.Warn("completion circuit opened", zap.String("model", modelID), zap.Error(err))
		}
		if !control.ShouldRetry(g.policy, attempts, err) {
			return Reply{}, fmt.Errorf("complete with %s after %d attempt(s): %w", modelID, attempts, err)
		}
		backoff := control.RetryBackoff(attempts)
		g.log.Info("completion retry scheduled",
			zap.String("model", modelID),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := g.sleep(ctx, backoff); err != nil {
			return Reply{}, err
		}
	}
}

func (g *Gateway) call(ctx context.Context, modelID, prompt string) (string, error) {
	if g.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.policy.Timeout)
		defer cancel()
	}
	return g.provider.Complete(ctx, modelID, prompt)
}

func (g *Gateway) reply(modelID, raw string, start time.Time, attempts int) Reply {
	latency := g.now().Sub(start)
	text := strings.TrimSpace(raw)
	if text == "" {
		text = EmptyReply
	}
	r := Reply{
		Text:     text,
		Model:    modelID,
		Latency:  latency,
		Slow:     latency > g.slow,
		Attempts: attempts,
	}
	if r.Slow {
		g.log.Info("slow completion", zap.String("model", modelID), zap.Int64("latency_ms", latency.Milliseconds()))
	}
	return r
}
