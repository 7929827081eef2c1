package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/mizukami-io/reagent"
)

type entry struct {
	provider reagent.Provider
	priority int
	primary  bool
	breaker  *CircuitBreaker

	// streaming usage totals, for reporting only
	mu           sync.Mutex
	inputTokens  int64
	outputTokens int64
	totalLatency time.Duration
	streamCount  int64
}

// Router holds one primary provider and a priority-ordered list of backups
// (lower priority number tries earlier). If no provider is marked primary,
// the highest-priority backup is promoted. Implements reagent.ChatClient.
type Router struct {
	entries        []*entry
	breakerOptions []BreakerOption
	logger         *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithPrimary registers the primary provider.
func WithPrimary(p reagent.Provider) Option {
	return func(r *Router) {
		r.entries = append(r.entries, &entry{provider: p, primary: true})
	}
}

// WithBackup registers a backup provider. Lower priority numbers are tried
// earlier.
func WithBackup(p reagent.Provider, priority int) Option {
	return func(r *Router) {
		r.entries = append(r.entries, &entry{provider: p, priority: priority})
	}
}

// WithBreakerOptions applies the given options to every provider's breaker.
func WithBreakerOptions(options ...BreakerOption) Option {
	return func(r *Router) {
		r.breakerOptions = append(r.breakerOptions, options...)
	}
}

// WithLogger sets the logger. Default discards all records.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// New creates a router. Provider selection policy (priority order,
// promotion of a backup to primary) is fixed at construction; the breaker's
// failure policy stays independent of it.
func New(options ...Option) *Router {
	router := &Router{
		logger: slog.New(slog.DiscardHandler),
	}

	for _, opt := range options {
		opt(router)
	}

	// Primary first, then backups in priority order.
	sort.SliceStable(router.entries, func(i, j int) bool {
		a, b := router.entries[i], router.entries[j]
		if a.primary != b.primary {
			return a.primary
		}
		return a.priority < b.priority
	})

	// No declared primary: the highest-priority backup is promoted.
	if len(router.entries) > 0 && !router.entries[0].primary {
		router.entries[0].primary = true
	}

	for _, e := range router.entries {
		e.breaker = NewCircuitBreaker(e.provider.Name(), router.breakerOptions...)
	}

	return router
}

// candidates returns the entries eligible for a request attempt, preserving
// try-order. Breaker-open and unavailable providers are skipped here so the
// walk in Chat/ChatStream only deals with live failures.
func (r *Router) candidates() []*entry {
	eligible := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.provider.Available() {
			r.logger.Debug("provider unavailable, skipping", "provider", e.provider.Name())
			continue
		}
		if !e.breaker.CanExecute() {
			r.logger.Debug("circuit open, skipping", "provider", e.provider.Name())
			continue
		}
		eligible = append(eligible, e)
	}
	return eligible
}

// Chat asks the first healthy provider in try-order and fails over on any
// provider error, recording every outcome on the provider's breaker. The
// request fails only when every candidate is exhausted.
func (r *Router) Chat(ctx context.Context, req *reagent.ChatRequest) (*reagent.ChatResponse, error) {
	var lastErr error
	lastProvider := ""

	for _, e := range r.candidates() {
		name := e.provider.Name()
		lastProvider = name

		if err := e.provider.HealthCheck(ctx); err != nil {
			r.logger.Warn("health check failed", "provider", name, "error", err)
			e.breaker.RecordFailure()
			lastErr = err
			continue
		}

		resp, err := e.provider.Chat(ctx, req)
		if err != nil {
			r.logger.Warn("chat failed, trying next provider", "provider", name, "error", err)
			e.breaker.RecordFailure()
			lastErr = err
			continue
		}

		e.breaker.RecordSuccess()
		return resp, nil
	}

	return nil, goerr.Wrap(reagent.ErrNoProvider, "all providers exhausted",
		goerr.V("last_provider", lastProvider), goerr.V("last_error", lastErr))
}

// ChatStream is the streaming variant of Chat. The returned channel relays
// the chosen provider's deltas unaltered while the router accumulates usage
// and latency for reporting.
func (r *Router) ChatStream(ctx context.Context, req *reagent.ChatRequest) (<-chan reagent.Delta, error) {
	var lastErr error
	lastProvider := ""

	for _, e := range r.candidates() {
		name := e.provider.Name()
		lastProvider = name

		if err := e.provider.HealthCheck(ctx); err != nil {
			r.logger.Warn("health check failed", "provider", name, "error", err)
			e.breaker.RecordFailure()
			lastErr = err
			continue
		}

		stream, err := e.provider.ChatStream(ctx, req)
		if err != nil {
			r.logger.Warn("stream open failed, trying next provider", "provider", name, "error", err)
			e.breaker.RecordFailure()
			lastErr = err
			continue
		}

		return r.wrapStream(e, stream), nil
	}

	return nil, goerr.Wrap(reagent.ErrNoProvider, "all providers exhausted",
		goerr.V("last_provider", lastProvider), goerr.V("last_error", lastErr))
}

// wrapStream accumulates usage and latency without altering payloads, and
// records the stream's overall outcome on the breaker when it closes.
func (r *Router) wrapStream(e *entry, in <-chan reagent.Delta) <-chan reagent.Delta {
	out := make(chan reagent.Delta)
	started := time.Now()

	go func() {
		defer close(out)

		failed := false
		var inputTokens, outputTokens int

		for delta := range in {
			if delta.Err != nil {
				failed = true
			}
			inputTokens += delta.InputTokens
			outputTokens += delta.OutputTokens
			out <- delta
		}

		e.mu.Lock()
		e.inputTokens += int64(inputTokens)
		e.outputTokens += int64(outputTokens)
		e.totalLatency += time.Since(started)
		e.streamCount++
		e.mu.Unlock()

		if failed {
			e.breaker.RecordFailure()
		} else {
			e.breaker.RecordSuccess()
		}
	}()

	return out
}

// Health returns the breaker snapshots in try-order.
func (r *Router) Health() []Health {
	health := make([]Health, 0, len(r.entries))
	for _, e := range r.entries {
		health = append(health, e.breaker.Health())
	}
	return health
}

// Report returns a per-provider status mapping for logging and telemetry.
func (r *Router) Report() map[string]any {
	report := make(map[string]any, len(r.entries))
	for _, e := range r.entries {
		h := e.breaker.Health()

		e.mu.Lock()
		stats := map[string]any{
			"primary":              e.primary,
			"priority":             e.priority,
			"state":                string(h.State),
			"consecutive_failures": h.ConsecutiveFailures,
			"total_requests":       h.TotalRequests,
			"failed_requests":      h.FailedRequests,
			"failure_rate":         e.breaker.FailureRate(),
			"stream_count":         e.streamCount,
			"stream_input_tokens":  e.inputTokens,
			"stream_output_tokens": e.outputTokens,
			"stream_total_latency": e.totalLatency.String(),
		}
		e.mu.Unlock()

		report[e.provider.Name()] = stats
	}
	return report
}
