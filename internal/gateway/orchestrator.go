// Package gateway orchestrates request processing: validation, cache
// lookup, circuit breaking, scheduling, and upstream forwarding.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/mcpgw/internal/cache"
	"github.com/vyrodovalexey/mcpgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/mcpgw/internal/config"
	"github.com/vyrodovalexey/mcpgw/internal/forwarder"
	"github.com/vyrodovalexey/mcpgw/internal/observability"
	"github.com/vyrodovalexey/mcpgw/internal/protocol"
	"github.com/vyrodovalexey/mcpgw/internal/scheduler"
	"github.com/vyrodovalexey/mcpgw/internal/util"
)

// gatewayTracerName is the OpenTelemetry tracer name for orchestration.
const gatewayTracerName = "mcpgw/gateway"

// Upstream delivers a request to a backend. It is implemented by
// forwarder.Forwarder and stubbed in tests.
type Upstream interface {
	Forward(ctx context.Context, backendID string, req *protocol.Request) (*protocol.Response, error)
}

// methodTables holds the per-method tuning tables that can be swapped
// by a configuration reload while requests are in flight.
type methodTables struct {
	cache     config.CacheConfig
	scheduler config.SchedulerConfig
}

// Orchestrator processes requests end to end. Every processing path
// yields a response envelope; failures surface as error responses,
// never as Go errors to the transport layer.
type Orchestrator struct {
	cfg      *config.Config
	logger   observability.Logger
	metrics  *observability.Metrics
	store    cache.Cache
	breakers *circuitbreaker.Registry
	sched    *scheduler.Scheduler
	upstream Upstream
	tables   atomic.Pointer[methodTables]

	startTime time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache overrides the cache store.
func WithCache(store cache.Cache) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithUpstream overrides the forwarding client.
func WithUpstream(u Upstream) Option {
	return func(o *Orchestrator) { o.upstream = u }
}

// WithMetrics sets the gateway metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator, building the cache, breaker registry,
// scheduler, and forwarding client from configuration.
func New(cfg *config.Config, logger observability.Logger, opts ...Option) (*Orchestrator, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	o := &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		breakers:  circuitbreaker.NewRegistry(&cfg.Breaker, logger),
		sched:     scheduler.New(&cfg.Scheduler, logger),
		startTime: time.Now(),
	}
	o.tables.Store(&methodTables{cache: cfg.Cache, scheduler: cfg.Scheduler})

	for _, opt := range opts {
		opt(o)
	}

	if o.store == nil {
		store, err := cache.New(&cfg.Cache, logger)
		if err != nil {
			return nil, util.WrapError(err, "building cache")
		}
		o.store = store
	}

	if o.upstream == nil {
		o.upstream = forwarder.New(&cfg.Upstream, logger)
	}

	return o, nil
}

// ProcessRequest handles one raw request body addressed to a backend.
// The body is parsed, validated, served from cache when possible, and
// otherwise forwarded under breaker and scheduler control. The result
// is always a response envelope.
func (o *Orchestrator) ProcessRequest(ctx context.Context, backendID string, body []byte) *protocol.Response {
	ctx, span := otel.Tracer(gatewayTracerName).Start(ctx, "gateway.ProcessRequest",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("rpc.backend", backendID)),
	)
	defer span.End()

	start := time.Now()

	if o.metrics != nil {
		o.metrics.IncrementActiveRequests(backendID)
		defer o.metrics.DecrementActiveRequests(backendID)
	}

	var req protocol.Request
	if err := json.Unmarshal(body, &req); err != nil {
		o.logger.Warn("request body is not valid JSON",
			observability.String("backend", backendID),
			observability.Error(err),
		)
		return o.finish(backendID, "", "parse_error", start,
			protocol.NewErrorResponse(nil, protocol.CodeParseError, "parse error"))
	}

	span.SetAttributes(attribute.String("rpc.method", req.Method))

	if err := protocol.Validate(&req); err != nil {
		o.logger.Warn("request envelope rejected",
			observability.String("backend", backendID),
			observability.String("method", req.Method),
			observability.Error(err),
		)
		return o.finish(backendID, req.Method, "invalid", start,
			protocol.NewErrorResponse(req.ID, protocol.CodeInvalidRequest, err.Error()))
	}

	tables := o.tables.Load()
	ttl := tables.cache.TTLFor(req.Method)
	cacheKey := ""
	if ttl > 0 {
		cacheKey = cache.Key(backendID, req.Method, req.Params)
		if resp := o.lookupCache(ctx, cacheKey, &req); resp != nil {
			if o.metrics != nil {
				o.metrics.RecordCacheHit(backendID, req.Method)
			}
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return o.finish(backendID, req.Method, "cache_hit", start, resp)
		}
	}

	resp, err := o.dispatch(ctx, backendID, &req)
	if err != nil {
		errResp := o.errorResponse(backendID, &req, err)
		return o.finish(backendID, req.Method, "error", start, errResp)
	}

	// Echo the caller's ID regardless of what the upstream returned.
	resp.ID = req.ID

	if resp.IsError() {
		if o.metrics != nil {
			o.metrics.RecordError(backendID, resp.Error.Code)
		}
		return o.finish(backendID, req.Method, "upstream_error", start, resp)
	}

	if cacheKey != "" {
		o.storeCache(ctx, cacheKey, resp, ttl)
	}

	return o.finish(backendID, req.Method, "ok", start, resp)
}

// dispatch runs the forwarding call under the scheduler's concurrency
// ceiling and the backend's circuit breaker. The breaker observes the
// whole retried call as a single outcome.
func (o *Orchestrator) dispatch(
	ctx context.Context, backendID string, req *protocol.Request,
) (*protocol.Response, error) {
	breaker := o.breakers.GetOrCreate(backendID)
	priority := o.tables.Load().scheduler.PriorityFor(req.Method)

	var resp *protocol.Response

	err := o.sched.Submit(ctx, backendID, priority, func(taskCtx context.Context) error {
		return breaker.Execute(taskCtx, func(callCtx context.Context) error {
			var fwdErr error
			resp, fwdErr = o.upstream.Forward(callCtx, backendID, req)
			return fwdErr
		})
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// lookupCache returns the cached response for a key, re-stamped with
// the caller's request ID, or nil on miss.
func (o *Orchestrator) lookupCache(ctx context.Context, key string, req *protocol.Request) *protocol.Response {
	data, err := o.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			o.logger.Warn("cache lookup failed",
				observability.String("key", key),
				observability.Error(err),
			)
		}
		return nil
	}

	var resp protocol.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		o.logger.Warn("dropping undecodable cache entry",
			observability.String("key", key),
			observability.Error(err),
		)
		_ = o.store.Delete(ctx, key)
		return nil
	}

	resp.ID = req.ID
	return &resp
}

// storeCache records a successful response. Error responses are never
// stored; a failed write only costs the next caller a cache miss.
func (o *Orchestrator) storeCache(ctx context.Context, key string, resp *protocol.Response, ttl time.Duration) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := o.store.Set(ctx, key, data, ttl); err != nil && !errors.Is(err, cache.ErrCacheFull) {
		o.logger.Warn("cache store failed",
			observability.String("key", key),
			observability.Error(err),
		)
	}
}

// errorResponse maps a processing failure to a response envelope.
func (o *Orchestrator) errorResponse(backendID string, req *protocol.Request, err error) *protocol.Response {
	code := protocol.CodeInternalError
	message := "internal error"

	var openErr *util.CircuitOpenError
	var statusErr *util.UpstreamStatusError

	switch {
	case errors.As(err, &openErr):
		code = protocol.CodeCircuitOpen
		message = "circuit breaker open for backend " + backendID

	case errors.Is(err, util.ErrTaskTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		code = protocol.CodeRequestTimeout
		message = "request timed out"

	case errors.Is(err, util.ErrBadUpstreamBody):
		code = protocol.CodeProxyError
		message = "malformed upstream response"

	case errors.As(err, &statusErr):
		code = protocol.CodeProxyError
		message = statusErr.Error()

	case errors.Is(err, util.ErrBackendUnavail):
		code = protocol.CodeBackendUnavailable
		message = "backend unavailable"

	case errors.Is(err, util.ErrSchedulerClosed):
		code = protocol.CodeInternalError
		message = "gateway shutting down"
	}

	o.logger.Error("request failed",
		observability.String("backend", backendID),
		observability.String("method", req.Method),
		observability.Int("code", code),
		observability.Error(err),
	)

	if o.metrics != nil {
		o.metrics.RecordError(backendID, code)
	}

	return protocol.NewErrorResponse(req.ID, code, message)
}

// finish records request metrics and returns the response.
func (o *Orchestrator) finish(
	backendID, method, outcome string, start time.Time, resp *protocol.Response,
) *protocol.Response {
	if o.metrics != nil {
		o.metrics.RecordRequest(backendID, method, outcome, time.Since(start))
	}
	return resp
}

// Reload applies the reloadable parts of a new configuration: the
// method TTL and priority tables. Structural settings (listeners,
// pools, breaker thresholds, concurrency ceilings) require a restart.
func (o *Orchestrator) Reload(cfg *config.Config) {
	o.tables.Store(&methodTables{cache: cfg.Cache, scheduler: cfg.Scheduler})

	o.logger.Info("method TTL and priority tables reloaded",
		observability.Int("cacheableMethods", len(cfg.Cache.MethodTTL)),
		observability.Int("prioritizedMethods", len(cfg.Scheduler.Priorities)),
	)
}

// Stats is a point-in-time view of the orchestrator.
type Stats struct {
	UptimeSeconds float64                            `json:"uptimeSeconds"`
	Cache         cache.Stats                        `json:"cache"`
	Scheduler     scheduler.Stats                    `json:"scheduler"`
	Breakers      map[string]circuitbreaker.Snapshot `json:"circuitBreakers"`
}

// Stats returns current gateway statistics.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		UptimeSeconds: time.Since(o.startTime).Seconds(),
		Cache:         o.store.Stats(),
		Scheduler:     o.sched.Stats(),
		Breakers:      o.breakers.Snapshots(),
	}
}

// Cleanup shuts the orchestrator down: the scheduler stops accepting
// work and drains, then the cache and upstream client are released.
func (o *Orchestrator) Cleanup() error {
	o.logger.Info("orchestrator cleanup started")

	o.sched.Close()
	o.sched.Drain()

	o.breakers.ResetAll()

	var errs []error
	if err := o.store.Close(); err != nil {
		errs = append(errs, err)
	}

	if closer, ok := o.upstream.(interface{ Close() }); ok {
		closer.Close()
	}

	o.logger.Info("orchestrator cleanup finished")

	return errors.Join(errs...)
}
