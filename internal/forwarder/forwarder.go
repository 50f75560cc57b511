// Package forwarder delivers validated requests to upstream backends
// over HTTP with bounded exponential backoff retry.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/mcpgw/internal/config"
	"github.com/vyrodovalexey/mcpgw/internal/observability"
	"github.com/vyrodovalexey/mcpgw/internal/protocol"
	"github.com/vyrodovalexey/mcpgw/internal/retry"
	"github.com/vyrodovalexey/mcpgw/internal/util"
)

// forwarderTracerName is the OpenTelemetry tracer name for upstream calls.
const forwarderTracerName = "mcpgw/forwarder"

// Forwarder sends requests to upstream backends. All backends share
// one pooled HTTP client; the target URL is derived from the backend
// identifier.
type Forwarder struct {
	baseURL        string
	client         *http.Client
	requestTimeout time.Duration
	retryCfg       *retry.Config
	logger         observability.Logger
}

// New creates a forwarder from upstream configuration.
func New(cfg *config.UpstreamConfig, logger observability.Logger) *Forwarder {
	if logger == nil {
		logger = observability.NopLogger()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout.Duration(),
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout.Duration(),
	}

	return &Forwarder{
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		client:         &http.Client{Transport: transport},
		requestTimeout: cfg.RequestTimeout.Duration(),
		retryCfg: &retry.Config{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay.Duration(),
			MaxDelay:   cfg.RetryMaxDelay.Duration(),
		},
		logger: logger,
	}
}

// endpoint returns the upstream URL for a backend.
func (f *Forwarder) endpoint(backendID string) string {
	return f.baseURL + "/server/" + url.PathEscape(backendID)
}

// Forward sends a request to the backend's upstream endpoint and
// decodes the response envelope. Connection failures and 5xx statuses
// are retried with exponential backoff; client statuses and malformed
// payloads fail immediately.
func (f *Forwarder) Forward(
	ctx context.Context, backendID string, req *protocol.Request,
) (*protocol.Response, error) {
	ctx, span := otel.Tracer(forwarderTracerName).Start(ctx, "forwarder.Forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.backend", backendID),
			attribute.String("rpc.method", req.Method),
		),
	)
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, util.WrapError(err, "encoding request")
	}

	start := time.Now()
	var resp *protocol.Response

	err = retry.Do(ctx, f.retryCfg, func() error {
		var attemptErr error
		resp, attemptErr = f.attempt(ctx, backendID, body)
		return attemptErr
	}, &retry.Options{
		ShouldRetry: util.IsRetryable,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			getForwarderMetrics().retriesTotal.WithLabelValues(backendID).Inc()
			f.logger.Warn("retrying upstream request",
				observability.String("backend", backendID),
				observability.String("method", req.Method),
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
		},
	})

	getForwarderMetrics().requestDuration.WithLabelValues(backendID).Observe(
		time.Since(start).Seconds())

	if err != nil {
		getForwarderMetrics().errorsTotal.WithLabelValues(backendID, errorClass(err)).Inc()
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("rpc.upstream_error", resp.IsError()))
	return resp, nil
}

// attempt performs a single upstream HTTP exchange.
func (f *Forwarder) attempt(ctx context.Context, backendID string, body []byte) (*protocol.Response, error) {
	attemptCtx := ctx
	if f.requestTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.requestTimeout)
		defer cancel()
	}

	getForwarderMetrics().attemptsTotal.WithLabelValues(backendID).Inc()

	httpReq, err := http.NewRequestWithContext(
		attemptCtx, http.MethodPost, f.endpoint(backendID), bytes.NewReader(body))
	if err != nil {
		return nil, util.WrapError(err, "building upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, util.NewBackendError(backendID, "upstream request failed", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		return nil, &util.UpstreamStatusError{
			Backend:    backendID,
			StatusCode: httpResp.StatusCode,
		}
	}

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, util.NewBackendError(backendID, "reading upstream response", err)
	}

	return decodeResponse(payload)
}

// decodeResponse parses an upstream payload. Anything other than a
// top-level JSON object is malformed and never retried.
func decodeResponse(payload []byte) (*protocol.Response, error) {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, util.ErrBadUpstreamBody
	}

	var resp protocol.Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, util.WrapError(util.ErrBadUpstreamBody, err.Error())
	}

	return &resp, nil
}

// errorClass buckets a forwarding error for metrics labels.
func errorClass(err error) string {
	switch {
	case util.IsRetryable(err):
		return "retryable"
	default:
		return "permanent"
	}
}

// Close releases idle upstream connections.
func (f *Forwarder) Close() {
	f.client.CloseIdleConnections()
}
