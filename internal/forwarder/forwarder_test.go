package forwarder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/mcpgw/internal/config"
	"github.com/vyrodovalexey/mcpgw/internal/protocol"
	"github.com/vyrodovalexey/mcpgw/internal/util"
)

func testUpstreamConfig(baseURL string, maxRetries int) *config.UpstreamConfig {
	return &config.UpstreamConfig{
		BaseURL:        baseURL,
		RequestTimeout: config.Duration(5 * time.Second),
		ConnectTimeout: config.Duration(time.Second),
		MaxRetries:     maxRetries,
		RetryBaseDelay: config.Duration(time.Millisecond),
		RetryMaxDelay:  config.Duration(4 * time.Millisecond),
	}
}

func testRequest(method string) *protocol.Request {
	return &protocol.Request{
		Version: protocol.Version,
		Method:  method,
		Params:  json.RawMessage(`{"x":1}`),
		ID:      json.RawMessage(`"req-1"`),
	}
}

func TestForwarder_SuccessfulCall(t *testing.T) {
	var gotPath string
	var gotBody protocol.Request

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(protocol.NewResultResponse(
			gotBody.ID, json.RawMessage(`{"status":"ok"}`)))
	}))
	defer srv.Close()

	f := New(testUpstreamConfig(srv.URL, 0), nil)
	defer f.Close()

	resp, err := f.Forward(context.Background(), "backend-1", testRequest("tools/list"))
	require.NoError(t, err)

	assert.Equal(t, "/server/backend-1", gotPath)
	assert.Equal(t, "tools/list", gotBody.Method)
	assert.False(t, resp.IsError())
	assert.JSONEq(t, `"req-1"`, string(resp.ID))
}

func TestForwarder_EscapesBackendID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":null,"id":1}`))
	}))
	defer srv.Close()

	f := New(testUpstreamConfig(srv.URL, 0), nil)
	defer f.Close()

	_, err := f.Forward(context.Background(), "a/b c", testRequest("m"))
	require.NoError(t, err)
	assert.Equal(t, "/server/a%2Fb%20c", gotPath)
}

func TestForwarder_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":"ok","id":1}`))
	}))
	defer srv.Close()

	f := New(testUpstreamConfig(srv.URL, 3), nil)
	defer f.Close()

	resp, err := f.Forward(context.Background(), "flaky", testRequest("m"))
	require.NoError(t, err)
	assert.False(t, resp.IsError())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestForwarder_ExhaustsRetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(testUpstreamConfig(srv.URL, 2), nil)
	defer f.Close()

	_, err := f.Forward(context.Background(), "down", testRequest("m"))

	var statusErr *util.UpstreamStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "first call plus two retries")
}

func TestForwarder_NeverRetries4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(testUpstreamConfig(srv.URL, 3), nil)
	defer f.Close()

	_, err := f.Forward(context.Background(), "missing", testRequest("m"))

	var statusErr *util.UpstreamStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "client errors must not be retried")
}

func TestForwarder_ConnectionFailureIsBackendError(t *testing.T) {
	// Point at a server that is already closed.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	f := New(testUpstreamConfig(srv.URL, 1), nil)
	defer f.Close()

	_, err := f.Forward(context.Background(), "gone", testRequest("m"))
	assert.ErrorIs(t, err, util.ErrBackendUnavail)
}

func TestForwarder_MalformedPayloadNotRetried(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"array", `[1,2,3]`},
		{"string", `"hello"`},
		{"empty", ``},
		{"truncated object", `{"jsonrpc":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := New(testUpstreamConfig(srv.URL, 3), nil)
			defer f.Close()

			_, err := f.Forward(context.Background(), "weird", testRequest("m"))
			assert.ErrorIs(t, err, util.ErrBadUpstreamBody)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestForwarder_UpstreamErrorEnvelopePassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32601,"message":"method not found"},"id":1}`))
	}))
	defer srv.Close()

	f := New(testUpstreamConfig(srv.URL, 0), nil)
	defer f.Close()

	resp, err := f.Forward(context.Background(), "b", testRequest("nope"))
	require.NoError(t, err)
	require.True(t, resp.IsError())
	assert.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)
}

func TestForwarder_ContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	f := New(testUpstreamConfig(srv.URL, 0), nil)
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Forward(ctx, "slow", testRequest("m"))
	assert.Error(t, err)
}
