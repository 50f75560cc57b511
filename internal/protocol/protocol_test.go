package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/mcpgw/internal/util"
)

func TestRequest_Unmarshal_IDPresence(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		hasID bool
	}{
		{"numeric id", `{"jsonrpc":"2.0","method":"tools/list","id":1}`, true},
		{"string id", `{"jsonrpc":"2.0","method":"tools/list","id":"abc"}`, true},
		{"null id", `{"jsonrpc":"2.0","method":"tools/list","id":null}`, true},
		{"absent id", `{"jsonrpc":"2.0","method":"tools/list"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))
			assert.Equal(t, tt.hasID, req.HasID())
		})
	}
}

func TestResponse_Marshal_NullID(t *testing.T) {
	resp := NewErrorResponse(nil, CodeInvalidRequest, "invalid request")

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":null`)
	assert.Contains(t, string(data), `"code":-32600`)
}

func TestResponse_Marshal_EchoesID(t *testing.T) {
	resp := NewResultResponse(json.RawMessage(`42`), json.RawMessage(`{"ok":true}`))

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":42`)
	assert.Contains(t, string(data), `"jsonrpc":"2.0"`)
}

func TestResponse_IsError(t *testing.T) {
	assert.False(t, NewResultResponse(nil, json.RawMessage(`{}`)).IsError())
	assert.True(t, NewErrorResponse(nil, CodeProxyError, "upstream error").IsError())
}

func TestValidate(t *testing.T) {
	id := json.RawMessage(`1`)

	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		field   string
	}{
		{"valid", &Request{Version: "2.0", Method: "tools/list", ID: id}, false, ""},
		{"valid null id", &Request{Version: "2.0", Method: "tools/call", ID: json.RawMessage(`null`)}, false, ""},
		{"nil request", nil, true, ""},
		{"wrong version", &Request{Version: "1.0", Method: "tools/list", ID: id}, true, "jsonrpc"},
		{"empty version", &Request{Method: "tools/list", ID: id}, true, "jsonrpc"},
		{"empty method", &Request{Version: "2.0", ID: id}, true, "method"},
		{"missing id key", &Request{Version: "2.0", Method: "tools/list"}, true, "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, util.ErrInvalidRequest))

			var verr *util.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
