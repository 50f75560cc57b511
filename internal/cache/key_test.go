package cache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_FieldOrderIndependent(t *testing.T) {
	a := Key("backend-1", "tools/call", json.RawMessage(`{"name":"search","args":{"q":"go","limit":5}}`))
	b := Key("backend-1", "tools/call", json.RawMessage(`{"args":{"limit":5,"q":"go"},"name":"search"}`))

	assert.Equal(t, a, b)
}

func TestKey_DistinguishesInputs(t *testing.T) {
	base := Key("backend-1", "tools/list", json.RawMessage(`{"cursor":"a"}`))

	assert.NotEqual(t, base, Key("backend-2", "tools/list", json.RawMessage(`{"cursor":"a"}`)))
	assert.NotEqual(t, base, Key("backend-1", "resources/list", json.RawMessage(`{"cursor":"a"}`)))
	assert.NotEqual(t, base, Key("backend-1", "tools/list", json.RawMessage(`{"cursor":"b"}`)))
}

func TestKey_ArrayOrderMatters(t *testing.T) {
	a := Key("b", "m", json.RawMessage(`{"ids":[1,2,3]}`))
	b := Key("b", "m", json.RawMessage(`{"ids":[3,2,1]}`))

	assert.NotEqual(t, a, b)
}

func TestKey_AbsentAndNullParamsCollide(t *testing.T) {
	assert.Equal(t,
		Key("b", "m", nil),
		Key("b", "m", json.RawMessage(`null`)),
	)
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"sorts keys", `{"b":1,"a":2}`, `{"a":2,"b":1}`},
		{"nested objects", `{"z":{"y":1,"x":2},"a":0}`, `{"a":0,"z":{"x":2,"y":1}}`},
		{"preserves number form", `{"n":1.50}`, `{"n":1.50}`},
		{"arrays kept in order", `[{"b":1,"a":2},3]`, `[{"a":2,"b":1},3]`},
		{"scalars pass through", `"hello"`, `"hello"`},
		{"null", `null`, `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(canonicalJSON(json.RawMessage(tt.in))))
		})
	}
}
