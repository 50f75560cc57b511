package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Key derives the cache key for a forwarded call. Two requests that
// differ only in JSON object key order produce the same key; requests
// that differ in backend, method, or parameter values never collide.
func Key(backend, method string, params json.RawMessage) string {
	digest := sha256.Sum256(canonicalJSON(params))
	return backend + ":" + method + ":" + hex.EncodeToString(digest[:])
}

// canonicalJSON re-encodes a JSON document with object keys sorted
// recursively. Arrays keep their order; numbers keep their original
// textual form. Invalid or absent input canonicalizes to null so the
// derived key is still stable.
func canonicalJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return []byte("null")
	}

	var buf bytes.Buffer
	writeCanonical(&buf, value)
	return buf.Bytes()
}

func writeCanonical(buf *bytes.Buffer, value any) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, _ := json.Marshal(k)
			buf.Write(encoded)
			buf.WriteByte(':')
			writeCanonical(buf, v[k])
		}
		buf.WriteByte('}')

	case []any:
		buf.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, elem)
		}
		buf.WriteByte(']')

	case json.Number:
		buf.WriteString(v.String())

	default:
		encoded, _ := json.Marshal(v)
		buf.Write(encoded)
	}
}
