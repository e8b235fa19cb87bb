package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// WriteStableJSON writes a canonical JSON-like representation of v into b.
// Object keys are sorted recursively so the bytes are stable regardless of
// map iteration order. Arrays preserve order.
func WriteStableJSON(b *bytes.Buffer, v any) {
	switch t := v.(type) {
	case map[string]any:
		writeMapStringAny(b, t)
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			WriteStableJSON(b, e)
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			WriteStableJSON(b, e)
		}
		b.WriteByte(']')
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = val
		}
		writeMapStringAny(b, m)
	default:
		bs, err := json.Marshal(t)
		if err != nil {
			bs, _ = json.Marshal(stringify(t))
		}
		b.Write(bs)
	}
}

func writeMapStringAny(b *bytes.Buffer, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		b.Write(kb)
		b.WriteByte(':')
		WriteStableJSON(b, m[k])
	}
	b.WriteByte('}')
}

// StableJSONBytes returns the canonical JSON-like bytes for v.
func StableJSONBytes(v any) []byte {
	var b bytes.Buffer
	WriteStableJSON(&b, v)
	return b.Bytes()
}

// HashComponents joins the components with '|' and returns the SHA-256 hex
// digest. Used by the cache-key generator.
func HashComponents(components ...string) string {
	joined := []byte{}
	for i, c := range components {
		if i > 0 {
			joined = append(joined, '|')
		}
		joined = append(joined, c...)
	}
	sum := sha256.Sum256(joined)
	return hex.EncodeToString(sum[:])
}

func stringify(v any) string {
	return fmt.Sprintf("%v", v)
}
