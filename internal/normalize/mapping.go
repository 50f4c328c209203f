package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"chatgate/internal/core"
)

// Field is one key/value pair of a Mapping.
type Field struct {
	Key   string
	Value any
}

// Mapping is an ordered key/value document. Key order is the "natural" order
// of the source: document order for JSON, sorted order for Go maps.
type Mapping struct {
	Fields []Field
	// raw holds the source JSON when the mapping was parsed from a document.
	raw string
}

// Get returns the value stored under key.
func (m Mapping) Get(key string) (any, bool) {
	for _, f := range m.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// GetString returns the value stored under key when it is a string.
func (m Mapping) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// firstString scans keys in order and returns the first string value.
func (m Mapping) firstString(keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := m.GetString(k); ok {
			return s, true
		}
	}
	return "", false
}

// MarshalJSON keeps field order.
func (m Mapping) MarshalJSON() ([]byte, error) {
	if m.raw != "" {
		return []byte(m.raw), nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range m.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// FromJSON parses a JSON object into a Mapping. ok is false when data is not
// a JSON object.
func FromJSON(data []byte) (Mapping, bool) {
	if !gjson.ValidBytes(data) {
		return Mapping{}, false
	}
	return fromGJSON(gjson.ParseBytes(data))
}

func fromGJSON(r gjson.Result) (Mapping, bool) {
	if !r.IsObject() {
		return Mapping{}, false
	}
	m := Mapping{raw: r.Raw}
	r.ForEach(func(key, value gjson.Result) bool {
		m.Fields = append(m.Fields, Field{Key: key.String(), Value: gjsonValue(value)})
		return true
	})
	return m, true
}

// gjsonValue converts a JSON value into the Go shapes the extractor understands.
func gjsonValue(r gjson.Result) any {
	switch {
	case r.Type == gjson.String:
		return r.Str
	case r.Type == gjson.Null:
		return nil
	case r.IsObject():
		m, _ := fromGJSON(r)
		return m
	case r.IsArray():
		items := r.Array()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = gjsonValue(item)
		}
		return out
	default:
		return r.Value()
	}
}

func fromMap(src map[string]any) Mapping {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m := Mapping{Fields: make([]Field, len(keys))}
	for i, k := range keys {
		m.Fields[i] = Field{Key: k, Value: src[k]}
	}
	return m
}

func fromStringMap(src map[string]string) Mapping {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m := Mapping{Fields: make([]Field, len(keys))}
	for i, k := range keys {
		m.Fields[i] = Field{Key: k, Value: src[k]}
	}
	return m
}

// asMapping reports whether v is one of the supported mapping shapes.
func asMapping(v any) (Mapping, bool) {
	switch t := v.(type) {
	case Mapping:
		return t, true
	case *Mapping:
		if t == nil {
			return Mapping{}, false
		}
		return *t, true
	case map[string]any:
		return fromMap(t), true
	case map[string]string:
		return fromStringMap(t), true
	case gjson.Result:
		return fromGJSON(t)
	case json.RawMessage:
		return FromJSON(t)
	default:
		return Mapping{}, false
	}
}

// asList reports whether v is a sequence usable as a "choices" collection.
func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []Mapping:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []core.Choice:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case gjson.Result:
		if !t.IsArray() {
			return nil, false
		}
		items := t.Array()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = gjsonValue(item)
		}
		return out, true
	default:
		return nil, false
	}
}

// describe renders the textual representation used by the last-resort rule.
func describe(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case Mapping:
		b, err := t.MarshalJSON()
		if err != nil {
			return fmt.Sprint(t.Fields)
		}
		return string(b)
	case gjson.Result:
		return t.Raw
	case json.RawMessage:
		return string(t)
	case map[string]any, map[string]string, *core.ChatCompletion, core.ChatCompletion:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
