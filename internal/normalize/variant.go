package normalize

import (
	"encoding/json"
	"errors"
	"iter"

	"github.com/tidwall/gjson"

	"chatgate/internal/core"
)

// ErrNotIterable is yielded by a chunk stream that turns out not to be a
// stream at all. The extractor abandons the stream rule when it sees it.
var ErrNotIterable = errors.New("value is not iterable")

// Kind names the shape of a classified upstream result.
type Kind int

const (
	KindEmpty Kind = iota
	KindText
	KindChoices
	KindMapping
	KindStream
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindText:
		return "text"
	case KindChoices:
		return "choices"
	case KindMapping:
		return "mapping"
	case KindStream:
		return "stream"
	default:
		return "opaque"
	}
}

// Variant is the closed set of shapes an upstream result is classified into.
type Variant interface {
	Kind() Kind
	variant()
}

// Empty is an absent result.
type Empty struct{}

// PlainText is a result that already is text.
type PlainText string

// ChoiceList is an OpenAI-style result exposing a non-empty "choices"
// collection. Fields is set when the result was a mapping, so extraction can
// fall back to the mapping rule.
type ChoiceList struct {
	Choices []any
	Fields  *Mapping
	Raw     any
}

// MappingResult is a key/value document without usable choices.
type MappingResult struct {
	Mapping Mapping
}

// ChunkStream is a sequence of streamed chunks. Faults are reported through
// the error half of the sequence.
type ChunkStream struct {
	Seq iter.Seq2[any, error]
}

// Opaque is anything else.
type Opaque struct {
	Value any
}

func (Empty) Kind() Kind         { return KindEmpty }
func (PlainText) Kind() Kind     { return KindText }
func (ChoiceList) Kind() Kind    { return KindChoices }
func (MappingResult) Kind() Kind { return KindMapping }
func (ChunkStream) Kind() Kind   { return KindStream }
func (Opaque) Kind() Kind        { return KindOpaque }

func (Empty) variant()         {}
func (PlainText) variant()     {}
func (ChoiceList) variant()    {}
func (MappingResult) variant() {}
func (ChunkStream) variant()   {}
func (Opaque) variant()        {}

// Classify inspects a raw upstream result once and returns its variant.
func Classify(raw any) Variant {
	switch t := raw.(type) {
	case nil:
		return Empty{}
	case Variant:
		return t
	case string:
		return PlainText(t)
	case []byte:
		return PlainText(string(t))
	case *core.ChatCompletion:
		if t == nil {
			return Empty{}
		}
		if len(t.Choices) > 0 {
			choices, _ := asList(t.Choices)
			return ChoiceList{Choices: choices, Raw: t}
		}
		return Opaque{Value: t}
	case core.ChatCompletion:
		return Classify(&t)
	case gjson.Result:
		return classifyJSON(t)
	case json.RawMessage:
		if !gjson.ValidBytes(t) {
			return PlainText(string(t))
		}
		return classifyJSON(gjson.ParseBytes(t))
	case iter.Seq2[any, error]:
		return ChunkStream{Seq: t}
	case func(func(any, error) bool):
		return ChunkStream{Seq: t}
	case iter.Seq[any]:
		return ChunkStream{Seq: withoutErrors(t)}
	case func(func(any) bool):
		return ChunkStream{Seq: withoutErrors(t)}
	case <-chan any:
		return ChunkStream{Seq: fromChannel(t)}
	case chan any:
		return ChunkStream{Seq: fromChannel(t)}
	}

	if m, ok := asMapping(raw); ok {
		return classifyMapping(m, raw)
	}
	return Opaque{Value: raw}
}

func classifyJSON(r gjson.Result) Variant {
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return Empty{}
	case r.Type == gjson.String:
		return PlainText(r.Str)
	case r.IsObject():
		m, _ := fromGJSON(r)
		return classifyMapping(m, r)
	default:
		return Opaque{Value: r}
	}
}

func classifyMapping(m Mapping, raw any) Variant {
	if v, ok := m.Get("choices"); ok {
		if choices, ok := asList(v); ok && len(choices) > 0 {
			return ChoiceList{Choices: choices, Fields: &m, Raw: raw}
		}
	}
	return MappingResult{Mapping: m}
}

func withoutErrors(seq iter.Seq[any]) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for v := range seq {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func fromChannel(ch <-chan any) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for v := range ch {
			if !yield(v, nil) {
				return
			}
		}
	}
}
