package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"chatgate/internal/core"
)

func seqOf(chunks ...any) iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, c := range chunks {
			if !yield(c) {
				return
			}
		}
	}
}

func TestExtract_PlainText(t *testing.T) {
	assert.Equal(t, "Paris", Extract("Paris"))
	assert.Equal(t, "Paris", Extract("  Paris \n"))
	assert.Equal(t, "bytes", Extract([]byte(" bytes ")))
	assert.Equal(t, "", Extract(nil))
	assert.Equal(t, "", Extract("   "))
}

func TestExtract_Choices(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want string
	}{
		{
			name: "json message content",
			raw:  json.RawMessage(`{"choices":[{"message":{"content":"Hi there"}}]}`),
			want: "Hi there",
		},
		{
			name: "go map message content",
			raw: map[string]any{"choices": []any{
				map[string]any{"message": map[string]any{"content": " Hi there "}},
			}},
			want: "Hi there",
		},
		{
			name: "json legacy text",
			raw:  json.RawMessage(`{"choices":[{"text":"completion text"}]}`),
			want: "completion text",
		},
		{
			name: "element with string message",
			raw:  json.RawMessage(`{"choices":[{"message":"flat message"}]}`),
			want: "flat message",
		},
		{
			name: "only the first element is used",
			raw:  json.RawMessage(`{"choices":[{"foo":1},{"text":"second"}],"reply":"from mapping"}`),
			want: "from mapping",
		},
		{
			name: "structured completion",
			raw: &core.ChatCompletion{Choices: []core.Choice{
				{Message: &core.Message{Role: "assistant", Content: "structured\n"}},
			}},
			want: "structured",
		},
		{
			name: "structured completion value with text",
			raw:  core.ChatCompletion{Choices: []core.Choice{{Text: "legacy"}}},
			want: "legacy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.raw))
		})
	}
}

func TestExtract_EmptyChoicesFallThroughToMapping(t *testing.T) {
	raw := json.RawMessage(`{"choices":[],"answer":"42"}`)
	assert.Equal(t, "42", Extract(raw))
}

func TestExtract_Mapping(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want string
	}{
		{"reply wins", map[string]any{"content": "c", "reply": "r", "answer": "a"}, "r"},
		{"answer before text", map[string]any{"text": "t", "answer": "a"}, "a"},
		{"content last of fixed keys", map[string]any{"content": " c "}, "c"},
		{"fixed key with empty string is returned", map[string]any{"reply": "", "zzz": "other"}, ""},
		{"non string fixed key skipped", map[string]any{"reply": 5, "text": "t"}, "t"},
		{"any key in sorted order for go maps", map[string]any{"b": "second", "a": "first"}, "first"},
		{"empty strings skipped in scan", map[string]any{"a": "", "b": "value"}, "value"},
		{"json keeps document order", json.RawMessage(`{"zeta":"z","alpha":"a"}`), "z"},
		{"gjson result", gjson.Parse(`{"x":1,"message":"hello"}`), "hello"},
		{"string map", map[string]string{"answer": "yes"}, "yes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.raw))
		})
	}
}

func TestExtract_MappingWithoutStringsUsesTextualForm(t *testing.T) {
	assert.Equal(t, `{"count": 3}`, Extract(json.RawMessage(`{"count": 3}`)))
	assert.Equal(t, `{"count":3}`, Extract(map[string]any{"count": 3}))
}

func TestExtract_Stream(t *testing.T) {
	t.Run("mixed chunks", func(t *testing.T) {
		assert.Equal(t, "Hello!", Extract(seqOf("Hel", "lo", map[string]any{"text": "!"})))
	})

	t.Run("first chunk key only", func(t *testing.T) {
		assert.Equal(t, "ab", Extract(seqOf(map[string]any{"text": "a", "content": "x"}, "b")))
	})

	t.Run("choices delta strings", func(t *testing.T) {
		chunk := map[string]any{"choices": []any{
			map[string]any{"delta": "one "},
			map[string]any{"text": "two"},
		}}
		assert.Equal(t, "one two", Extract(seqOf(chunk)))
	})

	t.Run("openai delta objects from json", func(t *testing.T) {
		stream := seqOf(
			gjson.Parse(`{"choices":[{"delta":{"role":"assistant"}}]}`),
			gjson.Parse(`{"choices":[{"delta":{"content":"Bon"}}]}`),
			gjson.Parse(`{"choices":[{"delta":{"content":"jour"}}]}`),
		)
		assert.Equal(t, "Bonjour", Extract(stream))
	})

	t.Run("nil chunks skipped and others stringified", func(t *testing.T) {
		assert.Equal(t, "a42", Extract(seqOf(nil, "a", 42)))
	})

	t.Run("channel", func(t *testing.T) {
		ch := make(chan any, 2)
		ch <- " x"
		ch <- "y "
		close(ch)
		assert.Equal(t, "xy", Extract(ch))
	})

	t.Run("empty stream is empty", func(t *testing.T) {
		assert.Equal(t, "", Extract(seqOf()))
	})

	t.Run("not iterable falls through", func(t *testing.T) {
		var stream iter.Seq2[any, error] = func(yield func(any, error) bool) {
			if !yield("partial", nil) {
				return
			}
			yield(nil, ErrNotIterable)
		}
		assert.Equal(t, "", Extract(stream))
	})

	t.Run("other stream faults become diagnostics", func(t *testing.T) {
		var stream iter.Seq2[any, error] = func(yield func(any, error) bool) {
			yield(nil, errors.New("connection reset"))
		}
		got := Extract(stream)
		assert.True(t, strings.HasPrefix(got, ParseErrorPrefix), got)
		assert.Contains(t, got, "connection reset")
	})
}

func TestExtract_Opaque(t *testing.T) {
	assert.Equal(t, "42", Extract(42))
	assert.Equal(t, "[a b]", Extract([]any{"a", "b"}))
	assert.Equal(t, "[1,2]", Extract(json.RawMessage(`[1,2]`)))
	assert.Equal(t, "not json", Extract(json.RawMessage(`not json`)))
}

func TestExtractReply_TransportFaults(t *testing.T) {
	n := New(DefaultOptions())
	interrupted := func(fault error) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			if !yield("partial", nil) {
				return
			}
			yield(nil, fault)
		}
	}

	t.Run("provider error", func(t *testing.T) {
		fault := core.NewProviderError("default", 502, "stream interrupted: EOF", nil)
		reply, err := n.ExtractReply(interrupted(fault))
		require.Error(t, err)
		assert.Empty(t, reply)

		var gwErr *core.GatewayError
		assert.ErrorAs(t, err, &gwErr)
		assert.True(t, strings.HasPrefix(n.Extract(interrupted(fault)), ParseErrorPrefix))
	})

	t.Run("deadline", func(t *testing.T) {
		_, err := n.ExtractReply(interrupted(context.DeadlineExceeded))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("other faults stay diagnostics", func(t *testing.T) {
		reply, err := n.ExtractReply(interrupted(errors.New("bad chunk")))
		require.NoError(t, err)
		assert.Equal(t, ParseErrorPrefix+" bad chunk", reply)
	})

	t.Run("non-stream values never fail", func(t *testing.T) {
		reply, err := n.ExtractReply(map[string]any{"reply": " hi "})
		require.NoError(t, err)
		assert.Equal(t, "hi", reply)
	})
}

func TestExtract_ChoicesFallThroughToMapping(t *testing.T) {
	body := `{"choices":[{"index":0,"finish_reason":"stop"}],"reply":"Hi"}`
	assert.Equal(t, "Hi", Extract(gjson.Parse(body)))

	noReply := `{"choices":[{"index":0,"finish_reason":"stop"}],"count":1}`
	assert.Equal(t, noReply, Extract(gjson.Parse(noReply)))
}

type stringer struct{}

func (stringer) String() string { return " custom " }

func TestExtract_NeverPanics(t *testing.T) {
	panicking := func(yield func(any) bool) {
		panic("boom")
	}

	inputs := []any{
		nil, "", "x", []byte{}, 0, 3.14, true, stringer{},
		map[string]any{}, map[string]any{"choices": "not a list"},
		map[string]any{"choices": []any{nil}},
		json.RawMessage(``), json.RawMessage(`null`), gjson.Result{},
		&core.ChatCompletion{}, (*core.ChatCompletion)(nil),
		seqOf(), iter.Seq[any](panicking),
		struct{ A int }{1},
	}

	for _, in := range inputs {
		assert.NotPanics(t, func() { _ = Extract(in) })
	}

	got := Extract(iter.Seq[any](panicking))
	assert.True(t, strings.HasPrefix(got, ParseErrorPrefix))
	assert.Equal(t, "custom", Extract(stringer{}))
}

func TestExtract_IdempotentOnText(t *testing.T) {
	inputs := []any{
		"  Paris ",
		json.RawMessage(`{"choices":[{"message":{"content":" Hi "}}]}`),
		seqOf("Hel", "lo"),
		map[string]any{"reply": "\tok\n"},
	}
	for _, in := range inputs {
		first := Extract(in)
		assert.Equal(t, first, Extract(first))
	}
}

func TestNew_CustomKeys(t *testing.T) {
	n := New(Options{ReplyKeys: []string{"output"}})
	assert.Equal(t, "custom", n.Extract(map[string]any{"reply": "default", "output": "custom"}))
	// Unset lists keep the defaults.
	assert.Equal(t, "t", n.Extract(seqOf(map[string]any{"text": "t"})))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  any
		want Kind
	}{
		{nil, KindEmpty},
		{"x", KindText},
		{json.RawMessage(`"quoted"`), KindText},
		{json.RawMessage(`null`), KindEmpty},
		{json.RawMessage(`{"choices":[{"text":"a"}]}`), KindChoices},
		{json.RawMessage(`{"choices":[]}`), KindMapping},
		{map[string]any{"reply": "x"}, KindMapping},
		{&core.ChatCompletion{Choices: []core.Choice{{Text: "a"}}}, KindChoices},
		{&core.ChatCompletion{}, KindOpaque},
		{seqOf(), KindStream},
		{make(chan any), KindStream},
		{[]string{"list"}, KindOpaque},
		{12, KindOpaque},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.raw).Kind())
		})
	}
}
