// Package normalize turns weakly typed upstream chat results into plain text.
//
// Upstream providers are not API compatible with each other. A raw result is
// classified once into a small closed set of variants (see Classify) and
// then extracted under a fixed precedence:
//
//  1. nothing yields ""
//  2. text is trimmed
//  3. the first element of a "choices" collection
//  4. well-known mapping keys, then any non-empty string value
//  5. the concatenation of a chunk stream
//  6. the textual representation of the value
//
// Extraction never panics; internal faults surface as a "(parse error)" text.
// A stream interrupted by an upstream or context fault is not an extraction
// fault: ExtractReply reports it as an error.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatgate/internal/core"
)

// ParseErrorPrefix starts every diagnostic produced by an extraction fault.
const ParseErrorPrefix = "(parse error)"

// Options controls which keys are consulted, and in which order.
type Options struct {
	// ReplyKeys are scanned on mapping results before falling back to every key.
	ReplyKeys []string
	// ChoiceKeys are scanned on a choice element that is itself a mapping.
	ChoiceKeys []string
	// ChunkKeys are scanned on every mapping chunk of a stream.
	ChunkKeys []string
}

// DefaultOptions returns the key orders used when none are configured.
func DefaultOptions() Options {
	return Options{
		ReplyKeys:  []string{"reply", "answer", "text", "content"},
		ChoiceKeys: []string{"message", "content", "text"},
		ChunkKeys:  []string{"text", "content", "reply"},
	}
}

// Normalizer extracts reply text from raw upstream results.
// It is stateless and safe for concurrent use.
type Normalizer struct {
	opts Options
}

// New creates a Normalizer. Empty key lists fall back to the defaults.
func New(opts Options) *Normalizer {
	def := DefaultOptions()
	if len(opts.ReplyKeys) == 0 {
		opts.ReplyKeys = def.ReplyKeys
	}
	if len(opts.ChoiceKeys) == 0 {
		opts.ChoiceKeys = def.ChoiceKeys
	}
	if len(opts.ChunkKeys) == 0 {
		opts.ChunkKeys = def.ChunkKeys
	}
	return &Normalizer{opts: opts}
}

var defaultNormalizer = New(DefaultOptions())

// Extract extracts a reply using the default key orders.
func Extract(raw any) string {
	return defaultNormalizer.Extract(raw)
}

// Extract returns the trimmed reply text carried by raw, or "" when there is
// none. Stream faults of any kind are rendered as a diagnostic text.
func (n *Normalizer) Extract(raw any) string {
	reply, err := n.ExtractReply(raw)
	if err != nil {
		return fmt.Sprintf("%s %v", ParseErrorPrefix, err)
	}
	return reply
}

// ExtractReply is Extract, except that a chunk stream interrupted by an
// upstream or context fault returns that fault instead of a diagnostic.
func (n *Normalizer) ExtractReply(raw any) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply = fmt.Sprintf("%s %v", ParseErrorPrefix, r)
			err = nil
		}
	}()
	return n.extract(Classify(raw))
}

func (n *Normalizer) extract(v Variant) (string, error) {
	switch t := v.(type) {
	case Empty:
		return "", nil

	case PlainText:
		return strings.TrimSpace(string(t)), nil

	case ChoiceList:
		if s, ok := n.fromChoices(t.Choices); ok {
			return strings.TrimSpace(s), nil
		}
		if t.Fields != nil {
			if s, ok := n.fromMapping(*t.Fields); ok {
				return strings.TrimSpace(s), nil
			}
		}
		return strings.TrimSpace(describe(t.Raw)), nil

	case MappingResult:
		if s, ok := n.fromMapping(t.Mapping); ok {
			return strings.TrimSpace(s), nil
		}
		return strings.TrimSpace(describe(t.Mapping)), nil

	case ChunkStream:
		out, err := n.fromStream(t)
		if err != nil {
			switch {
			case errors.Is(err, ErrNotIterable):
				// A stream has no useful textual representation of its own.
				return "", nil
			case isTransportFault(err):
				return "", err
			}
			return fmt.Sprintf("%s %v", ParseErrorPrefix, err), nil
		}
		return strings.TrimSpace(out), nil

	case Opaque:
		return strings.TrimSpace(describe(t.Value)), nil

	default:
		return "", nil
	}
}

// isTransportFault reports whether a stream stopped because the upstream or
// the caller gave up, as opposed to yielding something unreadable.
func isTransportFault(err error) bool {
	var gwErr *core.GatewayError
	return errors.As(err, &gwErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// fromChoices applies the choices rule to the first element only.
func (n *Normalizer) fromChoices(choices []any) (string, bool) {
	if len(choices) == 0 {
		return "", false
	}

	switch first := choices[0].(type) {
	case core.Choice:
		return fromChoice(&first)
	case *core.Choice:
		if first == nil {
			return "", false
		}
		return fromChoice(first)
	}

	m, ok := asMapping(choices[0])
	if !ok {
		return "", false
	}
	if msg, ok := m.Get("message"); ok {
		if inner, ok := asMapping(msg); ok {
			if s, ok := inner.GetString("content"); ok && s != "" {
				return s, true
			}
		}
	}
	if s, ok := m.GetString("text"); ok && s != "" {
		return s, true
	}
	return m.firstString(n.opts.ChoiceKeys)
}

func fromChoice(c *core.Choice) (string, bool) {
	if c.Message != nil && c.Message.Content != "" {
		return c.Message.Content, true
	}
	if c.Text != "" {
		return c.Text, true
	}
	return "", false
}

// fromMapping scans the configured keys, then every key for a non-empty string.
func (n *Normalizer) fromMapping(m Mapping) (string, bool) {
	if s, ok := m.firstString(n.opts.ReplyKeys); ok {
		return s, true
	}
	for _, f := range m.Fields {
		if s, ok := f.Value.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// fromStream consumes the whole stream and concatenates the chunks.
func (n *Normalizer) fromStream(s ChunkStream) (string, error) {
	if s.Seq == nil {
		return "", ErrNotIterable
	}

	var out strings.Builder
	for chunk, err := range s.Seq {
		if err != nil {
			return out.String(), err
		}
		n.appendChunk(&out, chunk)
	}
	return out.String(), nil
}

func (n *Normalizer) appendChunk(out *strings.Builder, chunk any) {
	switch c := chunk.(type) {
	case nil:
		return
	case string:
		out.WriteString(c)
		return
	case []byte:
		out.Write(c)
		return
	}

	m, ok := asMapping(chunk)
	if !ok {
		out.WriteString(describe(chunk))
		return
	}

	if s, ok := m.firstString(n.opts.ChunkKeys); ok {
		out.WriteString(s)
	}

	v, ok := m.Get("choices")
	if !ok {
		return
	}
	choices, ok := asList(v)
	if !ok {
		return
	}
	for _, choice := range choices {
		cm, ok := asMapping(choice)
		if !ok {
			continue
		}
		if s, ok := cm.GetString("delta"); ok {
			out.WriteString(s)
			continue
		}
		if delta, ok := cm.Get("delta"); ok {
			if dm, ok := asMapping(delta); ok {
				if s, ok := dm.GetString("content"); ok {
					out.WriteString(s)
					continue
				}
			}
		}
		if s, ok := cm.GetString("text"); ok {
			out.WriteString(s)
		}
	}
}
