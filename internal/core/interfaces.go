// Package core defines the core interfaces and types for the chat gateway.
package core

import "context"

// Upstream is the chat-completion collaborator consumed by the fallback
// orchestrator. The returned value is deliberately untyped: it may be a
// string, a *ChatCompletion, a JSON mapping, a chunk stream or anything else,
// and is turned into text by the normalizer.
type Upstream interface {
	CreateCompletion(ctx context.Context, req *CompletionRequest) (any, error)
}

// ProviderSource lists the provider handles to try after the default attempt.
type ProviderSource interface {
	Load() []*Provider
}

// ReplyExtractor turns one raw upstream result into a trimmed reply. The
// error is set only when the result was cut short by an upstream or context
// fault, in which case the attempt failed rather than produced text.
type ReplyExtractor interface {
	ExtractReply(raw any) (string, error)
}
