package core

import "strings"

// Message roles used when building upstream requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultProviderLabel names the "no provider specified" attempt in attempt logs.
const DefaultProviderLabel = "default"

// Provider is a resolved upstream provider handle. It is built once when the
// provider namespace is built and never mutated afterwards.
type Provider struct {
	Name    string
	BaseURL string
	APIKey  string
	Headers map[string]string
}

// Message represents a single message in the chat
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is one upstream call made by the fallback orchestrator.
// A nil Provider lets the upstream client pick its default endpoint.
type CompletionRequest struct {
	Provider *Provider `json:"-"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

// ChatCompletion is a structured, OpenAI-style completion. Upstream
// implementations that decode responses themselves may return it.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Created int64    `json:"created"`
}

// Choice represents a single completion choice. Message is nil for legacy
// text completions which only carry Text.
type Choice struct {
	Message      *Message `json:"message,omitempty"`
	Text         string   `json:"text,omitempty"`
	FinishReason string   `json:"finish_reason"`
	Index        int      `json:"index"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Attempt is one (provider, model) combination of the fallback matrix.
type Attempt struct {
	Provider *Provider
	Model    string
}

// ProviderName returns the provider label used in logs and diagnostics.
func (a Attempt) ProviderName() string {
	if a.Provider == nil {
		return DefaultProviderLabel
	}
	return a.Provider.Name
}

// String renders the attempt as "provider/model".
func (a Attempt) String() string {
	return a.ProviderName() + "/" + a.Model
}

// AttemptRecord is one entry of an AttemptLog.
type AttemptRecord struct {
	Provider string `json:"provider" bson:"provider"`
	Model    string `json:"model" bson:"model"`
}

// AttemptLog is the ordered list of attempts actually tried for one request.
type AttemptLog []AttemptRecord

// String joins the log as "p1/m1, p2/m2".
func (l AttemptLog) String() string {
	parts := make([]string, len(l))
	for i, r := range l {
		parts[i] = r.Provider + "/" + r.Model
	}
	return strings.Join(parts, ", ")
}
