package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"chatgate/internal/core"
	"chatgate/internal/normalize"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	if cfg.Default.BaseURL == "" {
		cfg.Default.BaseURL = server.URL
	}
	return New(server.Client(), cfg), server
}

func chatRequest(p *core.Provider) *core.CompletionRequest {
	return &core.CompletionRequest{
		Provider: p,
		Model:    "gpt-4o",
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: "be nice"},
			{Role: core.RoleUser, Content: "hello"},
		},
	}
}

func TestCreateCompletion_RequestShape(t *testing.T) {
	var (
		gotPath    string
		gotHeaders http.Header
		gotBody    completionBody
	)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hi there"}}]}`))
	}, Config{Default: core.Provider{APIKey: "sk-default"}})

	raw, err := client.CreateCompletion(context.Background(), chatRequest(nil))
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-default", gotHeaders.Get("Authorization"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, acceptEncoding, gotHeaders.Get("Accept-Encoding"))
	assert.Equal(t, "gpt-4o", gotBody.Model)
	assert.False(t, gotBody.Stream)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, core.RoleSystem, gotBody.Messages[0].Role)

	doc, ok := raw.(gjson.Result)
	require.True(t, ok, "expected a JSON document, got %T", raw)
	assert.Equal(t, "Hi there", normalize.Extract(doc))
}

func TestCreateCompletion_NamedProvider(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		_, _ = w.Write([]byte(`plain reply`))
	}))
	defer server.Close()

	client := New(server.Client(), Config{Default: core.Provider{BaseURL: "http://unused.invalid"}})
	provider := &core.Provider{
		Name:    "FreeGpt",
		BaseURL: server.URL + "/v1/",
		APIKey:  "sk-free",
		Headers: map[string]string{"X-Origin": "chatgate"},
	}

	raw, err := client.CreateCompletion(context.Background(), chatRequest(provider))
	require.NoError(t, err)
	assert.Equal(t, "plain reply", raw)
	assert.Equal(t, "Bearer sk-free", gotHeaders.Get("Authorization"))
	assert.Equal(t, "chatgate", gotHeaders.Get("X-Origin"))
}

func TestCreateCompletion_BodyShapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantReply string
	}{
		{"mapping", `{"reply":"from mapping"}`, "from mapping"},
		{"json string", `"quoted text"`, "quoted text"},
		{"legacy text choices", `{"choices":[{"text":"legacy"}]}`, "legacy"},
		{"choices with flat message", `{"choices":[{"message":"flat"}]}`, "flat"},
		{"choices without content fall back to reply", `{"choices":[{"index":0,"finish_reason":"stop"}],"reply":"Hi"}`, "Hi"},
		{"choices without any text keep the wire body", `{"choices":[{"index":0}], "n":1}`, `{"choices":[{"index":0}], "n":1}`},
		{"plain text", "  just text \n", "just text"},
		{"empty body", "", ""},
		{"sse without content type", "data: {\"text\":\"Hel\"}\n\ndata: \"lo\"\n\ndata: [DONE]\n\n", "Hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}, Config{})

			raw, err := client.CreateCompletion(context.Background(), chatRequest(nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantReply, normalize.Extract(raw))
		})
	}
}

func TestCreateCompletion_Stream(t *testing.T) {
	var gotStream bool
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body completionBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotStream = body.Stream

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		_, _ = io.WriteString(w, "event: message\ndata: {\"choices\":[{\"delta\":{\"content\":\"lo!\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}, Config{Stream: true})

	raw, err := client.CreateCompletion(context.Background(), chatRequest(nil))
	require.NoError(t, err)
	assert.True(t, gotStream)

	_, ok := raw.(iter.Seq2[any, error])
	require.True(t, ok, "expected a chunk stream, got %T", raw)
	assert.Equal(t, "Hello!", normalize.Extract(raw))
}

func TestCreateCompletion_StreamWithoutData(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": nothing here\n\n")
	}, Config{})

	raw, err := client.CreateCompletion(context.Background(), chatRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "", normalize.Extract(raw))
}

func TestCreateCompletion_ContentEncoding(t *testing.T) {
	const payload = `{"choices":[{"message":{"content":"compressed"}}]}`

	t.Run("brotli", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var buf bytes.Buffer
			bw := brotli.NewWriter(&buf)
			_, _ = bw.Write([]byte(payload))
			_ = bw.Close()
			w.Header().Set("Content-Encoding", "br")
			_, _ = w.Write(buf.Bytes())
		}, Config{})

		raw, err := client.CreateCompletion(context.Background(), chatRequest(nil))
		require.NoError(t, err)
		assert.Equal(t, "compressed", normalize.Extract(raw))
	})

	t.Run("gzip", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var buf bytes.Buffer
			gw := gzip.NewWriter(&buf)
			_, _ = gw.Write([]byte(payload))
			_ = gw.Close()
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(buf.Bytes())
		}, Config{})

		raw, err := client.CreateCompletion(context.Background(), chatRequest(nil))
		require.NoError(t, err)
		assert.Equal(t, "compressed", normalize.Extract(raw))
	})

	t.Run("unsupported", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "zstd")
			_, _ = w.Write([]byte("??"))
		}, Config{})

		_, err := client.CreateCompletion(context.Background(), chatRequest(nil))
		var gwErr *core.GatewayError
		require.ErrorAs(t, err, &gwErr)
		assert.Equal(t, core.ErrorTypeProvider, gwErr.Type)
	})
}

func TestCreateCompletion_ErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType core.ErrorType
		wantMsg  string
	}{
		{"server error", http.StatusInternalServerError, `{"error":{"message":"overloaded"}}`, core.ErrorTypeProvider, "overloaded"},
		{"rate limit", http.StatusTooManyRequests, `slow down`, core.ErrorTypeRateLimit, "slow down"},
		{"auth", http.StatusUnauthorized, ``, core.ErrorTypeAuthentication, "Unauthorized"},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"unknown model"}}`, core.ErrorTypeInvalidRequest, "unknown model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, Config{})

			_, err := client.CreateCompletion(context.Background(), chatRequest(nil))
			var gwErr *core.GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.wantType, gwErr.Type)
			assert.Equal(t, tt.wantMsg, gwErr.Message)
			assert.Equal(t, core.DefaultProviderLabel, gwErr.Provider)
		})
	}
}

func TestCreateCompletion_ContextCancelled(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.CreateCompletion(ctx, chatRequest(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCreateCompletion_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Config{CircuitBreaker: &CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour}})

	flaky := &core.Provider{Name: "Flaky", BaseURL: server.URL}
	for range 2 {
		_, err := client.CreateCompletion(context.Background(), chatRequest(flaky))
		require.Error(t, err)
	}
	assert.Equal(t, "open", client.BreakerState("Flaky"))

	_, err := client.CreateCompletion(context.Background(), chatRequest(flaky))
	var gwErr *core.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusServiceUnavailable, gwErr.StatusCode)
	assert.Contains(t, gwErr.Message, "circuit breaker is open")
	assert.Equal(t, int32(2), calls.Load())

	// Breakers are per provider.
	assert.Equal(t, "closed", client.BreakerState(core.DefaultProviderLabel))
	_, _ = client.CreateCompletion(context.Background(), chatRequest(nil))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCreateCompletion_NilRequest(t *testing.T) {
	client := New(http.DefaultClient, Config{})
	_, err := client.CreateCompletion(context.Background(), nil)
	var gwErr *core.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, core.ErrorTypeInvalidRequest, gwErr.Type)
}
