// Package fallback walks the provider x model attempt matrix and returns the
// first usable reply.
package fallback

import (
	"context"
	"fmt"
	"time"

	"chatgate/internal/core"
)

// Config holds the fixed inputs of every orchestration.
type Config struct {
	Models       []string
	SystemPrompt string
	// Backoff is waited after a failed attempt, except after the last one
	Backoff time.Duration
	// AttemptTimeout bounds each upstream call; zero means no bound
	AttemptTimeout time.Duration
}

// Hooks observe orchestration progress. Implementations must be safe for
// concurrent use.
type Hooks interface {
	OnAttempt(provider, model string, outcome Outcome, duration time.Duration)
	OnComplete(result string)
}

// Results reported to Hooks.OnComplete.
const (
	ResultSuccess   = "success"
	ResultExhausted = "exhausted"
	ResultCancelled = "cancelled"
)

// Result is a successful orchestration.
type Result struct {
	Reply    string
	Provider string
	Model    string
	Attempts core.AttemptLog
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHooks installs observation hooks.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) {
		o.hooks = h
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = fn
	}
}

// Orchestrator tries attempts sequentially until one yields a reply.
// It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	upstream  core.Upstream
	providers core.ProviderSource
	extractor core.ReplyExtractor
	cfg       Config
	hooks     Hooks
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator.
func New(upstream core.Upstream, providers core.ProviderSource, extractor core.ReplyExtractor, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		upstream:  upstream,
		providers: providers,
		extractor: extractor,
		cfg:       cfg,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Plan returns the attempt matrix a call to Complete would walk right now.
func (o *Orchestrator) Plan() []core.Attempt {
	var providers []*core.Provider
	if o.providers != nil {
		providers = o.providers.Load()
	}
	return buildAttempts(providers, o.cfg.Models)
}

// Complete returns the first non-empty reply for message.
//
// When no attempt succeeds the error is a *core.GatewayError of type
// exhausted_error wrapping an *ExhaustedError. A cancelled ctx stops the walk
// and returns the context error.
func (o *Orchestrator) Complete(ctx context.Context, message string) (*Result, error) {
	if message == "" {
		return nil, core.NewInvalidRequestError("Empty message", nil)
	}

	logger := core.LoggerFrom(ctx)
	attempts := o.Plan()
	messages := o.messages(message)
	log := make(core.AttemptLog, 0, len(attempts))
	var lastErr error

	for i, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			o.complete(ResultCancelled)
			return nil, fmt.Errorf("chat completion cancelled after %d attempts: %w", len(log), err)
		}

		log = append(log, record(attempt))
		res := o.try(ctx, attempt, messages)
		o.observe(res)

		switch res.Outcome {
		case OutcomeAccepted:
			logger.Info("attempt accepted",
				"provider", attempt.ProviderName(),
				"model", attempt.Model,
				"attempts", len(log),
				"duration", res.Duration,
			)
			o.complete(ResultSuccess)
			return &Result{
				Reply:    res.Reply,
				Provider: attempt.ProviderName(),
				Model:    attempt.Model,
				Attempts: log,
			}, nil

		case OutcomeEmpty:
			logger.Info("attempt returned empty reply",
				"provider", attempt.ProviderName(),
				"model", attempt.Model,
			)

		case OutcomeFailed:
			lastErr = res.Err
			logger.Warn("attempt failed",
				"provider", attempt.ProviderName(),
				"model", attempt.Model,
				"error", res.Err,
			)
			if i == len(attempts)-1 || o.cfg.Backoff <= 0 {
				continue
			}
			if err := o.sleep(ctx, o.cfg.Backoff); err != nil {
				o.complete(ResultCancelled)
				return nil, fmt.Errorf("chat completion cancelled after %d attempts: %w", len(log), err)
			}
		}
	}

	o.complete(ResultExhausted)
	exhausted := &ExhaustedError{Attempts: log, LastErr: lastErr}
	logger.Error("all attempts exhausted", "attempts", len(log), "last_error", lastErr)
	return nil, core.NewExhaustedError(exhausted.Error(), exhausted)
}

// try runs one attempt. A panicking upstream counts as a failed attempt.
func (o *Orchestrator) try(ctx context.Context, attempt core.Attempt, messages []core.Message) (res AttemptResult) {
	res.Attempt = attempt
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("upstream panic: %v", r)
		}
		res.Duration = time.Since(start)
	}()

	attemptCtx := ctx
	if o.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()
	}

	raw, err := o.upstream.CreateCompletion(attemptCtx, &core.CompletionRequest{
		Provider: attempt.Provider,
		Model:    attempt.Model,
		Messages: messages,
	})
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	// Streams are drained here, still under the attempt deadline.
	reply, err := o.extractor.ExtractReply(raw)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}
	res.Reply = reply
	if res.Reply == "" {
		res.Outcome = OutcomeEmpty
		return res
	}
	res.Outcome = OutcomeAccepted
	return res
}

func (o *Orchestrator) messages(user string) []core.Message {
	msgs := make([]core.Message, 0, 2)
	if o.cfg.SystemPrompt != "" {
		msgs = append(msgs, core.Message{Role: core.RoleSystem, Content: o.cfg.SystemPrompt})
	}
	return append(msgs, core.Message{Role: core.RoleUser, Content: user})
}

func (o *Orchestrator) observe(res AttemptResult) {
	if o.hooks != nil {
		o.hooks.OnAttempt(res.Attempt.ProviderName(), res.Attempt.Model, res.Outcome, res.Duration)
	}
}

func (o *Orchestrator) complete(result string) {
	if o.hooks != nil {
		o.hooks.OnComplete(result)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
