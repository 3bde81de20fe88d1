// Package engine drives one conversation against one provider adapter:
// it builds requests, performs the network call, decodes full or streamed
// responses and commits finalized messages to the conversation.
package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/observability"
	"github.com/davidbz/conduit/internal/pricing"
	"github.com/davidbz/conduit/internal/provider/registry"
	"github.com/davidbz/conduit/internal/transport"
)

// Engine owns a conversation, default options and one abort signal shared
// by every call made through it. Only one call may be in flight per
// conversation; Abort may be called from any goroutine.
type Engine struct {
	adapter domain.Adapter
	table   *pricing.Table
	client  *transport.Client
	options domain.Options
	conv    *domain.Conversation

	mu     sync.Mutex
	signal context.Context
	abort  context.CancelCauseFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithOptions sets the instance-level request options.
func WithOptions(opts domain.Options) Option {
	return func(e *Engine) {
		e.options = opts.Clone()
	}
}

// WithConversation continues an existing conversation.
func WithConversation(conv *domain.Conversation) Option {
	return func(e *Engine) {
		if conv != nil {
			e.conv = conv
		}
	}
}

// WithPrompt seeds the conversation with one user message.
func WithPrompt(prompt string) Option {
	return func(e *Engine) {
		e.conv = domain.NewConversationFromPrompt(prompt)
	}
}

// WithMessages seeds the conversation with a copy of msgs.
func WithMessages(msgs []domain.Message) Option {
	return func(e *Engine) {
		e.conv = domain.NewConversationFromMessages(msgs)
	}
}

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.client = transport.NewClient(client)
	}
}

// WithTransport sets the provider transport directly.
func WithTransport(client *transport.Client) Option {
	return func(e *Engine) {
		if client != nil {
			e.client = client
		}
	}
}

// New creates an engine. A nil table uses pricing.Default().
func New(adapter domain.Adapter, table *pricing.Table, opts ...Option) (*Engine, error) {
	if adapter == nil {
		return nil, errors.New("adapter cannot be nil")
	}
	if table == nil {
		table = pricing.Default()
	}

	e := &Engine{
		adapter: adapter,
		table:   table,
		client:  transport.NewClient(nil),
		conv:    domain.NewConversation(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.options.Service = adapter.Service()
	e.signal, e.abort = context.WithCancelCause(context.Background())

	return e, nil
}

// NewFromRegistry creates an engine for a registered service.
func NewFromRegistry(
	reg *registry.Registry,
	service string,
	settings registry.Settings,
	table *pricing.Table,
	opts ...Option,
) (*Engine, error) {
	if reg == nil {
		reg = registry.Default()
	}
	adapter, err := reg.New(service, settings)
	if err != nil {
		return nil, err
	}
	return New(adapter, table, opts...)
}

// Adapter returns the engine's adapter.
func (e *Engine) Adapter() domain.Adapter {
	return e.adapter
}

// Options returns a copy of the instance-level options.
func (e *Engine) Options() domain.Options {
	return e.options.Clone()
}

// Conversation returns the underlying conversation.
func (e *Engine) Conversation() *domain.Conversation {
	return e.conv
}

// Messages returns a snapshot of the conversation.
func (e *Engine) Messages() []domain.Message {
	return e.conv.Messages()
}

// User appends a user message.
func (e *Engine) User(text string, attachments ...domain.Attachment) {
	e.conv.User(text, attachments...)
}

// System appends a system message.
func (e *Engine) System(text string) {
	e.conv.System(text)
}

// Assistant appends an assistant message.
func (e *Engine) Assistant(text string) {
	e.conv.Assistant(text)
}

// Thinking appends a reasoning trace.
func (e *Engine) Thinking(text string) {
	e.conv.Thinking(text)
}

// ToolCall appends a tool invocation record.
func (e *Engine) ToolCall(call domain.ToolCall) {
	e.conv.ToolCall(call)
}

// Abort cancels every call in flight on this engine. Later calls get a
// fresh signal.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.abort(domain.ErrAborted)
	e.signal, e.abort = context.WithCancelCause(context.Background())
}

// callContext derives the context of one call from the caller's context
// and the engine's current abort signal.
func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	e.mu.Lock()
	signal := e.signal
	e.mu.Unlock()

	callCtx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(signal, func() {
		cancel(context.Cause(signal))
	})

	return callCtx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// resolve merges call overrides over the instance options.
func (e *Engine) resolve(stream bool, overrides []domain.Options) domain.Options {
	opts := e.options.Clone()
	for _, override := range overrides {
		opts = domain.Merge(opts, override)
	}
	opts.Service = e.adapter.Service()
	opts.Stream = stream
	return opts
}

// open builds and sends the request for the current conversation.
func (e *Engine) open(ctx context.Context, opts domain.Options) (*http.Response, error) {
	if e.conv.Len() == 0 {
		return nil, &domain.ConfigurationError{Service: opts.Service, Message: "conversation is empty"}
	}

	req, err := e.adapter.BuildRequest(opts.Clone(), e.conv.Messages())
	if err != nil {
		return nil, err
	}

	observability.FromContext(ctx).Debug("dispatching completion",
		observability.Bool("stream", opts.Stream),
		observability.Bool("extended", opts.Extended),
		observability.Int("messages", e.conv.Len()))

	return e.client.Do(ctx, opts.Service, req, e.adapter.ParseError)
}

// usage expands raw token counts with the table's prices.
func (e *Engine) usage(model string, raw *domain.TokenUsage) domain.Usage {
	var entry *pricing.Entry
	if !e.adapter.Local() {
		entry, _ = e.table.Get(e.adapter.Service(), model, pricing.Similar)
	}
	return pricing.Compute(entry, raw, e.adapter.Local())
}

// mergeUsage keeps the largest count seen per field. Providers that
// repeat usage across events report running totals.
func mergeUsage(current, next *domain.TokenUsage) *domain.TokenUsage {
	if next == nil {
		return current
	}
	if current == nil {
		merged := *next
		return &merged
	}
	merged := *current
	merged.InputTokens = max(merged.InputTokens, next.InputTokens)
	merged.OutputTokens = max(merged.OutputTokens, next.OutputTokens)
	return &merged
}
