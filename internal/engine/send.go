package engine

import (
	"context"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/observability"
	"github.com/davidbz/conduit/internal/transport"
)

// Chat appends a user message and sends the conversation.
func (e *Engine) Chat(ctx context.Context, text string, overrides ...domain.Options) (string, error) {
	e.conv.User(text)
	return e.Send(ctx, overrides...)
}

// Send performs a non-streaming call and appends one assistant message.
func (e *Engine) Send(ctx context.Context, overrides ...domain.Options) (string, error) {
	opts := e.resolve(false, overrides)
	body, err := e.fetch(ctx, opts)
	if err != nil {
		return "", err
	}

	content := e.adapter.ParseContent(body)
	e.conv.Assistant(content)
	return content, nil
}

// Parse is Send followed by the configured post-processor: the Parser
// option when set, JSON extraction when JSON is set, the text otherwise.
func (e *Engine) Parse(ctx context.Context, overrides ...domain.Options) (any, error) {
	opts := e.resolve(false, overrides)
	content, err := e.Send(ctx, overrides...)
	if err != nil {
		return nil, err
	}
	return postProcess(opts, content)
}

// SendExtended performs a non-streaming call and returns content,
// thinking, tool calls and priced usage. The conversation receives the
// thinking trace, then each tool call, then the assistant text.
func (e *Engine) SendExtended(ctx context.Context, overrides ...domain.Options) (*domain.Response, error) {
	opts := e.resolve(false, overrides)
	opts.Extended = true

	body, err := e.fetch(ctx, opts)
	if err != nil {
		return nil, err
	}

	content := e.adapter.ParseContent(body)
	thinking := e.adapter.ParseThinking(body)
	calls := e.adapter.ParseToolCalls(body)

	var pending []domain.Message
	if thinking != "" {
		pending = append(pending, domain.Message{Role: domain.RoleThinking, Text: thinking})
	}
	for _, call := range calls {
		pending = append(pending, domain.Message{Role: domain.RoleToolCall, ToolCall: &call})
	}
	if content != "" || len(calls) == 0 {
		pending = append(pending, domain.Message{Role: domain.RoleAssistant, Text: content})
	}
	for _, msg := range pending {
		e.conv.Append(msg)
	}

	resp := &domain.Response{
		Service:   opts.Service,
		Model:     opts.Model,
		Content:   content,
		Thinking:  thinking,
		ToolCalls: calls,
		Usage:     e.usage(opts.Model, e.adapter.ParseUsage(body)),
		Messages:  e.conv.Messages(),
	}
	if resp.Parsed, err = postProcessOptional(opts, content); err != nil {
		return resp, err
	}
	return resp, nil
}

// fetch sends a non-streaming request and returns the full body.
func (e *Engine) fetch(ctx context.Context, opts domain.Options) ([]byte, error) {
	callCtx, cancel := e.callContext(observability.WithCall(ctx, opts.Service, opts.Model))
	defer cancel()

	logger := observability.FromContext(callCtx)

	resp, err := e.open(callCtx, opts)
	if err != nil {
		logger.Warn("completion failed", observability.Error(err))
		return nil, err
	}

	body, err := transport.ReadAll(callCtx, opts.Service, resp)
	if err != nil {
		logger.Warn("completion failed", observability.Error(err))
		return nil, err
	}
	if msg := e.adapter.ParseError(body); msg != "" {
		return nil, &domain.TransportError{Service: opts.Service, StatusCode: resp.StatusCode, Message: msg}
	}

	logger.Debug("completion received", observability.Int("body_bytes", len(body)))
	return body, nil
}
