package engine

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/observability"
	"github.com/davidbz/conduit/internal/stream"
	"github.com/davidbz/conduit/internal/transport"
)

// State is the lifecycle stage of one streamed call.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFinalized
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateAborted || s == StateFailed
}

// Stream starts a streaming call and returns its text fragments. The
// conversation receives one assistant message once the sequence has been
// fully drained; breaking out early commits nothing and closes the call.
func (e *Engine) Stream(ctx context.Context, overrides ...domain.Options) (iter.Seq2[string, error], error) {
	opts := e.resolve(true, overrides)
	opts.Extended = false

	handle, err := e.start(ctx, opts)
	if err != nil {
		return nil, err
	}

	return func(yield func(string, error) bool) {
		for event, eventErr := range handle.Events() {
			if eventErr != nil {
				yield("", eventErr)
				return
			}
			if event.Type != domain.EventContent {
				continue
			}
			if !yield(event.Content, nil) {
				handle.Close()
				return
			}
		}
	}, nil
}

// StreamExtended starts a streaming call and returns a handle over its
// typed events.
func (e *Engine) StreamExtended(ctx context.Context, overrides ...domain.Options) (*StreamHandle, error) {
	opts := e.resolve(true, overrides)
	opts.Extended = true
	return e.start(ctx, opts)
}

func (e *Engine) start(ctx context.Context, opts domain.Options) (*StreamHandle, error) {
	callCtx, cancel := e.callContext(observability.WithCall(ctx, opts.Service, opts.Model))
	logger := observability.FromContext(callCtx)

	resp, err := e.open(callCtx, opts)
	if err != nil {
		cancel()
		logger.Warn("stream failed to start", observability.Error(err))
		return nil, err
	}

	logger.Debug("stream started", observability.Bool("extended", opts.Extended))

	return &StreamHandle{
		engine:  e,
		opts:    opts,
		ctx:     callCtx,
		cancel:  cancel,
		logger:  logger,
		resp:    resp,
		decoder: stream.NewDecoder(resp.Body, stream.WithDoneFunc(e.adapter.StreamDone)),
		calls:   domain.NewToolCallBuffer(),
		state:   StateStreaming,
	}, nil
}

// slot records where a message sits in decode order.
type slot struct {
	role domain.Role
	call domain.ToolCall
}

// StreamHandle is one streamed call. Events is single-pass; buffers are
// accumulated as events are decoded and committed to the conversation
// exactly once, when the stream is exhausted.
type StreamHandle struct {
	engine  *Engine
	opts    domain.Options
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	resp    *http.Response
	decoder *stream.Decoder
	calls   *domain.ToolCallBuffer

	mu        sync.Mutex
	state     State
	content   strings.Builder
	thinking  strings.Builder
	toolCalls []domain.ToolCall
	raw       *domain.TokenUsage
	order     []slot
	result    *domain.Response
	err       error
}

// Events returns the typed event sequence. It ends after the stream is
// finalized, or with an error when the call fails or is aborted.
// Iterating again after a break resumes where the previous loop stopped.
func (h *StreamHandle) Events() iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		for {
			events, done, err := h.step()
			for _, event := range events {
				if !yield(event, nil) {
					return
				}
			}
			if err != nil {
				yield(domain.Event{}, err)
				return
			}
			if done {
				return
			}
		}
	}
}

// Complete drains the remaining events and returns the finalized
// response. It is idempotent: later calls return the same result or error.
// Canceling ctx aborts the call.
func (h *StreamHandle) Complete(ctx context.Context) (*domain.Response, error) {
	stop := context.AfterFunc(ctx, h.cancel)
	defer stop()

	for {
		_, done, err := h.step()
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.result, nil
}

// Close abandons the call without committing. It is a no-op once the
// stream is terminal.
func (h *StreamHandle) Close() {
	// Unblocks a read in progress before taking the lock.
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Terminal() {
		return
	}
	h.terminate(StateAborted, &domain.AbortError{Service: h.opts.Service, Cause: context.Canceled})
}

// State returns the current lifecycle stage.
func (h *StreamHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// Buffered returns the content accumulated so far, including after an
// abort or failure.
func (h *StreamHandle) Buffered() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.content.String()
}

// BufferedThinking returns the reasoning accumulated so far.
func (h *StreamHandle) BufferedThinking() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.thinking.String()
}

// step decodes one wire event and returns the typed events it produced.
func (h *StreamHandle) step() ([]domain.Event, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateFinalized:
		return nil, true, nil
	case StateAborted, StateFailed:
		return nil, true, h.err
	}

	if h.ctx.Err() != nil {
		h.fail(transport.Classify(h.ctx, h.opts.Service, context.Cause(h.ctx)))
		return nil, true, h.err
	}

	raw, err := h.decoder.Next()
	if errors.Is(err, io.EOF) {
		return h.finalize(), true, nil
	}
	if err != nil {
		h.fail(transport.Classify(h.ctx, h.opts.Service, err))
		return nil, true, h.err
	}

	adapter := h.engine.adapter
	if msg := adapter.ParseError(raw); msg != "" {
		h.fail(&domain.TransportError{Service: h.opts.Service, StatusCode: h.resp.StatusCode, Message: msg})
		return nil, true, h.err
	}

	var events []domain.Event
	if text := adapter.ParseThinkingChunk(raw); text != "" {
		if h.thinking.Len() == 0 {
			h.order = append(h.order, slot{role: domain.RoleThinking})
		}
		h.thinking.WriteString(text)
		events = append(events, domain.Event{Type: domain.EventThinking, Thinking: text})
	}
	if text := adapter.ParseContentChunk(raw); text != "" {
		if h.content.Len() == 0 {
			h.order = append(h.order, slot{role: domain.RoleAssistant})
		}
		h.content.WriteString(text)
		events = append(events, domain.Event{Type: domain.EventContent, Content: text})
	}
	if calls := adapter.ParseToolCallsChunk(raw, h.calls); len(calls) > 0 {
		events = append(events, h.addToolCalls(calls))
	}
	if usage := adapter.ParseUsage(raw); usage != nil {
		h.raw = mergeUsage(h.raw, usage)
		priced := h.engine.usage(h.opts.Model, h.raw)
		events = append(events, domain.Event{Type: domain.EventUsage, Usage: &priced})
	}
	return events, false, nil
}

func (h *StreamHandle) addToolCalls(calls []domain.ToolCall) domain.Event {
	for _, call := range calls {
		h.toolCalls = append(h.toolCalls, call)
		h.order = append(h.order, slot{role: domain.RoleToolCall, call: call})
	}
	return domain.Event{Type: domain.EventToolCalls, ToolCalls: calls}
}

// finalize is the only commit point of a streamed call.
func (h *StreamHandle) finalize() []domain.Event {
	var events []domain.Event
	if calls := h.calls.Flush(); len(calls) > 0 {
		events = append(events, h.addToolCalls(calls))
	}

	content := h.content.String()
	conv := h.engine.conv
	if h.opts.Extended {
		if content == "" && len(h.toolCalls) == 0 {
			h.order = append(h.order, slot{role: domain.RoleAssistant})
		}
		for _, s := range h.order {
			switch s.role {
			case domain.RoleThinking:
				conv.Thinking(h.thinking.String())
			case domain.RoleToolCall:
				conv.ToolCall(s.call)
			default:
				conv.Assistant(content)
			}
		}
	} else {
		conv.Assistant(content)
	}

	h.result = &domain.Response{
		Service:   h.opts.Service,
		Model:     h.opts.Model,
		Content:   content,
		Thinking:  h.thinking.String(),
		ToolCalls: h.toolCalls,
		Usage:     h.engine.usage(h.opts.Model, h.raw),
		Messages:  conv.Messages(),
	}
	if parsed, err := postProcessOptional(h.opts, content); err == nil {
		h.result.Parsed = parsed
	} else {
		h.logger.Warn("post-processing failed", observability.Error(err))
	}

	h.terminate(StateFinalized, nil)
	h.logger.Debug("stream finalized",
		observability.Int("content_bytes", len(content)),
		observability.Int("tool_calls", len(h.toolCalls)))
	return events
}

func (h *StreamHandle) fail(err error) {
	state := StateFailed
	if domain.IsAbort(err) {
		state = StateAborted
	}
	h.terminate(state, err)

	if state == StateAborted {
		h.logger.Info("stream aborted", observability.Int("buffered_bytes", h.content.Len()))
		return
	}
	h.logger.Warn("stream failed", observability.Error(err))
}

func (h *StreamHandle) terminate(state State, err error) {
	h.state = state
	h.err = err
	h.cancel()
	h.resp.Body.Close()
}
