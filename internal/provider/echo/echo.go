// Package echo serves an in-process OpenAI-compatible endpoint that echoes
// the request's messages back. It makes no external calls and answers
// deterministically, for local development and end-to-end tests.
package echo

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/davidbz/conduit/internal/observability"
)

const (
	// Service is the registry name of the echo preset.
	Service = "echo"
	// Model is the only model the endpoint answers for.
	Model = "echo4"

	chunkDelay = 10 * time.Millisecond
)

// Handler implements the chat completions and model list endpoints.
type Handler struct {
	delay  time.Duration
	models map[string]bool
	now    func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithChunkDelay sets the pause between streamed fragments.
func WithChunkDelay(delay time.Duration) Option {
	return func(h *Handler) {
		h.delay = delay
	}
}

// NewHandler creates an echo endpoint.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		delay:  chunkDelay,
		models: map[string]bool{Model: true},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP routes on the path suffix so the handler can be mounted under
// any prefix.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/models"):
		h.listModels(w)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/chat/completions"):
		h.complete(w, r)
	default:
		writeError(w, http.StatusNotFound, "unknown endpoint: "+r.Method+" "+r.URL.Path)
	}
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	model := gjson.GetBytes(body, "model").String()
	if !h.models[model] {
		writeError(w, http.StatusNotFound, fmt.Sprintf("model %s is not supported by echo provider", model))
		return
	}

	content := buildEchoContent(gjson.GetBytes(body, "messages").Array())
	tokens := countTokens(content)

	logger := observability.FromContext(r.Context())
	logger.Debug("echoing request", observability.Int("tokens", tokens))

	id := fmt.Sprintf("echo-%d", h.now().UnixNano())
	if gjson.GetBytes(body, "stream").Bool() {
		includeUsage := gjson.GetBytes(body, "stream_options.include_usage").Bool()
		h.stream(w, r, id, model, content, tokens, includeUsage)
		return
	}

	resp := h.envelope(id, "chat.completion", model)
	resp, _ = sjson.Set(resp, "choices.0.index", 0)
	resp, _ = sjson.Set(resp, "choices.0.message.role", "assistant")
	resp, _ = sjson.Set(resp, "choices.0.message.content", content)
	resp, _ = sjson.Set(resp, "choices.0.finish_reason", "stop")
	resp = withUsage(resp, tokens)

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, resp)
}

func (h *Handler) stream(
	w http.ResponseWriter,
	r *http.Request,
	id, model, content string,
	tokens int,
	includeUsage bool,
) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	send := func(chunk string) {
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		flusher.Flush()
	}

	for i, fragment := range splitWords(content) {
		if i > 0 && h.delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(h.delay):
			}
		}

		chunk := h.envelope(id, "chat.completion.chunk", model)
		chunk, _ = sjson.Set(chunk, "choices.0.index", 0)
		if i == 0 {
			chunk, _ = sjson.Set(chunk, "choices.0.delta.role", "assistant")
		}
		chunk, _ = sjson.Set(chunk, "choices.0.delta.content", fragment)
		send(chunk)
	}

	final := h.envelope(id, "chat.completion.chunk", model)
	final, _ = sjson.Set(final, "choices.0.index", 0)
	final, _ = sjson.SetRaw(final, "choices.0.delta", "{}")
	final, _ = sjson.Set(final, "choices.0.finish_reason", "stop")
	send(final)

	if includeUsage {
		usage := h.envelope(id, "chat.completion.chunk", model)
		usage, _ = sjson.SetRaw(usage, "choices", "[]")
		send(withUsage(usage, tokens))
	}

	send("[DONE]")
}

func (h *Handler) listModels(w http.ResponseWriter) {
	resp := `{"object":"list","data":[]}`
	i := 0
	for model := range h.models {
		path := fmt.Sprintf("data.%d", i)
		resp, _ = sjson.Set(resp, path+".id", model)
		resp, _ = sjson.Set(resp, path+".object", "model")
		resp, _ = sjson.Set(resp, path+".created", 0)
		resp, _ = sjson.Set(resp, path+".owned_by", "conduit")
		i++
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, resp)
}

func (h *Handler) envelope(id, object, model string) string {
	out, _ := sjson.Set(`{}`, "id", id)
	out, _ = sjson.Set(out, "object", object)
	out, _ = sjson.Set(out, "created", h.now().Unix())
	out, _ = sjson.Set(out, "model", model)
	return out
}

func withUsage(resp string, tokens int) string {
	// Echo returns the same size it was sent.
	resp, _ = sjson.Set(resp, "usage.prompt_tokens", tokens)
	resp, _ = sjson.Set(resp, "usage.completion_tokens", tokens)
	resp, _ = sjson.Set(resp, "usage.total_tokens", 2*tokens)
	return resp
}

func writeError(w http.ResponseWriter, status int, message string) {
	body, _ := sjson.Set(`{}`, "error.message", message)
	body, _ = sjson.Set(body, "error.type", "invalid_request_error")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// buildEchoContent renders one "[role]: text" line per message. Content
// may be a string or an array of typed parts.
func buildEchoContent(messages []gjson.Result) string {
	var builder strings.Builder
	for _, msg := range messages {
		content := msg.Get("content")
		text := content.String()
		if content.IsArray() {
			var parts []string
			for _, part := range content.Array() {
				if part.Get("type").String() == "text" {
					parts = append(parts, part.Get("text").String())
				}
			}
			text = strings.Join(parts, " ")
		}
		fmt.Fprintf(&builder, "[%s]: %s\n", msg.Get("role").String(), text)
	}
	return builder.String()
}

// countTokens performs simple word-based token counting.
func countTokens(content string) int {
	return len(strings.Fields(content))
}

// splitWords cuts s into fragments that each end with their trailing
// whitespace, so joining them restores s exactly.
func splitWords(s string) []string {
	var out []string
	start := 0
	for i := 1; i < len(s); i++ {
		if isSpace(s[i-1]) && !isSpace(s[i]) {
			out = append(out, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
