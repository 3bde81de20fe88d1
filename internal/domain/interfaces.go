package domain

import (
	"encoding/json"
	"net/http"
)

// WireRequest is a provider-specific HTTP request ready to be sent.
type WireRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Adapter translates between canonical types and one provider's wire format.
//
// Every Parse method must be safe to call on any payload, including events
// irrelevant to it: a missing path is "nothing in this payload", never an
// error or a panic.
type Adapter interface {
	// Service returns the provider identifier used for price lookups.
	Service() string

	// Local reports whether the service is self-hosted (always zero cost).
	Local() bool

	// BuildRequest translates options and history into a wire request.
	// It must not mutate its inputs and must be idempotent.
	BuildRequest(opts Options, messages []Message) (*WireRequest, error)

	// ParseContent extracts the final assistant text from a full body.
	ParseContent(body []byte) string

	// ParseContentChunk extracts an assistant text fragment from a stream event.
	ParseContentChunk(event []byte) string

	// ParseThinking extracts the final reasoning trace from a full body.
	ParseThinking(body []byte) string

	// ParseThinkingChunk extracts a reasoning fragment from a stream event.
	ParseThinkingChunk(event []byte) string

	// ParseToolCalls extracts every tool call from a full body.
	ParseToolCalls(body []byte) []ToolCall

	// ParseToolCallsChunk feeds a stream event into buf and returns the
	// tool calls that became complete with it.
	ParseToolCallsChunk(event []byte, buf *ToolCallBuffer) []ToolCall

	// ParseUsage extracts token usage; nil means not present in this payload.
	ParseUsage(body []byte) *TokenUsage

	// StreamDone reports whether event is the wire-specific end marker.
	StreamDone(event []byte) bool

	// ParseError extracts a provider error message from an error body.
	ParseError(body []byte) string

	// ModelsRequest builds the catalog request and returns the JSON path
	// holding the list of model records in the response.
	ModelsRequest(opts Options) (*WireRequest, string, error)

	// ParseModel normalizes one raw catalog record.
	ParseModel(record json.RawMessage) Model

	// FilterQualityModel reports whether a model is suitable for general chat.
	FilterQualityModel(model Model) bool
}
