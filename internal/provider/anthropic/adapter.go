// Package anthropic implements the adapter for the Anthropic Messages API.
package anthropic

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/provider/wire"
)

const (
	// DefaultBaseURL is the public Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com/v1"

	apiVersion            = "2023-06-01"
	defaultMaxTokens      = 4096
	defaultThinkingBudget = 1024
)

// Adapter implements domain.Adapter for Anthropic.
type Adapter struct {
	apiKey  string
	baseURL string
}

// New creates an adapter. An empty baseURL uses DefaultBaseURL.
func New(apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{apiKey: apiKey, baseURL: baseURL}
}

// Messages API request structures.
type messagesRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []message       `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Thinking    *thinkingConfig `json:"thinking,omitempty"`
	Tools       []tool          `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *blockSource `json:"source,omitempty"`
}

type blockSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type thinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Service returns "anthropic".
func (a *Adapter) Service() string {
	return "anthropic"
}

// Local is always false.
func (a *Adapter) Local() bool {
	return false
}

// BuildRequest translates options and history into a Messages API call.
// System messages are lifted into the system field and consecutive
// messages of one role are merged to keep strict alternation.
func (a *Adapter) BuildRequest(opts domain.Options, messages []domain.Message) (*domain.WireRequest, error) {
	apiKey := a.key(opts)
	if apiKey == "" {
		return nil, &domain.ConfigurationError{Service: a.Service(), Message: "missing API key"}
	}
	if opts.Model == "" {
		return nil, &domain.ConfigurationError{Service: a.Service(), Message: "model is required"}
	}

	req := messagesRequest{
		Model:     opts.Model,
		MaxTokens: defaultMaxTokens,
		Stream:    opts.Stream,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	var system []string
	for _, msg := range domain.RemapRoles(messages) {
		if msg.Role == domain.RoleSystem {
			system = append(system, msg.Text)
			continue
		}
		req.Messages = appendMerged(req.Messages, toMessage(msg))
	}
	for i, text := range system {
		if i > 0 {
			req.System += "\n\n"
		}
		req.System += text
	}

	// Extended thinking only accepts the default temperature.
	if opts.Think {
		budget := opts.MaxThinkingTokens
		if budget <= 0 {
			budget = defaultThinkingBudget
		}
		req.Thinking = &thinkingConfig{Type: "enabled", BudgetTokens: budget}
		if req.MaxTokens <= budget {
			req.MaxTokens = budget + defaultMaxTokens
		}
	} else if opts.Temperature != nil {
		t := *opts.Temperature
		req.Temperature = &t
	}

	for _, t := range opts.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &domain.ConfigurationError{Service: a.Service(), Message: "failed to encode request: " + err.Error()}
	}
	body, err = wire.ApplyExtra(body, opts.Extra)
	if err != nil {
		return nil, &domain.ConfigurationError{Service: a.Service(), Message: "invalid extra option: " + err.Error()}
	}

	return &domain.WireRequest{
		Method: http.MethodPost,
		URL:    wire.JoinURL(a.url(opts), "messages"),
		Header: a.headers(apiKey),
		Body:   body,
	}, nil
}

// ParseContent joins the text blocks of a full response.
func (a *Adapter) ParseContent(body []byte) string {
	return joinBlocks(body, "text", "text")
}

// ParseContentChunk reads a text_delta.
func (a *Adapter) ParseContentChunk(event []byte) string {
	return deltaText(event, "text_delta", "delta.text")
}

// ParseThinking joins the thinking blocks of a full response.
func (a *Adapter) ParseThinking(body []byte) string {
	return joinBlocks(body, "thinking", "thinking")
}

// ParseThinkingChunk reads a thinking_delta.
func (a *Adapter) ParseThinkingChunk(event []byte) string {
	return deltaText(event, "thinking_delta", "delta.thinking")
}

// ParseToolCalls extracts tool_use blocks of a full response.
func (a *Adapter) ParseToolCalls(body []byte) []domain.ToolCall {
	var calls []domain.ToolCall
	gjson.GetBytes(body, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() != "tool_use" {
			return true
		}
		id := block.Get("id").String()
		if id == "" {
			id = domain.NewToolCallID()
		}
		calls = append(calls, domain.ToolCall{
			ID:    id,
			Name:  block.Get("name").String(),
			Input: wire.ObjectOrEmpty(block.Get("input").Raw),
		})
		return true
	})
	return calls
}

// ParseToolCallsChunk tracks tool_use blocks by content block index:
// the block start records id and name, input_json_delta events carry
// argument fragments, and the block stop completes the call.
func (a *Adapter) ParseToolCallsChunk(event []byte, buf *domain.ToolCallBuffer) []domain.ToolCall {
	if buf == nil {
		return nil
	}

	parsed := gjson.ParseBytes(event)
	key := strconv.FormatInt(parsed.Get("index").Int(), 10)

	switch parsed.Get("type").String() {
	case "content_block_start":
		block := parsed.Get("content_block")
		if block.Get("type").String() != "tool_use" {
			return nil
		}
		buf.Add(key, block.Get("id").String(), block.Get("name").String(), "")
	case "content_block_delta":
		if parsed.Get("delta.type").String() != "input_json_delta" {
			return nil
		}
		if call, done := buf.Add(key, "", "", parsed.Get("delta.partial_json").String()); done {
			return []domain.ToolCall{call}
		}
	case "content_block_stop":
		if call, done := buf.Close(key); done {
			return []domain.ToolCall{call}
		}
	}
	return nil
}

// ParseUsage reads usage from a full response or from the message_start
// and message_delta stream events. Output counts are cumulative.
func (a *Adapter) ParseUsage(body []byte) *domain.TokenUsage {
	parsed := gjson.ParseBytes(body)

	usage := parsed.Get("usage")
	if parsed.Get("type").String() == "message_start" {
		usage = parsed.Get("message.usage")
	}
	if !usage.IsObject() {
		return nil
	}

	input := usage.Get("input_tokens").Int() +
		usage.Get("cache_creation_input_tokens").Int() +
		usage.Get("cache_read_input_tokens").Int()
	return &domain.TokenUsage{
		InputTokens:  int(input),
		OutputTokens: int(usage.Get("output_tokens").Int()),
	}
}

// StreamDone reports the message_stop event.
func (a *Adapter) StreamDone(event []byte) bool {
	return gjson.GetBytes(event, "type").String() == "message_stop"
}

// ParseError reads {"type":"error","error":{"message":...}}.
func (a *Adapter) ParseError(body []byte) string {
	return wire.ErrorMessage(body)
}

// ModelsRequest lists models from /models.
func (a *Adapter) ModelsRequest(opts domain.Options) (*domain.WireRequest, string, error) {
	apiKey := a.key(opts)
	if apiKey == "" {
		return nil, "", &domain.ConfigurationError{Service: a.Service(), Message: "missing API key"}
	}

	return &domain.WireRequest{
		Method: http.MethodGet,
		URL:    wire.JoinURL(a.url(opts), "models?limit=1000"),
		Header: a.headers(apiKey),
	}, "data", nil
}

// ParseModel normalizes one /models record.
func (a *Adapter) ParseModel(record json.RawMessage) domain.Model {
	parsed := gjson.ParseBytes(record)

	model := domain.Model{
		Service: a.Service(),
		Model:   parsed.Get("id").String(),
		Name:    parsed.Get("display_name").String(),
		OwnedBy: a.Service(),
	}
	if model.Name == "" {
		model.Name = model.Model
	}
	if created, err := time.Parse(time.RFC3339, parsed.Get("created_at").String()); err == nil {
		model.Created = created.UTC()
	}
	return model
}

// FilterQualityModel drops the retired claude-2 and instant families.
func (a *Adapter) FilterQualityModel(model domain.Model) bool {
	return wire.QualityModel(model.Model, "claude-2", "claude-instant")
}

func (a *Adapter) key(opts domain.Options) string {
	if opts.APIKey != "" {
		return opts.APIKey
	}
	return a.apiKey
}

func (a *Adapter) url(opts domain.Options) string {
	if opts.BaseURL != "" {
		return opts.BaseURL
	}
	return a.baseURL
}

func (a *Adapter) headers(apiKey string) http.Header {
	header := wire.JSONHeaders()
	header.Set("x-api-key", apiKey)
	header.Set("anthropic-version", apiVersion)
	return header
}

func toMessage(msg domain.Message) message {
	role := "user"
	if msg.Role == domain.RoleAssistant {
		role = "assistant"
	}

	var blocks []contentBlock
	for _, attachment := range msg.Attachments {
		blocks = append(blocks, toBlock(attachment))
	}
	if msg.Text != "" || len(blocks) == 0 {
		blocks = append(blocks, contentBlock{Type: "text", Text: msg.Text})
	}
	return message{Role: role, Content: blocks}
}

func toBlock(attachment domain.Attachment) contentBlock {
	blockType := "image"
	if !attachment.IsImage() {
		blockType = "document"
	}
	if attachment.URL != "" {
		return contentBlock{Type: blockType, Source: &blockSource{Type: "url", URL: attachment.URL}}
	}
	return contentBlock{
		Type: blockType,
		Source: &blockSource{
			Type:      "base64",
			MediaType: attachment.ContentType,
			Data:      attachment.Data,
		},
	}
}

func appendMerged(messages []message, msg message) []message {
	if n := len(messages); n > 0 && messages[n-1].Role == msg.Role {
		messages[n-1].Content = append(messages[n-1].Content, msg.Content...)
		return messages
	}
	return append(messages, msg)
}

func joinBlocks(body []byte, blockType, field string) string {
	var out string
	gjson.GetBytes(body, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == blockType {
			out += block.Get(field).String()
		}
		return true
	})
	return out
}

func deltaText(event []byte, deltaType, path string) string {
	parsed := gjson.ParseBytes(event)
	if parsed.Get("type").String() != "content_block_delta" || parsed.Get("delta.type").String() != deltaType {
		return ""
	}
	return parsed.Get(path).String()
}
