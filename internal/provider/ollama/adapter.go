// Package ollama implements the adapter for a local Ollama server.
// Streams are newline-delimited JSON ending with a "done": true record.
package ollama

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/provider/wire"
)

// DefaultBaseURL is the default local Ollama endpoint.
const DefaultBaseURL = "http://localhost:11434"

// Adapter implements domain.Adapter for Ollama.
type Adapter struct {
	baseURL string
}

// New creates an adapter. An empty baseURL uses DefaultBaseURL.
func New(baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{baseURL: baseURL}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Think    bool          `json:"think,omitempty"`
	Format   string        `json:"format,omitempty"`
	Options  *modelOptions `json:"options,omitempty"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type modelOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Service returns "ollama".
func (a *Adapter) Service() string {
	return "ollama"
}

// Local is always true.
func (a *Adapter) Local() bool {
	return true
}

// BuildRequest translates options and history into an /api/chat call.
// Ollama streams unless told otherwise, so stream is always sent.
func (a *Adapter) BuildRequest(opts domain.Options, messages []domain.Message) (*domain.WireRequest, error) {
	if opts.Model == "" {
		return nil, &domain.ConfigurationError{Service: a.Service(), Message: "model is required"}
	}

	req := chatRequest{
		Model:  opts.Model,
		Stream: opts.Stream,
		Think:  opts.Think,
	}
	for _, msg := range domain.RemapRoles(messages) {
		out := chatMessage{Role: string(msg.Role), Content: msg.Text}
		for _, attachment := range msg.Attachments {
			if attachment.IsImage() && attachment.Data != "" {
				out.Images = append(out.Images, attachment.Data)
			}
		}
		req.Messages = append(req.Messages, out)
	}
	if opts.JSON {
		req.Format = "json"
	}
	if opts.Temperature != nil || opts.MaxTokens > 0 {
		req.Options = &modelOptions{NumPredict: opts.MaxTokens}
		if opts.Temperature != nil {
			t := *opts.Temperature
			req.Options.Temperature = &t
		}
	}
	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, chatTool{
			Type:     "function",
			Function: toolFunction{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
		})
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
		URL:    wire.JoinURL(a.url(opts), "api/chat"),
		Header: wire.JSONHeaders(),
		Body:   body,
	}, nil
}

// ParseContent reads message.content.
func (a *Adapter) ParseContent(body []byte) string {
	return gjson.GetBytes(body, "message.content").String()
}

// ParseContentChunk reads message.content of one record.
func (a *Adapter) ParseContentChunk(event []byte) string {
	return gjson.GetBytes(event, "message.content").String()
}

// ParseThinking reads message.thinking.
func (a *Adapter) ParseThinking(body []byte) string {
	return gjson.GetBytes(body, "message.thinking").String()
}

// ParseThinkingChunk reads message.thinking of one record.
func (a *Adapter) ParseThinkingChunk(event []byte) string {
	return gjson.GetBytes(event, "message.thinking").String()
}

// ParseToolCalls reads message.tool_calls. Arguments arrive as an object
// and calls carry no id.
func (a *Adapter) ParseToolCalls(body []byte) []domain.ToolCall {
	var calls []domain.ToolCall
	gjson.GetBytes(body, "message.tool_calls").ForEach(func(_, call gjson.Result) bool {
		id := call.Get("id").String()
		if id == "" {
			id = domain.NewToolCallID()
		}
		calls = append(calls, domain.ToolCall{
			ID:    id,
			Name:  call.Get("function.name").String(),
			Input: wire.ObjectOrEmpty(call.Get("function.arguments").Raw),
		})
		return true
	})
	return calls
}

// ParseToolCallsChunk returns complete calls; Ollama never splits them.
func (a *Adapter) ParseToolCallsChunk(event []byte, _ *domain.ToolCallBuffer) []domain.ToolCall {
	return a.ParseToolCalls(event)
}

// ParseUsage reads prompt_eval_count and eval_count from the final record.
func (a *Adapter) ParseUsage(body []byte) *domain.TokenUsage {
	parsed := gjson.ParseBytes(body)
	prompt := parsed.Get("prompt_eval_count")
	eval := parsed.Get("eval_count")
	if !prompt.Exists() && !eval.Exists() {
		return nil
	}
	return &domain.TokenUsage{
		InputTokens:  int(prompt.Int()),
		OutputTokens: int(eval.Int()),
	}
}

// StreamDone reports the final "done": true record.
func (a *Adapter) StreamDone(event []byte) bool {
	return gjson.GetBytes(event, "done").Bool()
}

// ParseError reads {"error":"..."}.
func (a *Adapter) ParseError(body []byte) string {
	return wire.ErrorMessage(body)
}

// ModelsRequest lists installed models from /api/tags.
func (a *Adapter) ModelsRequest(opts domain.Options) (*domain.WireRequest, string, error) {
	return &domain.WireRequest{
		Method: http.MethodGet,
		URL:    wire.JoinURL(a.url(opts), "api/tags"),
		Header: wire.JSONHeaders(),
	}, "models", nil
}

// ParseModel normalizes one /api/tags record.
func (a *Adapter) ParseModel(record json.RawMessage) domain.Model {
	parsed := gjson.ParseBytes(record)

	model := domain.Model{
		Service: a.Service(),
		Model:   parsed.Get("name").String(),
		OwnedBy: parsed.Get("details.family").String(),
	}
	model.Name = model.Model
	if size := parsed.Get("details.parameter_size").String(); size != "" {
		model.Name += " (" + size + ")"
	}
	if modified, err := time.Parse(time.RFC3339Nano, parsed.Get("modified_at").String()); err == nil {
		model.Created = modified.UTC()
	}
	if ctx := parsed.Get("details.context_length"); ctx.Exists() {
		if n, err := strconv.Atoi(ctx.String()); err == nil {
			model.MaxInputTokens = n
		}
	}
	return model
}

// FilterQualityModel drops embedding models.
func (a *Adapter) FilterQualityModel(model domain.Model) bool {
	return wire.QualityModel(model.Model, "nomic", "bge-", "minilm")
}

func (a *Adapter) url(opts domain.Options) string {
	if opts.BaseURL != "" {
		return opts.BaseURL
	}
	return a.baseURL
}
