// Package openai implements the reference adapter for the OpenAI chat
// completions wire format. Request bodies are built from the official
// SDK parameter types; responses are read back into SDK types, with gjson
// covering fields the SDK does not model.
package openai

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/provider/wire"
)

const (
	maxCompletionTokensField = "max_completion_tokens"
	maxTokensField           = "max_tokens"
	documentFilename         = "document.pdf"
)

// Adapter implements domain.Adapter for OpenAI-wire services.
type Adapter struct {
	cfg Config
}

// New creates an adapter. Missing fields fall back to OpenAI defaults.
func New(cfg Config) *Adapter {
	if cfg.Service == "" {
		cfg.Service = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxTokensField == "" {
		cfg.MaxTokensField = maxTokensField
	}
	return &Adapter{cfg: cfg}
}

// Service returns the service name.
func (a *Adapter) Service() string {
	return a.cfg.Service
}

// Local reports whether the service is self-hosted.
func (a *Adapter) Local() bool {
	return a.cfg.Local
}

// BuildRequest translates options and history into a chat completions call.
func (a *Adapter) BuildRequest(opts domain.Options, messages []domain.Message) (*domain.WireRequest, error) {
	apiKey := a.apiKey(opts)
	if apiKey == "" && !a.cfg.Local {
		return nil, &domain.ConfigurationError{Service: a.cfg.Service, Message: "missing API key"}
	}
	if opts.Model == "" {
		return nil, &domain.ConfigurationError{Service: a.cfg.Service, Message: "model is required"}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(opts.Model),
		Messages: toSDKMessages(messages),
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.Think && a.cfg.ReasoningEffort {
		params.ReasoningEffort = shared.ReasoningEffortMedium
	}
	if opts.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	for _, tool := range opts.Tools {
		params.Tools = append(params.Tools, toSDKTool(tool))
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, &domain.ConfigurationError{Service: a.cfg.Service, Message: "failed to encode request: " + err.Error()}
	}

	if opts.MaxTokens > 0 {
		body, err = sjson.SetBytes(body, a.cfg.MaxTokensField, opts.MaxTokens)
		if err != nil {
			return nil, &domain.ConfigurationError{Service: a.cfg.Service, Message: err.Error()}
		}
	}
	if opts.Stream {
		body, _ = sjson.SetBytes(body, "stream", true)
		if a.cfg.StreamUsage {
			body, _ = sjson.SetBytes(body, "stream_options.include_usage", true)
		}
	}
	body, err = wire.ApplyExtra(body, opts.Extra)
	if err != nil {
		return nil, &domain.ConfigurationError{Service: a.cfg.Service, Message: "invalid extra option: " + err.Error()}
	}

	return &domain.WireRequest{
		Method: http.MethodPost,
		URL:    wire.JoinURL(a.baseURL(opts), "chat/completions"),
		Header: a.headers(apiKey),
		Body:   body,
	}, nil
}

// ParseContent extracts the assistant text of the first choice.
func (a *Adapter) ParseContent(body []byte) string {
	completion, ok := decodeCompletion(body)
	if !ok {
		return ""
	}
	return completion.Choices[0].Message.Content
}

// ParseContentChunk extracts the text delta of the first choice.
func (a *Adapter) ParseContentChunk(event []byte) string {
	chunk, ok := decodeChunk(event)
	if !ok {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}

// ParseThinking reads reasoning text, which compatible services return
// as reasoning_content or reasoning.
func (a *Adapter) ParseThinking(body []byte) string {
	return firstString(body, "choices.0.message.reasoning_content", "choices.0.message.reasoning")
}

// ParseThinkingChunk reads a reasoning delta.
func (a *Adapter) ParseThinkingChunk(event []byte) string {
	return firstString(event, "choices.0.delta.reasoning_content", "choices.0.delta.reasoning")
}

// ParseToolCalls extracts the function calls of the first choice.
func (a *Adapter) ParseToolCalls(body []byte) []domain.ToolCall {
	completion, ok := decodeCompletion(body)
	if !ok {
		return nil
	}

	var calls []domain.ToolCall
	for _, call := range completion.Choices[0].Message.ToolCalls {
		id := call.ID
		if id == "" {
			id = domain.NewToolCallID()
		}
		calls = append(calls, domain.ToolCall{
			ID:    id,
			Name:  call.Function.Name,
			Input: wire.ObjectOrEmpty(call.Function.Arguments),
		})
	}
	return calls
}

// ParseToolCallsChunk accumulates argument fragments keyed by call index.
func (a *Adapter) ParseToolCallsChunk(event []byte, buf *domain.ToolCallBuffer) []domain.ToolCall {
	chunk, ok := decodeChunk(event)
	if !ok || buf == nil {
		return nil
	}

	var calls []domain.ToolCall
	for _, delta := range chunk.Choices[0].Delta.ToolCalls {
		key := strconv.FormatInt(delta.Index, 10)
		if call, done := buf.Add(key, delta.ID, delta.Function.Name, delta.Function.Arguments); done {
			calls = append(calls, call)
		}
	}
	return calls
}

// ParseUsage reads prompt and completion token counts.
func (a *Adapter) ParseUsage(body []byte) *domain.TokenUsage {
	raw := gjson.GetBytes(body, "usage")
	if !raw.IsObject() {
		return nil
	}

	var usage openai.CompletionUsage
	if err := json.Unmarshal([]byte(raw.Raw), &usage); err != nil {
		return nil
	}
	return &domain.TokenUsage{
		InputTokens:  int(usage.PromptTokens),
		OutputTokens: int(usage.CompletionTokens),
	}
}

// StreamDone is always false; the wire ends with the [DONE] sentinel.
func (a *Adapter) StreamDone(_ []byte) bool {
	return false
}

// ParseError extracts the error message of an error body.
func (a *Adapter) ParseError(body []byte) string {
	return wire.ErrorMessage(body)
}

// ModelsRequest lists models from the /models endpoint.
func (a *Adapter) ModelsRequest(opts domain.Options) (*domain.WireRequest, string, error) {
	apiKey := a.apiKey(opts)
	if apiKey == "" && !a.cfg.Local {
		return nil, "", &domain.ConfigurationError{Service: a.cfg.Service, Message: "missing API key"}
	}

	return &domain.WireRequest{
		Method: http.MethodGet,
		URL:    wire.JoinURL(a.baseURL(opts), "models"),
		Header: a.headers(apiKey),
	}, "data", nil
}

// ParseModel normalizes one /models record.
func (a *Adapter) ParseModel(record json.RawMessage) domain.Model {
	var model openai.Model
	if err := json.Unmarshal(record, &model); err != nil {
		return domain.Model{Service: a.cfg.Service}
	}

	out := domain.Model{
		Service: a.cfg.Service,
		Model:   model.ID,
		Name:    firstString(record, "name", "display_name"),
		OwnedBy: model.OwnedBy,
	}
	if out.Name == "" {
		out.Name = model.ID
	}
	if model.Created > 0 {
		out.Created = time.Unix(model.Created, 0).UTC()
	}
	if length := gjson.GetBytes(record, "context_length"); length.Exists() {
		out.MaxInputTokens = int(length.Int())
	}
	return out
}

// FilterQualityModel rejects non-chat and legacy models.
func (a *Adapter) FilterQualityModel(model domain.Model) bool {
	return wire.QualityModel(model.Model, a.cfg.ModelDenylist...)
}

func (a *Adapter) apiKey(opts domain.Options) string {
	if opts.APIKey != "" {
		return opts.APIKey
	}
	return a.cfg.APIKey
}

func (a *Adapter) baseURL(opts domain.Options) string {
	if opts.BaseURL != "" {
		return opts.BaseURL
	}
	return a.cfg.BaseURL
}

func (a *Adapter) headers(apiKey string) http.Header {
	header := wire.JSONHeaders()
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}
	for key, value := range a.cfg.Headers {
		header.Set(key, value)
	}
	return header
}

func toSDKMessages(messages []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range domain.RemapRoles(messages) {
		switch msg.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Text))
		default:
			out = append(out, toSDKUserMessage(msg))
		}
	}
	return out
}

func toSDKUserMessage(msg domain.Message) openai.ChatCompletionMessageParamUnion {
	if len(msg.Attachments) == 0 {
		return openai.UserMessage(msg.Text)
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Attachments)+1)
	for _, attachment := range msg.Attachments {
		if attachment.IsImage() {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: attachment.DataURL(),
			}))
			continue
		}
		parts = append(parts, openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
			FileData: openai.String(attachment.DataURL()),
			Filename: openai.String(documentFilename),
		}))
	}
	if msg.Text != "" {
		parts = append(parts, openai.TextContentPart(msg.Text))
	}
	return openai.UserMessage(parts)
}

func toSDKTool(tool domain.Tool) openai.ChatCompletionToolParam {
	schema := tool.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	definition := shared.FunctionDefinitionParam{
		Name:       tool.Name,
		Parameters: shared.FunctionParameters(schema),
	}
	if tool.Description != "" {
		definition.Description = openai.String(tool.Description)
	}
	return openai.ChatCompletionToolParam{Function: definition}
}

func decodeCompletion(body []byte) (openai.ChatCompletion, bool) {
	var completion openai.ChatCompletion
	if !gjson.GetBytes(body, "choices.0").Exists() {
		return completion, false
	}
	if err := json.Unmarshal(body, &completion); err != nil || len(completion.Choices) == 0 {
		return completion, false
	}
	return completion, true
}

func decodeChunk(event []byte) (openai.ChatCompletionChunk, bool) {
	var chunk openai.ChatCompletionChunk
	if !gjson.GetBytes(event, "choices.0").Exists() {
		return chunk, false
	}
	if err := json.Unmarshal(event, &chunk); err != nil || len(chunk.Choices) == 0 {
		return chunk, false
	}
	return chunk, true
}

func firstString(data []byte, paths ...string) string {
	for _, path := range paths {
		if value := gjson.GetBytes(data, path); value.Type == gjson.String {
			return value.String()
		}
	}
	return ""
}
