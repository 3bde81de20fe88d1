// Package google implements the adapter for the Gemini generateContent API.
package google

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/provider/wire"
)

// DefaultBaseURL is the public Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Adapter implements domain.Adapter for Gemini.
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

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	Tools             []toolSet         `json:"tools,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	FileData   *fileData   `json:"fileData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type generationConfig struct {
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ThinkingConfig   *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  *int `json:"thinkingBudget,omitempty"`
}

type toolSet struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Service returns "google".
func (a *Adapter) Service() string {
	return "google"
}

// Local is always false.
func (a *Adapter) Local() bool {
	return false
}

// BuildRequest translates options and history into a generateContent or
// streamGenerateContent call.
func (a *Adapter) BuildRequest(opts domain.Options, messages []domain.Message) (*domain.WireRequest, error) {
	apiKey := a.key(opts)
	if apiKey == "" {
		return nil, &domain.ConfigurationError{Service: a.Service(), Message: "missing API key"}
	}
	if opts.Model == "" {
		return nil, &domain.ConfigurationError{Service: a.Service(), Message: "model is required"}
	}

	var req generateRequest
	var system []part
	for _, msg := range domain.RemapRoles(messages) {
		switch msg.Role {
		case domain.RoleSystem:
			system = append(system, part{Text: msg.Text})
		case domain.RoleAssistant:
			req.Contents = appendMerged(req.Contents, content{Role: "model", Parts: []part{{Text: msg.Text}}})
		default:
			req.Contents = appendMerged(req.Contents, content{Role: "user", Parts: toParts(msg)})
		}
	}
	if len(system) > 0 {
		req.SystemInstruction = &content{Parts: system}
	}

	cfg := generationConfig{MaxOutputTokens: opts.MaxTokens}
	if opts.Temperature != nil {
		t := *opts.Temperature
		cfg.Temperature = &t
	}
	if opts.JSON {
		cfg.ResponseMimeType = "application/json"
	}
	if opts.Think {
		cfg.ThinkingConfig = &thinkingConfig{IncludeThoughts: true}
		if opts.MaxThinkingTokens > 0 {
			budget := opts.MaxThinkingTokens
			cfg.ThinkingConfig.ThinkingBudget = &budget
		}
	}
	if cfg != (generationConfig{}) {
		req.GenerationConfig = &cfg
	}

	if len(opts.Tools) > 0 {
		declarations := make([]functionDeclaration, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			declarations = append(declarations, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
		req.Tools = []toolSet{{FunctionDeclarations: declarations}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &domain.ConfigurationError{Service: a.Service(), Message: "failed to encode request: " + err.Error()}
	}
	body, err = wire.ApplyExtra(body, opts.Extra)
	if err != nil {
		return nil, &domain.ConfigurationError{Service: a.Service(), Message: "invalid extra option: " + err.Error()}
	}

	method := "models/" + opts.Model + ":generateContent"
	if opts.Stream {
		method = "models/" + opts.Model + ":streamGenerateContent?alt=sse"
	}

	return &domain.WireRequest{
		Method: http.MethodPost,
		URL:    wire.JoinURL(a.url(opts), method),
		Header: a.headers(apiKey),
		Body:   body,
	}, nil
}

// ParseContent joins the non-thought text parts of the first candidate.
func (a *Adapter) ParseContent(body []byte) string {
	return joinParts(body, false)
}

// ParseContentChunk is ParseContent on one streamed response.
func (a *Adapter) ParseContentChunk(event []byte) string {
	return joinParts(event, false)
}

// ParseThinking joins the thought parts of the first candidate.
func (a *Adapter) ParseThinking(body []byte) string {
	return joinParts(body, true)
}

// ParseThinkingChunk is ParseThinking on one streamed response.
func (a *Adapter) ParseThinkingChunk(event []byte) string {
	return joinParts(event, true)
}

// ParseToolCalls extracts functionCall parts. Gemini does not assign ids
// to calls, so one is synthesized unless the part carries one.
func (a *Adapter) ParseToolCalls(body []byte) []domain.ToolCall {
	var calls []domain.ToolCall
	gjson.GetBytes(body, "candidates.0.content.parts").ForEach(func(_, p gjson.Result) bool {
		call := p.Get("functionCall")
		if !call.Exists() {
			return true
		}
		id := call.Get("id").String()
		if id == "" {
			id = domain.NewToolCallID()
		}
		calls = append(calls, domain.ToolCall{
			ID:    id,
			Name:  call.Get("name").String(),
			Input: wire.ObjectOrEmpty(call.Get("args").Raw),
		})
		return true
	})
	return calls
}

// ParseToolCallsChunk returns calls directly: Gemini streams each
// functionCall part whole.
func (a *Adapter) ParseToolCallsChunk(event []byte, _ *domain.ToolCallBuffer) []domain.ToolCall {
	return a.ParseToolCalls(event)
}

// ParseUsage reads usageMetadata. Thought tokens are billed as output.
func (a *Adapter) ParseUsage(body []byte) *domain.TokenUsage {
	usage := gjson.GetBytes(body, "usageMetadata")
	if !usage.IsObject() {
		return nil
	}
	return &domain.TokenUsage{
		InputTokens:  int(usage.Get("promptTokenCount").Int()),
		OutputTokens: int(usage.Get("candidatesTokenCount").Int() + usage.Get("thoughtsTokenCount").Int()),
	}
}

// StreamDone is always false; the stream ends at EOF.
func (a *Adapter) StreamDone(_ []byte) bool {
	return false
}

// ParseError reads {"error":{"message":...}}, possibly array-wrapped.
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
		URL:    wire.JoinURL(a.url(opts), "models?pageSize=1000"),
		Header: a.headers(apiKey),
	}, "models", nil
}

// ParseModel normalizes one /models record, whose name is "models/<id>".
func (a *Adapter) ParseModel(record json.RawMessage) domain.Model {
	parsed := gjson.ParseBytes(record)

	model := domain.Model{
		Service:           a.Service(),
		Model:             strings.TrimPrefix(parsed.Get("name").String(), "models/"),
		Name:              parsed.Get("displayName").String(),
		OwnedBy:           a.Service(),
		MaxInputTokens:    int(parsed.Get("inputTokenLimit").Int()),
		MaxOutputTokens:   int(parsed.Get("outputTokenLimit").Int()),
		SupportsReasoning: parsed.Get("thinking").Bool(),
	}
	if model.Name == "" {
		model.Name = model.Model
	}
	return model
}

// FilterQualityModel keeps Gemini chat models.
func (a *Adapter) FilterQualityModel(model domain.Model) bool {
	if !strings.HasPrefix(model.Model, "gemini") {
		return false
	}
	return wire.QualityModel(model.Model, "gemini-1.0", "-tuning", "learnlm", "aqa")
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
	header.Set("x-goog-api-key", apiKey)
	return header
}

func toParts(msg domain.Message) []part {
	var parts []part
	for _, attachment := range msg.Attachments {
		if attachment.URL != "" {
			parts = append(parts, part{FileData: &fileData{MimeType: attachment.ContentType, FileURI: attachment.URL}})
			continue
		}
		parts = append(parts, part{InlineData: &inlineData{MimeType: attachment.ContentType, Data: attachment.Data}})
	}
	if msg.Text != "" || len(parts) == 0 {
		parts = append(parts, part{Text: msg.Text})
	}
	return parts
}

func appendMerged(contents []content, c content) []content {
	if n := len(contents); n > 0 && contents[n-1].Role == c.Role {
		contents[n-1].Parts = append(contents[n-1].Parts, c.Parts...)
		return contents
	}
	return append(contents, c)
}

func joinParts(body []byte, thought bool) string {
	var out strings.Builder
	gjson.GetBytes(body, "candidates.0.content.parts").ForEach(func(_, p gjson.Result) bool {
		text := p.Get("text")
		if text.Exists() && p.Get("thought").Bool() == thought {
			out.WriteString(text.String())
		}
		return true
	})
	return out.String()
}
