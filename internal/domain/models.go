package domain

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleThinking  Role = "thinking"
	RoleToolCall  Role = "tool_call"
)

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSystem, RoleAssistant, RoleThinking, RoleToolCall:
		return true
	default:
		return false
	}
}

// AttachmentType is the kind of payload carried next to message text.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentDocument AttachmentType = "document"
)

// Attachment is binary or remote content sent alongside a user message.
// Exactly one of Data (base64) or URL is set.
type Attachment struct {
	Type        AttachmentType `json:"type"`
	ContentType string         `json:"content_type,omitempty"`
	Data        string         `json:"data,omitempty"`
	URL         string         `json:"url,omitempty"`
}

// ImageAttachment builds a base64 image attachment.
func ImageAttachment(data, contentType string) Attachment {
	return Attachment{Type: AttachmentImage, ContentType: contentType, Data: data}
}

// PDFAttachment builds a base64 PDF attachment.
func PDFAttachment(data string) Attachment {
	return Attachment{Type: AttachmentDocument, ContentType: "application/pdf", Data: data}
}

// URLAttachment builds an image attachment referenced by URL.
func URLAttachment(url string) Attachment {
	return Attachment{Type: AttachmentImage, URL: url}
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool {
	return a.Type == AttachmentImage
}

// DataURL renders base64 data as a data: URL, or returns URL as-is.
func (a Attachment) DataURL() string {
	if a.URL != "" {
		return a.URL
	}
	return "data:" + a.ContentType + ";base64," + a.Data
}

// ToolCall is the canonical tool invocation record.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Tool describes a callable function offered to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Message is one immutable entry of a conversation.
// Content is Text, or ToolCall for tool_call messages; Attachments
// are only meaningful on user messages.
type Message struct {
	Role        Role         `json:"role"`
	Text        string       `json:"content,omitempty"`
	ToolCall    *ToolCall    `json:"tool_call,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// TokenUsage is the raw token count reported by a provider.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Usage is token usage expanded with cost.
// Priced is false when no price entry was found for the model.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
	Local        bool    `json:"local"`
	Priced       bool    `json:"priced"`
}

// Model is a normalized model catalog entry.
type Model struct {
	Service                     string    `json:"service"`
	Model                       string    `json:"model"`
	Name                        string    `json:"name"`
	Created                     time.Time `json:"created,omitzero"`
	OwnedBy                     string    `json:"owned_by,omitempty"`
	MaxTokens                   int       `json:"max_tokens"`
	MaxInputTokens              int       `json:"max_input_tokens"`
	MaxOutputTokens             int       `json:"max_output_tokens"`
	InputCostPerToken           float64   `json:"input_cost_per_token"`
	OutputCostPerToken          float64   `json:"output_cost_per_token"`
	OutputCostPerReasoningToken float64   `json:"output_cost_per_reasoning_token,omitempty"`
	SupportsReasoning           bool      `json:"supports_reasoning"`
	Modalities                  []string  `json:"modalities,omitempty"`
	Unpriced                    bool      `json:"unpriced,omitempty"`
}

// Response is the extended result of a completion.
type Response struct {
	Service   string     `json:"service"`
	Model     string     `json:"model"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	Messages  []Message  `json:"messages"`
	Parsed    any        `json:"parsed,omitempty"`
}

// EventType tags which parser produced a stream event.
type EventType string

const (
	EventContent   EventType = "content"
	EventThinking  EventType = "thinking"
	EventToolCalls EventType = "tool_calls"
	EventUsage     EventType = "usage"
)

// Event is one typed item of an extended stream.
type Event struct {
	Type      EventType  `json:"type"`
	Content   string     `json:"content,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
}
