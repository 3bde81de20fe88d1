package domain

import (
	"encoding/json"
	"slices"
)

// Conversation is an append-only, ordered message history.
// It is not safe for concurrent mutation; one in-flight request per
// conversation is the supported contract.
type Conversation struct {
	messages []Message
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// NewConversationFromPrompt creates a conversation holding one user message.
func NewConversationFromPrompt(prompt string) *Conversation {
	c := NewConversation()
	if prompt != "" {
		c.User(prompt)
	}
	return c
}

// NewConversationFromMessages seeds a conversation with a copy of msgs.
func NewConversationFromMessages(msgs []Message) *Conversation {
	return &Conversation{messages: cloneMessages(msgs)}
}

// Append adds a message to the end of the history.
func (c *Conversation) Append(msg Message) {
	c.messages = append(c.messages, cloneMessage(msg))
}

// User appends a user message with optional attachments.
func (c *Conversation) User(text string, attachments ...Attachment) {
	c.Append(Message{Role: RoleUser, Text: text, Attachments: attachments})
}

// System appends a system message.
func (c *Conversation) System(text string) {
	c.Append(Message{Role: RoleSystem, Text: text})
}

// Assistant appends an assistant message.
func (c *Conversation) Assistant(text string) {
	c.Append(Message{Role: RoleAssistant, Text: text})
}

// Thinking appends a reasoning trace.
func (c *Conversation) Thinking(text string) {
	c.Append(Message{Role: RoleThinking, Text: text})
}

// ToolCall appends a tool invocation record.
func (c *Conversation) ToolCall(call ToolCall) {
	c.Append(Message{Role: RoleToolCall, ToolCall: &call})
}

// Messages returns a snapshot of the history.
func (c *Conversation) Messages() []Message {
	return cloneMessages(c.messages)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Last returns the most recent message, if any.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return cloneMessage(c.messages[len(c.messages)-1]), true
}

// RemapRoles rewrites thinking and tool_call messages as assistant
// messages for providers that do not distinguish them. Tool calls are
// rendered as their JSON record.
func RemapRoles(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleThinking:
			out = append(out, Message{Role: RoleAssistant, Text: msg.Text})
		case RoleToolCall:
			text := msg.Text
			if msg.ToolCall != nil {
				data, err := json.Marshal(msg.ToolCall)
				if err == nil {
					text = string(data)
				}
			}
			out = append(out, Message{Role: RoleAssistant, Text: text})
		default:
			out = append(out, cloneMessage(msg))
		}
	}
	return out
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		out[i] = cloneMessage(msg)
	}
	return out
}

func cloneMessage(msg Message) Message {
	msg.Attachments = slices.Clone(msg.Attachments)
	if msg.ToolCall != nil {
		call := *msg.ToolCall
		call.Input = slices.Clone(call.Input)
		msg.ToolCall = &call
	}
	return msg
}
