package domain

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// ToolCallBuffer accumulates tool calls whose arguments arrive in
// fragments across stream events. Calls are keyed by whatever the wire
// format uses to identify an in-flight call (an index or an id).
type ToolCallBuffer struct {
	pending map[string]*pendingCall
	order   []string
}

// NewToolCallBuffer creates an empty buffer.
func NewToolCallBuffer() *ToolCallBuffer {
	return &ToolCallBuffer{pending: make(map[string]*pendingCall)}
}

// Add appends a fragment for the call identified by key. id and name are
// recorded the first time they are non-empty. The call is returned once
// its accumulated arguments parse as a complete JSON object.
func (b *ToolCallBuffer) Add(key, id, name, fragment string) (ToolCall, bool) {
	call, ok := b.pending[key]
	if !ok {
		call = &pendingCall{}
		b.pending[key] = call
		b.order = append(b.order, key)
	}
	if call.id == "" && id != "" {
		call.id = id
	}
	if call.name == "" && name != "" {
		call.name = name
	}
	call.args.WriteString(fragment)

	args := call.args.String()
	if !completeObject(args) {
		return ToolCall{}, false
	}

	b.remove(key)
	return finish(call.id, call.name, args), true
}

// Close completes the call identified by key when its wire format marks
// the end of its arguments. Empty arguments become an empty object.
func (b *ToolCallBuffer) Close(key string) (ToolCall, bool) {
	call, ok := b.pending[key]
	if !ok {
		return ToolCall{}, false
	}
	b.remove(key)

	args := strings.TrimSpace(call.args.String())
	if args == "" {
		args = "{}"
	}
	if !completeObject(args) {
		return ToolCall{}, false
	}
	return finish(call.id, call.name, args), true
}

// Pending returns the number of calls still waiting for arguments.
func (b *ToolCallBuffer) Pending() int {
	return len(b.pending)
}

// Flush returns the calls left at end of stream. A call that never
// received arguments is completed with an empty object; one whose
// arguments never became valid is dropped.
func (b *ToolCallBuffer) Flush() []ToolCall {
	var out []ToolCall
	for _, key := range b.order {
		call := b.pending[key]
		args := strings.TrimSpace(call.args.String())
		switch {
		case args == "" && call.name != "":
			out = append(out, finish(call.id, call.name, "{}"))
		case completeObject(args):
			out = append(out, finish(call.id, call.name, args))
		}
	}
	b.pending = make(map[string]*pendingCall)
	b.order = nil
	return out
}

func (b *ToolCallBuffer) remove(key string) {
	delete(b.pending, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}

func completeObject(s string) bool {
	return gjson.Valid(s) && gjson.Parse(s).IsObject()
}

func finish(id, name, args string) ToolCall {
	if id == "" {
		id = NewToolCallID()
	}
	return ToolCall{ID: id, Name: name, Input: []byte(args)}
}

// NewToolCallID synthesizes an id for wire formats that omit one.
func NewToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
