package engine_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/engine"
	"github.com/davidbz/conduit/internal/pricing"
	"github.com/davidbz/conduit/internal/provider/openai"
	"github.com/davidbz/conduit/internal/provider/registry"
)

// mockAdapter is a testify mock of domain.Adapter.
type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Service() string { return m.Called().String(0) }

func (m *mockAdapter) Local() bool { return m.Called().Bool(0) }

func (m *mockAdapter) BuildRequest(opts domain.Options, msgs []domain.Message) (*domain.WireRequest, error) {
	args := m.Called(opts, msgs)
	req, _ := args.Get(0).(*domain.WireRequest)
	return req, args.Error(1)
}

func (m *mockAdapter) ParseContent(body []byte) string { return m.Called(body).String(0) }

func (m *mockAdapter) ParseContentChunk(event []byte) string { return m.Called(event).String(0) }

func (m *mockAdapter) ParseThinking(body []byte) string { return m.Called(body).String(0) }

func (m *mockAdapter) ParseThinkingChunk(event []byte) string { return m.Called(event).String(0) }

func (m *mockAdapter) ParseToolCalls(body []byte) []domain.ToolCall {
	calls, _ := m.Called(body).Get(0).([]domain.ToolCall)
	return calls
}

func (m *mockAdapter) ParseToolCallsChunk(event []byte, buf *domain.ToolCallBuffer) []domain.ToolCall {
	calls, _ := m.Called(event, buf).Get(0).([]domain.ToolCall)
	return calls
}

func (m *mockAdapter) ParseUsage(body []byte) *domain.TokenUsage {
	usage, _ := m.Called(body).Get(0).(*domain.TokenUsage)
	return usage
}

func (m *mockAdapter) StreamDone(event []byte) bool { return m.Called(event).Bool(0) }

func (m *mockAdapter) ParseError(body []byte) string { return m.Called(body).String(0) }

func (m *mockAdapter) ModelsRequest(opts domain.Options) (*domain.WireRequest, string, error) {
	args := m.Called(opts)
	req, _ := args.Get(0).(*domain.WireRequest)
	return req, args.String(1), args.Error(2)
}

func (m *mockAdapter) ParseModel(record json.RawMessage) domain.Model {
	return m.Called(record).Get(0).(domain.Model)
}

func (m *mockAdapter) FilterQualityModel(model domain.Model) bool { return m.Called(model).Bool(0) }

func newMockAdapter(url, content string) *mockAdapter {
	adapter := &mockAdapter{}
	adapter.On("Service").Return("mock").Maybe()
	adapter.On("Local").Return(true).Maybe()
	adapter.On("BuildRequest", mock.Anything, mock.Anything).
		Return(&domain.WireRequest{Method: http.MethodPost, URL: url, Body: []byte(`{}`)}, nil)
	adapter.On("ParseError", mock.Anything).Return("").Maybe()
	adapter.On("ParseContent", mock.Anything).Return(content)
	return adapter
}

func registrySettings() registry.Settings {
	return registry.Settings{APIKey: "test-key"}
}

func okServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4o-mini",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "The sky is blue."}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

const completionStream = `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"The sky"}}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":" is blue."}}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}

data: [DONE]

`

// openAIServer serves completionBody or completionStream depending on the
// request's stream flag.
func openAIServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "stream").Bool() {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, completionStream)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOpenAIEngine(t *testing.T, baseURL string, opts ...engine.Option) *engine.Engine {
	t.Helper()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = baseURL

	opts = append([]engine.Option{
		engine.WithOptions(domain.Options{Model: "gpt-4o-mini"}),
		engine.WithPrompt("the color of the sky is"),
	}, opts...)

	eng, err := engine.New(openai.New(cfg), pricing.NewTable(), opts...)
	require.NoError(t, err)
	return eng
}

func TestNew(t *testing.T) {
	t.Run("should return error when adapter is nil", func(t *testing.T) {
		_, err := engine.New(nil, nil)
		require.Error(t, err)
	})

	t.Run("should build from the registry", func(t *testing.T) {
		eng, err := engine.NewFromRegistry(nil, "anthropic", registrySettings(), nil)
		require.NoError(t, err)
		require.Equal(t, "anthropic", eng.Adapter().Service())
		require.Equal(t, "anthropic", eng.Options().Service)
	})

	t.Run("should reject unknown services", func(t *testing.T) {
		_, err := engine.NewFromRegistry(nil, "nope", registrySettings(), nil)
		require.True(t, domain.IsConfiguration(err))
	})

	t.Run("should seed the conversation", func(t *testing.T) {
		msgs := []domain.Message{{Role: domain.RoleSystem, Text: "be brief"}, {Role: domain.RoleUser, Text: "hi"}}
		eng, err := engine.New(newMockAdapter("", ""), nil, engine.WithMessages(msgs))
		require.NoError(t, err)
		require.Equal(t, msgs, eng.Messages())

		conv := domain.NewConversation()
		eng, err = engine.New(newMockAdapter("", ""), nil, engine.WithConversation(conv))
		require.NoError(t, err)
		eng.User("hello")
		eng.System("sys")
		eng.Assistant("hey")
		eng.Thinking("hmm")
		eng.ToolCall(domain.ToolCall{ID: "1", Name: "f", Input: json.RawMessage(`{}`)})
		require.Equal(t, 5, conv.Len())
		require.Same(t, conv, eng.Conversation())
	})
}

func TestEngine_Send(t *testing.T) {
	t.Run("should return the mock content and append one assistant message", func(t *testing.T) {
		srv := okServer(t, `{"anything":true}`)
		adapter := newMockAdapter(srv.URL, "blue")

		eng, err := engine.New(adapter, pricing.NewTable(),
			engine.WithPrompt("the color of the sky is"),
			engine.WithOptions(domain.Options{MaxTokens: 10}))
		require.NoError(t, err)

		text, err := eng.Send(context.Background())
		require.NoError(t, err)
		require.Equal(t, "blue", text)

		msgs := eng.Messages()
		require.Len(t, msgs, 2)
		require.Equal(t, domain.RoleUser, msgs[0].Role)
		require.Equal(t, domain.RoleAssistant, msgs[1].Role)
		require.Equal(t, "blue", msgs[1].Text)

		adapter.AssertCalled(t, "BuildRequest",
			mock.MatchedBy(func(opts domain.Options) bool { return opts.MaxTokens == 10 && !opts.Stream }),
			mock.Anything)
		adapter.AssertExpectations(t)
	})

	t.Run("should pass call overrides without changing instance options", func(t *testing.T) {
		srv := okServer(t, `{}`)
		adapter := newMockAdapter(srv.URL, "ok")

		eng, err := engine.New(adapter, nil, engine.WithPrompt("hi"),
			engine.WithOptions(domain.Options{Model: "base"}))
		require.NoError(t, err)

		_, err = eng.Send(context.Background(), domain.Options{Model: "override"})
		require.NoError(t, err)

		adapter.AssertCalled(t, "BuildRequest",
			mock.MatchedBy(func(opts domain.Options) bool { return opts.Model == "override" }),
			mock.Anything)
		require.Equal(t, "base", eng.Options().Model)
	})

	t.Run("should append exactly two messages against a real adapter", func(t *testing.T) {
		eng := newOpenAIEngine(t, openAIServer(t).URL)

		text, err := eng.Send(context.Background())
		require.NoError(t, err)
		require.Equal(t, "The sky is blue.", text)
		require.Len(t, eng.Messages(), 2)
	})

	t.Run("should chat by appending the user message first", func(t *testing.T) {
		eng := newOpenAIEngine(t, openAIServer(t).URL)

		_, err := eng.Chat(context.Background(), "and the grass?")
		require.NoError(t, err)

		msgs := eng.Messages()
		require.Len(t, msgs, 4)
		require.Equal(t, "and the grass?", msgs[2].Text)
	})

	t.Run("should return configuration error for an empty conversation", func(t *testing.T) {
		eng, err := engine.New(newMockAdapter("", ""), nil)
		require.NoError(t, err)

		_, err = eng.Send(context.Background())
		require.True(t, domain.IsConfiguration(err))
	})

	t.Run("should surface provider error text as a transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided"}}`)
		}))
		defer srv.Close()

		eng := newOpenAIEngine(t, srv.URL)

		_, err := eng.Send(context.Background())
		require.True(t, domain.IsTransport(err))
		require.Contains(t, err.Error(), "Incorrect API key provided")
		require.Len(t, eng.Messages(), 1)
	})

	t.Run("should return abort error when the context is canceled", func(t *testing.T) {
		eng := newOpenAIEngine(t, openAIServer(t).URL)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := eng.Send(ctx)
		require.True(t, domain.IsAbort(err))
	})
}

func TestEngine_Parse(t *testing.T) {
	t.Run("should extract JSON from a fenced answer", func(t *testing.T) {
		srv := okServer(t, `{}`)
		eng, err := engine.New(newMockAdapter(srv.URL, "Sure:\n```json\n{\"color\": \"blue\"}\n```"), nil,
			engine.WithPrompt("sky?"))
		require.NoError(t, err)

		value, err := eng.Parse(context.Background(), domain.Options{JSON: true})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"color": "blue"}, value)
	})

	t.Run("should apply a custom parser", func(t *testing.T) {
		srv := okServer(t, `{}`)
		eng, err := engine.New(newMockAdapter(srv.URL, "blue"), nil, engine.WithPrompt("sky?"))
		require.NoError(t, err)

		value, err := eng.Parse(context.Background(), domain.Options{
			Parser: func(text string) (any, error) { return len(text), nil },
		})
		require.NoError(t, err)
		require.Equal(t, 4, value)
	})

	t.Run("should return text without a post-processor", func(t *testing.T) {
		srv := okServer(t, `{}`)
		eng, err := engine.New(newMockAdapter(srv.URL, "blue"), nil, engine.WithPrompt("sky?"))
		require.NoError(t, err)

		value, err := eng.Parse(context.Background())
		require.NoError(t, err)
		require.Equal(t, "blue", value)
	})
}

func TestEngine_SendExtended(t *testing.T) {
	t.Run("should return priced usage whose totals are sums", func(t *testing.T) {
		eng := newOpenAIEngine(t, openAIServer(t).URL)

		resp, err := eng.SendExtended(context.Background())
		require.NoError(t, err)

		require.Equal(t, "The sky is blue.", resp.Content)
		require.Equal(t, 12, resp.Usage.InputTokens)
		require.Equal(t, 5, resp.Usage.OutputTokens)
		require.Equal(t, resp.Usage.InputTokens+resp.Usage.OutputTokens, resp.Usage.TotalTokens)
		require.True(t, resp.Usage.Priced)
		require.InDelta(t, 12*1.5e-07, resp.Usage.InputCost, 1e-12)
		require.InDelta(t, resp.Usage.InputCost+resp.Usage.OutputCost, resp.Usage.TotalCost, 1e-12)
		require.Len(t, resp.Messages, 2)
	})

	t.Run("should append thinking then tool calls", func(t *testing.T) {
		srv := okServer(t, `{
			"id": "chatcmpl-2", "object": "chat.completion", "created": 1, "model": "deepseek-reasoner",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "", "reasoning_content": "need weather",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "weather", "arguments": "{\"city\":\"Paris\"}"}}]
			}}]
		}`)
		eng := newOpenAIEngine(t, srv.URL)

		resp, err := eng.SendExtended(context.Background())
		require.NoError(t, err)
		require.Equal(t, "need weather", resp.Thinking)
		require.Len(t, resp.ToolCalls, 1)
		require.Zero(t, resp.Usage.TotalTokens)

		roles := []domain.Role{}
		for _, msg := range resp.Messages {
			roles = append(roles, msg.Role)
		}
		require.Equal(t, []domain.Role{domain.RoleUser, domain.RoleThinking, domain.RoleToolCall}, roles)
		require.Equal(t, "weather", resp.Messages[2].ToolCall.Name)
	})
}

func TestEngine_Abort(t *testing.T) {
	t.Run("should install a fresh signal after abort", func(t *testing.T) {
		eng := newOpenAIEngine(t, openAIServer(t).URL)

		eng.Abort()

		text, err := eng.Send(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, text)
	})
}
