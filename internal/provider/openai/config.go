package openai

// DefaultBaseURL is the public OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// Config describes one OpenAI-wire service. OpenAI-compatible services
// reuse the adapter with their own service name and base URL.
type Config struct {
	Service string
	APIKey  string
	BaseURL string

	// Local services never require a key and always cost zero.
	Local bool

	// MaxTokensField is the body field the output token limit is sent as.
	MaxTokensField string

	// StreamUsage requests a trailing usage chunk on streams.
	StreamUsage bool

	// ReasoningEffort sends reasoning_effort when thinking is requested.
	ReasoningEffort bool

	// Headers are added to every request.
	Headers map[string]string

	// ModelDenylist extends the shared quality keyword list.
	ModelDenylist []string
}

// DefaultConfig returns the configuration for api.openai.com.
func DefaultConfig(apiKey string) Config {
	return Config{
		Service:         "openai",
		APIKey:          apiKey,
		BaseURL:         DefaultBaseURL,
		MaxTokensField:  maxCompletionTokensField,
		StreamUsage:     true,
		ReasoningEffort: true,
		ModelDenylist:   []string{"gpt-3.5", "chatgpt-4o", "codex", "o1-mini", "o1-preview"},
	}
}
