// Package openaicompat configures the OpenAI reference adapter for
// services that speak the same chat completions wire format.
package openaicompat

import (
	"fmt"
	"maps"
	"slices"

	"github.com/davidbz/conduit/internal/provider/openai"
)

// Preset is the fixed part of a compatible service's configuration.
type Preset struct {
	BaseURL       string
	Local         bool
	StreamUsage   bool
	Headers       map[string]string
	ModelDenylist []string
}

// Presets lists every built-in compatible service.
//
//nolint:gochecknoglobals // Static service table
var Presets = map[string]Preset{
	"groq": {
		BaseURL:       "https://api.groq.com/openai/v1",
		StreamUsage:   true,
		ModelDenylist: []string{"distil", "playai", "allam"},
	},
	"deepseek": {
		BaseURL:     "https://api.deepseek.com/v1",
		StreamUsage: true,
	},
	"xai": {
		BaseURL:     "https://api.x.ai/v1",
		StreamUsage: true,
	},
	"mistral": {
		BaseURL:       "https://api.mistral.ai/v1",
		ModelDenylist: []string{"pixtral", "ocr", "codestral-mamba"},
	},
	"together": {
		BaseURL:     "https://api.together.xyz/v1",
		StreamUsage: true,
	},
	"openrouter": {
		BaseURL:     "https://openrouter.ai/api/v1",
		StreamUsage: true,
		Headers: map[string]string{
			"HTTP-Referer": "https://github.com/davidbz/conduit",
			"X-Title":      "conduit",
		},
	},
	"fireworks": {
		BaseURL:     "https://api.fireworks.ai/inference/v1",
		StreamUsage: true,
	},
	"lmstudio": {
		BaseURL: "http://localhost:1234/v1",
		Local:   true,
	},
	"llamafile": {
		BaseURL: "http://localhost:8080/v1",
		Local:   true,
	},
	// In-process echo endpoint mounted by "conduit serve --echo".
	"echo": {
		BaseURL:     "http://localhost:8080/echo/v1",
		Local:       true,
		StreamUsage: true,
	},
}

// Services returns the preset service names in sorted order.
func Services() []string {
	return slices.Sorted(maps.Keys(Presets))
}

// New creates an adapter for a compatible service. An empty baseURL
// keeps the preset endpoint.
func New(service, apiKey, baseURL string) (*openai.Adapter, error) {
	preset, ok := Presets[service]
	if !ok {
		return nil, fmt.Errorf("unknown OpenAI-compatible service: %s", service)
	}
	if baseURL == "" {
		baseURL = preset.BaseURL
	}

	return openai.New(openai.Config{
		Service:        service,
		APIKey:         apiKey,
		BaseURL:        baseURL,
		Local:          preset.Local,
		MaxTokensField: "max_tokens",
		StreamUsage:    preset.StreamUsage,
		Headers:        maps.Clone(preset.Headers),
		ModelDenylist:  slices.Clone(preset.ModelDenylist),
	}), nil
}
