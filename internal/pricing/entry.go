package pricing

import (
	_ "embed"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// Entry holds per-model limits and per-token costs.
type Entry struct {
	Service                     string   `json:"service"`
	Model                       string   `json:"model"`
	Mode                        string   `json:"mode"`
	MaxTokens                   int      `json:"max_tokens"`
	MaxInputTokens              int      `json:"max_input_tokens"`
	MaxOutputTokens             int      `json:"max_output_tokens"`
	InputCostPerToken           float64  `json:"input_cost_per_token"`
	OutputCostPerToken          float64  `json:"output_cost_per_token"`
	OutputCostPerReasoningToken float64  `json:"output_cost_per_reasoning_token,omitempty"`
	SupportsReasoning           bool     `json:"supports_reasoning"`
	SupportsFunctionCalling     bool     `json:"supports_function_calling"`
	SupportedModalities         []string `json:"supported_modalities,omitempty"`
}

// Visible reports whether the entry is a chat model exposed through lookups.
func (e Entry) Visible() bool {
	return e.Mode == ModeChat || e.Mode == ModeResponses
}

const (
	ModeChat      = "chat"
	ModeResponses = "responses"
)

//go:embed snapshot.json
var bundledSnapshot []byte

// ErrEmptySnapshot is returned when a snapshot holds no usable entries.
var ErrEmptySnapshot = errors.New("price snapshot has no entries")

// providerServices maps snapshot provider names to service names where
// they differ.
//
//nolint:gochecknoglobals // Static lookup table
var providerServices = map[string]string{
	"gemini":                 "google",
	"text-completion-openai": "openai",
	"together_ai":            "together",
	"fireworks_ai":           "fireworks",
	"cohere_chat":            "cohere",
	"mistralai":              "mistral",
}

// snapshotPrefixes maps service names to the key prefix the snapshot uses
// for them when it differs from the service name.
//
//nolint:gochecknoglobals // Static lookup table
var snapshotPrefixes = map[string]string{
	"google":    "gemini",
	"together":  "together_ai",
	"fireworks": "fireworks_ai",
}

// ServiceFor normalizes a snapshot provider name to a service name.
func ServiceFor(provider string) string {
	if service, ok := providerServices[provider]; ok {
		return service
	}
	return provider
}

type index map[string]map[string]Entry

// parseSnapshot reads a snapshot document keyed by model id. Values with
// unexpected shapes (such as the documentation entry) are skipped rather
// than failing the whole document.
func parseSnapshot(data []byte) (index, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("price snapshot is not valid JSON")
	}

	idx := make(index)
	count := 0
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		provider := value.Get("litellm_provider").String()
		if !value.IsObject() || provider == "" {
			return true
		}
		if value.Get("max_tokens").Type == gjson.String {
			return true
		}

		entry := Entry{
			Service:                     ServiceFor(provider),
			Model:                       key.String(),
			Mode:                        value.Get("mode").String(),
			MaxTokens:                   int(value.Get("max_tokens").Int()),
			MaxInputTokens:              int(value.Get("max_input_tokens").Int()),
			MaxOutputTokens:             int(value.Get("max_output_tokens").Int()),
			InputCostPerToken:           value.Get("input_cost_per_token").Float(),
			OutputCostPerToken:          value.Get("output_cost_per_token").Float(),
			OutputCostPerReasoningToken: value.Get("output_cost_per_reasoning_token").Float(),
			SupportsReasoning:           value.Get("supports_reasoning").Bool(),
			SupportsFunctionCalling:     value.Get("supports_function_calling").Bool(),
		}
		for _, modality := range value.Get("supported_modalities").Array() {
			entry.SupportedModalities = append(entry.SupportedModalities, modality.String())
		}

		idx.put(entry)
		count++
		return true
	})

	if count == 0 {
		return nil, ErrEmptySnapshot
	}
	return idx, nil
}

func (idx index) put(entry Entry) {
	models, ok := idx[entry.Service]
	if !ok {
		models = make(map[string]Entry)
		idx[entry.Service] = models
	}
	models[entry.Model] = entry
}

func (idx index) get(service, model string) (Entry, bool) {
	entry, ok := idx[service][model]
	return entry, ok
}

// candidates returns the ordered fallback spellings tried for a model
// when similar matches are allowed. Order prefers dated releases before
// alias and experimental forms.
func candidates(service, model string) []string {
	prefix := service
	if p, ok := snapshotPrefixes[service]; ok {
		prefix = p
	}

	out := []string{
		model + "-latest",
		model + "-beta",
		prefix + "/" + model,
		prefix + "/" + model + "-beta",
	}
	for _, suffix := range []string{"-beta", "-thinking", "-exp", "-experimental", "-thinking-exp", "-preview"} {
		if trimmed, ok := strings.CutSuffix(model, suffix); ok && trimmed != "" {
			out = append(out, trimmed, prefix+"/"+trimmed)
		}
	}
	return out
}
