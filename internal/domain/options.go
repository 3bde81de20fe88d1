package domain

import (
	"maps"
	"slices"
)

// QualityFilter controls how strictly a model name is matched against
// the price table.
type QualityFilter struct {
	// AllowSimilar enables the ordered fallback variants.
	AllowSimilar bool `json:"allow_similar,omitempty"`
	// AllowUnknown synthesizes a zero-cost entry for unpriced catalog models.
	AllowUnknown bool `json:"allow_unknown,omitempty"`
}

// ParserFunc post-processes the final assistant text.
type ParserFunc func(text string) (any, error)

// Options is the canonical request configuration. Zero values mean unset.
type Options struct {
	Service           string         `json:"service,omitempty"`
	Model             string         `json:"model,omitempty"`
	BaseURL           string         `json:"base_url,omitempty"`
	APIKey            string         `json:"-"`
	Stream            bool           `json:"stream,omitempty"`
	Extended          bool           `json:"extended,omitempty"`
	MaxTokens         int            `json:"max_tokens,omitempty"`
	MaxThinkingTokens int            `json:"max_thinking_tokens,omitempty"`
	Temperature       *float64       `json:"temperature,omitempty"`
	Think             bool           `json:"think,omitempty"`
	Tools             []Tool         `json:"tools,omitempty"`
	JSON              bool           `json:"json,omitempty"`
	Parser            ParserFunc     `json:"-"`
	QualityFilter     QualityFilter  `json:"quality_filter,omitzero"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy of o.
func (o Options) Clone() Options {
	out := o
	if o.Temperature != nil {
		t := *o.Temperature
		out.Temperature = &t
	}
	if o.Tools != nil {
		out.Tools = make([]Tool, len(o.Tools))
		for i, tool := range o.Tools {
			tool.InputSchema = maps.Clone(tool.InputSchema)
			out.Tools[i] = tool
		}
	}
	out.Extra = maps.Clone(o.Extra)
	return out
}

// Merge returns a deep copy of base with every set field of override applied.
// Boolean flags can only be switched on by an override.
func Merge(base, override Options) Options {
	out := base.Clone()
	o := override.Clone()

	if o.Service != "" {
		out.Service = o.Service
	}
	if o.Model != "" {
		out.Model = o.Model
	}
	if o.BaseURL != "" {
		out.BaseURL = o.BaseURL
	}
	if o.APIKey != "" {
		out.APIKey = o.APIKey
	}
	if o.MaxTokens > 0 {
		out.MaxTokens = o.MaxTokens
	}
	if o.MaxThinkingTokens > 0 {
		out.MaxThinkingTokens = o.MaxThinkingTokens
	}
	if o.Temperature != nil {
		out.Temperature = o.Temperature
	}
	if len(o.Tools) > 0 {
		out.Tools = slices.Clone(o.Tools)
	}
	if o.Parser != nil {
		out.Parser = o.Parser
	}
	if len(o.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(o.Extra))
		}
		maps.Copy(out.Extra, o.Extra)
	}

	out.Stream = out.Stream || o.Stream
	out.Extended = out.Extended || o.Extended
	out.Think = out.Think || o.Think
	out.JSON = out.JSON || o.JSON
	out.QualityFilter.AllowSimilar = out.QualityFilter.AllowSimilar || o.QualityFilter.AllowSimilar
	out.QualityFilter.AllowUnknown = out.QualityFilter.AllowUnknown || o.QualityFilter.AllowUnknown

	return out
}
