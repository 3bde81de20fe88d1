package engine

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/davidbz/conduit/internal/domain"
)

const codeFence = "```"

// ExtractJSON returns the first JSON object or array in text. Markdown
// code fences are searched first, then the raw text.
func ExtractJSON(text string) (any, error) {
	for _, candidate := range fencedBlocks(text) {
		if value, ok := decodeFirst(candidate); ok {
			return value, nil
		}
	}
	if value, ok := decodeFirst(text); ok {
		return value, nil
	}
	return nil, &domain.DecodeError{Message: "no JSON value found in response", Data: []byte(text)}
}

func postProcess(opts domain.Options, content string) (any, error) {
	switch {
	case opts.Parser != nil:
		return opts.Parser(content)
	case opts.JSON:
		return ExtractJSON(content)
	default:
		return content, nil
	}
}

// postProcessOptional runs the post-processor only when one is configured.
func postProcessOptional(opts domain.Options, content string) (any, error) {
	if opts.Parser == nil && !opts.JSON {
		return nil, nil
	}
	return postProcess(opts, content)
}

func fencedBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		start := strings.Index(rest, codeFence)
		if start < 0 {
			return blocks
		}
		rest = rest[start+len(codeFence):]
		// Skip the info string, e.g. "json".
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		end := strings.Index(rest, codeFence)
		if end < 0 {
			return append(blocks, rest)
		}
		blocks = append(blocks, rest[:end])
		rest = rest[end+len(codeFence):]
	}
}

// decodeFirst decodes one value starting at each '{' or '[' in turn.
func decodeFirst(text string) (any, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(text[i:])))
		dec.UseNumber()
		var value any
		if err := dec.Decode(&value); err == nil {
			return value, true
		}
	}
	return nil, false
}
