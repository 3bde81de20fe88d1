// Package wire holds helpers shared by provider adapters.
package wire

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrorMessage extracts the common provider error shapes:
// {"error":{"message":...}}, {"error":"..."} and {"message":"..."}.
func ErrorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if value := gjson.GetBytes(body, path); value.Type == gjson.String && value.String() != "" {
			return value.String()
		}
	}
	if value := gjson.GetBytes(body, "0.error.message"); value.Exists() {
		return value.String()
	}
	return ""
}

// JoinURL joins a base URL and a path with exactly one slash.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// JSONHeaders returns the headers every JSON request carries.
func JSONHeaders() http.Header {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return header
}

// ApplyExtra sets caller-supplied fields on a marshalled body. Keys are
// sjson paths, so nested fields can be addressed with dots.
func ApplyExtra(body []byte, extra map[string]any) ([]byte, error) {
	var err error
	for key, value := range extra {
		body, err = sjson.SetBytes(body, key, value)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

// ObjectOrEmpty returns raw when it is a JSON object and "{}" otherwise.
func ObjectOrEmpty(raw string) []byte {
	raw = strings.TrimSpace(raw)
	if raw != "" && gjson.Valid(raw) && gjson.Parse(raw).IsObject() {
		return []byte(raw)
	}
	return []byte("{}")
}

// denylist holds model-name keywords that mark a model unsuitable for
// general chat.
//
//nolint:gochecknoglobals // Static keyword list
var denylist = []string{
	"audio", "vision", "embed", "tts", "whisper", "image", "moderation",
	"realtime", "transcribe", "search", "guard", "dall-e", "davinci",
	"babbage", "instruct", "rerank", "speech", "computer-use", "-0301",
	"-0314", "-0613",
}

// QualityModel reports whether name passes the shared keyword denylist
// and any adapter-specific keywords.
func QualityModel(name string, extra ...string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range denylist {
		if strings.Contains(lower, keyword) {
			return false
		}
	}
	for _, keyword := range extra {
		if strings.Contains(lower, keyword) {
			return false
		}
	}
	return true
}
