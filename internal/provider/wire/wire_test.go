package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conduit/internal/provider/wire"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "nested message", body: `{"error":{"message":"bad key","type":"auth"}}`, want: "bad key"},
		{name: "string error", body: `{"error":"model not found"}`, want: "model not found"},
		{name: "top level message", body: `{"message":"rate limited"}`, want: "rate limited"},
		{name: "array wrapped", body: `[{"error":{"code":400,"message":"invalid"}}]`, want: "invalid"},
		{name: "not json", body: `<html>bad gateway</html>`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, wire.ErrorMessage([]byte(tt.body)))
		})
	}
}

func TestApplyExtra(t *testing.T) {
	body, err := wire.ApplyExtra([]byte(`{"model":"m"}`), map[string]any{
		"top_p":            0.5,
		"metadata.user_id": "u1",
	})

	require.NoError(t, err)
	require.JSONEq(t, `{"model":"m","top_p":0.5,"metadata":{"user_id":"u1"}}`, string(body))
}

func TestQualityModel(t *testing.T) {
	require.True(t, wire.QualityModel("gpt-4o"))
	require.False(t, wire.QualityModel("text-embedding-3-small"))
	require.False(t, wire.QualityModel("gpt-4o-realtime-preview"))
	require.False(t, wire.QualityModel("whisper-1"))
	require.False(t, wire.QualityModel("llama-guard-3-8b"))
	require.False(t, wire.QualityModel("gpt-4o", "4o"))
}

func TestObjectOrEmpty(t *testing.T) {
	require.Equal(t, `{"a":1}`, string(wire.ObjectOrEmpty(`{"a":1}`)))
	require.Equal(t, `{}`, string(wire.ObjectOrEmpty(``)))
	require.Equal(t, `{}`, string(wire.ObjectOrEmpty(`[1]`)))
	require.Equal(t, `{}`, string(wire.ObjectOrEmpty(`{"a":`)))
}

func TestJoinURL(t *testing.T) {
	require.Equal(t, "https://api.x.ai/v1/models", wire.JoinURL("https://api.x.ai/v1/", "/models"))
}
