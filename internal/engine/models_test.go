package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/engine"
	"github.com/davidbz/conduit/internal/pricing"
	"github.com/davidbz/conduit/internal/provider/ollama"
)

const modelsBody = `{
	"object": "list",
	"data": [
		{"id": "gpt-4o-mini", "object": "model", "created": 1721172741, "owned_by": "system"},
		{"id": "ft:gpt-4o-mini:acme", "object": "model", "created": 1730000000, "owned_by": "acme"},
		{"id": "text-embedding-3-small", "object": "model", "created": 1705948997, "owned_by": "system"}
	]
}`

func TestEngine_GetModels(t *testing.T) {
	srv := streamServer(t, "application/json", modelsBody)

	t.Run("should return lookup error for an unpriced model", func(t *testing.T) {
		eng := newOpenAIEngine(t, srv.URL)

		_, err := eng.GetModels(context.Background())
		require.True(t, domain.IsLookup(err))
	})

	t.Run("should synthesize unpriced entries when unknown models are allowed", func(t *testing.T) {
		eng := newOpenAIEngine(t, srv.URL)

		models, err := eng.GetModels(context.Background(), domain.Options{
			QualityFilter: domain.QualityFilter{AllowUnknown: true},
		})
		require.NoError(t, err)
		require.Len(t, models, 3)

		byID := map[string]domain.Model{}
		for _, model := range models {
			byID[model.Model] = model
		}
		require.True(t, byID["ft:gpt-4o-mini:acme"].Unpriced)
		require.Zero(t, byID["ft:gpt-4o-mini:acme"].InputCostPerToken)
		require.False(t, byID["gpt-4o-mini"].Unpriced)
		require.InDelta(t, 1.5e-07, byID["gpt-4o-mini"].InputCostPerToken, 1e-15)
		require.Equal(t, 128000, byID["gpt-4o-mini"].MaxInputTokens)
	})

	t.Run("should prefer custom prices", func(t *testing.T) {
		table := pricing.NewTable()
		require.NoError(t, table.AddCustom("openai", "ft:gpt-4o-mini:acme", pricing.Entry{InputCostPerToken: 3e-07}))
		require.NoError(t, table.AddCustom("openai", "text-embedding-3-small", pricing.Entry{}))

		eng := newOpenAIEngine(t, srv.URL)
		eng, err := engine.New(eng.Adapter(), table, engine.WithOptions(domain.Options{Model: "gpt-4o-mini"}))
		require.NoError(t, err)

		models, err := eng.GetModels(context.Background())
		require.NoError(t, err)
		require.Len(t, models, 3)
	})
}

func TestEngine_GetQualityModels(t *testing.T) {
	t.Run("should keep priced chat models only", func(t *testing.T) {
		eng := newOpenAIEngine(t, streamServer(t, "application/json", modelsBody).URL)

		models, err := eng.GetQualityModels(context.Background())
		require.NoError(t, err)
		require.Len(t, models, 1)
		require.Equal(t, "gpt-4o-mini", models[0].Model)
	})

	t.Run("should keep every local model at zero cost", func(t *testing.T) {
		srv := streamServer(t, "application/json", `{"models": [
			{"name": "llama3.1:latest", "modified_at": "2024-08-01T10:00:00Z", "details": {"family": "llama"}},
			{"name": "nomic-embed-text:latest", "modified_at": "2024-08-01T10:00:00Z", "details": {"family": "nomic-bert"}}
		]}`)
		eng, err := engine.New(ollama.New(srv.URL), pricing.NewTable())
		require.NoError(t, err)

		models, err := eng.GetQualityModels(context.Background())
		require.NoError(t, err)
		require.Len(t, models, 1)
		require.Equal(t, "llama3.1:latest", models[0].Model)
	})

	t.Run("should return decode error when the list is missing", func(t *testing.T) {
		eng := newOpenAIEngine(t, streamServer(t, "application/json", `{"object":"list"}`).URL)

		_, err := eng.GetQualityModels(context.Background())
		require.True(t, domain.IsDecode(err))
	})
}
