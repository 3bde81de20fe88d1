package pricing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/pricing"
)

type memoryStore struct {
	mu   sync.Mutex
	data []byte
}

func (m *memoryStore) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return nil, pricing.ErrNoSnapshot
	}
	return m.data, nil
}

func (m *memoryStore) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = data
	return nil
}

func TestTable_Get(t *testing.T) {
	table := pricing.NewTable()

	t.Run("should resolve an exact bundled entry", func(t *testing.T) {
		entry, ok := table.Get("openai", "gpt-4o", pricing.Exact)

		require.True(t, ok)
		require.Equal(t, "openai", entry.Service)
		require.InDelta(t, 2.5e-06, entry.InputCostPerToken, 1e-15)
		require.InDelta(t, 1e-05, entry.OutputCostPerToken, 1e-15)
		require.Equal(t, 16384, entry.MaxTokens)
	})

	t.Run("should fall back to the latest alias only when similar matches are allowed", func(t *testing.T) {
		_, ok := table.Get("anthropic", "claude-3-5-sonnet", pricing.Exact)
		require.False(t, ok)

		entry, ok := table.Get("anthropic", "claude-3-5-sonnet", pricing.Similar)
		require.True(t, ok)
		require.Equal(t, "claude-3-5-sonnet-latest", entry.Model)
	})

	t.Run("should resolve prefixed snapshot keys", func(t *testing.T) {
		entry, ok := table.Get("groq", "llama-3.1-8b-instant", pricing.Similar)
		require.True(t, ok)
		require.Equal(t, "groq/llama-3.1-8b-instant", entry.Model)

		entry, ok = table.Get("google", "gemini-2.5-flash", pricing.Similar)
		require.True(t, ok)
		require.Equal(t, "google", entry.Service)
	})

	t.Run("should try the prefixed beta form", func(t *testing.T) {
		entry, ok := table.Get("xai", "grok-3", pricing.Similar)
		require.True(t, ok)
		require.Equal(t, "xai/grok-3-beta", entry.Model)
	})

	t.Run("should strip experimental suffixes", func(t *testing.T) {
		entry, ok := table.Get("google", "gemini-2.0-flash-exp", pricing.Similar)
		require.True(t, ok)
		require.Equal(t, "gemini/gemini-2.0-flash", entry.Model)

		entry, ok = table.Get("openai", "o3-mini-preview", pricing.Similar)
		require.True(t, ok)
		require.Equal(t, "o3-mini", entry.Model)
	})

	t.Run("should hide non chat modes", func(t *testing.T) {
		_, ok := table.Get("openai", "text-embedding-3-small", pricing.Similar)
		require.False(t, ok)

		_, ok = table.Get("openai", "gpt-3.5-turbo-instruct", pricing.Similar)
		require.False(t, ok)

		_, ok = table.Get("ollama", "mistral", pricing.Similar)
		require.False(t, ok)
	})

	t.Run("should expose responses mode entries", func(t *testing.T) {
		entry, ok := table.Get("openai", "o4-mini", pricing.Exact)
		require.True(t, ok)
		require.Equal(t, pricing.ModeResponses, entry.Mode)
	})

	t.Run("should miss unknown models", func(t *testing.T) {
		_, ok := table.Get("openai", "does-not-exist", pricing.Similar)
		require.False(t, ok)

		_, ok = table.Get("", "gpt-4o", pricing.Similar)
		require.False(t, ok)
	})
}

func TestTable_Custom(t *testing.T) {
	t.Run("should prefer custom entries over the snapshot", func(t *testing.T) {
		table := pricing.NewTable()

		err := table.AddCustom("openai", "gpt-4o", pricing.Entry{
			InputCostPerToken:  1,
			OutputCostPerToken: 2,
		})
		require.NoError(t, err)

		entry, ok := table.Get("openai", "gpt-4o", pricing.Exact)
		require.True(t, ok)
		require.InDelta(t, 1.0, entry.InputCostPerToken, 1e-12)
		require.Equal(t, pricing.ModeChat, entry.Mode)
	})

	t.Run("should remove a custom entry without touching the snapshot", func(t *testing.T) {
		table := pricing.NewTable()
		require.NoError(t, table.AddCustom("openai", "gpt-4o", pricing.Entry{InputCostPerToken: 1}))
		require.NoError(t, table.AddCustom("acme", "rocket", pricing.Entry{InputCostPerToken: 3}))

		table.RemoveCustom("openai", "gpt-4o")

		entry, ok := table.Get("openai", "gpt-4o", pricing.Exact)
		require.True(t, ok)
		require.InDelta(t, 2.5e-06, entry.InputCostPerToken, 1e-15)

		_, ok = table.Get("acme", "rocket", pricing.Exact)
		require.True(t, ok)
	})

	t.Run("should resolve custom entries through fallbacks", func(t *testing.T) {
		table := pricing.NewTable()
		require.NoError(t, table.AddCustom("acme", "rocket-latest", pricing.Entry{InputCostPerToken: 3}))

		_, ok := table.Get("acme", "rocket", pricing.Exact)
		require.False(t, ok)

		entry, ok := table.Get("acme", "rocket", pricing.Similar)
		require.True(t, ok)
		require.Equal(t, "rocket-latest", entry.Model)
	})

	t.Run("should clear custom entries", func(t *testing.T) {
		table := pricing.NewTable()
		require.NoError(t, table.AddCustom("acme", "rocket", pricing.Entry{}))

		table.ClearCustom()

		_, ok := table.Get("acme", "rocket", pricing.Exact)
		require.False(t, ok)
	})

	t.Run("should reject empty keys", func(t *testing.T) {
		table := pricing.NewTable()
		require.Error(t, table.AddCustom("", "rocket", pricing.Entry{}))
	})

	t.Run("should drop customs on reset and reload the bundled snapshot", func(t *testing.T) {
		table := pricing.NewTable()
		require.NoError(t, table.AddCustom("acme", "rocket", pricing.Entry{}))

		table.Reset()

		_, ok := table.Get("acme", "rocket", pricing.Exact)
		require.False(t, ok)
		_, ok = table.Get("openai", "gpt-4o", pricing.Exact)
		require.True(t, ok)
	})
}

func TestTable_Refresh(t *testing.T) {
	remote := `{
		"fresh-model": {"litellm_provider": "openai", "mode": "chat", "input_cost_per_token": 0.001, "output_cost_per_token": 0.002}
	}`

	t.Run("should swap in the remote snapshot and keep customs", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(remote))
		}))
		defer server.Close()

		store := &memoryStore{}
		table := pricing.NewTable(
			pricing.WithSnapshotURL(server.URL),
			pricing.WithHTTPClient(server.Client()),
			pricing.WithStore(store),
		)
		require.NoError(t, table.AddCustom("acme", "rocket", pricing.Entry{}))

		require.NoError(t, table.Refresh(context.Background()))

		_, ok := table.Get("openai", "fresh-model", pricing.Exact)
		require.True(t, ok)
		_, ok = table.Get("openai", "gpt-4o", pricing.Exact)
		require.False(t, ok)
		_, ok = table.Get("acme", "rocket", pricing.Exact)
		require.True(t, ok)

		require.JSONEq(t, remote, string(store.data))
		require.False(t, table.LoadedAt().IsZero())
	})

	t.Run("should keep the previous snapshot when the fetch fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		table := pricing.NewTable(pricing.WithSnapshotURL(server.URL))

		err := table.Refresh(context.Background())
		require.Error(t, err)
		require.True(t, domain.IsTransport(err))

		_, ok := table.Get("openai", "gpt-4o", pricing.Exact)
		require.True(t, ok)
	})

	t.Run("should reject a document without entries", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"sample_spec": {"max_tokens": "LEGACY"}}`))
		}))
		defer server.Close()

		table := pricing.NewTable(pricing.WithSnapshotURL(server.URL))

		err := table.Refresh(context.Background())
		require.ErrorIs(t, err, pricing.ErrEmptySnapshot)
	})
}

func TestTable_Warm(t *testing.T) {
	t.Run("should prefer the stored snapshot", func(t *testing.T) {
		store := &memoryStore{data: []byte(`{"stored": {"litellm_provider": "anthropic", "mode": "chat"}}`)}
		table := pricing.NewTable(pricing.WithStore(store))

		require.NoError(t, table.Warm(context.Background()))

		_, ok := table.Get("anthropic", "stored", pricing.Exact)
		require.True(t, ok)
	})

	t.Run("should fall back to the bundled snapshot", func(t *testing.T) {
		table := pricing.NewTable(pricing.WithStore(&memoryStore{}))

		require.NoError(t, table.Warm(context.Background()))

		_, ok := table.Get("openai", "gpt-4o", pricing.Exact)
		require.True(t, ok)
	})
}

func TestTable_Entries(t *testing.T) {
	table := pricing.NewTable()
	require.NoError(t, table.AddCustom("ollama", "llama3.1-custom", pricing.Entry{}))

	entries := table.Entries("ollama")

	models := make([]string, 0, len(entries))
	for _, entry := range entries {
		models = append(models, entry.Model)
	}
	require.ElementsMatch(t, []string{"ollama/llama3.1", "llama3.1-custom"}, models)
}

func TestTable_Concurrent(t *testing.T) {
	table := pricing.NewTable()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if idx%2 == 0 {
				_ = table.AddCustom("acme", "rocket", pricing.Entry{InputCostPerToken: float64(idx)})
				return
			}
			table.Get("openai", "gpt-4o", pricing.Similar)
		}(i)
	}
	wg.Wait()

	_, ok := table.Get("acme", "rocket", pricing.Exact)
	require.True(t, ok)
}
