package echo_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/engine"
	"github.com/davidbz/conduit/internal/pricing"
	"github.com/davidbz/conduit/internal/provider/echo"
	"github.com/davidbz/conduit/internal/provider/openaicompat"
)

func newEchoEngine(t *testing.T, model string) *engine.Engine {
	t.Helper()

	srv := httptest.NewServer(echo.NewHandler(echo.WithChunkDelay(0)))
	t.Cleanup(srv.Close)

	adapter, err := openaicompat.New(echo.Service, "", srv.URL+"/v1")
	require.NoError(t, err)

	eng, err := engine.New(adapter, pricing.NewTable(),
		engine.WithOptions(domain.Options{Model: model}),
		engine.WithPrompt("Hello world"),
	)
	require.NoError(t, err)
	return eng
}

func TestHandler_Complete(t *testing.T) {
	t.Run("should echo the conversation", func(t *testing.T) {
		eng := newEchoEngine(t, echo.Model)

		resp, err := eng.SendExtended(context.Background())

		require.NoError(t, err)
		require.Equal(t, "[user]: Hello world\n", resp.Content)
		// "[user]:" "Hello" "world" = 3 words each way.
		require.Equal(t, 3, resp.Usage.InputTokens)
		require.Equal(t, 3, resp.Usage.OutputTokens)
		require.Equal(t, 6, resp.Usage.TotalTokens)
		require.True(t, resp.Usage.Local)
		require.Zero(t, resp.Usage.TotalCost)
	})

	t.Run("should render every message of a longer conversation", func(t *testing.T) {
		eng := newEchoEngine(t, echo.Model)
		eng.Assistant("Hi")
		eng.User("Bye")

		text, err := eng.Send(context.Background())

		require.NoError(t, err)
		require.Equal(t, "[user]: Hello world\n[assistant]: Hi\n[user]: Bye\n", text)
	})

	t.Run("should reject an unsupported model", func(t *testing.T) {
		eng := newEchoEngine(t, "gpt-4o")

		_, err := eng.Send(context.Background())

		require.Error(t, err)
		require.True(t, domain.IsTransport(err))
		require.Contains(t, err.Error(), "model gpt-4o is not supported by echo provider")
	})
}

func TestHandler_Stream(t *testing.T) {
	t.Run("should stream the same text word by word", func(t *testing.T) {
		eng := newEchoEngine(t, echo.Model)

		fragments, err := eng.Stream(context.Background())
		require.NoError(t, err)

		var got []string
		for fragment, streamErr := range fragments {
			require.NoError(t, streamErr)
			got = append(got, fragment)
		}

		require.Equal(t, []string{"[user]: ", "Hello ", "world\n"}, got)
		require.Equal(t, "[user]: Hello world\n", strings.Join(got, ""))

		last, ok := eng.Conversation().Last()
		require.True(t, ok)
		require.Equal(t, domain.RoleAssistant, last.Role)
	})

	t.Run("should report usage at the end of an extended stream", func(t *testing.T) {
		eng := newEchoEngine(t, echo.Model)

		handle, err := eng.StreamExtended(context.Background())
		require.NoError(t, err)

		resp, err := handle.Complete(context.Background())
		require.NoError(t, err)
		require.Equal(t, 6, resp.Usage.TotalTokens)
		require.True(t, resp.Usage.Local)
	})
}

func TestHandler_Models(t *testing.T) {
	t.Run("should list the echo model as a local quality model", func(t *testing.T) {
		eng := newEchoEngine(t, echo.Model)

		models, err := eng.GetQualityModels(context.Background())

		require.NoError(t, err)
		require.Len(t, models, 1)
		require.Equal(t, echo.Model, models[0].Model)
		require.Zero(t, models[0].InputCostPerToken)
	})
}

func TestHandler_UnknownEndpoint(t *testing.T) {
	srv := httptest.NewServer(echo.NewHandler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/embeddings")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, string(body), "unknown endpoint")
}
