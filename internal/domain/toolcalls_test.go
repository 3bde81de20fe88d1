package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conduit/internal/domain"
)

func TestToolCallBuffer_Add(t *testing.T) {
	t.Run("should yield only when arguments are complete", func(t *testing.T) {
		buf := domain.NewToolCallBuffer()

		_, ok := buf.Add("0", "call_1", "get_weather", "")
		require.False(t, ok)

		_, ok = buf.Add("0", "", "", `{"city":`)
		require.False(t, ok)

		call, ok := buf.Add("0", "", "", `"Paris"}`)
		require.True(t, ok)
		require.Equal(t, "call_1", call.ID)
		require.Equal(t, "get_weather", call.Name)
		require.JSONEq(t, `{"city":"Paris"}`, string(call.Input))
		require.Equal(t, 0, buf.Pending())
	})

	t.Run("should synthesize an id when the wire omits one", func(t *testing.T) {
		buf := domain.NewToolCallBuffer()

		call, ok := buf.Add("0", "", "lookup", `{"q":"go"}`)
		require.True(t, ok)
		require.NotEmpty(t, call.ID)
		require.Contains(t, call.ID, "call_")
	})

	t.Run("should track interleaved calls independently", func(t *testing.T) {
		buf := domain.NewToolCallBuffer()

		_, ok := buf.Add("0", "a", "first", `{"x":`)
		require.False(t, ok)
		_, ok = buf.Add("1", "b", "second", `{"y":`)
		require.False(t, ok)

		second, ok := buf.Add("1", "", "", `2}`)
		require.True(t, ok)
		require.Equal(t, "second", second.Name)

		first, ok := buf.Add("0", "", "", `1}`)
		require.True(t, ok)
		require.Equal(t, "first", first.Name)
	})

	t.Run("should not treat a scalar as complete arguments", func(t *testing.T) {
		buf := domain.NewToolCallBuffer()

		_, ok := buf.Add("0", "a", "f", `1`)
		require.False(t, ok)
	})
}

func TestToolCallBuffer_Flush(t *testing.T) {
	buf := domain.NewToolCallBuffer()

	buf.Add("0", "a", "no_args", "")
	buf.Add("1", "b", "broken", `{"unterminated":`)

	calls := buf.Flush()

	require.Len(t, calls, 1)
	require.Equal(t, "no_args", calls[0].Name)
	require.JSONEq(t, `{}`, string(calls[0].Input))
	require.Equal(t, 0, buf.Pending())
}

func TestToolCallBuffer_Close(t *testing.T) {
	t.Run("should complete a call without arguments", func(t *testing.T) {
		buf := domain.NewToolCallBuffer()
		buf.Add("2", "toolu_1", "now", "")

		call, ok := buf.Close("2")

		require.True(t, ok)
		require.Equal(t, "toolu_1", call.ID)
		require.JSONEq(t, `{}`, string(call.Input))
		require.Zero(t, buf.Pending())
	})

	t.Run("should drop a call with invalid arguments", func(t *testing.T) {
		buf := domain.NewToolCallBuffer()
		buf.Add("0", "toolu_2", "broken", `{"a":`)

		_, ok := buf.Close("0")

		require.False(t, ok)
		require.Zero(t, buf.Pending())
	})

	t.Run("should ignore unknown keys", func(t *testing.T) {
		_, ok := domain.NewToolCallBuffer().Close("9")
		require.False(t, ok)
	})
}
