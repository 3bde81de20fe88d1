package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/conduit/internal/domain"
)

func TestConversation_Append(t *testing.T) {
	t.Run("should start empty", func(t *testing.T) {
		conv := domain.NewConversation()
		require.Equal(t, 0, conv.Len())

		_, ok := conv.Last()
		require.False(t, ok)
	})

	t.Run("should seed a user message from a prompt", func(t *testing.T) {
		conv := domain.NewConversationFromPrompt("the color of the sky is")

		require.Equal(t, 1, conv.Len())
		last, ok := conv.Last()
		require.True(t, ok)
		require.Equal(t, domain.RoleUser, last.Role)
		require.Equal(t, "the color of the sky is", last.Text)
	})

	t.Run("should keep caller append order", func(t *testing.T) {
		conv := domain.NewConversation()
		conv.System("be brief")
		conv.User("hi")
		conv.Thinking("greeting")
		conv.ToolCall(domain.ToolCall{ID: "call_1", Name: "wave", Input: json.RawMessage(`{}`)})
		conv.Assistant("hello")

		roles := make([]domain.Role, 0, conv.Len())
		for _, msg := range conv.Messages() {
			roles = append(roles, msg.Role)
		}
		require.Equal(t, []domain.Role{
			domain.RoleSystem,
			domain.RoleUser,
			domain.RoleThinking,
			domain.RoleToolCall,
			domain.RoleAssistant,
		}, roles)
	})

	t.Run("should not share storage with seed or snapshots", func(t *testing.T) {
		seed := []domain.Message{{Role: domain.RoleUser, Text: "one"}}
		conv := domain.NewConversationFromMessages(seed)
		seed[0].Text = "changed"

		snapshot := conv.Messages()
		snapshot[0].Text = "also changed"

		last, _ := conv.Last()
		require.Equal(t, "one", last.Text)
	})
}

func TestRemapRoles(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Text: "weather?"},
		{Role: domain.RoleThinking, Text: "need a tool"},
		{Role: domain.RoleToolCall, ToolCall: &domain.ToolCall{ID: "c1", Name: "weather", Input: json.RawMessage(`{"city":"Paris"}`)}},
		{Role: domain.RoleAssistant, Text: "sunny"},
	}

	out := domain.RemapRoles(msgs)

	require.Len(t, out, 4)
	require.Equal(t, domain.RoleUser, out[0].Role)
	require.Equal(t, domain.RoleAssistant, out[1].Role)
	require.Equal(t, "need a tool", out[1].Text)
	require.Equal(t, domain.RoleAssistant, out[2].Role)
	require.JSONEq(t, `{"id":"c1","name":"weather","input":{"city":"Paris"}}`, out[2].Text)
	require.Equal(t, domain.RoleAssistant, out[3].Role)

	// Input is untouched.
	require.Equal(t, domain.RoleThinking, msgs[1].Role)
}
