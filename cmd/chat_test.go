package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	wsadapter "github.com/satriahrh/persona-chat/adapters/websocket"
	"github.com/satriahrh/persona-chat/domain"
)

func TestCommandFor(t *testing.T) {
	_, ok := commandFor("   ")
	require.False(t, ok)

	raw, ok := commandFor("/retry")
	require.True(t, ok)
	var msg wsadapter.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	require.Equal(t, wsadapter.TypeRetry, msg.Type)

	raw, ok = commandFor(" hello there ")
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(raw, &msg))
	require.Equal(t, wsadapter.TypeSubmit, msg.Type)
	var data wsadapter.SubmitData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	require.Equal(t, "hello there", data.Text)
}

func TestPrintSnapshot(t *testing.T) {
	var out bytes.Buffer
	seen := map[string]bool{}

	greeting := domain.Message{ID: "1", Role: domain.ModelRole, Content: "Hello! You are now chatting with Sarah."}
	user := domain.Message{ID: "2", Role: domain.UserRole, Content: "hi"}
	failed := domain.Message{ID: "3", Role: domain.ModelRole, Content: "Something went wrong.", IsError: true}

	printSnapshot(&out, domain.ConversationSnapshot{Messages: []domain.Message{greeting}}, seen)
	printSnapshot(&out, domain.ConversationSnapshot{Messages: []domain.Message{greeting, user}, IsLoading: true}, seen)
	printSnapshot(&out, domain.ConversationSnapshot{Messages: []domain.Message{greeting, user, failed}}, seen)

	require.Equal(t,
		"< Hello! You are now chatting with Sarah.\n...\n! (use /retry) Something went wrong.\n",
		out.String())

	out.Reset()
	fresh := domain.Message{ID: "4", Role: domain.ModelRole, Content: "Hello! You are now chatting with Sarah."}
	printSnapshot(&out, domain.ConversationSnapshot{Messages: []domain.Message{fresh}}, seen)
	require.Equal(t, "< Hello! You are now chatting with Sarah.\n", out.String())
	require.Len(t, seen, 1)
}
