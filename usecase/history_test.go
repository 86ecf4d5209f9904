package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/satriahrh/persona-chat/domain"
)

func TestKeyFor(t *testing.T) {
	key := KeyFor("p1", time.Date(2025, 1, 9, 8, 0, 0, 0, time.UTC))
	require.Equal(t, "chat_history_p1_2025-01-09", key.String())

	// Local times are bucketed by their UTC day.
	jakarta := time.FixedZone("WIB", 7*3600)
	key = KeyFor("p1", time.Date(2025, 1, 10, 3, 0, 0, 0, jakarta))
	require.Equal(t, "2025-01-09", key.Day)

	require.NotEqual(t, KeyFor("p1", day1), KeyFor("p1", day2))
	require.NotEqual(t, KeyFor("p1", day1), KeyFor("p2", day1))
}

func TestHistoryCodec(t *testing.T) {
	messages := []domain.Message{
		msg("1", domain.ModelRole, "Hello! You are now chatting with Sarah."),
		msg("2", domain.UserRole, "hi"),
		errMsg("3"),
	}
	raw, err := encodeHistory(messages)
	require.NoError(t, err)

	got, err := decodeHistory(raw)
	require.NoError(t, err)
	require.Equal(t, messages, got)
}

func TestDecodeHistory_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":     `{`,
		"empty list":   `[]`,
		"unknown role": `[{"id":"1","role":"system","content":"x"}]`,
		"missing id":   `[{"role":"user","content":"x"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeHistory([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestNewMessageID_SortsInGenerationOrder(t *testing.T) {
	a, b := newMessageID(), newMessageID()
	require.NotEqual(t, a, b)
	require.Less(t, a, b)
}
