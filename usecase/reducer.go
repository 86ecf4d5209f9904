package usecase

import (
	"strings"

	"github.com/satriahrh/persona-chat/domain"
)

// State is the full conversation state owned by a Controller.
type State struct {
	Messages []domain.Message
	Sending  bool
}

type actionKind int

const (
	actionSubmit actionKind = iota
	actionResolve
	actionRetry
	actionReset
)

type action struct {
	kind    actionKind
	message domain.Message
}

// reduce applies a to s. ok is false when the transition is not allowed from
// s, in which case s is returned unchanged. Message slices are never shared
// between the input and output states.
func reduce(s State, a action) (next State, ok bool) {
	switch a.kind {
	case actionSubmit:
		if s.Sending || strings.TrimSpace(a.message.Content) == "" {
			return s, false
		}
		return State{Messages: appendMessage(s.Messages, a.message), Sending: true}, true

	case actionResolve:
		if !s.Sending {
			return s, false
		}
		return State{Messages: appendMessage(s.Messages, a.message)}, true

	case actionRetry:
		if !canRetry(s) {
			return s, false
		}
		kept := make([]domain.Message, 0, len(s.Messages))
		for _, m := range s.Messages {
			if !m.IsError {
				kept = append(kept, m)
			}
		}
		// The failed user turn is re-appended by the resend.
		if n := len(kept); n > 1 && kept[n-1].Role == domain.UserRole {
			kept = kept[:n-1]
		}
		return State{Messages: kept}, true

	case actionReset:
		if s.Sending {
			return s, false
		}
		return State{Messages: []domain.Message{a.message}}, true
	}
	return s, false
}

func canRetry(s State) bool {
	if s.Sending || len(s.Messages) == 0 {
		return false
	}
	return s.Messages[len(s.Messages)-1].IsError && lastUserMessage(s.Messages) != nil
}

func lastUserMessage(messages []domain.Message) *domain.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.UserRole {
			return &messages[i]
		}
	}
	return nil
}

func appendMessage(messages []domain.Message, m domain.Message) []domain.Message {
	out := make([]domain.Message, len(messages), len(messages)+1)
	copy(out, messages)
	return append(out, m)
}

// historyForRequest builds the context replayed to the model: error turns and
// the leading greeting are dropped, and the outbound turn is appended last.
func historyForRequest(messages []domain.Message, outbound string) []domain.ChatMessage {
	kept := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if !m.IsError {
			kept = append(kept, m)
		}
	}
	if len(kept) > 0 {
		kept = kept[1:]
	}

	history := make([]domain.ChatMessage, 0, len(kept)+1)
	for _, m := range kept {
		history = append(history, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return append(history, domain.ChatMessage{Role: domain.UserRole, Content: outbound})
}
