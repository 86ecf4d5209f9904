package websocket

import (
	"encoding/json"
	"time"
)

// Envelope types exchanged over the socket.
const (
	TypeSubmit      = "submit"
	TypeRetry       = "retry"
	TypeClear       = "clear"
	TypeListen      = "listen"
	TypeSpeechEnded = "speech_ended"

	TypeConversation = "conversation"
	TypeTranscript   = "transcript"
	TypeListening    = "listening"
	TypeSpeechStart  = "speech_start"
	TypeSpeechCancel = "speech_cancel"
	TypeError        = "error"
)

const (
	ErrCodeBusy       = "busy"
	ErrCodeBadRequest = "bad_request"
)

type Message struct {
	Type      string          `json:"type"`
	PersonaID string          `json:"persona_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type SubmitData struct {
	Text string `json:"text"`
}

// ListeningData reports whether the microphone is open. Requested echoes the
// listening intent after a listen toggle.
type ListeningData struct {
	Active    bool `json:"active"`
	Requested bool `json:"requested,omitempty"`
}

type SpeechStartData struct {
	Text string `json:"text"`
}

func encode(msgType, personaID string, data any) ([]byte, error) {
	msg := Message{Type: msgType, PersonaID: personaID, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}
