package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/satriahrh/persona-chat/domain"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, _ string, _ []domain.ChatMessage, newMessage string) (string, error) {
	return "you said: " + newMessage, nil
}

type personaStore map[string]domain.Persona

func (s personaStore) GetPersona(_ context.Context, id string) (domain.Persona, error) {
	p, ok := s[id]
	if !ok {
		return domain.Persona{}, fmt.Errorf("%w: %s", domain.ErrPersonaNotFound, id)
	}
	return p, nil
}

// utteranceRecognizer turns each audio chunk into a final transcript and ends
// the utterance after the first one.
type utteranceRecognizer struct{}

func (utteranceRecognizer) Recognize(ctx context.Context, audio <-chan []byte, onResult func(domain.Transcript)) error {
	select {
	case chunk, ok := <-audio:
		if !ok {
			return nil
		}
		onResult(domain.Transcript{Text: string(chunk)})
		onResult(domain.Transcript{Text: string(chunk), Final: true})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type textSynth struct{}

func (textSynth) Synthesize(_ context.Context, text string, _ domain.SpeechSettings) ([]byte, error) {
	return []byte("mp3:" + text), nil
}

type recordingSender struct {
	mu     sync.Mutex
	texts  []Message
	binary [][]byte
}

func (r *recordingSender) SendMessage(message []byte) error {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		return err
	}
	r.mu.Lock()
	r.texts = append(r.texts, msg)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) SendBinary(data []byte) error {
	r.mu.Lock()
	r.binary = append(r.binary, data)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) ofType(t string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.texts {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (r *recordingSender) binaryFrames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.binary))
	for _, b := range r.binary {
		out = append(out, string(b))
	}
	return out
}

func command(t string, data any) []byte {
	msg := map[string]any{"type": t}
	if data != nil {
		msg["data"] = data
	}
	raw, _ := json.Marshal(msg)
	return raw
}

func lastContent(messages []domain.Message) string {
	if len(messages) == 0 {
		return ""
	}
	return strings.TrimSpace(messages[len(messages)-1].Content)
}
