package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/satriahrh/persona-chat/domain"
)

type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

type generateCall struct {
	Instruction string
	History     []domain.ChatMessage
	NewMessage  string
}

// scriptedGenerator answers from a queue of replies; an empty queue echoes.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []reply
	calls   []generateCall
}

type reply struct {
	text string
	err  error
}

func (g *scriptedGenerator) then(text string, err error) *scriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, reply{text: text, err: err})
	return g
}

func (g *scriptedGenerator) Generate(_ context.Context, instruction string, history []domain.ChatMessage, newMessage string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, generateCall{Instruction: instruction, History: history, NewMessage: newMessage})
	if len(g.replies) == 0 {
		return "echo: " + newMessage, nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r.text, r.err
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *scriptedGenerator) lastCall() generateCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[len(g.calls)-1]
}

// blockingGenerator holds every call until release is closed.
type blockingGenerator struct {
	started chan string
	release chan struct{}
	reply   string
}

func newBlockingGenerator(reply string) *blockingGenerator {
	return &blockingGenerator{started: make(chan string, 8), release: make(chan struct{}), reply: reply}
}

func (g *blockingGenerator) Generate(ctx context.Context, _ string, _ []domain.ChatMessage, newMessage string) (string, error) {
	g.started <- newMessage
	select {
	case <-g.release:
		return g.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type promptStore struct {
	prompt string
	err    error
}

func (p *promptStore) GetGlobalPrompt(context.Context) (string, error) { return p.prompt, p.err }
func (p *promptStore) SetGlobalPrompt(_ context.Context, s string) error {
	p.prompt = s
	return nil
}

type personaStore map[string]domain.Persona

func (s personaStore) GetPersona(_ context.Context, id string) (domain.Persona, error) {
	p, ok := s[id]
	if !ok {
		return domain.Persona{}, fmt.Errorf("%w: %s", domain.ErrPersonaNotFound, id)
	}
	return p, nil
}

type recordingBroker struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (b *recordingBroker) Publish(_ context.Context, topic, _ string, message []byte) error {
	if topic != domain.ConversationTopic {
		return errors.New("unexpected topic " + topic)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, message)
	return nil
}

func (b *recordingBroker) Subscribe(context.Context, string, string) (<-chan domain.BrokerMessage, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBroker) Close() error { return nil }

func (b *recordingBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payloads)
}

type lenHasher struct{}

func (lenHasher) Hash(data []byte) string { return fmt.Sprintf("%x", len(data)) }

var (
	sarah = domain.Persona{ID: "sarah-1", Name: "Sarah", Instruction: "You are Sarah."}
	day1  = time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	day2  = time.Date(2025, 6, 2, 0, 30, 0, 0, time.UTC)
)

type fakeMic struct {
	mu     sync.Mutex
	starts int
	stops  int
	err    error
}

func (m *fakeMic) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.starts++
	return nil
}

func (m *fakeMic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *fakeMic) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

// fakeSpeaker plays until release is signalled or ctx is cancelled.
type fakeSpeaker struct {
	mu        sync.Mutex
	texts     []string
	cancelled int
	release   chan struct{}
}

func newFakeSpeaker() *fakeSpeaker { return &fakeSpeaker{release: make(chan struct{}, 8)} }

func (s *fakeSpeaker) Speak(ctx context.Context, text string, _ domain.SpeechSettings) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.cancelled++
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *fakeSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *fakeSpeaker) cancellations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// fakeClock records scheduled callbacks; tests fire them explicitly.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fire runs every pending callback.
func (c *fakeClock) fire() {
	c.mu.Lock()
	var fns []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			fns = append(fns, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

// fireStale runs every callback ever scheduled, including stopped ones, as if
// each timer had fired just before being stopped.
func (c *fakeClock) fireStale() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.timers))
	for _, t := range c.timers {
		fns = append(fns, t.f)
	}
	c.mu.Unlock()
	for _, f := range fns {
		f()
	}
}
