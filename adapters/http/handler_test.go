package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/persona-chat/adapters/hasher"
	"github.com/satriahrh/persona-chat/domain"
	"github.com/satriahrh/persona-chat/usecase"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

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

type scriptedGenerator struct {
	err error
}

func (g *scriptedGenerator) Generate(_ context.Context, instruction string, _ []domain.ChatMessage, newMessage string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "re: " + newMessage, nil
}

// heldGenerator blocks every call until release is closed or ctx is done.
type heldGenerator struct {
	started chan struct{}
	release chan struct{}
}

func (g *heldGenerator) Generate(ctx context.Context, _ string, _ []domain.ChatMessage, newMessage string) (string, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return "re: " + newMessage, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type catalog struct {
	mu       sync.Mutex
	personas map[string]domain.Persona
	prompt   string
	nextID   int
}

func (c *catalog) GetPersona(_ context.Context, id string) (domain.Persona, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.personas[id]
	if !ok {
		return domain.Persona{}, fmt.Errorf("%w: %s", domain.ErrPersonaNotFound, id)
	}
	return p, nil
}

func (c *catalog) ListPersonas(_ context.Context, f domain.PersonaFilter) ([]domain.Persona, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []domain.Persona{}
	for _, p := range c.personas {
		if f.Query == "" || strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Query)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *catalog) CreatePersona(_ context.Context, p domain.Persona) (domain.Persona, error) {
	if p.Name == "" {
		return domain.Persona{}, fmt.Errorf("%w: name is required", domain.ErrInvalidPersona)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	p.ID = fmt.Sprintf("new-%d", c.nextID)
	c.personas[p.ID] = p
	return p, nil
}

func (c *catalog) UpdatePersona(_ context.Context, p domain.Persona) (domain.Persona, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.personas[p.ID]; !ok {
		return domain.Persona{}, domain.ErrPersonaNotFound
	}
	c.personas[p.ID] = p
	return p, nil
}

func (c *catalog) DeletePersona(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.personas[id]; !ok {
		return domain.ErrPersonaNotFound
	}
	delete(c.personas, id)
	return nil
}

func (c *catalog) GetGlobalPrompt(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompt, nil
}

func (c *catalog) SetGlobalPrompt(_ context.Context, prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt = prompt
	return nil
}

type fixture struct {
	e       *echo.Echo
	gen     *scriptedGenerator
	catalog *catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gen := &scriptedGenerator{}
	f := newFixtureWith(t, gen)
	f.gen = gen
	return f
}

func newFixtureWith(t *testing.T, gen domain.GenerationClient) *fixture {
	t.Helper()
	cat := &catalog{personas: map[string]domain.Persona{
		"p1": {ID: "p1", Name: "Sarah", Instruction: "You are Sarah."},
	}}

	svc, err := usecase.NewChatService(context.Background(), usecase.ChatServiceConfig{
		Personas:  cat,
		Prompts:   cat,
		Generator: gen,
		Store:     &memStore{data: map[string][]byte{}},
		Hasher:    hasher.New(),
	})
	require.NoError(t, err)

	e := echo.New()
	NewHandler(svc, cat, cat).Register(e.Group("/api/v1"))
	return &fixture{e: e, catalog: cat}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "healthy")
}

func TestConversationLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/chat/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[domain.ConversationSnapshot](t, rec)
	require.Len(t, snap.Messages, 1)
	require.Equal(t, "Hello! You are now chatting with Sarah.", snap.Messages[0].Content)
	require.NotEmpty(t, snap.Revision)
	require.Equal(t, `"`+snap.Revision+`"`, rec.Header().Get("ETag"))
	firstRevision := snap.Revision

	rec = f.do(t, http.MethodPost, "/api/v1/chat/p1/messages", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decode[domain.ConversationSnapshot](t, rec)
	require.Len(t, snap.Messages, 3)
	require.Equal(t, "re: hi", snap.Messages[2].Content)
	require.False(t, snap.IsLoading)
	require.NotEqual(t, firstRevision, snap.Revision)

	rec = f.do(t, http.MethodDelete, "/api/v1/chat/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decode[domain.ConversationSnapshot](t, rec)
	require.Len(t, snap.Messages, 1)
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/p1/messages", `{"text":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/chat/ghost/messages", `{"text":"hi"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetry(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/chat/p1/retry", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	f.gen.err = errors.New("boom")
	rec = f.do(t, http.MethodPost, "/api/v1/chat/p1/messages", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[domain.ConversationSnapshot](t, rec)
	require.True(t, snap.Messages[2].IsError)
	require.Equal(t, usecase.FallbackContent, snap.Messages[2].Content)

	f.gen.err = nil
	rec = f.do(t, http.MethodPost, "/api/v1/chat/p1/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap = decode[domain.ConversationSnapshot](t, rec)
	require.Len(t, snap.Messages, 3)
	require.Equal(t, "hi", snap.Messages[1].Content)
	require.Equal(t, "re: hi", snap.Messages[2].Content)
}

func TestSpeechSettings(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/settings/speech", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.DefaultSpeechSettings(), decode[domain.SpeechSettings](t, rec))

	rec = f.do(t, http.MethodPut, "/api/v1/settings/speech", `{"pitch":9,"autoSend":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[domain.SpeechSettings](t, rec)
	require.InDelta(t, 2, got.Pitch, 1e-9)
	require.InDelta(t, 1.1, got.Rate, 1e-9)
	require.False(t, got.AutoSend)
	require.True(t, got.AutoSpeak)
}

func TestGlobalPrompt(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/settings/global-prompt", `{"prompt":"Be brief."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/settings/global-prompt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Be brief.", decode[GlobalPromptBody](t, rec).Prompt)
}

func TestPersonaCRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/personas", `{"key":"david","name":"David","instruction":"You are David."}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[domain.Persona](t, rec)
	require.NotEmpty(t, created.ID)

	rec = f.do(t, http.MethodPost, "/api/v1/personas", `{"key":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/personas?q=dav", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]domain.Persona](t, rec)
	require.Len(t, list, 1)
	require.Equal(t, "David", list[0].Name)

	rec = f.do(t, http.MethodPut, "/api/v1/personas/"+created.ID, `{"key":"david","name":"Dave","instruction":"You are Dave."}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, created.ID, decode[domain.Persona](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/v1/personas/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Dave", decode[domain.Persona](t, rec).Name)

	rec = f.do(t, http.MethodDelete, "/api/v1/personas/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/personas/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	h := &Handler{limiter: make(chan struct{}, 1)}
	h.limiter <- struct{}{}

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	err := h.RateLimitMiddleware(func(echo.Context) error { return nil })(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusTooManyRequests, he.Code)
}

func TestSendMessage_SurvivesClientDisconnect(t *testing.T) {
	gen := &heldGenerator{started: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixtureWith(t, gen)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/p1/messages", strings.NewReader(`{"text":"hi"}`)).WithContext(ctx)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.e.ServeHTTP(httptest.NewRecorder(), req)
	}()
	<-gen.started

	cancel()
	close(gen.release)
	<-done

	rec := f.do(t, http.MethodGet, "/api/v1/chat/p1", "")
	snap := decode[domain.ConversationSnapshot](t, rec)
	require.Len(t, snap.Messages, 3)
	require.Equal(t, "re: hi", snap.Messages[2].Content)
	require.False(t, snap.Messages[2].IsError)
}
