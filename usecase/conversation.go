package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/persona-chat/domain"
	"github.com/satriahrh/persona-chat/utils/log"
)

// Contents of model turns recorded when no usable reply came back.
const (
	// FallbackContent marks a failed generation call.
	FallbackContent = "Something went wrong."
	// EmptyResponseContent stands in for a blank reply; it is not an error.
	EmptyResponseContent = "I'm sorry, I couldn't generate a response."
	// NotConfiguredContent marks a generation backend without credentials.
	NotConfiguredContent = "The chat service is not configured. Please contact the administrator."

	// overloadMarker is how the provider words a capacity failure inside an
	// otherwise successful reply.
	overloadMarker = "model is overloaded"
)

// EventKind tells observers what kind of change an Event carries.
type EventKind int

const (
	// EventMessageAppended follows a new user or model turn.
	EventMessageAppended EventKind = iota
	// EventHistoryPruned follows a retry dropping error turns.
	EventHistoryPruned
	// EventCleared follows a reset to the greeting.
	EventCleared
)

// Event is published to observers after every state change. State is a copy
// taken right after the change.
type Event struct {
	Kind    EventKind
	Message domain.Message
	State   State
}

// ControllerConfig wires a Controller to its persona, storage key and ports.
// Prompts is optional.
type ControllerConfig struct {
	Persona   domain.Persona
	Key       domain.ConversationKey
	Generator domain.GenerationClient
	Prompts   domain.GlobalPromptStore
	Store     domain.KeyValueStore
}

// Controller owns the transcript of one (persona, day) conversation and drives
// its send, retry and clear lifecycle. At most one generation call is in
// flight at a time; submits that arrive meanwhile are dropped.
type Controller struct {
	persona domain.Persona
	key     domain.ConversationKey
	gen     domain.GenerationClient
	prompts domain.GlobalPromptStore
	store   domain.KeyValueStore
	logCtx  context.Context

	mu    sync.Mutex
	state State

	obsMu     sync.RWMutex
	observers map[int]func(Event)
	nextObs   int
}

// NewController loads the stored transcript for cfg.Key, or starts from the
// persona's greeting when there is none.
func NewController(ctx context.Context, cfg ControllerConfig) (*Controller, error) {
	if cfg.Generator == nil {
		return nil, errors.New("usecase: generation client must not be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("usecase: key/value store must not be nil")
	}
	if strings.TrimSpace(cfg.Persona.ID) == "" {
		return nil, errors.New("usecase: persona id must not be empty")
	}
	if cfg.Key.PersonaID != cfg.Persona.ID {
		return nil, errors.New("usecase: conversation key does not belong to persona")
	}

	c := &Controller{
		persona:   cfg.Persona,
		key:       cfg.Key,
		gen:       cfg.Generator,
		prompts:   cfg.Prompts,
		store:     cfg.Store,
		logCtx:    log.WithConversation(log.WithPersona(context.Background(), cfg.Persona.ID), cfg.Key.String()),
		observers: make(map[int]func(Event)),
	}
	c.state = State{Messages: c.load(ctx)}
	return c, nil
}

// Persona is the persona the conversation is held with.
func (c *Controller) Persona() domain.Persona { return c.persona }

// Key is the (persona, day) record the transcript is stored under.
func (c *Controller) Key() domain.ConversationKey { return c.key }

// Messages returns a copy of the transcript in display order.
func (c *Controller) Messages() []domain.Message {
	return c.Snapshot().Messages
}

func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Sending
}

func (c *Controller) CanRetry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return canRetry(c.state)
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyState(c.state)
}

// Subscribe registers fn for every subsequent Event. Observers run on the
// goroutine that caused the change, outside the controller lock.
func (c *Controller) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// Submit sends text as a new user turn and blocks until the model turn is
// recorded. It reports false when the text is blank or a send is in flight.
func (c *Controller) Submit(ctx context.Context, text string) bool {
	c.mu.Lock()
	turn, ok := c.beginLocked(text)
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.finish(ctx, turn)
	return true
}

// Retry drops every error turn and resends the last user message. It is only
// allowed while idle with an error as the latest message.
func (c *Controller) Retry(ctx context.Context) bool {
	c.mu.Lock()
	if !canRetry(c.state) {
		c.mu.Unlock()
		return false
	}
	content := lastUserMessage(c.state.Messages).Content
	c.state, _ = reduce(c.state, action{kind: actionRetry})
	c.persistLocked()
	pruned := copyState(c.state)
	turn, ok := c.beginLocked(content)
	c.mu.Unlock()

	c.emit(Event{Kind: EventHistoryPruned, State: pruned})
	if !ok {
		return false
	}
	c.finish(ctx, turn)
	return true
}

// Clear discards the transcript and its stored record, leaving only a fresh
// greeting. Ignored while a send is in flight.
func (c *Controller) Clear(ctx context.Context) bool {
	c.mu.Lock()
	next, ok := reduce(c.state, action{kind: actionReset, message: c.greeting()})
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.state = next
	if err := c.store.Delete(ctx, c.key.String()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.WithCtx(c.logCtx).Warn("failed to delete chat history", zap.Error(err))
	}
	snap := copyState(c.state)
	c.mu.Unlock()

	c.emit(Event{Kind: EventCleared, State: snap})
	return true
}

type pendingTurn struct {
	user    domain.Message
	history []domain.ChatMessage
	state   State
}

func (c *Controller) beginLocked(text string) (pendingTurn, bool) {
	if strings.TrimSpace(text) == "" || c.state.Sending {
		return pendingTurn{}, false
	}
	user := domain.Message{ID: newMessageID(), Role: domain.UserRole, Content: text}
	history := historyForRequest(c.state.Messages, text)

	next, ok := reduce(c.state, action{kind: actionSubmit, message: user})
	if !ok {
		return pendingTurn{}, false
	}
	c.state = next
	c.persistLocked()
	return pendingTurn{user: user, history: history, state: copyState(c.state)}, true
}

func (c *Controller) finish(ctx context.Context, turn pendingTurn) {
	c.emit(Event{Kind: EventMessageAppended, Message: turn.user, State: turn.state})

	reply := c.generate(ctx, turn.history, turn.user.Content)

	c.mu.Lock()
	c.state, _ = reduce(c.state, action{kind: actionResolve, message: reply})
	c.persistLocked()
	snap := copyState(c.state)
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessageAppended, Message: reply, State: snap})
}

func (c *Controller) generate(ctx context.Context, history []domain.ChatMessage, text string) domain.Message {
	logger := log.WithCtx(c.logCtx)

	var global string
	if c.prompts != nil {
		var err error
		global, err = c.prompts.GetGlobalPrompt(ctx)
		if err != nil {
			logger.Warn("failed to load global prompt, continuing without it", zap.Error(err))
			global = ""
		}
	}

	resp, err := c.gen.Generate(ctx, ComposeInstruction(global, c.persona.Instruction), history, text)
	reply := domain.Message{ID: newMessageID(), Role: domain.ModelRole}
	switch {
	case errors.Is(err, domain.ErrNotConfigured):
		logger.Error("generation backend not configured", zap.Error(err))
		reply.Content, reply.IsError = NotConfiguredContent, true
	case err != nil:
		logger.Error("generation call failed", zap.Error(err))
		reply.Content, reply.IsError = FallbackContent, true
	case strings.TrimSpace(resp) == "":
		logger.Warn("generation returned an empty reply")
		reply.Content = EmptyResponseContent
	case IsOverloaded(resp):
		logger.Warn("provider reported overload", zap.String("reply", resp))
		reply.Content, reply.IsError = resp, true
	default:
		reply.Content = resp
	}
	return reply
}

// IsOverloaded reports whether a successful reply is really the provider
// saying it has no capacity.
func IsOverloaded(reply string) bool {
	return strings.Contains(strings.ToLower(reply), overloadMarker)
}

func (c *Controller) greeting() domain.Message {
	return domain.Message{ID: newMessageID(), Role: domain.ModelRole, Content: greetingFor(c.persona.Name)}
}

func (c *Controller) load(ctx context.Context) []domain.Message {
	logger := log.WithCtx(c.logCtx)

	raw, err := c.store.Get(ctx, c.key.String())
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("failed to read chat history", zap.Error(err))
		}
		return []domain.Message{c.greeting()}
	}
	messages, err := decodeHistory(raw)
	if err != nil {
		logger.Warn("discarding unreadable chat history", zap.Error(err))
		return []domain.Message{c.greeting()}
	}
	return messages
}

// persistLocked stores the transcript unless it is just the greeting.
func (c *Controller) persistLocked() {
	if len(c.state.Messages) <= 1 {
		return
	}
	raw, err := encodeHistory(c.state.Messages)
	if err != nil {
		log.WithCtx(c.logCtx).Error("failed to encode chat history", zap.Error(err))
		return
	}
	if err := c.store.Set(context.Background(), c.key.String(), raw); err != nil {
		log.WithCtx(c.logCtx).Error("failed to save chat history", zap.Error(err))
	}
}

func (c *Controller) emit(ev Event) {
	c.obsMu.RLock()
	fns := make([]func(Event), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func copyState(s State) State {
	msgs := make([]domain.Message, len(s.Messages))
	copy(msgs, s.Messages)
	return State{Messages: msgs, Sending: s.Sending}
}
