package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/persona-chat/domain"
	"github.com/satriahrh/persona-chat/utils/log"
)

type ChatServiceConfig struct {
	Personas  domain.PersonaStore
	Prompts   domain.GlobalPromptStore
	Generator domain.GenerationClient
	Store     domain.KeyValueStore
	Broker    domain.MessageBroker
	Hasher    domain.Hasher
	Now       func() time.Time
}

// ChatService hands out the controller of today's conversation for each
// persona and fans every state change out as a snapshot on the broker.
type ChatService struct {
	personas  domain.PersonaStore
	prompts   domain.GlobalPromptStore
	generator domain.GenerationClient
	store     domain.KeyValueStore
	broker    domain.MessageBroker
	hasher    domain.Hasher
	now       func() time.Time
	speech    *SpeechPreferences

	mu            sync.Mutex
	conversations map[string]*Controller
}

func NewChatService(ctx context.Context, cfg ChatServiceConfig) (*ChatService, error) {
	if cfg.Personas == nil {
		return nil, errors.New("usecase: persona store must not be nil")
	}
	if cfg.Generator == nil {
		return nil, errors.New("usecase: generation client must not be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("usecase: key/value store must not be nil")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	speech, err := NewSpeechPreferences(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	return &ChatService{
		personas:      cfg.Personas,
		prompts:       cfg.Prompts,
		generator:     cfg.Generator,
		store:         cfg.Store,
		broker:        cfg.Broker,
		hasher:        cfg.Hasher,
		now:           cfg.Now,
		speech:        speech,
		conversations: make(map[string]*Controller),
	}, nil
}

// Conversation returns the controller for personaID's conversation today. A
// controller left over from a previous day is replaced by a fresh one.
func (s *ChatService) Conversation(ctx context.Context, personaID string) (*Controller, error) {
	key := KeyFor(personaID, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[personaID]; ok && c.Key() == key {
		return c, nil
	}

	persona, err := s.personas.GetPersona(ctx, personaID)
	if err != nil {
		return nil, fmt.Errorf("load persona %q: %w", personaID, err)
	}

	c, err := NewController(ctx, ControllerConfig{
		Persona:   persona,
		Key:       key,
		Generator: s.generator,
		Prompts:   s.prompts,
		Store:     s.store,
	})
	if err != nil {
		return nil, err
	}
	c.Subscribe(func(ev Event) { s.publish(c, ev.State) })
	s.conversations[personaID] = c

	log.WithCtx(c.logCtx).Debug("conversation opened", zap.Int("messages", len(c.Messages())))
	return c, nil
}

func (s *ChatService) SpeechPreferences() *SpeechPreferences {
	return s.speech
}

// Snapshot is the render model of a conversation.
func (s *ChatService) Snapshot(c *Controller) domain.ConversationSnapshot {
	return s.snapshotOf(c, c.Snapshot())
}

func (s *ChatService) snapshotOf(c *Controller, st State) domain.ConversationSnapshot {
	snap := domain.ConversationSnapshot{
		PersonaID: c.Persona().ID,
		Day:       c.Key().Day,
		Messages:  st.Messages,
		IsLoading: st.Sending,
	}
	if s.hasher != nil {
		if raw, err := json.Marshal(snap); err == nil {
			snap.Revision = s.hasher.Hash(raw)
		}
	}
	return snap
}

func (s *ChatService) publish(c *Controller, st State) {
	if s.broker == nil {
		return
	}
	payload, err := json.Marshal(s.snapshotOf(c, st))
	if err != nil {
		log.WithCtx(c.logCtx).Error("failed to encode conversation snapshot", zap.Error(err))
		return
	}
	if err := s.broker.Publish(c.logCtx, domain.ConversationTopic, "", payload); err != nil {
		log.WithCtx(c.logCtx).Warn("failed to publish conversation snapshot", zap.Error(err))
	}
}
