package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/persona-chat/domain"
	"github.com/satriahrh/persona-chat/utils/log"
)

const speechSettingsKey = "speech_settings"

// LoadSpeechSettings returns the stored preferences, or the defaults when
// nothing usable is stored.
func LoadSpeechSettings(ctx context.Context, store domain.KeyValueStore) domain.SpeechSettings {
	raw, err := store.Get(ctx, speechSettingsKey)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.WithCtx(ctx).Warn("failed to read speech settings", zap.Error(err))
		}
		return domain.DefaultSpeechSettings()
	}
	settings := domain.DefaultSpeechSettings()
	if err := json.Unmarshal(raw, &settings); err != nil {
		log.WithCtx(ctx).Warn("discarding unreadable speech settings", zap.Error(err))
		return domain.DefaultSpeechSettings()
	}
	return settings.Normalize()
}

func SaveSpeechSettings(ctx context.Context, store domain.KeyValueStore, settings domain.SpeechSettings) (domain.SpeechSettings, error) {
	settings = settings.Normalize()
	raw, err := json.Marshal(settings)
	if err != nil {
		return settings, fmt.Errorf("encode speech settings: %w", err)
	}
	if err := store.Set(ctx, speechSettingsKey, raw); err != nil {
		return settings, fmt.Errorf("save speech settings: %w", err)
	}
	return settings, nil
}

// SpeechPreferences is the shared, persisted copy of the speech settings.
type SpeechPreferences struct {
	store domain.KeyValueStore

	mu       sync.RWMutex
	settings domain.SpeechSettings
}

func NewSpeechPreferences(ctx context.Context, store domain.KeyValueStore) (*SpeechPreferences, error) {
	if store == nil {
		return nil, errors.New("usecase: key/value store must not be nil")
	}
	return &SpeechPreferences{store: store, settings: LoadSpeechSettings(ctx, store)}, nil
}

func (p *SpeechPreferences) Get() domain.SpeechSettings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// Update applies s and persists it. The in-memory copy is applied even when
// persisting fails.
func (p *SpeechPreferences) Update(ctx context.Context, s domain.SpeechSettings) (domain.SpeechSettings, error) {
	s, err := SaveSpeechSettings(ctx, p.store, s)
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
	return s, err
}
