package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/persona-chat/domain"
	"github.com/satriahrh/persona-chat/utils/log"
)

const DefaultSettleDelay = 400 * time.Millisecond

// Microphone is the input device of the speech bridge. Start and Stop must not
// block or call back into the bridge synchronously; transcripts and the end of
// capture are reported through HandleTranscript and HandleListeningEnded.
type Microphone interface {
	Start() error
	Stop()
}

// Speaker plays synthesized speech. Speak blocks until playback has finished,
// failed, or ctx was cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string, settings domain.SpeechSettings) error
}

// Timer is the cancellation handle of a scheduled resume.
type Timer interface {
	Stop() bool
}

type BridgeConfig struct {
	Conversation *Controller
	Microphone   Microphone
	Speaker      Speaker
	Preferences  *SpeechPreferences
	SettleDelay  time.Duration
	// AfterFunc schedules the post-speech resume; defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
}

// Bridge lets voice stand in for the text box on both ends of a conversation.
// Listening and speaking are kept mutually exclusive: the microphone is stopped
// before every utterance and reopened only after a settle delay once the
// utterance ends and the user still wants to talk.
type Bridge struct {
	conv        *Controller
	mic         Microphone
	speaker     Speaker
	prefs       *SpeechPreferences
	settleDelay time.Duration
	afterFunc   func(d time.Duration, f func()) Timer

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu          sync.Mutex
	listening   bool
	intent      bool
	submitted   bool
	speaking    bool
	scratch     string
	speakGen    uint64
	speakCancel context.CancelFunc
	resumeGen   uint64
	resumeTimer Timer
	closed      bool
}

func NewBridge(ctx context.Context, cfg BridgeConfig) (*Bridge, error) {
	if cfg.Conversation == nil {
		return nil, errors.New("usecase: bridge needs a conversation")
	}
	if cfg.Preferences == nil {
		return nil, errors.New("usecase: bridge needs speech preferences")
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Bridge{
		conv:        cfg.Conversation,
		mic:         cfg.Microphone,
		speaker:     cfg.Speaker,
		prefs:       cfg.Preferences,
		settleDelay: cfg.SettleDelay,
		afterFunc:   cfg.AfterFunc,
		ctx:         bctx,
		cancel:      cancel,
	}
	b.unsubscribe = cfg.Conversation.Subscribe(b.onEvent)
	return b, nil
}

func (b *Bridge) Settings() domain.SpeechSettings {
	return b.prefs.Get()
}

func (b *Bridge) UpdateSettings(ctx context.Context, s domain.SpeechSettings) (domain.SpeechSettings, error) {
	return b.prefs.Update(ctx, s)
}

func (b *Bridge) IsListening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

func (b *Bridge) IsSpeaking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speaking
}

// Scratch is the live interim transcript, cleared when it is submitted.
func (b *Bridge) Scratch() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scratch
}

// ToggleListening flips the user's listening intent and reports the new value.
// Turning it on opens the microphone right away unless a send is in flight or
// speech is playing; in the latter case it opens after the utterance.
func (b *Bridge) ToggleListening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.mic == nil {
		return false
	}
	if b.listening || b.intent {
		b.intent = false
		b.cancelResumeLocked()
		if b.listening {
			b.mic.Stop()
			b.listening = false
		}
		return false
	}

	b.intent = true
	if !b.speaking && !b.conv.IsLoading() {
		b.startListeningLocked()
	}
	return b.intent
}

// HandleTranscript receives recognizer output. A final, non-empty transcript is
// submitted like typed input when auto-send is on.
func (b *Bridge) HandleTranscript(t domain.Transcript) {
	b.mu.Lock()
	if !b.listening {
		b.mu.Unlock()
		return
	}
	b.scratch = t.Text
	text := strings.TrimSpace(t.Text)
	send := t.Final && b.prefs.Get().AutoSend && text != ""
	if send {
		b.scratch = ""
		b.submitted = true
	}
	b.mu.Unlock()

	if send {
		b.conv.Submit(b.ctx, text)
	}
}

// HandleListeningEnded records that the device stopped capturing on its own.
// Ending without having sent anything also drops the listening intent;
// otherwise listening resumes once the reply is out of the way.
func (b *Bridge) HandleListeningEnded() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.listening = false
	if !b.submitted {
		b.intent = false
		return
	}
	// A reply that was not spoken resolved while the device was still open.
	if b.intent && !b.speaking && b.resumeTimer == nil && !b.conv.IsLoading() {
		b.scheduleResumeLocked()
	}
}

// Close stops both devices and detaches from the conversation.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.intent = false
	b.cancelResumeLocked()
	b.stopSpeakingLocked()
	if b.listening {
		b.mic.Stop()
		b.listening = false
	}
	b.mu.Unlock()

	b.unsubscribe()
	b.cancel()
}

func (b *Bridge) onEvent(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	switch ev.Kind {
	case EventCleared:
		b.stopSpeakingLocked()
		if b.intent && !b.listening {
			b.scheduleResumeLocked()
		}
	case EventMessageAppended:
		if ev.Message.Role != domain.ModelRole {
			return
		}
		if !ev.Message.IsError && b.prefs.Get().AutoSpeak && b.speaker != nil {
			b.speakLocked(ev.Message.Content)
			return
		}
		if b.intent && !b.listening {
			b.scheduleResumeLocked()
		}
	}
}

func (b *Bridge) startListeningLocked() {
	b.scratch = ""
	b.submitted = false
	if err := b.mic.Start(); err != nil {
		log.WithCtx(b.conv.logCtx).Warn("failed to start microphone", zap.Error(err))
		b.intent = false
		return
	}
	b.listening = true
}

func (b *Bridge) speakLocked(text string) {
	b.cancelResumeLocked()
	if b.listening {
		b.mic.Stop()
		b.listening = false
	}
	b.stopSpeakingLocked()

	ctx, cancel := context.WithCancel(b.ctx)
	b.speakGen++
	gen := b.speakGen
	b.speaking = true
	b.speakCancel = cancel
	settings := b.prefs.Get()

	go func() {
		defer cancel()
		if err := b.speaker.Speak(ctx, text, settings); err != nil && !errors.Is(err, context.Canceled) {
			log.WithCtx(b.conv.logCtx).Warn("speech synthesis failed", zap.Error(err))
		}
		b.speechFinished(gen)
	}()
}

func (b *Bridge) speechFinished(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.speakGen || b.closed {
		return
	}
	b.speaking = false
	b.speakCancel = nil
	if b.intent {
		b.scheduleResumeLocked()
	}
}

func (b *Bridge) stopSpeakingLocked() {
	if b.speakCancel != nil {
		b.speakCancel()
		b.speakCancel = nil
	}
	b.speaking = false
	b.speakGen++
}

func (b *Bridge) scheduleResumeLocked() {
	b.cancelResumeLocked()
	gen := b.resumeGen
	b.resumeTimer = b.afterFunc(b.settleDelay, func() { b.resume(gen) })
}

// cancelResumeLocked invalidates any scheduled resume, even one whose timer
// has already fired and is waiting for the lock.
func (b *Bridge) cancelResumeLocked() {
	if b.resumeTimer != nil {
		b.resumeTimer.Stop()
		b.resumeTimer = nil
	}
	b.resumeGen++
}

func (b *Bridge) resume(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.resumeGen || b.closed {
		return
	}
	b.resumeTimer = nil
	if !b.intent || b.speaking || b.listening || b.conv.IsLoading() {
		return
	}
	b.startListeningLocked()
}
