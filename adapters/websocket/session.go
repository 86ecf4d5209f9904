package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/satriahrh/persona-chat/domain"
	"github.com/satriahrh/persona-chat/usecase"
	"github.com/satriahrh/persona-chat/utils/log"
	"go.uber.org/zap"
)

const (
	audioBuffer = 64
	// maxPlayback bounds how long an utterance may hold the speaker when the
	// browser never reports speech_ended.
	maxPlayback = 2 * time.Minute
)

var errSpeechUnavailable = errors.New("speech recognition is not configured")

// sender is the outbound half of a Client.
type sender interface {
	SendMessage(message []byte) error
	SendBinary(data []byte) error
}

type sessionConfig struct {
	Out          sender
	PersonaID    string
	Conversation *usecase.Controller
	Preferences  *usecase.SpeechPreferences
	Recognizer   domain.SpeechRecognizer
	Synthesizer  domain.SpeechSynthesizer
	SettleDelay  time.Duration
}

// session connects one socket to a conversation: it executes the client's
// commands and lends the browser's microphone and speaker to a speech bridge.
type session struct {
	ctx       context.Context
	out       sender
	personaID string
	conv      *usecase.Controller
	bridge    *usecase.Bridge
	mic       *microphone
	speaker   *speaker
}

func newSession(ctx context.Context, cfg sessionConfig) (*session, error) {
	s := &session{
		ctx:       ctx,
		out:       cfg.Out,
		personaID: cfg.PersonaID,
		conv:      cfg.Conversation,
	}
	s.mic = &microphone{ctx: ctx, recognizer: cfg.Recognizer, session: s}

	bcfg := usecase.BridgeConfig{
		Conversation: cfg.Conversation,
		Microphone:   s.mic,
		Preferences:  cfg.Preferences,
		SettleDelay:  cfg.SettleDelay,
	}
	if cfg.Synthesizer != nil {
		s.speaker = &speaker{synth: cfg.Synthesizer, session: s, done: make(chan struct{}, 1)}
		bcfg.Speaker = s.speaker
	}

	bridge, err := usecase.NewBridge(ctx, bcfg)
	if err != nil {
		return nil, err
	}
	s.bridge = bridge
	return s, nil
}

func (s *session) Close() {
	s.bridge.Close()
	s.mic.Stop()
}

// HandleText executes one JSON command.
func (s *session) HandleText(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(ErrCodeBadRequest, "malformed message")
		return
	}

	switch msg.Type {
	case TypeSubmit:
		var d SubmitData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				s.sendError(ErrCodeBadRequest, "malformed submit payload")
				return
			}
		}
		if strings.TrimSpace(d.Text) == "" {
			return
		}
		go s.submit(d.Text)
	case TypeRetry:
		go s.retry()
	case TypeClear:
		s.conv.Clear(s.ctx)
	case TypeListen:
		requested := s.bridge.ToggleListening()
		s.send(TypeListening, ListeningData{Active: s.bridge.IsListening(), Requested: requested})
	case TypeSpeechEnded:
		if s.speaker != nil {
			s.speaker.ended()
		}
	default:
		s.sendError(ErrCodeBadRequest, "unknown message type "+msg.Type)
	}
}

// HandleBinary forwards microphone audio to the running recognizer.
func (s *session) HandleBinary(data []byte) {
	s.mic.push(data)
}

// A turn survives the socket closing mid-generation.
func (s *session) turnContext() context.Context {
	return context.WithoutCancel(s.ctx)
}

func (s *session) submit(text string) {
	if !s.conv.Submit(s.turnContext(), text) {
		s.sendError(ErrCodeBusy, "a reply is still being generated")
	}
}

func (s *session) retry() {
	if !s.conv.Retry(s.turnContext()) {
		s.sendError(ErrCodeBusy, "nothing to retry")
	}
}

func (s *session) send(msgType string, data any) {
	raw, err := encode(msgType, s.personaID, data)
	if err != nil {
		log.WithCtx(s.ctx).Error("failed to encode socket message", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := s.out.SendMessage(raw); err != nil {
		log.WithCtx(s.ctx).Debug("socket message not delivered", zap.String("type", msgType), zap.Error(err))
	}
}

func (s *session) sendError(code, message string) {
	s.send(TypeError, ErrorResponse{Code: code, Message: message})
}

// microphone runs one streaming recognition per listening period over audio
// the browser sends as binary frames.
type microphone struct {
	ctx        context.Context
	recognizer domain.SpeechRecognizer
	session    *session

	mu     sync.Mutex
	gen    uint64
	audio  chan []byte
	cancel context.CancelFunc
}

func (m *microphone) Start() error {
	if m.recognizer == nil {
		return errSpeechUnavailable
	}

	m.mu.Lock()
	m.stopLocked()
	m.gen++
	gen := m.gen
	audio := make(chan []byte, audioBuffer)
	ctx, cancel := context.WithCancel(m.ctx)
	m.audio, m.cancel = audio, cancel
	m.mu.Unlock()

	m.session.send(TypeListening, ListeningData{Active: true, Requested: true})
	go m.run(ctx, gen, audio)
	return nil
}

func (m *microphone) Stop() {
	m.mu.Lock()
	if m.audio == nil {
		m.mu.Unlock()
		return
	}
	m.stopLocked()
	m.gen++
	m.mu.Unlock()

	m.session.send(TypeListening, ListeningData{Active: false})
}

func (m *microphone) stopLocked() {
	if m.audio != nil {
		close(m.audio)
		m.audio = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *microphone) push(chunk []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audio == nil {
		return
	}
	select {
	case m.audio <- chunk:
	default:
		log.WithCtx(m.ctx).Debug("dropping audio chunk, recognizer is behind")
	}
}

func (m *microphone) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *microphone) run(ctx context.Context, gen uint64, audio <-chan []byte) {
	err := m.recognizer.Recognize(ctx, audio, func(t domain.Transcript) {
		if !m.current(gen) {
			return
		}
		m.session.send(TypeTranscript, t)
		m.session.bridge.HandleTranscript(t)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithCtx(m.ctx).Warn("speech recognition failed", zap.Error(err))
	}

	// Only a capture that ended on its own is reported; Stop already told
	// everyone about the others.
	m.mu.Lock()
	natural := gen == m.gen
	if natural {
		m.stopLocked()
		m.gen++
	}
	m.mu.Unlock()

	if natural {
		m.session.send(TypeListening, ListeningData{Active: false})
		m.session.bridge.HandleListeningEnded()
	}
}

// speaker ships synthesized audio to the browser and waits for it to report
// the end of playback.
type speaker struct {
	synth   domain.SpeechSynthesizer
	session *session
	done    chan struct{}
}

func (s *speaker) Speak(ctx context.Context, text string, settings domain.SpeechSettings) error {
	audio, err := s.synth.Synthesize(ctx, text, settings)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-s.done:
	default:
	}

	s.session.send(TypeSpeechStart, SpeechStartData{Text: text})
	if err := s.session.out.SendBinary(audio); err != nil {
		return err
	}

	timer := time.NewTimer(maxPlayback)
	defer timer.Stop()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.session.send(TypeSpeechCancel, nil)
		return ctx.Err()
	case <-timer.C:
		log.WithCtx(s.session.ctx).Warn("no playback confirmation, releasing speaker")
		return nil
	}
}

func (s *speaker) ended() {
	select {
	case s.done <- struct{}{}:
	default:
	}
}
