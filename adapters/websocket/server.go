package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/satriahrh/persona-chat/domain"
	"github.com/satriahrh/persona-chat/usecase"
	"github.com/satriahrh/persona-chat/utils/log"
	"go.uber.org/zap"
)

type ServerConfig struct {
	ChatService   *usecase.ChatService
	Recognizer    domain.SpeechRecognizer
	Synthesizer   domain.SpeechSynthesizer
	MessageBroker domain.MessageBroker
	SettleDelay   time.Duration
}

type Server struct {
	upgrader      websocket.Upgrader
	svc           *usecase.ChatService
	recognizer    domain.SpeechRecognizer
	synthesizer   domain.SpeechSynthesizer
	messageBroker domain.MessageBroker
	settleDelay   time.Duration
	hub           *Hub
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		upgrader:      websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		svc:           cfg.ChatService,
		recognizer:    cfg.Recognizer,
		synthesizer:   cfg.Synthesizer,
		messageBroker: cfg.MessageBroker,
		settleDelay:   cfg.SettleDelay,
		hub:           NewHub(),
	}
}

// Run starts the hub and the snapshot fan-out. Both stop with ctx.
func (s *Server) Run(ctx context.Context) error {
	messageChan, err := s.messageBroker.Subscribe(ctx, domain.ConversationTopic, "")
	if err != nil {
		return err
	}
	s.hub.Run(ctx)
	go s.fanOut(ctx, messageChan)
	return nil
}

func (s *Server) GetHub() *Hub {
	return s.hub
}

// fanOut relays every conversation snapshot to the clients bound to that
// conversation. Sessions still on a previous day keep their own transcript.
func (s *Server) fanOut(ctx context.Context, messageChan <-chan domain.BrokerMessage) {
	log.WithCtx(ctx).Info("websocket server listening to conversation snapshots")

	for {
		select {
		case msg, ok := <-messageChan:
			if !ok {
				return
			}
			var head struct {
				PersonaID string `json:"persona_id"`
				Day       string `json:"day"`
			}
			if err := json.Unmarshal(msg.Payload, &head); err != nil || head.PersonaID == "" {
				log.WithCtx(ctx).Error("dropping unreadable conversation snapshot", zap.Error(err))
				continue
			}

			out, err := encode(TypeConversation, head.PersonaID, json.RawMessage(msg.Payload))
			if err != nil {
				log.WithCtx(ctx).Error("failed to encode conversation message", zap.Error(err))
				continue
			}
			s.hub.BroadcastToConversation(head.PersonaID, head.Day, out)

		case <-ctx.Done():
			log.WithCtx(ctx).Info("conversation fan-out stopped")
			return
		}
	}
}
