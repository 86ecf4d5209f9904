package websocket

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/satriahrh/persona-chat/domain"
	"github.com/satriahrh/persona-chat/utils/log"
	"go.uber.org/zap"
)

// Handler serves "/ws?persona=<id>". The connection is bound to the persona's
// conversation that is current at connect time.
func (s *Server) Handler(c echo.Context) error {
	personaID := c.QueryParam("persona")
	if personaID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "persona query parameter is required")
	}

	ctx := c.Request().Context()
	conv, err := s.svc.Conversation(ctx, personaID)
	if errors.Is(err, domain.ErrPersonaNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "persona not found")
	}
	if err != nil {
		log.WithCtx(log.WithPersona(ctx, personaID)).Error("failed to open conversation", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open conversation")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, personaID, conv.Key().Day)
	sess, err := newSession(client.Context(), sessionConfig{
		Out:          client,
		PersonaID:    personaID,
		Conversation: conv,
		Preferences:  s.svc.SpeechPreferences(),
		Recognizer:   s.recognizer,
		Synthesizer:  s.synthesizer,
		SettleDelay:  s.settleDelay,
	})
	if err != nil {
		client.Close()
		return err
	}

	s.hub.Register(client)
	defer s.hub.Unregister(client)
	defer sess.Close()

	client.Run(sess)
	sess.send(TypeConversation, s.svc.Snapshot(conv))
	log.WithCtx(client.Context()).Info("client connected")

	<-client.Context().Done()
	log.WithCtx(client.Context()).Info("client disconnected")
	return nil
}
