package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/persona-chat/domain"
	"github.com/satriahrh/persona-chat/usecase"
	"github.com/satriahrh/persona-chat/utils/log"
)

const (
	MaxRequestSize = "1M"
	// MaxConcurrent caps generation requests in flight across all personas.
	MaxConcurrent = 10
)

type Handler struct {
	chat     *usecase.ChatService
	personas domain.PersonaCatalog
	prompts  domain.GlobalPromptStore
	limiter  chan struct{}
}

type SubmitRequest struct {
	Text string `json:"text"`
}

type GlobalPromptBody struct {
	Prompt string `json:"prompt"`
}

func NewHandler(chat *usecase.ChatService, personas domain.PersonaCatalog, prompts domain.GlobalPromptStore) *Handler {
	return &Handler{
		chat:     chat,
		personas: personas,
		prompts:  prompts,
		limiter:  make(chan struct{}, MaxConcurrent),
	}
}

// Register mounts every route under g, e.g. the /api/v1 group.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/health", h.HealthCheck)

	g.GET("/chat/:personaId", h.GetConversation)
	g.POST("/chat/:personaId/messages", h.SendMessage, h.RateLimitMiddleware)
	g.POST("/chat/:personaId/retry", h.Retry, h.RateLimitMiddleware)
	g.DELETE("/chat/:personaId", h.ClearConversation)

	g.GET("/settings/speech", h.GetSpeechSettings)
	g.PUT("/settings/speech", h.UpdateSpeechSettings)
	g.GET("/settings/global-prompt", h.GetGlobalPrompt)
	g.PUT("/settings/global-prompt", h.UpdateGlobalPrompt)

	g.GET("/personas", h.ListPersonas)
	g.POST("/personas", h.CreatePersona)
	g.GET("/personas/:id", h.GetPersona)
	g.PUT("/personas/:id", h.UpdatePersona)
	g.DELETE("/personas/:id", h.DeletePersona)
}

// RateLimitMiddleware rejects requests beyond MaxConcurrent instead of queueing them.
func (h *Handler) RateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		select {
		case h.limiter <- struct{}{}:
			defer func() { <-h.limiter }()
			return next(c)
		default:
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many concurrent requests")
		}
	}
}

func (h *Handler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "persona-chat",
	})
}

func (h *Handler) conversation(c echo.Context) (*usecase.Controller, error) {
	conv, err := h.chat.Conversation(c.Request().Context(), c.Param("personaId"))
	if err != nil {
		return nil, toHTTPError(c, err)
	}
	return conv, nil
}

func (h *Handler) GetConversation(c echo.Context) error {
	conv, err := h.conversation(c)
	if err != nil {
		return err
	}
	return h.snapshot(c, conv)
}

// SendMessage blocks until the model turn is recorded and returns the
// resulting snapshot.
func (h *Handler) SendMessage(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	conv, err := h.conversation(c)
	if err != nil {
		return err
	}
	// The turn completes and persists even if the client goes away.
	if !conv.Submit(context.WithoutCancel(c.Request().Context()), req.Text) {
		return echo.NewHTTPError(http.StatusConflict, "A reply is still being generated")
	}
	return h.snapshot(c, conv)
}

func (h *Handler) Retry(c echo.Context) error {
	conv, err := h.conversation(c)
	if err != nil {
		return err
	}
	if !conv.Retry(context.WithoutCancel(c.Request().Context())) {
		return echo.NewHTTPError(http.StatusConflict, "Nothing to retry")
	}
	return h.snapshot(c, conv)
}

func (h *Handler) ClearConversation(c echo.Context) error {
	conv, err := h.conversation(c)
	if err != nil {
		return err
	}
	if !conv.Clear(c.Request().Context()) {
		return echo.NewHTTPError(http.StatusConflict, "A reply is still being generated")
	}
	return h.snapshot(c, conv)
}

func (h *Handler) GetSpeechSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.chat.SpeechPreferences().Get())
}

// UpdateSpeechSettings merges the body over the current settings, so omitted
// fields keep their value.
func (h *Handler) UpdateSpeechSettings(c echo.Context) error {
	settings := h.chat.SpeechPreferences().Get()
	if err := c.Bind(&settings); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	saved, err := h.chat.SpeechPreferences().Update(c.Request().Context(), settings)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) GetGlobalPrompt(c echo.Context) error {
	prompt, err := h.prompts.GetGlobalPrompt(c.Request().Context())
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, GlobalPromptBody{Prompt: prompt})
}

func (h *Handler) UpdateGlobalPrompt(c echo.Context) error {
	var body GlobalPromptBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := h.prompts.SetGlobalPrompt(c.Request().Context(), body.Prompt); err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, body)
}

func (h *Handler) ListPersonas(c echo.Context) error {
	personas, err := h.personas.ListPersonas(c.Request().Context(), domain.PersonaFilter{
		Type:     c.QueryParam("type"),
		Category: c.QueryParam("category"),
		Query:    c.QueryParam("q"),
	})
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, personas)
}

func (h *Handler) GetPersona(c echo.Context) error {
	p, err := h.personas.GetPersona(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreatePersona(c echo.Context) error {
	var p domain.Persona
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	created, err := h.personas.CreatePersona(c.Request().Context(), p)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) UpdatePersona(c echo.Context) error {
	var p domain.Persona
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	p.ID = c.Param("id")
	updated, err := h.personas.UpdatePersona(c.Request().Context(), p)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeletePersona(c echo.Context) error {
	if err := h.personas.DeletePersona(c.Request().Context(), c.Param("id")); err != nil {
		return toHTTPError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// snapshot writes the conversation with its revision as ETag.
func (h *Handler) snapshot(c echo.Context, conv *usecase.Controller) error {
	snap := h.chat.Snapshot(conv)
	if snap.Revision != "" {
		c.Response().Header().Set("ETag", `"`+snap.Revision+`"`)
	}
	return c.JSON(http.StatusOK, snap)
}

func toHTTPError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrPersonaNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Persona not found")
	case errors.Is(err, domain.ErrInvalidPersona):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	log.WithCtx(c.Request().Context()).Error("request failed",
		zap.String("path", c.Path()),
		zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
}
