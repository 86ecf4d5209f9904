package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/persona-chat/adapters/hasher"
	httpadapter "github.com/satriahrh/persona-chat/adapters/http"
	"github.com/satriahrh/persona-chat/adapters/kvstore"
	"github.com/satriahrh/persona-chat/adapters/llm"
	"github.com/satriahrh/persona-chat/adapters/message_broker"
	"github.com/satriahrh/persona-chat/adapters/persona"
	"github.com/satriahrh/persona-chat/adapters/speech"
	"github.com/satriahrh/persona-chat/adapters/tts"
	"github.com/satriahrh/persona-chat/adapters/websocket"
	"github.com/satriahrh/persona-chat/domain"
	"github.com/satriahrh/persona-chat/usecase"
	"github.com/satriahrh/persona-chat/utils/log"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := log.WithCtx(ctx)

	store, err := kvstore.OpenBoltStore(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	personas, err := persona.Open(cfg.PersonaDBPath)
	if err != nil {
		return err
	}
	defer personas.Close()

	broker := message_broker.NewChannelMessageBroker()
	defer broker.Close()

	if cfg.GoogleAPIKey == "" {
		logger.Warn("GOOGLE_API_KEY is not set, replies will fail until it is configured")
	}
	generator := llm.NewGeminiClient(llm.GeminiConfig{APIKey: cfg.GoogleAPIKey, Model: cfg.GeminiModel})

	svc, err := usecase.NewChatService(ctx, usecase.ChatServiceConfig{
		Personas:  personas,
		Prompts:   personas,
		Generator: generator,
		Store:     store,
		Broker:    broker,
		Hasher:    hasher.New(),
	})
	if err != nil {
		return err
	}

	recognizer, synthesizer, closeSpeech := openSpeech(ctx)
	defer closeSpeech()

	wsServer := websocket.NewServer(websocket.ServerConfig{
		ChatService:   svc,
		Recognizer:    recognizer,
		Synthesizer:   synthesizer,
		MessageBroker: broker,
		SettleDelay:   cfg.SettleDelay,
	})
	if err := wsServer.Run(ctx); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(20)))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			"Content-Length",
		},
		MaxAge: 86400,
	}))
	e.Use(middleware.BodyLimit(httpadapter.MaxRequestSize))

	e.GET("/ws", wsServer.Handler)
	httpadapter.NewHandler(svc, personas, personas).Register(e.Group("/api/v1"))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// openSpeech connects the Google speech clients. Voice features are disabled,
// not fatal, when credentials are missing.
func openSpeech(ctx context.Context) (domain.SpeechRecognizer, domain.SpeechSynthesizer, func()) {
	var (
		recognizer  domain.SpeechRecognizer
		synthesizer domain.SpeechSynthesizer
		closers     []func() error
	)
	if !cfg.SpeechEnabled {
		return nil, nil, func() {}
	}
	logger := log.WithCtx(ctx)

	if stt, err := speech.NewGoogleSpeech(ctx, cfg.SpeechLanguage); err != nil {
		logger.Warn("speech recognition disabled", zap.Error(err))
	} else {
		recognizer = stt
		closers = append(closers, stt.Close)
	}

	if synth, err := tts.NewGoogleTTS(ctx, cfg.SpeechLanguage); err != nil {
		logger.Warn("speech synthesis disabled", zap.Error(err))
	} else {
		synthesizer = synth
		closers = append(closers, synth.Close)
	}

	return recognizer, synthesizer, func() {
		for _, c := range closers {
			_ = c()
		}
	}
}
