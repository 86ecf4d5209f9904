package log

import (
	"context"
	"os"

	"go.uber.org/zap"
)

type ctxKey string

const (
	personaIDKey       ctxKey = "persona_id"
	conversationKeyKey ctxKey = "conversation_key"
	clientIDKey        ctxKey = "client_id"
)

var logger *zap.Logger

func init() {
	if os.Getenv("DEBUG") == "true" {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
}

// SetLogger replaces the package logger, e.g. with zap.NewNop() in tests.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

func WithPersona(ctx context.Context, personaID string) context.Context {
	return context.WithValue(ctx, personaIDKey, personaID)
}

func WithConversation(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, conversationKeyKey, key)
}

func WithClient(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

func WithCtx(ctx context.Context) *zap.Logger {
	fields := []zap.Field{}

	if v := ctx.Value(personaIDKey); v != nil {
		fields = append(fields, zap.Any("persona_id", v))
	}
	if v := ctx.Value(conversationKeyKey); v != nil {
		fields = append(fields, zap.Any("conversation_key", v))
	}
	if v := ctx.Value(clientIDKey); v != nil {
		fields = append(fields, zap.Any("client_id", v))
	}

	return logger.With(fields...)
}

func With(fields ...zap.Field) *zap.Logger {
	return logger.With(fields...)
}
