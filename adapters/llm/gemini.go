package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/satriahrh/persona-chat/domain"
)

const DefaultModel = "gemini-2.0-flash"

type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiClient implements domain.GenerationClient. The underlying genai client
// is created on first use so a missing key surfaces per call instead of at
// startup.
type GeminiClient struct {
	apiKey string
	model  string

	once   sync.Once
	client *genai.Client
	err    error
}

func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{apiKey: strings.TrimSpace(cfg.APIKey), model: model}
}

func (g *GeminiClient) resolveClient(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		if g.apiKey == "" {
			g.err = fmt.Errorf("gemini: GOOGLE_API_KEY is not set: %w", domain.ErrNotConfigured)
			return
		}
		g.client, g.err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if g.err != nil {
			g.err = fmt.Errorf("creating genai client: %w", g.err)
		}
	})
	return g.client, g.err
}

// Generate implements domain.GenerationClient.
func (g *GeminiClient) Generate(ctx context.Context, systemInstruction string, history []domain.ChatMessage, newMessage string) (string, error) {
	client, err := g.resolveClient(ctx)
	if err != nil {
		return "", err
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, buildContents(history, newMessage), generationConfig(systemInstruction))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

func generationConfig(systemInstruction string) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
		Temperature: genai.Ptr[float32](0.7),
		TopP:        genai.Ptr[float32](0.95),
		TopK:        genai.Ptr[float32](40),
	}
}

// buildContents maps history to genai contents. newMessage is only appended
// when history does not already end with it as a user turn.
func buildContents(history []domain.ChatMessage, newMessage string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		contents = append(contents, toContent(msg))
	}

	last := len(history) - 1
	if last < 0 || history[last].Role != domain.UserRole || history[last].Content != newMessage {
		contents = append(contents, toContent(domain.ChatMessage{Role: domain.UserRole, Content: newMessage}))
	}
	return contents
}

func toContent(msg domain.ChatMessage) *genai.Content {
	role := genai.RoleModel
	if msg.Role == domain.UserRole {
		role = genai.RoleUser
	}
	return &genai.Content{
		Role: role,
		Parts: []*genai.Part{
			{Text: msg.Content},
		},
	}
}
