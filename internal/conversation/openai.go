package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/cara/internal/models"
	"go.uber.org/zap"
)

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	// MaxHistory caps the number of transcript messages sent; 0 sends all.
	MaxHistory int
}

// OpenAIBackend asks a chat completion model for the next reply.
type OpenAIBackend struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *zap.Logger
}

func NewOpenAIBackend(cfg OpenAIConfig, logger *zap.Logger) *OpenAIBackend {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger,
	}
}

func (b *OpenAIBackend) Reply(ctx context.Context, c *models.Consultation, transcript []models.Message) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.cfg.Model,
		Messages:    b.messages(c, transcript),
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: float32(b.cfg.Temperature),
	})
	if err != nil {
		b.logger.Error("Failed to get chat completion", zap.Error(err), zap.String("model", b.cfg.Model))
		return "", fmt.Errorf("error requesting chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("chat completion returned an empty message")
	}
	return content, nil
}

func (b *OpenAIBackend) messages(c *models.Consultation, transcript []models.Message) []openai.ChatCompletionMessage {
	if b.cfg.MaxHistory > 0 && len(transcript) > b.cfg.MaxHistory {
		transcript = transcript[len(transcript)-b.cfg.MaxHistory:]
	}

	out := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(c),
	})
	for _, m := range transcript {
		role := openai.ChatMessageRoleAssistant
		if m.IsUser {
			role = openai.ChatMessageRoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func systemPrompt(c *models.Consultation) string {
	var sb strings.Builder
	sb.WriteString("You are CARA, an AI compliance advisor. Give practical guidance on compliance requirements, risk assessment and best practices. ")
	sb.WriteString("Be concise and say when a question needs a qualified lawyer.")
	if c == nil {
		return sb.String()
	}
	fmt.Fprintf(&sb, "\n\nConsultation topic: %s", c.Topic)
	if c.Type != "" {
		fmt.Fprintf(&sb, "\nConsultation type: %s", c.Type)
	}
	if d := strings.TrimSpace(c.Description); d != "" {
		fmt.Fprintf(&sb, "\nThe user's question: %s", d)
	}
	return sb.String()
}
