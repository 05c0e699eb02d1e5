package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"
	"github.com/nimbusdesk/nimbusdesk/pkg/config"
	"github.com/nimbusdesk/nimbusdesk/pkg/models"
	"github.com/nimbusdesk/nimbusdesk/pkg/prefs"
	"github.com/nimbusdesk/nimbusdesk/pkg/utils"
)

// AIService produces assistant replies through the backend's OpenAI-compatible
// chat gateway. The model, temperature and system prompt come from the user's
// AI preferences at call time, so a preference change applies to the very next
// message.
type AIService struct {
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewAIService points the service at the backend AI gateway.
func NewAIService(cfg *config.AppConfig) *AIService {
	return &AIService{
		baseURL: cfg.BackendBaseURL() + "/v1/ai",
		apiKey:  cfg.BackendAPIKey(),
		logger:  utils.GetLogger(),
	}
}

// Respond generates the next assistant message for the conversation history.
func (s *AIService) Respond(ctx context.Context, ai prefs.AIPrefs, conv *models.Conversation) (string, error) {
	temperature := float32(ai.Temperature)
	cfg := &openai.ChatModelConfig{
		BaseURL:     s.baseURL,
		APIKey:      s.apiKey,
		Model:       ai.Model,
		Temperature: &temperature,
	}
	if ai.MaxTokens > 0 {
		cfg.MaxTokens = &ai.MaxTokens
	}
	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("init chat model %s: %w", ai.Model, err)
	}

	history := make([]*schema.Message, 0, len(conv.Messages)+1)
	if ai.SystemPrompt != "" {
		history = append(history, &schema.Message{Role: schema.System, Content: ai.SystemPrompt})
	}
	for _, m := range conv.Messages {
		switch m.Role {
		case models.RoleUser:
			history = append(history, &schema.Message{Role: schema.User, Content: m.Content})
		case models.RoleAssistant:
			history = append(history, &schema.Message{Role: schema.Assistant, Content: m.Content})
		}
	}
	if len(history) == 0 {
		return "", fmt.Errorf("conversation %s has no messages", conv.RecordKey)
	}

	resp, err := chatModel.Generate(ctx, history)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return resp.Content, nil
}
