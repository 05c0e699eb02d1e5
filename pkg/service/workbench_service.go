package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nimbusdesk/nimbusdesk/pkg/models"
	"github.com/nimbusdesk/nimbusdesk/pkg/prefs"
	"github.com/nimbusdesk/nimbusdesk/pkg/store"
	"github.com/nimbusdesk/nimbusdesk/pkg/utils"
)

// Responder generates the next assistant reply for a conversation.
// Implemented by AIService.
type Responder interface {
	Respond(ctx context.Context, ai prefs.AIPrefs, conv *models.Conversation) (string, error)
}

// MediaGateway covers the stateless tool endpoints. Implemented by
// backend.Client.
type MediaGateway interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) (string, error)
	GenerateImage(ctx context.Context, prompt, size string) (string, error)
	WebSearch(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
}

const searchResultLimit = 5

// WorkbenchService drives the tool conversations: each call appends the user
// turn, runs the tool, and appends the assistant turn carrying the result.
// Both appends are ordinary optimistic mutations on the conversation store.
type WorkbenchService struct {
	convs     *store.ConversationStore
	responder Responder
	media     MediaGateway
	prefs     *prefs.Manager
	logger    *slog.Logger
}

// NewWorkbenchService wires the tools to the conversation store.
func NewWorkbenchService(convs *store.ConversationStore, responder Responder, media MediaGateway, prefsMgr *prefs.Manager) *WorkbenchService {
	return &WorkbenchService{
		convs:     convs,
		responder: responder,
		media:     media,
		prefs:     prefsMgr,
		logger:    utils.GetLogger(),
	}
}

func (s *WorkbenchService) appendUserTurn(ctx context.Context, recordKey, text string, wantTool models.ToolKind) (*models.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty message")
	}
	conv, ok := s.convs.Get(recordKey)
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", recordKey)
	}
	if conv.Tool != wantTool {
		return nil, fmt.Errorf("conversation %s is a %s thread, not %s", recordKey, conv.Tool, wantTool)
	}
	if err := s.convs.AppendMessage(ctx, recordKey, models.Message{Role: models.RoleUser, Content: text}); err != nil {
		return nil, err
	}
	conv, _ = s.convs.Get(recordKey)
	return conv, nil
}

func (s *WorkbenchService) appendAssistantTurn(ctx context.Context, recordKey, content string, meta *models.MessageMeta) (*models.Message, error) {
	msg := models.Message{Role: models.RoleAssistant, Content: content, Meta: meta}
	if err := s.convs.AppendMessage(ctx, recordKey, msg); err != nil {
		return nil, err
	}
	conv, ok := s.convs.Get(recordKey)
	if !ok || len(conv.Messages) == 0 {
		return nil, fmt.Errorf("conversation %s vanished mid-turn", recordKey)
	}
	last := conv.Messages[len(conv.Messages)-1]
	return &last, nil
}

// SendChat runs one chat turn: user text in, model reply out.
func (s *WorkbenchService) SendChat(ctx context.Context, recordKey, text string) (*models.Message, error) {
	conv, err := s.appendUserTurn(ctx, recordKey, text, models.ToolChat)
	if err != nil {
		return nil, err
	}
	reply, err := s.responder.Respond(ctx, s.prefs.Get().AI, conv)
	if err != nil {
		return nil, fmt.Errorf("chat turn for %s: %w", recordKey, err)
	}
	return s.appendAssistantTurn(ctx, recordKey, reply, nil)
}

// Speak runs one text-to-speech turn. Voice and speed come from the speech
// preferences.
func (s *WorkbenchService) Speak(ctx context.Context, recordKey, text string) (*models.Message, error) {
	if _, err := s.appendUserTurn(ctx, recordKey, text, models.ToolSpeech); err != nil {
		return nil, err
	}
	sp := s.prefs.Get().Speech
	audioURL, err := s.media.Synthesize(ctx, text, sp.Voice, sp.Speed)
	if err != nil {
		return nil, fmt.Errorf("speech turn for %s: %w", recordKey, err)
	}
	return s.appendAssistantTurn(ctx, recordKey, text, &models.MessageMeta{AudioURL: audioURL})
}

// Illustrate runs one image-generation turn.
func (s *WorkbenchService) Illustrate(ctx context.Context, recordKey, prompt, size string) (*models.Message, error) {
	if _, err := s.appendUserTurn(ctx, recordKey, prompt, models.ToolImage); err != nil {
		return nil, err
	}
	if size == "" {
		size = "1024x1024"
	}
	imageURL, err := s.media.GenerateImage(ctx, prompt, size)
	if err != nil {
		return nil, fmt.Errorf("image turn for %s: %w", recordKey, err)
	}
	return s.appendAssistantTurn(ctx, recordKey, prompt, &models.MessageMeta{ImageURL: imageURL})
}

// Search runs one web-search turn and stores the ranked results on the
// assistant message.
func (s *WorkbenchService) Search(ctx context.Context, recordKey, query string) (*models.Message, error) {
	if _, err := s.appendUserTurn(ctx, recordKey, query, models.ToolSearch); err != nil {
		return nil, err
	}
	results, err := s.media.WebSearch(ctx, query, searchResultLimit)
	if err != nil {
		return nil, fmt.Errorf("search turn for %s: %w", recordKey, err)
	}
	content := fmt.Sprintf("Found %d results for %q", len(results), query)
	return s.appendAssistantTurn(ctx, recordKey, content, &models.MessageMeta{Results: results})
}
