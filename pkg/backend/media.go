package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nimbusdesk/nimbusdesk/pkg/models"
)

// Black-box AI/media endpoints. Each call is stateless request/response; the
// stores own any caching of the results.

type synthesizeResponse struct {
	AudioURL string `json:"audio_url"`
}

// Synthesize converts text to speech and returns the hosted audio URL.
func (c *Client) Synthesize(ctx context.Context, text, voice string, speed float64) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty text")
	}
	payload := map[string]any{"text": text, "voice": voice, "speed": speed}
	var resp synthesizeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ai/tts", nil, payload, &resp); err != nil {
		return "", err
	}
	return resp.AudioURL, nil
}

type generateImageResponse struct {
	ImageURL string `json:"image_url"`
}

// GenerateImage renders an image from a prompt and returns the hosted URL.
func (c *Client) GenerateImage(ctx context.Context, prompt, size string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("empty prompt")
	}
	payload := map[string]any{"prompt": prompt, "size": size}
	var resp generateImageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ai/images", nil, payload, &resp); err != nil {
		return "", err
	}
	return resp.ImageURL, nil
}

type webSearchResponse struct {
	Results []models.SearchResult `json:"results"`
}

// WebSearch runs a web search and returns ranked results.
func (c *Client) WebSearch(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	payload := map[string]any{"query": query, "limit": limit}
	var resp webSearchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ai/search", nil, payload, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SendEmail delivers a message through the backend mailer. Attachments are
// passed by URL reference; the mailer fetches them itself.
func (c *Client) SendEmail(ctx context.Context, to []string, subject, body string, attachments []models.AttachmentRef) error {
	if err := models.ValidateAddresses(to); err != nil {
		return err
	}
	payload := map[string]any{
		"to":          to,
		"subject":     subject,
		"body":        body,
		"attachments": attachments,
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/mail/send", nil, payload, nil)
}
