package chat

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxTokens    int64
	Temperature  float64
	HTTPClient   *http.Client
}

// Client turns a transcribed utterance into a spoken-style reply. It keeps
// no history between calls.
type Client struct {
	api openai.Client
	cfg Config
}

func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Client{api: openai.NewClient(opts...), cfg: cfg}
}

func (c *Client) Reply(ctx context.Context, utterance string) (string, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return "", errors.New("empty utterance")
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if c.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(c.cfg.SystemPrompt))
	}
	msgs = append(msgs, openai.UserMessage(utterance))

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(c.cfg.Model),
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(c.cfg.MaxTokens)
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.Float(c.cfg.Temperature)
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("empty message content")
	}

	log.Debug("Reply ready", "model", resp.Model, "tokens", resp.Usage.TotalTokens)
	return content, nil
}
