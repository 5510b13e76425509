package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
)

const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 800
)

// Settings configures the chat completion call.
type Settings struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultSettings returns the model parameters used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     60 * time.Second,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// OpenAIClient calls the OpenAI chat completions REST API over HTTP.
type OpenAIClient struct {
	client   *http.Client
	settings Settings
}

// NewOpenAIClient returns a client; pass nil to get one with settings.Timeout.
func NewOpenAIClient(settings Settings, client *http.Client) *OpenAIClient {
	if settings.BaseURL == "" {
		settings.BaseURL = DefaultBaseURL
	}
	if settings.Model == "" {
		settings.Model = DefaultModel
	}
	if settings.MaxTokens == 0 {
		settings.MaxTokens = DefaultMaxTokens
	}
	if client == nil {
		client = &http.Client{Timeout: settings.Timeout}
	}
	return &OpenAIClient{client: client, settings: settings}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.settings.Model
}

func (c *OpenAIClient) Enrich(ctx context.Context, p catalog.Product) (Copy, error) {
	completion, err := c.Complete(ctx, SystemPrompt, BuildUserPrompt(p))
	if err != nil {
		return Copy{}, err
	}
	return parseCopy(completion)
}

// Complete sends one system+user exchange and returns the trimmed reply.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	if c.settings.APIKey == "" {
		return "", fmt.Errorf("openai api key not set")
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.settings.Model,
		Temperature: c.settings.Temperature,
		MaxTokens:   c.settings.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	url := strings.TrimSuffix(c.settings.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.settings.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("openai error %d: %s", resp.StatusCode, bytes.TrimSpace(text))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding openai response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
