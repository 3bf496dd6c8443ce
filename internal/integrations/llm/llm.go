package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"rewardbot/internal/config"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-2024-08-06"
const defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// Client submits scoring prompts to the configured provider. Each prompt is
// one self-contained instruction block expecting a JSON object back.
type Client struct {
	provider string
	model    string
	endpoint string
	apiKey   string
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		provider: cfg.LLMProvider,
		model:    cfg.LLMModel,
		endpoint: cfg.LLMEndpoint,
		apiKey:   providerKey(cfg),
	}
}

func providerKey(cfg config.Config) string {
	if cfg.LLMProvider == "openai" {
		return cfg.OpenAIAPIKey
	}
	return cfg.AnthropicAPIKey
}

func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, Usage, error) {
	switch c.provider {
	case "openai":
		model := c.model
		if model == "" {
			model = defaultOpenAIModel
		}
		return c.callOpenAI(ctx, model, prompt, maxTokens)
	default:
		model := c.model
		if model == "" {
			model = defaultAnthropicModel
		}
		return c.callAnthropic(ctx, model, prompt, maxTokens)
	}
}

func (c *Client) callAnthropic(ctx context.Context, model, prompt string, maxTokens int) (string, Usage, error) {
	opts := []option.RequestOption{option.WithAPIKey(c.apiKey)}
	if c.endpoint != "" {
		opts = append(opts, option.WithBaseURL(c.endpoint))
	}
	client := anthropic.NewClient(opts...)

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", Usage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), usage.InputTokens, usage.OutputTokens)
			return StripFences(block.Text), usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

type openAIRequest struct {
	Model          string               `json:"model"`
	Messages       []openAIMessage      `json:"messages"`
	MaxTokens      int                  `json:"max_tokens"`
	ResponseFormat openAIResponseFormat `json:"response_format"`
	Temperature    float64              `json:"temperature"`
	TopP           float64              `json:"top_p"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) callOpenAI(ctx context.Context, model, prompt string, maxTokens int) (string, Usage, error) {
	reqBody := openAIRequest{
		Model:          model,
		Messages:       []openAIMessage{{Role: "system", Content: prompt}},
		MaxTokens:      maxTokens,
		ResponseFormat: openAIResponseFormat{Type: "json_object"},
		Temperature:    1,
		TopP:           1,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return "", Usage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", Usage{}, fmt.Errorf("parsing OpenAI response: %w", err)
	}

	if openAIResp.Error != nil {
		log.Printf("llm openai api error: %s", openAIResp.Error.Message)
		return "", Usage{}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}
	if len(openAIResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no choices in OpenAI response")
	}

	usage := Usage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}

	log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(openAIResp.Choices[0].Message.Content), usage.InputTokens, usage.OutputTokens)
	return StripFences(openAIResp.Choices[0].Message.Content), usage, nil
}

// StripFences removes a markdown code fence wrapper some models emit around
// JSON payloads.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
