package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/fieldcrm/crm-jobs/internal/config"
)

const (
	companySystemPrompt = "You are a business research assistant. Provide only accurate, real company information in exact CSV format requested."

	companyPromptTemplate = `Generate a CSV list of %d REAL US-based engineering and manufacturing companies (10-1000 employees).

Focus on: Product design consultancies, medical device manufacturers, hardware startups, aerospace suppliers, automotive suppliers, clean tech companies.

Requirements:
- REAL companies only (no fictional names)
- US-based
- Small to medium size (10-1000 employees)
- Companies that develop physical products
- Include complete website URLs

Format exactly as CSV:
company_name,company_website

Example:
IDEO,https://www.ideo.com
Frog Design,https://www.frogdesign.com

Provide exactly %d entries in this CSV format:`
)

// CompanyGenerator produces candidate companies as CSV text.
type CompanyGenerator interface {
	Probe(ctx context.Context) error
	GenerateCompanies(ctx context.Context, count int) (string, error)
}

// OpenAIClient wraps the chat completions API for company generation
type OpenAIClient struct {
	client          openai.Client
	model           string
	validationModel string
	timeout         time.Duration
}

// NewOpenAIClient creates a client for one API key. Retries are left to the caller.
func NewOpenAIClient(apiKey, model string, cfg *config.OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &OpenAIClient{
		client:          openai.NewClient(opts...),
		model:           model,
		validationModel: cfg.ValidationModel,
		timeout:         timeout,
	}
}

// Probe sends a minimal completion to check the key and quota
func (c *OpenAIClient) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.validationModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("test"),
		},
		MaxTokens: openai.Int(5),
	})
	return wrapOpenAIError(err)
}

// GenerateCompanies asks for count companies and returns the raw CSV answer
func (c *OpenAIClient) GenerateCompanies(ctx context.Context, count int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(companySystemPrompt),
			openai.UserMessage(fmt.Sprintf(companyPromptTemplate, count, count)),
		},
		Temperature: openai.Float(0.1),
		MaxTokens:   openai.Int(3000),
	})
	if err != nil {
		return "", wrapOpenAIError(err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

func wrapOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &APIError{Service: "OpenAI", StatusCode: apiErr.StatusCode, Message: msg}
	}
	return fmt.Errorf("OpenAI request failed: %w", err)
}

var _ CompanyGenerator = (*OpenAIClient)(nil)
