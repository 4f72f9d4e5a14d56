// Package assist runs AI operations over a record payload through an
// OpenAI-compatible chat completions API.
package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kirbyniko/research-platform-sub006/internal/credits"
	"github.com/kirbyniko/research-platform-sub006/internal/search"
)

const DefaultModel = "gpt-4o-mini"

var (
	ErrEmptyRecord = errors.New("record has no text to work with")
	ErrBadOutput   = errors.New("model returned unusable output")
)

type Result struct {
	Operation credits.Operation `json:"operation"`
	Text      string            `json:"text,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

// Assistant is implemented by Client; the app depends on this interface.
type Assistant interface {
	Run(ctx context.Context, op credits.Operation, data map[string]any) (Result, error)
}

type Client struct {
	client openai.Client
	model  string
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

func New(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return newClient(cfg.Model, opts...)
}

func newClient(model string, opts ...option.RequestOption) *Client {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Client{client: openai.NewClient(opts...), model: model}
}

const (
	summarizePrompt = "You summarize case documentation records for human reviewers. " +
		"Write three to five neutral sentences using only facts present in the record. Do not speculate."
	extractPrompt = "You extract structured facts from case documentation records. " +
		"Reply with a single JSON object whose keys are short snake_case fact names and whose values are " +
		"strings, numbers or lists of strings. Include only facts stated in the record."
)

func (c *Client) Run(ctx context.Context, op credits.Operation, data map[string]any) (Result, error) {
	body := search.FlattenPayload(data)
	if strings.TrimSpace(body) == "" {
		return Result{}, ErrEmptyRecord
	}

	var system string
	switch op {
	case credits.OpSummarize:
		system = summarizePrompt
	case credits.OpExtract:
		system = extractPrompt
	default:
		return Result{}, credits.ErrUnknownOperation
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(body),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, ErrBadOutput
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return Result{}, ErrBadOutput
	}

	if op == credits.OpSummarize {
		return Result{Operation: op, Text: content}, nil
	}
	facts, err := parseFacts(content)
	if err != nil {
		return Result{}, err
	}
	return Result{Operation: op, Fields: facts}, nil
}

// parseFacts accepts a bare JSON object or one wrapped in a markdown fence.
func parseFacts(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	facts := map[string]any{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &facts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadOutput, err)
	}
	return facts, nil
}
