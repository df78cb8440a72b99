// Package genai wraps the OpenAI chat completion API. GiftFlow uses it
// only for offline planning: deriving the per-step input mode tables that
// the wizard serves to participants. Nothing in the participant path
// calls a model.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultModel is used when no model override is provided.
const DefaultModel = openai.ChatModelGPT4oMini

// ErrNoChoicesReturned indicates the API responded without any choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the official client to chatService.
type openaiChatService struct {
	completions openai.ChatCompletionService
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	// APIKey for OpenAI. Falls back to the OPENAI_API_KEY environment variable.
	APIKey string
	// Model overrides DefaultModel.
	Model string
	// Temperature, when set, is passed through on every request. Planning
	// runs pin it to 0 so reruns are reproducible.
	Temperature *float64
	// MaxCompletionTokens caps the response length when > 0.
	MaxCompletionTokens int64
	// DebugDir, when non-empty, enables request/response capture under
	// DebugDir/debug for auditing planning runs.
	DebugDir string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature pins the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = &t }
}

// WithMaxCompletionTokens caps response length.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// WithDebugDir enables debug capture of every API exchange under dir.
func WithDebugDir(dir string) Option {
	return func(o *Opts) { o.DebugDir = dir }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat                chatService
	model               string
	temperature         *float64
	maxCompletionTokens int64
	debugMode           bool
	stateDir            string
}

// NewClient initializes a GenAI client. The API key comes from options or
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	cli := openai.NewClient(option.WithAPIKey(apiKey))
	c := &Client{
		chat:                &openaiChatService{completions: cli.Chat.Completions},
		model:               model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		debugMode:           cfg.DebugDir != "",
		stateDir:            cfg.DebugDir,
	}
	slog.Debug("Client.NewClient: GenAI client created", "model", model, "debugMode", c.debugMode)
	return c, nil
}

// GeneratePrompt generates a response from a system and user prompt pair.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// GeneratePromptWithContext is GeneratePrompt with caller-supplied context.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := c.newParams([]openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
	return c.create(ctx, "GeneratePromptWithContext", params)
}

// GenerateWithMessages generates a response from a full message history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return c.create(ctx, "GenerateWithMessages", c.newParams(messages))
}

// GenerateJSON generates a response constrained to a single JSON object.
// Used by the mode planner, which parses the result strictly.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := c.newParams([]openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	}
	return c.create(ctx, "GenerateJSON", params)
}

func (c *Client) newParams(messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxCompletionTokens)
	}
	return params
}

func (c *Client) create(ctx context.Context, method string, params openai.ChatCompletionNewParams) (string, error) {
	slog.Debug("Client.create: API call", "method", method, "model", c.model)
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("Client.create: API call failed", "method", method, "error", err)
		return "", err
	}
	c.writeDebugLog(method, params, resp)
	if len(resp.Choices) == 0 {
		slog.Warn("Client.create: response had no choices", "method", method)
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// writeDebugLog captures one API exchange as a JSON file. Failures are
// logged and ignored; debug capture never blocks a response.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	debugDir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0755); err != nil {
		slog.Warn("Client.writeDebugLog: failed to create debug directory", "error", err)
		return
	}
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  resp,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebugLog: failed to marshal debug entry", "error", err)
		return
	}
	name := fmt.Sprintf("%d_%s.json", time.Now().UnixNano(), method)
	if err := os.WriteFile(filepath.Join(debugDir, name), data, 0644); err != nil {
		slog.Warn("Client.writeDebugLog: failed to write debug file", "error", err)
	}
}
