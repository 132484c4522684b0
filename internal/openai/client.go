// Package openai implements the generation invoker: it turns an assembled
// conversation context plus the new user text into a generated reply with
// token usage and cost accounting, using the OpenAI chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/quicklingo/quicklingo/internal/config"
	"github.com/quicklingo/quicklingo/internal/database"
	"github.com/quicklingo/quicklingo/internal/metrics"
)

// Generation failure classes. The queue layer decides redelivery; none of
// these are retried here.
var (
	// ErrProvider means the provider returned an explicit error payload.
	ErrProvider = errors.New("generation provider error")
	// ErrParse means the provider response was malformed or unusable.
	ErrParse = errors.New("generation response parse error")
	// ErrUnavailable means the provider could not be reached in time.
	ErrUnavailable = errors.New("generation provider unavailable")
)

// Rate is the per-token cost of a model.
type Rate struct {
	Input  float64
	Output float64
}

// CostPerToken is the static per-model cost table. Looking up a model that
// is not listed here is a configuration error, caught at client construction.
var CostPerToken = map[string]Rate{
	"gpt-4o":        {Input: 0.000005, Output: 0.000015},
	"gpt-4o-mini":   {Input: 0.000000150, Output: 0.000000600},
	"gpt-3.5-turbo": {Input: 0.0000005, Output: 0.0000015},
}

// Reply is a generated assistant turn with its usage accounting.
type Reply struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// Client invokes the generation provider.
type Client struct {
	api       *gopenai.Client
	logger    *slog.Logger
	model     string
	persona   string
	maxTokens int
	timeout   time.Duration
	rate      Rate
}

// NewClient creates a generation invoker from configuration. It fails if the
// configured model has no entry in the cost table: an unknown model must not
// silently account zero cost.
func NewClient(cfg config.OpenAIConfig, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key is required")
	}

	rate, ok := CostPerToken[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("no cost rate configured for model %q", cfg.Model)
	}

	if logger == nil {
		logger = slog.Default()
	}

	apiCfg := gopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		api:       gopenai.NewClientWithConfig(apiCfg),
		logger:    logger.With("component", "openai_client"),
		model:     cfg.Model,
		persona:   cfg.Persona,
		maxTokens: cfg.MaxOutputTokens,
		timeout:   cfg.Timeout,
		rate:      rate,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate assembles the prompt log ([persona] + context + new user text),
// calls the provider with a bounded timeout, and returns the reply with
// token usage and cost. Context messages keep their recorded roles.
func (c *Client) Generate(ctx context.Context, history []database.Message, userText string) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]gopenai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, gopenai.ChatCompletionMessage{
		Role:    gopenai.ChatMessageRoleSystem,
		Content: c.persona,
	})
	for _, m := range history {
		msgs = append(msgs, gopenai.ChatCompletionMessage{
			Role:    promptRole(m.Role),
			Content: m.Text,
		})
	}
	msgs = append(msgs, gopenai.ChatCompletionMessage{
		Role:    gopenai.ChatMessageRoleUser,
		Content: userText,
	})

	c.logger.DebugContext(ctx, "Invoking generation provider", "model", c.model, "prompt_messages", len(msgs))

	resp, err := c.api.CreateChatCompletion(ctx, gopenai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		mapped := c.mapError(ctx, err)
		metrics.GenerationRequests.WithLabelValues(c.model, "error").Inc()
		return nil, mapped
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		metrics.GenerationRequests.WithLabelValues(c.model, "error").Inc()
		return nil, fmt.Errorf("%w: response contains no choices", ErrParse)
	}

	reply := &Reply{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	reply.Cost = Cost(c.rate, reply.InputTokens, reply.OutputTokens)

	metrics.GenerationRequests.WithLabelValues(c.model, "ok").Inc()
	metrics.GenerationTokens.WithLabelValues("input").Add(float64(reply.InputTokens))
	metrics.GenerationTokens.WithLabelValues("output").Add(float64(reply.OutputTokens))
	metrics.GenerationCost.Add(reply.Cost)

	c.logger.InfoContext(ctx, "Generation completed",
		"model", c.model,
		"input_tokens", reply.InputTokens,
		"output_tokens", reply.OutputTokens,
		"cost", reply.Cost)

	return reply, nil
}

// Cost computes the usage cost for a token count pair at the given rate.
func Cost(rate Rate, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*rate.Input + float64(outputTokens)*rate.Output
}

func (c *Client) mapError(ctx context.Context, err error) error {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		c.logger.ErrorContext(ctx, "Generation provider returned an error payload",
			"model", c.model, "code", apiErr.HTTPStatusCode, "message", apiErr.Message)
		return fmt.Errorf("%w: %s", ErrProvider, apiErr.Message)
	}

	var reqErr *gopenai.RequestError
	if errors.As(err, &reqErr) {
		c.logger.ErrorContext(ctx, "Generation provider response was unparseable",
			"model", c.model, "status", reqErr.HTTPStatusCode, "error", err)
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	// A malformed success body surfaces as a raw decode error; transport
	// failures come wrapped in *url.Error and stay unavailable.
	var urlErr *url.Error
	if !errors.As(err, &urlErr) && isDecodeError(err) {
		c.logger.ErrorContext(ctx, "Generation provider response was unparseable",
			"model", c.model, "error", err)
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	c.logger.ErrorContext(ctx, "Generation provider unreachable", "model", c.model, "error", err)
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func promptRole(role string) string {
	switch role {
	case database.RoleAssistant:
		return gopenai.ChatMessageRoleAssistant
	case database.RoleSystem:
		return gopenai.ChatMessageRoleSystem
	default:
		return gopenai.ChatMessageRoleUser
	}
}
