package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hive-sim/pkg/anthropicllm"
	"github.com/sells-group/hive-sim/pkg/openai"
)

// CompletionRequest carries one persona's prompt to a backend.
type CompletionRequest struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Completer produces one raw completion per persona prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionServiceError wraps an upstream completion failure with its
// HTTP status. Status is zero for transport failures.
type CompletionServiceError struct {
	Status  int
	Message string
}

func (e *CompletionServiceError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("sim: completion service: %s", e.Message)
	}
	return fmt.Sprintf("sim: completion service status %d: %s", e.Status, e.Message)
}

// OpenAICompleter adapts an OpenAI-compatible client.
type OpenAICompleter struct {
	client openai.Client
}

func NewOpenAICompleter(client openai.Client) *OpenAICompleter {
	return &OpenAICompleter{client: client}
}

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	temp := req.Temperature
	resp, err := c.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: &temp,
		MaxTokens:   &req.MaxTokens,
	})
	if err != nil {
		var statusErr *openai.StatusError
		if errors.As(err, &statusErr) {
			return "", &CompletionServiceError{Status: statusErr.StatusCode, Message: statusErr.Message}
		}
		return "", eris.Wrap(err, "sim: openai completion")
	}
	if len(resp.Choices) == 0 {
		return "", &CompletionServiceError{Message: "empty choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// AnthropicCompleter adapts the Anthropic messages client.
type AnthropicCompleter struct {
	client anthropicllm.Client
}

func NewAnthropicCompleter(client anthropicllm.Client) *AnthropicCompleter {
	return &AnthropicCompleter{client: client}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	temp := req.Temperature
	resp, err := c.client.CreateMessage(ctx, anthropicllm.MessageRequest{
		Model:       req.Model,
		MaxTokens:   int64(req.MaxTokens),
		System:      req.System,
		Messages:    []anthropicllm.Message{{Role: "user", Content: req.User}},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "sim: anthropic completion")
	}
	return resp.Text, nil
}

// RoutingCompleter dispatches to the Anthropic backend for claude-*
// models and to the OpenAI-compatible backend otherwise.
type RoutingCompleter struct {
	OpenAI    Completer
	Anthropic Completer
}

func (r *RoutingCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if strings.HasPrefix(req.Model, "claude-") {
		if r.Anthropic == nil {
			return "", eris.Errorf("sim: no anthropic backend configured for model %s", req.Model)
		}
		return r.Anthropic.Complete(ctx, req)
	}
	if r.OpenAI == nil {
		return "", eris.Errorf("sim: no openai backend configured for model %s", req.Model)
	}
	return r.OpenAI.Complete(ctx, req)
}
