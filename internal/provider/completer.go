package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/tutor-go/internal/retry"
)

// ChatCompleter adapts an Eino chat model to Completer. Each call runs under
// a timeout and is retried at most once.
type ChatCompleter struct {
	model  model.BaseChatModel
	name   string
	policy retry.Policy
}

// NewChatCompleter wraps m. name identifies the backend and model in logs and
// traces, e.g. "mistral:mistral-small-latest".
func NewChatCompleter(m model.BaseChatModel, name string, timeout time.Duration) *ChatCompleter {
	return &ChatCompleter{model: m, name: name, policy: retry.Once(timeout)}
}

// Name returns the backend and model identifier.
func (c *ChatCompleter) Name() string {
	return c.name
}

// Complete sends msgs to the model and returns the reply content.
func (c *ChatCompleter) Complete(ctx context.Context, msgs []*schema.Message) (string, error) {
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      c.name,
		Type:      "ChatModel",
		Component: components.ComponentOfChatModel,
	})
	resp, err := retry.Do(ctx, c.policy, "complete", func(ctx context.Context) (*schema.Message, error) {
		return c.model.Generate(ctx, msgs)
	})
	if err != nil {
		return "", fmt.Errorf("provider: %s: %w", c.name, err)
	}
	if resp == nil {
		return "", fmt.Errorf("provider: %s: empty response", c.name)
	}
	return resp.Content, nil
}
