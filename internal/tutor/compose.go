package tutor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/tutor-go/internal/budget"
	"github.com/54b3r/tutor-go/internal/logging"
	"github.com/54b3r/tutor-go/internal/memory"
	"github.com/54b3r/tutor-go/internal/rag"
)

// prompt is a composed request ready for a Completer.
type prompt struct {
	messages []*schema.Message
	// sources are the distinct documents of the passages placed in messages.
	sources []string
	// grounded is false when a RAG prompt ended up without passages.
	grounded bool
}

// composer builds prompts in the fixed order: system persona, retrieved
// context (RAG), memory window (memory), then the question.
type composer struct {
	retriever        rag.Retriever
	topK             int
	maxContextTokens int
}

// basic composes the persona and the question.
func (c *composer) basic(question string) *prompt {
	return &prompt{messages: []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(question),
	}}
}

// withMemory places the window between the persona and the question. The
// window is trimmed oldest pair first to fit the context budget.
func (c *composer) withMemory(ctx context.Context, question string, window []memory.Turn) *prompt {
	history := make([]*schema.Message, 0, len(window))
	for _, t := range window {
		switch t.Role {
		case memory.RoleUser:
			history = append(history, schema.UserMessage(t.Content))
		case memory.RoleAssistant:
			history = append(history, schema.AssistantMessage(t.Content, nil))
		}
	}

	fixed := []*schema.Message{schema.SystemMessage(systemPrompt), schema.UserMessage(question)}
	before := len(history)
	history = budget.TrimPairs(fixed, history, c.maxContextTokens)
	if dropped := before - len(history); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
			slog.Int("max_tokens", c.maxContextTokens),
		)
	}

	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, fixed[0])
	msgs = append(msgs, history...)
	msgs = append(msgs, fixed[1])
	return &prompt{messages: msgs}
}

// withContext retrieves passages for question and places them as a system
// message before it. Passages beyond the context budget are dropped, and
// sources cover only the passages actually sent.
func (c *composer) withContext(ctx context.Context, question string) (*prompt, error) {
	if c.retriever == nil {
		return nil, fmt.Errorf("tutor: retrieval is not configured")
	}
	hits, err := c.retriever.Retrieve(ctx, question, c.topK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		// The index emptied between routing and retrieval.
		return c.basic(question), nil
	}

	passages := make([]string, len(hits))
	for i, h := range hits {
		passages[i] = formatPassage(i+1, h)
	}
	reserved := budget.Estimate(systemPrompt) + budget.Estimate(question) + budget.Estimate(contextHeader)
	kept := budget.FitPassages(passages, c.maxContextTokens-reserved)
	if len(kept) < len(passages) {
		logging.FromContext(ctx).Warn("budget: dropped retrieved passages to fit context window",
			slog.Int("dropped", len(passages)-len(kept)),
			slog.Int("retained", len(kept)),
		)
	}

	return &prompt{
		messages: []*schema.Message{
			schema.SystemMessage(systemPrompt),
			schema.SystemMessage(buildContext(kept)),
			schema.UserMessage(question),
		},
		sources:  distinctSources(hits[:len(kept)]),
		grounded: true,
	}, nil
}
