// Package memory holds the tutor's conversation log: an append-only, ordered
// sequence of user and assistant turns that is windowed for prompt
// construction and truncated only by an explicit Clear. The log may be
// written through to a Persister so it survives restarts.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser is a question asked by the learner.
	RoleUser Role = "user"
	// RoleAssistant is an answer produced by the tutor.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DefaultWindow is the number of user/assistant pairs included in a prompt.
const DefaultWindow = 6

// Turn is a single entry in the conversation log.
type Turn struct {
	// Role is the author of the turn.
	Role Role `json:"role"`
	// Content is the text of the turn.
	Content string `json:"content"`
	// Sources lists the documents an assistant answer was grounded on, in
	// order of first appearance. Empty for user turns and non-RAG answers.
	Sources []string `json:"sources,omitempty"`
	// CreatedAt is when the turn was appended.
	CreatedAt time.Time `json:"created_at"`
}

// Persister stores the conversation log outside the process.
// Implementations must be safe for concurrent use.
type Persister interface {
	// Load returns the full log, oldest first.
	Load(ctx context.Context) ([]Turn, error)
	// Append stores turns at the end of the log in order.
	Append(ctx context.Context, turns ...Turn) error
	// Clear removes every stored turn.
	Clear(ctx context.Context) error
}

// Conversation is the in-process conversation log. It is safe for concurrent
// use; its lock covers only the local slice and the write-through call.
type Conversation struct {
	mu        sync.Mutex
	turns     []Turn
	persister Persister
	now       func() time.Time
}

// New returns a Conversation. When p is non-nil the stored log is loaded and
// every subsequent Append and Clear is written through to it.
func New(ctx context.Context, p Persister) (*Conversation, error) {
	c := &Conversation{persister: p, now: time.Now}
	if p == nil {
		return c, nil
	}
	turns, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: load conversation: %w", err)
	}
	c.turns = turns
	return c, nil
}

// Append adds one turn to the end of the log. The turn is kept in memory even
// when persisting it fails; the persistence error is returned to the caller.
func (c *Conversation) Append(ctx context.Context, role Role, content string, sources []string) error {
	if !role.Valid() {
		return fmt.Errorf("memory: invalid role %q", role)
	}
	return c.append(ctx, Turn{Role: role, Content: content, Sources: slices.Clone(sources)})
}

// AppendExchange adds a question and its answer as one unit so concurrent
// callers cannot interleave halves of different exchanges.
func (c *Conversation) AppendExchange(ctx context.Context, question, answer string, sources []string) error {
	return c.append(ctx,
		Turn{Role: RoleUser, Content: question},
		Turn{Role: RoleAssistant, Content: answer, Sources: slices.Clone(sources)},
	)
}

func (c *Conversation) append(ctx context.Context, turns ...Turn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for i := range turns {
		turns[i].CreatedAt = now
	}
	c.turns = append(c.turns, turns...)
	if c.persister == nil {
		return nil
	}
	if err := c.persister.Append(ctx, turns...); err != nil {
		return fmt.Errorf("memory: persist turn: %w", err)
	}
	return nil
}

// Window returns the suffix of the log that starts at the nPairs-th most
// recent user turn, oldest first. When fewer user turns exist the whole log
// is returned; nPairs <= 0 yields an empty window. The log is not modified.
func (c *Conversation) Window(nPairs int) []Turn {
	if nPairs <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	seen := 0
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role != RoleUser {
			continue
		}
		seen++
		if seen == nPairs {
			start = i
			break
		}
	}
	return cloneTurns(c.turns[start:])
}

// PairCount returns the number of user turns in the log.
func (c *Conversation) PairCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.turns {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}

// Len returns the total number of turns in the log.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Turns returns a copy of the full log, oldest first.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneTurns(c.turns)
}

// Clear truncates the log. The in-memory log is emptied even when the
// persister fails so the next prompt starts fresh.
func (c *Conversation) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = nil
	if c.persister == nil {
		return nil
	}
	if err := c.persister.Clear(ctx); err != nil {
		return fmt.Errorf("memory: clear persisted conversation: %w", err)
	}
	return nil
}

func cloneTurns(in []Turn) []Turn {
	if len(in) == 0 {
		return nil
	}
	out := make([]Turn, len(in))
	for i, t := range in {
		t.Sources = slices.Clone(t.Sources)
		out[i] = t
	}
	return out
}
