package provider

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeChatModel replies with a fixed message after failing a set number of times.
type fakeChatModel struct {
	reply    string
	failures int32
	calls    atomic.Int32
	lastMsgs []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.lastMsgs = input
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("503 service unavailable")
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestChatCompleter_Complete(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: "Recursion is self-reference."}
	c := NewChatCompleter(m, "fake:model", time.Second)

	msgs := []*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("What is recursion?")}
	got, err := c.Complete(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "Recursion is self-reference." {
		t.Errorf("got %q", got)
	}
	if len(m.lastMsgs) != 2 || m.lastMsgs[1].Content != "What is recursion?" {
		t.Errorf("messages not forwarded: %v", m.lastMsgs)
	}
	if c.Name() != "fake:model" {
		t.Errorf("Name = %q", c.Name())
	}
}

func TestChatCompleter_RetriesOnceThenFails(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{failures: 10}
	c := NewChatCompleter(m, "fake:model", time.Second)

	_, err := c.Complete(context.Background(), []*schema.Message{schema.UserMessage("q")})
	if err == nil || !strings.Contains(err.Error(), "fake:model") {
		t.Fatalf("expected wrapped error naming the model, got %v", err)
	}
	if m.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", m.calls.Load())
	}
}

func TestNewRAGFromEnv_ReusesChatCompleter(t *testing.T) {
	t.Setenv("RAG_MODEL_PROVIDER", "")
	chat := NewChatCompleter(&fakeChatModel{}, "fake:chat", time.Second)
	got, err := NewRAGFromEnv(context.Background(), chat)
	if err != nil {
		t.Fatalf("NewRAGFromEnv: %v", err)
	}
	if got != chat {
		t.Error("expected the chat completer to be reused")
	}

	if _, err := NewRAGFromEnv(context.Background(), nil); err == nil {
		t.Error("expected error without any completer")
	}
}

func TestNewRAGFromEnv_InvalidBackend(t *testing.T) {
	t.Setenv("RAG_MODEL_PROVIDER", "mistral")
	t.Setenv("MISTRAL_API_KEY", "")
	if _, err := NewRAGFromEnv(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "MISTRAL_API_KEY") {
		t.Errorf("expected missing MISTRAL_API_KEY error, got %v", err)
	}
}
