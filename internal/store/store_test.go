package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/54b3r/tutor-go/internal/memory"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func userTurn(content string) memory.Turn {
	return memory.Turn{Role: memory.RoleUser, Content: content}
}

func Test_Store_AppendAndLoad(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Append(ctx, DefaultThread,
		userTurn("hello"),
		memory.Turn{Role: memory.RoleAssistant, Content: "world", Sources: []string{"a.pdf", "b.pdf"}},
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	turns, err := s.Load(ctx, DefaultThread)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("want 2 turns, got %d", len(turns))
	}
	if turns[0].Role != memory.RoleUser || turns[0].Content != "hello" || turns[0].Sources != nil {
		t.Errorf("turn[0]: got %+v", turns[0])
	}
	if turns[1].Role != memory.RoleAssistant || turns[1].Content != "world" {
		t.Errorf("turn[1]: got %s/%s", turns[1].Role, turns[1].Content)
	}
	if len(turns[1].Sources) != 2 || turns[1].Sources[0] != "a.pdf" || turns[1].Sources[1] != "b.pdf" {
		t.Errorf("sources: got %v", turns[1].Sources)
	}
	if turns[1].CreatedAt.IsZero() {
		t.Error("created_at not stored")
	}
}

func Test_Store_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 6 {
		turn := userTurn("msg")
		if i%2 == 1 {
			turn.Role = memory.RoleAssistant
		}
		if err := s.Append(ctx, "t", turn); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	turns, err := s.Recent(ctx, "t", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(turns) != 4 {
		t.Errorf("want 4 turns, got %d", len(turns))
	}
}

func Test_Store_ThreadIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "x", userTurn("from x")); err != nil {
		t.Fatalf("append x: %v", err)
	}
	if err := s.Append(ctx, "y", userTurn("from y")); err != nil {
		t.Fatalf("append y: %v", err)
	}
	if err := s.Clear(ctx, "y"); err != nil {
		t.Fatalf("clear y: %v", err)
	}

	x, err := s.Load(ctx, "x")
	if err != nil {
		t.Fatalf("load x: %v", err)
	}
	y, err := s.Load(ctx, "y")
	if err != nil {
		t.Fatalf("load y: %v", err)
	}
	if len(x) != 1 || x[0].Content != "from x" {
		t.Errorf("thread x isolation failed: got %v", x)
	}
	if len(y) != 0 {
		t.Errorf("thread y should be empty after clear: got %v", y)
	}
}

func Test_Store_OldestFirstOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		if err := s.Append(ctx, "order", userTurn(c)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	turns, err := s.Recent(ctx, "order", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for i, want := range contents {
		if turns[i].Content != want {
			t.Errorf("turn[%d]: want %q, got %q", i, want, turns[i].Content)
		}
	}
}

func Test_Store_RejectsUnknownRole(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	err := s.Append(context.Background(), "t", memory.Turn{Role: "system", Content: "x"})
	if err == nil {
		t.Fatal("expected constraint error for unknown role")
	}
}

func Test_Store_ConversationSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conv, err := memory.New(ctx, first.Thread(DefaultThread))
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	if err := conv.AppendExchange(ctx, "What is X?", "X is a letter.", []string{"x.pdf"}); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}
	_ = first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	restored, err := memory.New(ctx, second.Thread(DefaultThread))
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	if restored.PairCount() != 1 {
		t.Fatalf("PairCount after reopen = %d, want 1", restored.PairCount())
	}
	if got := restored.Turns()[1].Sources; len(got) != 1 || got[0] != "x.pdf" {
		t.Errorf("sources after reopen = %v", got)
	}

	if err := restored.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if turns, _ := second.Load(ctx, DefaultThread); len(turns) != 0 {
		t.Errorf("clear not persisted: %v", turns)
	}
}
