package ingestion

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewSplitter_Defaults(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name        string
		size, over  int
		wantSize    int
		wantOverlap int
	}{
		{"defaults", 0, 0, DefaultChunkSize, 0},
		{"explicit", 800, 100, 800, 100},
		{"overlap clamped", 100, 150, 100, 10},
		{"negative overlap", 100, -5, 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewSplitter(tc.size, tc.over)
			if s.Size != tc.wantSize || s.Overlap != tc.wantOverlap {
				t.Errorf("got size=%d overlap=%d, want %d/%d", s.Size, s.Overlap, tc.wantSize, tc.wantOverlap)
			}
		})
	}
}

func TestSplitter_WordOverlap(t *testing.T) {
	t.Parallel()
	s := NewSplitter(7, 3)
	got := s.Split("aaa bbb ccc")
	want := []string{"aaa bbb", "bbb ccc"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Split = %q, want %q", got, want)
	}
}

func TestSplitter_PrefersParagraphs(t *testing.T) {
	t.Parallel()
	s := NewSplitter(40, 0)
	text := "First paragraph about recursion.\n\nSecond paragraph about stacks."
	got := s.Split(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(got), got)
	}
	if got[0] != "First paragraph about recursion." || got[1] != "Second paragraph about stacks." {
		t.Errorf("unexpected chunks %q", got)
	}
}

func TestSplitter_ShortTextSingleChunk(t *testing.T) {
	t.Parallel()
	got := NewSplitter(1000, 200).Split("  A short page.  ")
	if len(got) != 1 || got[0] != "A short page." {
		t.Errorf("Split = %q", got)
	}
	if got := NewSplitter(1000, 200).Split("   \n\n  "); len(got) != 0 {
		t.Errorf("whitespace-only text produced %q", got)
	}
}

func TestSplitter_RespectsSizeAndCoversText(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("word")
		if i%17 == 0 {
			b.WriteString("\n")
		} else {
			b.WriteString(" ")
		}
	}
	text := b.String()
	s := NewSplitter(50, 10)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > s.Size {
			t.Errorf("chunk %d has %d runes, exceeds %d", i, n, s.Size)
		}
		total += strings.Count(c, "word")
	}
	if total < 200 {
		t.Errorf("chunks cover %d words, want at least 200", total)
	}
}

func TestSplitter_LongWordFallsBackToCharacters(t *testing.T) {
	t.Parallel()
	s := NewSplitter(10, 0)
	got := s.Split(strings.Repeat("x", 25))
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %q", len(got), got)
	}
	for _, c := range got {
		if utf8.RuneCountInString(c) > 10 {
			t.Errorf("chunk %q exceeds size", c)
		}
	}
}

func TestSplitter_MultibyteRunes(t *testing.T) {
	t.Parallel()
	s := NewSplitter(5, 0)
	got := s.Split("ééééééééé")
	for _, c := range got {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %q is not valid UTF-8", c)
		}
		if utf8.RuneCountInString(c) > 5 {
			t.Errorf("chunk %q exceeds size", c)
		}
	}
}

func TestSplitter_SizeOneDropsWhitespace(t *testing.T) {
	t.Parallel()
	s := NewSplitter(1, 0)
	cases := map[string][]string{
		"a\tb":   {"a", "b"},
		"x\t\ty": {"x", "y"},
		"\t":     nil,
	}
	for in, want := range cases {
		got := s.Split(in)
		if strings.Join(got, "|") != strings.Join(want, "|") || len(got) != len(want) {
			t.Errorf("Split(%q) = %q, want %q", in, got, want)
		}
		for _, c := range got {
			if c == "" {
				t.Errorf("Split(%q) produced an empty chunk", in)
			}
		}
	}
}
