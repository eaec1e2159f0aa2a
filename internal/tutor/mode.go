package tutor

import (
	"fmt"
	"strings"
)

// Mode selects how a question is answered.
type Mode string

const (
	// ModeRAG grounds the answer in passages retrieved from the document index.
	ModeRAG Mode = "rag"
	// ModeMemory includes the recent conversation window in the prompt.
	ModeMemory Mode = "memory"
	// ModeBasic sends the question alone.
	ModeBasic Mode = "basic"
)

// ParseMode maps user input onto a Mode. The empty string selects ModeRAG.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rag":
		return ModeRAG, nil
	case "memory", "memory-chat":
		return ModeMemory, nil
	case "basic", "basic-chat", "chat":
		return ModeBasic, nil
	}
	return "", fmt.Errorf("tutor: unknown mode %q (valid values: rag, memory, basic)", s)
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeRAG || m == ModeMemory || m == ModeBasic
}
