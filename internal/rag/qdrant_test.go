package rag

import (
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

func TestPointID_DeterministicUUID(t *testing.T) {
	t.Parallel()
	id := ChunkID("notes.pdf", 4)
	a, b := pointID(id), pointID(id)
	if a != b {
		t.Fatalf("pointID not deterministic: %s vs %s", a, b)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("pointID is not a UUID: %v", err)
	}
	if pointID(ChunkID("notes.pdf", 5)) == a {
		t.Error("distinct chunks mapped to the same point")
	}
}

func TestChunkPayloadRoundTrip(t *testing.T) {
	t.Parallel()
	in := Chunk{
		ID:            ChunkID("notes.pdf", 2),
		Text:          "Recursion is a function calling itself.",
		SourceID:      "notes.pdf",
		SequenceIndex: 2,
		Page:          7,
	}
	out, seq := chunkFromPayload(qdrant.NewValueMap(chunkPayload(in, 11)))
	if out.ID != in.ID || out.Text != in.Text || out.SourceID != in.SourceID ||
		out.SequenceIndex != in.SequenceIndex || out.Page != in.Page {
		t.Errorf("payload round trip mismatch: %+v", out)
	}
	if seq != 11 {
		t.Errorf("seq = %d, want 11", seq)
	}
}
