package coordinator

import (
	"context"
	"testing"

	"github.com/kalambet/concierge/internal/assembler"
	"github.com/kalambet/concierge/internal/memory"
	"github.com/kalambet/concierge/internal/storage"
)

func TestMemorySource_Chunks(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mem := memory.New(store, memory.Config{})
	ctx := context.Background()

	for _, content := range []string{
		"Client booked the beachfront hotel in Lisbon",
		"Refund processed for the cancelled Porto flight",
	} {
		_, err := mem.StoreEpisodic(ctx, memory.EpisodicRecord{
			AgencyID:        "acme",
			UserID:          "alice",
			InteractionType: "conversation",
			Content:         content,
			Outcome:         "success",
			Importance:      0.8,
		})
		if err != nil {
			t.Fatalf("StoreEpisodic: %v", err)
		}
	}

	src := NewMemorySource(mem, "acme", "alice")
	chunks, err := src.Chunks(ctx, "beachfront hotel", assembler.QueryContext{})
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for _, ch := range chunks {
		if ch.Source != "episodic_memory" {
			t.Errorf("Source = %q", ch.Source)
		}
		if ch.TokenCount == 0 {
			t.Errorf("chunk %s has zero token count", ch.ID)
		}
		if ch.Timestamp.IsZero() {
			t.Errorf("chunk %s has zero timestamp", ch.ID)
		}
	}

	var matched *assembler.Chunk
	for i := range chunks {
		if chunks[i].Content == "Client booked the beachfront hotel in Lisbon" {
			matched = &chunks[i]
		}
	}
	if matched == nil {
		t.Fatal("hotel episode missing from chunks")
	}
	if matched.Relevance == 0 {
		t.Error("query-matching chunk has zero relevance")
	}
}
