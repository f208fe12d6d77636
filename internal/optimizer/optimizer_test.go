package optimizer

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/concierge/internal/assembler"
)

func makeChunk(id, content string, relevance float64, tokens int) assembler.Chunk {
	return assembler.Chunk{
		ID:         id,
		Content:    content,
		Source:     "conversation",
		Relevance:  relevance,
		TokenCount: tokens,
		Timestamp:  time.Now(),
	}
}

// --- failing strategy doubles ---

type failingStrategy struct{}

func (failingStrategy) Name() string  { return "failing" }
func (failingStrategy) Priority() int { return 1 }
func (failingStrategy) Apply([]assembler.Chunk) (StrategyResult, error) {
	return StrategyResult{}, fmt.Errorf("boom")
}

type panickingStrategy struct{}

func (panickingStrategy) Name() string  { return "panicking" }
func (panickingStrategy) Priority() int { return 1 }
func (panickingStrategy) Apply([]assembler.Chunk) (StrategyResult, error) {
	panic("unexpected state")
}

type renameStrategy struct {
	name     string
	priority int
	log      *[]string
}

func (s renameStrategy) Name() string  { return s.name }
func (s renameStrategy) Priority() int { return s.priority }
func (s renameStrategy) Apply(chunks []assembler.Chunk) (StrategyResult, error) {
	*s.log = append(*s.log, s.name)
	return StrategyResult{Chunks: chunks}, nil
}

func TestOptimize_StrategyErrorIsSkipped(t *testing.T) {
	chunks := []assembler.Chunk{
		makeChunk("c1", "hotel availability near the beach", 0.9, 10),
		makeChunk("c2", "airport transfer pricing", 0.8, 10),
	}

	o := NewWithStrategies([]Strategy{failingStrategy{}})
	oc := o.Optimize(chunks, 100, nil)

	if len(oc.Chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (failure must not drop chunks)", len(oc.Chunks))
	}
	if len(oc.Meta.StagesApplied) != 0 {
		t.Errorf("failed strategy recorded as applied: %v", oc.Meta.StagesApplied)
	}
}

func TestOptimize_StrategyPanicIsContained(t *testing.T) {
	chunks := []assembler.Chunk{makeChunk("c1", "refund policy for cancellations", 0.7, 10)}

	o := NewWithStrategies([]Strategy{panickingStrategy{}})
	oc := o.Optimize(chunks, 100, nil)

	if len(oc.Chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(oc.Chunks))
	}
}

func TestOptimize_PriorityOrderAndOverrides(t *testing.T) {
	var log []string
	strategies := []Strategy{
		renameStrategy{name: "second", priority: 20, log: &log},
		renameStrategy{name: "first", priority: 10, log: &log},
		renameStrategy{name: "disabled", priority: 5, log: &log},
	}

	o := NewWithStrategies(strategies)
	o.Optimize([]assembler.Chunk{makeChunk("c1", "x", 0.5, 5)}, 100, &Overrides{
		Disabled:   map[string]bool{"disabled": true},
		Priorities: map[string]int{"second": 1},
	})

	want := []string{"second", "first"}
	if len(log) != len(want) {
		t.Fatalf("ran %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("execution order %v, want %v", log, want)
			break
		}
	}
}

func TestOptimize_CompressionRatio(t *testing.T) {
	var chunks []assembler.Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, makeChunk(fmt.Sprintf("c%d", i), fmt.Sprintf("booking record %d", i), 0.6, 50))
	}

	o := New()
	oc := o.Optimize(chunks, 200, nil)

	if oc.CompressionRatio <= 0 || oc.CompressionRatio > 1 {
		t.Errorf("CompressionRatio = %g, want in (0,1]", oc.CompressionRatio)
	}
	if oc.TotalTokens > 200 {
		t.Errorf("TotalTokens = %d, want <= 200", oc.TotalTokens)
	}
}

func TestOptimize_EmptyInput(t *testing.T) {
	o := New()
	oc := o.Optimize(nil, 100, nil)
	if oc.CompressionRatio != 1.0 {
		t.Errorf("CompressionRatio = %g, want 1.0 for empty input", oc.CompressionRatio)
	}
	if oc.TotalTokens != 0 {
		t.Errorf("TotalTokens = %d, want 0", oc.TotalTokens)
	}
}

func TestRelevanceBoosting(t *testing.T) {
	s := NewRelevanceBoosting(BoostConfig{})
	chunks := []assembler.Chunk{
		makeChunk("strong", "x", 0.8, 5),
		makeChunk("weak", "x", 0.32, 5),
		makeChunk("doomed", "x", 0.2, 5),
	}

	result, err := s.Apply(chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := map[string]assembler.Chunk{}
	for _, c := range result.Chunks {
		byID[c.ID] = c
	}

	if got := byID["strong"].Relevance; got <= 0.8 || got > 1.0 {
		t.Errorf("strong chunk relevance = %g, want boosted in (0.8, 1.0]", got)
	}
	if got := byID["weak"].Relevance; got >= 0.32 {
		t.Errorf("weak chunk relevance = %g, want dampened below 0.32", got)
	}
	if _, ok := byID["doomed"]; ok {
		t.Error("chunk below drop floor was retained")
	}
	if result.ChunksRemoved != 1 {
		t.Errorf("ChunksRemoved = %d, want 1", result.ChunksRemoved)
	}
}

func TestContentCompression(t *testing.T) {
	filler := strings.Repeat("It is important to note that the booking requires confirmation. ", 12)
	big := makeChunk("big", filler, 0.6, assembler.EstimateTokens(filler))
	small := makeChunk("small", "it is important to note that fees apply", 0.6, 10)

	s := NewContentCompression(CompressionConfig{})
	result, err := s.Apply([]assembler.Chunk{big, small})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ChunksCompressed != 1 {
		t.Fatalf("ChunksCompressed = %d, want 1 (only the oversized chunk)", result.ChunksCompressed)
	}

	var compressed assembler.Chunk
	for _, c := range result.Chunks {
		if c.ID == "big" {
			compressed = c
		}
	}
	if compressed.TokenCount >= big.TokenCount {
		t.Errorf("token count did not shrink: %d -> %d", big.TokenCount, compressed.TokenCount)
	}
	if strings.Contains(strings.ToLower(compressed.Content), "it is important to note that") {
		t.Error("filler phrase survived compression")
	}
	for _, c := range result.Chunks {
		if c.ID == "small" && c.Content != small.Content {
			t.Error("undersized chunk was modified")
		}
	}
}

func TestContentCompression_PreservesCallerMetadata(t *testing.T) {
	filler := strings.Repeat("It is important to note that the booking requires confirmation. ", 12)
	meta := map[string]any{"origin": "crm"}
	big := makeChunk("big", filler, 0.6, assembler.EstimateTokens(filler))
	big.Metadata = meta

	s := NewContentCompression(CompressionConfig{})
	result, err := s.Apply([]assembler.Chunk{big})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ChunksCompressed != 1 {
		t.Fatalf("ChunksCompressed = %d, want 1", result.ChunksCompressed)
	}
	if _, ok := meta["compressed"]; ok {
		t.Error("caller's metadata map was mutated")
	}
	if compressed, _ := result.Chunks[0].Metadata["compressed"].(bool); !compressed {
		t.Error("compressed chunk not tagged compressed=true")
	}
	if result.Chunks[0].Metadata["origin"] != "crm" {
		t.Error("existing metadata entry lost in the copy")
	}
}

func TestSemanticDeduplication(t *testing.T) {
	chunks := []assembler.Chunk{
		makeChunk("p1", "payment by card, payment on arrival", 0.9, 10),
		makeChunk("p2", "payment options include payment plans", 0.6, 10),
		makeChunk("h1", "hotel near the beach with hotel spa", 0.7, 10),
		makeChunk("misc", "general travel tips for summer", 0.5, 10),
	}

	s := NewSemanticDeduplication(DedupConfig{})
	result, err := s.Apply(chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 (one per concept plus unclustered)", len(result.Chunks))
	}
	for _, c := range result.Chunks {
		if c.ID == "p2" {
			t.Error("lower-relevance chunk in payment cluster survived")
		}
	}
}

func TestTemporalFiltering_KeepsTopFraction(t *testing.T) {
	now := time.Now()
	var chunks []assembler.Chunk
	for i := 0; i < 10; i++ {
		c := makeChunk(fmt.Sprintf("c%d", i), "x", 0.5, 5)
		c.Timestamp = now.Add(-time.Duration(i*24) * time.Hour)
		chunks = append(chunks, c)
	}

	s := NewTemporalFiltering(TemporalConfig{})
	result, err := s.Apply(chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Chunks) != 8 {
		t.Errorf("kept %d chunks, want 8 (top 80%% of 10)", len(result.Chunks))
	}
	if result.Chunks[0].ID != "c0" {
		t.Errorf("freshest chunk not ranked first: got %s", result.Chunks[0].ID)
	}
}

func TestRedundancyElimination_RemovesNearDuplicates(t *testing.T) {
	chunks := []assembler.Chunk{
		makeChunk("a", "the beach hotel offers free breakfast every morning", 0.9, 10),
		makeChunk("b", "the beach hotel offers free breakfast every morning", 0.8, 10),
		makeChunk("c", "visa requirements change depending on destination country", 0.7, 10),
	}

	s := NewRedundancyElimination(RedundancyConfig{})
	result, err := s.Apply(chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(result.Chunks))
	}
	if result.Chunks[0].ID != "a" {
		t.Errorf("highest-relevance chunk not kept first: got %s", result.Chunks[0].ID)
	}
	if result.ChunksRemoved != 1 {
		t.Errorf("ChunksRemoved = %d, want 1", result.ChunksRemoved)
	}
}

func TestTrimToTarget_TruncatesOverflowChunk(t *testing.T) {
	chunks := []assembler.Chunk{
		makeChunk("c1", strings.Repeat("w ", 400), 0.9, 200),
		makeChunk("c2", strings.Repeat("w ", 400), 0.8, 200),
	}

	out, trimmed := trimToTarget(chunks, 300)
	if len(out) != 2 {
		t.Fatalf("got %d chunks, want 2 (overflow chunk truncated, not dropped)", len(out))
	}
	if trimmed != 1 {
		t.Errorf("trimmed = %d, want 1", trimmed)
	}
	if got := sumTokens(out); got != 300 {
		t.Errorf("total tokens = %d, want exactly 300", got)
	}
}

func TestTrimToTarget_DropsWhenBudgetTooSmall(t *testing.T) {
	chunks := []assembler.Chunk{
		makeChunk("c1", "x", 0.9, 90),
		makeChunk("c2", "x", 0.8, 90),
	}

	// Remaining budget after c1 is 30 tokens, under the 50-token truncation
	// floor, so c2 is dropped entirely.
	out, trimmed := trimToTarget(chunks, 120)
	if len(out) != 1 {
		t.Fatalf("got %d chunks, want 1", len(out))
	}
	if trimmed != 0 {
		t.Errorf("trimmed = %d, want 0", trimmed)
	}
}
