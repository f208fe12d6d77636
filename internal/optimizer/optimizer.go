// Package optimizer applies a pluggable pipeline of context optimization
// strategies. It can run standalone for compression, or as a second pass
// after the assembler. A failing strategy is logged and skipped; the
// pipeline continues with the prior chunk set.
package optimizer

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kalambet/concierge/internal/assembler"
)

// StrategyResult is the outcome of a single strategy application.
type StrategyResult struct {
	Chunks           []assembler.Chunk
	ChunksRemoved    int
	ChunksCompressed int
}

// Strategy is a named, ordered optimization pass. Apply must be a pure
// function of its input: it receives a fresh copy of the working set and
// returns the replacement set.
type Strategy interface {
	Name() string
	Priority() int
	Apply(chunks []assembler.Chunk) (StrategyResult, error)
}

// Overrides tune a single Optimize call without rebuilding the Optimizer.
// Disabled strategies are skipped; Priorities remaps execution order.
type Overrides struct {
	Disabled   map[string]bool
	Priorities map[string]int
}

// Optimizer holds the registered strategy set.
type Optimizer struct {
	strategies []Strategy
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Optimizer with the default strategy set.
func New() *Optimizer {
	return NewWithStrategies(DefaultStrategies())
}

// NewWithStrategies creates an Optimizer with an explicit strategy set.
func NewWithStrategies(strategies []Strategy) *Optimizer {
	return &Optimizer{
		strategies: strategies,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// Optimize runs all enabled strategies in ascending priority order, then
// trims the result to targetTokens. No single strategy failure aborts the
// pass: errors (including panics) are caught, logged, and skipped.
func (o *Optimizer) Optimize(chunks []assembler.Chunk, targetTokens int, overrides *Overrides) assembler.OptimizedContext {
	start := o.now()

	working := make([]assembler.Chunk, len(chunks))
	copy(working, chunks)
	originalTokens := sumTokens(working)

	var applied []string
	removed := 0
	compressed := 0

	for _, s := range o.orderedStrategies(overrides) {
		result, err := applyStrategy(s, working)
		if err != nil {
			o.logger.Warn("optimization strategy failed, skipping",
				"strategy", s.Name(), "error", err)
			continue
		}
		working = result.Chunks
		removed += result.ChunksRemoved
		compressed += result.ChunksCompressed
		applied = append(applied, s.Name())
	}

	working, trimmed := trimToTarget(working, targetTokens)

	oc := assembler.OptimizedContext{
		Chunks:           working,
		TotalTokens:      sumTokens(working),
		CompressionRatio: 1.0,
		Relevance:        meanRelevance(working),
		Strategy:         "optimization",
		Meta: assembler.Meta{
			Duration:      o.now().Sub(start),
			StagesApplied: applied,
			ChunksPruned:  removed,
			ChunksTrimmed: trimmed + compressed,
		},
	}
	if originalTokens > 0 {
		oc.CompressionRatio = float64(oc.TotalTokens) / float64(originalTokens)
	}

	o.logger.Debug("context optimized",
		"strategies", len(applied),
		"chunks_in", len(chunks),
		"chunks_out", len(working),
		"compression_ratio", oc.CompressionRatio,
	)
	return oc
}

// orderedStrategies applies overrides and returns the enabled strategies in
// ascending priority order.
func (o *Optimizer) orderedStrategies(overrides *Overrides) []Strategy {
	type entry struct {
		s        Strategy
		priority int
	}

	entries := make([]entry, 0, len(o.strategies))
	for _, s := range o.strategies {
		if overrides != nil && overrides.Disabled[s.Name()] {
			continue
		}
		priority := s.Priority()
		if overrides != nil {
			if p, ok := overrides.Priorities[s.Name()]; ok {
				priority = p
			}
		}
		entries = append(entries, entry{s: s, priority: priority})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})

	ordered := make([]Strategy, len(entries))
	for i, e := range entries {
		ordered[i] = e.s
	}
	return ordered
}

// applyStrategy runs one strategy over a copy of the working set, turning
// panics into errors so a misbehaving strategy cannot abort the pipeline.
func applyStrategy(s Strategy, chunks []assembler.Chunk) (result StrategyResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()

	input := make([]assembler.Chunk, len(chunks))
	copy(input, chunks)

	result, err = s.Apply(input)
	if err != nil {
		return StrategyResult{}, err
	}
	if result.Chunks == nil {
		result.Chunks = []assembler.Chunk{}
	}
	return result, nil
}

// trimToTarget sorts by relevance and greedily fills up to targetTokens.
// The first chunk that would overflow is truncated (not dropped) when the
// remaining budget is worth keeping; everything after it is dropped.
func trimToTarget(chunks []assembler.Chunk, targetTokens int) ([]assembler.Chunk, int) {
	if targetTokens <= 0 || sumTokens(chunks) <= targetTokens {
		return chunks, 0
	}

	sorted := make([]assembler.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Relevance != sorted[j].Relevance {
			return sorted[i].Relevance > sorted[j].Relevance
		}
		return sorted[i].ID < sorted[j].ID
	})

	const minTruncationBudget = 50

	out := make([]assembler.Chunk, 0, len(sorted))
	total := 0
	trimmed := 0
	for _, c := range sorted {
		if total+c.TokenCount <= targetTokens {
			out = append(out, c)
			total += c.TokenCount
			continue
		}
		remaining := targetTokens - total
		if remaining > minTruncationBudget {
			c.Content = truncateContent(c.Content, remaining)
			c.TokenCount = remaining
			if c.Metadata == nil {
				c.Metadata = map[string]any{}
			}
			c.Metadata["compressed"] = true
			out = append(out, c)
			total += remaining
			trimmed++
		}
		break
	}

	return out, trimmed
}

func truncateContent(text string, tokens int) string {
	maxChars := tokens * 4
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

func sumTokens(chunks []assembler.Chunk) int {
	sum := 0
	for _, c := range chunks {
		sum += c.TokenCount
	}
	return sum
}

func meanRelevance(chunks []assembler.Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range chunks {
		sum += c.Relevance
	}
	return sum / float64(len(chunks))
}
