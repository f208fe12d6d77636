// Package assembler turns a raw pool of candidate context chunks into a
// token-budget-constrained, deduplicated, ranked context window ready for
// prompt composition.
package assembler

import (
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Config collects the scoring and selection heuristics. All constants are
// uncalibrated heuristics carried over from production tuning; they are
// exposed here rather than hard-coded so deployments can adjust them.
type Config struct {
	// HistoryWindow is how many trailing conversation turns feed the
	// conversational relevance score.
	HistoryWindow int
	// DecayHalfLifeHours controls temporal decay (exp(-age/halfLife)).
	DecayHalfLifeHours float64
	// ConversationalBonus and DomainBonus are fixed bonus weights applied
	// on top of the budget weights.
	ConversationalBonus float64
	DomainBonus         float64
	// SimilarityThreshold is the word-overlap cutoff above which the
	// diversity filter demotes a chunk.
	SimilarityThreshold float64
	// DemotionFactor scales the relevance of demoted near-duplicates.
	DemotionFactor float64
	// MMRRelevanceWeight and MMRSimilarityWeight balance relevance against
	// redundancy during MMR selection.
	MMRRelevanceWeight  float64
	MMRSimilarityWeight float64
	// MMRMaxChunks caps how many chunks MMR selection may keep.
	MMRMaxChunks int
	// AuthoritativeSources whitelists source tags that earn the authority bonus.
	AuthoritativeSources map[string]bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:       5,
		DecayHalfLifeHours:  168,
		ConversationalBonus: 0.1,
		DomainBonus:         0.1,
		SimilarityThreshold: 0.8,
		DemotionFactor:      0.5,
		MMRRelevanceWeight:  0.7,
		MMRSimilarityWeight: 0.3,
		MMRMaxChunks:        10,
		AuthoritativeSources: map[string]bool{
			"knowledge_base": true,
			"official_docs":  true,
			"verified_faq":   true,
		},
	}
}

// Assembler runs the context assembly pipeline: score, diversity-filter,
// MMR-select, budget-select, final trim. Assembly is deterministic for
// fixed inputs and a fixed clock.
type Assembler struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Assembler. Zero-valued config fields fall back to defaults.
func New(cfg Config) *Assembler {
	def := DefaultConfig()
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.DecayHalfLifeHours == 0 {
		cfg.DecayHalfLifeHours = def.DecayHalfLifeHours
	}
	if cfg.ConversationalBonus == 0 {
		cfg.ConversationalBonus = def.ConversationalBonus
	}
	if cfg.DomainBonus == 0 {
		cfg.DomainBonus = def.DomainBonus
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.DemotionFactor == 0 {
		cfg.DemotionFactor = def.DemotionFactor
	}
	if cfg.MMRRelevanceWeight == 0 {
		cfg.MMRRelevanceWeight = def.MMRRelevanceWeight
	}
	if cfg.MMRSimilarityWeight == 0 {
		cfg.MMRSimilarityWeight = def.MMRSimilarityWeight
	}
	if cfg.MMRMaxChunks == 0 {
		cfg.MMRMaxChunks = def.MMRMaxChunks
	}
	if cfg.AuthoritativeSources == nil {
		cfg.AuthoritativeSources = def.AuthoritativeSources
	}
	return &Assembler{cfg: cfg, logger: slog.Default(), now: time.Now}
}

// Assemble runs the full pipeline. A nil budget selects DefaultBudget.
// Empty input yields an empty context with CompressionRatio 1.
func (a *Assembler) Assemble(chunks []Chunk, qc QueryContext, budget *Budget) (OptimizedContext, error) {
	start := a.now()

	b := DefaultBudget()
	if budget != nil {
		b = *budget
	}
	if err := b.Validate(); err != nil {
		return OptimizedContext{}, err
	}

	if len(chunks) == 0 {
		return OptimizedContext{
			Chunks:           []Chunk{},
			CompressionRatio: 1.0,
			Strategy:         "assembly",
			Meta:             Meta{Duration: a.now().Sub(start)},
		}, nil
	}

	normalized := normalizeTokenCounts(chunks)
	originalTokens := totalTokens(normalized)

	scored := a.scoreChunks(normalized, qc, b.Weights, start)
	diversified, demoted := a.diversityFilter(scored)
	selected := a.mmrSelect(diversified)
	budgeted := budgetSelect(selected, b)
	final, trimmed := a.finalPass(budgeted, b)

	oc := OptimizedContext{
		Chunks:           final,
		TotalTokens:      totalTokens(final),
		CompressionRatio: 1.0,
		Relevance:        meanRelevance(final),
		Strategy:         "assembly",
		Meta: Meta{
			Duration:      a.now().Sub(start),
			StagesApplied: []string{"scoring", "diversity", "mmr", "budget", "final"},
			ChunksPruned:  len(chunks) - len(final),
			ChunksDemoted: demoted,
			ChunksTrimmed: trimmed,
		},
	}
	if originalTokens > 0 {
		oc.CompressionRatio = float64(oc.TotalTokens) / float64(originalTokens)
	}

	a.logger.Debug("context assembled",
		"input_chunks", len(chunks),
		"selected_chunks", len(final),
		"total_tokens", oc.TotalTokens,
		"compression_ratio", oc.CompressionRatio,
	)
	return oc, nil
}

// diversityFilter always keeps the top chunk; subsequent chunks too similar
// to anything already accepted are demoted (relevance scaled down), never
// dropped. Returns the re-sorted set and the demotion count.
func (a *Assembler) diversityFilter(chunks []Chunk) ([]Chunk, int) {
	if len(chunks) <= 1 {
		return chunks, 0
	}

	out := make([]Chunk, 0, len(chunks))
	out = append(out, chunks[0])
	demoted := 0

	for _, c := range chunks[1:] {
		maxSim := 0.0
		for _, kept := range out {
			if sim := wordOverlap(c.Content, kept.Content); sim > maxSim {
				maxSim = sim
			}
		}
		if maxSim > a.cfg.SimilarityThreshold {
			c.Relevance *= a.cfg.DemotionFactor
			demoted++
		}
		out = append(out, c)
	}

	sortByRelevance(out)
	return out, demoted
}

// mmrSelect iteratively picks the chunk maximizing
// relevanceWeight*relevance - similarityWeight*maxSimilarityToSelected
// until the cap is reached or the pool is exhausted. The highest-relevance
// chunk is always picked first.
func (a *Assembler) mmrSelect(chunks []Chunk) []Chunk {
	if len(chunks) == 0 {
		return chunks
	}

	pool := make([]Chunk, len(chunks))
	copy(pool, chunks)

	selected := make([]Chunk, 0, a.cfg.MMRMaxChunks)
	selected = append(selected, pool[0])
	pool = pool[1:]

	for len(selected) < a.cfg.MMRMaxChunks && len(pool) > 0 {
		bestIdx := 0
		bestScore := -1.0
		for i, c := range pool {
			maxSim := 0.0
			for _, s := range selected {
				if sim := wordOverlap(c.Content, s.Content); sim > maxSim {
					maxSim = sim
				}
			}
			score := a.cfg.MMRRelevanceWeight*c.Relevance - a.cfg.MMRSimilarityWeight*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, pool[bestIdx])
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}

	return selected
}

// budgetSelect greedily accumulates chunks in relevance order while the
// running total stays within maxTokens, stopping early once targetTokens is
// reached. If the result lands under minTokens, it keeps appending until the
// floor is met or maxTokens would be exceeded.
func budgetSelect(chunks []Chunk, b Budget) []Chunk {
	selected := make([]Chunk, 0, len(chunks))
	total := 0
	next := 0

	for ; next < len(chunks); next++ {
		c := chunks[next]
		if total+c.TokenCount > b.MaxTokens {
			continue
		}
		selected = append(selected, c)
		total += c.TokenCount
		if total >= b.TargetTokens {
			next++
			break
		}
	}

	// Under the floor: keep appending whatever still fits.
	for ; total < b.MinTokens && next < len(chunks); next++ {
		c := chunks[next]
		if total+c.TokenCount > b.MaxTokens {
			continue
		}
		selected = append(selected, c)
		total += c.TokenCount
	}

	return selected
}

// finalPass re-sorts by relevance and, if the selection still exceeds
// targetTokens, truncates the lowest-ranked chunks to fit, marking them
// compressed. Returns the final chunks and how many were truncated.
func (a *Assembler) finalPass(chunks []Chunk, b Budget) ([]Chunk, int) {
	sortByRelevance(chunks)

	total := totalTokens(chunks)
	if total <= b.TargetTokens {
		return chunks, 0
	}

	trimmed := 0
	overflow := total - b.TargetTokens
	for i := len(chunks) - 1; i >= 0 && overflow > 0; i-- {
		c := &chunks[i]
		cut := overflow
		if cut >= c.TokenCount {
			cut = c.TokenCount - 1 // never truncate to empty
		}
		if cut <= 0 {
			continue
		}
		c.Content = truncateToTokens(c.Content, c.TokenCount-cut)
		c.TokenCount -= cut
		c.Metadata = tagCompressed(c.Metadata)
		overflow -= cut
		trimmed++
	}

	return chunks, trimmed
}

// tagCompressed returns a copy of meta with the compressed marker set. The
// incoming map may be shared with the caller's chunks, so it is never
// written in place.
func tagCompressed(meta map[string]any) map[string]any {
	tagged := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		tagged[k] = v
	}
	tagged["compressed"] = true
	return tagged
}

// truncateToTokens cuts text to approximately the given token count using
// the 4 chars per token heuristic, trimming at the last word boundary.
func truncateToTokens(text string, tokens int) string {
	maxChars := tokens * 4
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}

// normalizeTokenCounts copies the input and fills in missing token counts
// using the character heuristic so downstream budget math is always valid.
func normalizeTokenCounts(chunks []Chunk) []Chunk {
	out := make([]Chunk, len(chunks))
	copy(out, chunks)
	for i := range out {
		if out[i].TokenCount <= 0 && out[i].Content != "" {
			out[i].TokenCount = EstimateTokens(out[i].Content)
		}
	}
	return out
}

// sortByRelevance sorts descending with ID as a deterministic tie-breaker.
func sortByRelevance(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Relevance != chunks[j].Relevance {
			return chunks[i].Relevance > chunks[j].Relevance
		}
		return chunks[i].ID < chunks[j].ID
	})
}
