package optimizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/concierge/internal/assembler"
)

// DefaultStrategies returns the production strategy set in registration
// order. Execution order is decided by priority, not slice order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		NewRedundancyElimination(RedundancyConfig{}),
		NewTemporalFiltering(TemporalConfig{}),
		NewRelevanceBoosting(BoostConfig{}),
		NewContentCompression(CompressionConfig{}),
		NewSemanticDeduplication(DedupConfig{}),
	}
}

// --- redundancy-elimination ---

// RedundancyConfig tunes the strategy's own MMR instance, independent of
// the assembler's.
type RedundancyConfig struct {
	SimilarityThreshold float64 // pairs above this are considered redundant
	MaxPairs            int     // cap on pairwise comparisons
	RelevanceWeight     float64
	SimilarityWeight    float64
	MaxChunks           int
}

type redundancyElimination struct {
	cfg RedundancyConfig
}

// NewRedundancyElimination removes near-duplicate chunks via an MMR pass.
func NewRedundancyElimination(cfg RedundancyConfig) Strategy {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.85
	}
	if cfg.MaxPairs == 0 {
		cfg.MaxPairs = 500
	}
	if cfg.RelevanceWeight == 0 {
		cfg.RelevanceWeight = 0.7
	}
	if cfg.SimilarityWeight == 0 {
		cfg.SimilarityWeight = 0.3
	}
	if cfg.MaxChunks == 0 {
		cfg.MaxChunks = 20
	}
	return &redundancyElimination{cfg: cfg}
}

func (s *redundancyElimination) Name() string  { return "redundancy-elimination" }
func (s *redundancyElimination) Priority() int { return 10 }

func (s *redundancyElimination) Apply(chunks []assembler.Chunk) (StrategyResult, error) {
	if len(chunks) <= 1 {
		return StrategyResult{Chunks: chunks}, nil
	}

	sortChunksByRelevance(chunks)

	selected := []assembler.Chunk{chunks[0]}
	pool := chunks[1:]
	comparisons := 0

	for len(selected) < s.cfg.MaxChunks && len(pool) > 0 && comparisons < s.cfg.MaxPairs {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, c := range pool {
			maxSim := 0.0
			for _, kept := range selected {
				comparisons++
				if sim := similarity(c.Content, kept.Content); sim > maxSim {
					maxSim = sim
				}
			}
			if maxSim > s.cfg.SimilarityThreshold {
				continue // redundant, never picked
			}
			score := s.cfg.RelevanceWeight*c.Relevance - s.cfg.SimilarityWeight*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		selected = append(selected, pool[bestIdx])
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}

	return StrategyResult{
		Chunks:        selected,
		ChunksRemoved: len(chunks) - len(selected),
	}, nil
}

// --- temporal-filtering ---

// TemporalConfig tunes recency blending.
type TemporalConfig struct {
	HalfLifeHours float64
	RecencyWeight float64 // fraction of the blended score taken from recency
	KeepFraction  float64 // fraction of chunks retained after re-ranking
}

type temporalFiltering struct {
	cfg TemporalConfig
	now func() time.Time
}

// NewTemporalFiltering blends each chunk's relevance with a recency score
// and keeps the top fraction.
func NewTemporalFiltering(cfg TemporalConfig) Strategy {
	if cfg.HalfLifeHours == 0 {
		cfg.HalfLifeHours = 168
	}
	if cfg.RecencyWeight == 0 {
		cfg.RecencyWeight = 0.3
	}
	if cfg.KeepFraction == 0 {
		cfg.KeepFraction = 0.8
	}
	return &temporalFiltering{cfg: cfg, now: time.Now}
}

func (s *temporalFiltering) Name() string  { return "temporal-filtering" }
func (s *temporalFiltering) Priority() int { return 20 }

func (s *temporalFiltering) Apply(chunks []assembler.Chunk) (StrategyResult, error) {
	if len(chunks) == 0 {
		return StrategyResult{Chunks: chunks}, nil
	}

	now := s.now()
	for i := range chunks {
		recency := 1.0
		if !chunks[i].Timestamp.IsZero() {
			age := now.Sub(chunks[i].Timestamp).Hours()
			if age < 0 {
				age = 0
			}
			recency = math.Exp(-age / s.cfg.HalfLifeHours)
		}
		chunks[i].Relevance = (1-s.cfg.RecencyWeight)*chunks[i].Relevance + s.cfg.RecencyWeight*recency
	}

	sortChunksByRelevance(chunks)

	keep := int(math.Ceil(float64(len(chunks)) * s.cfg.KeepFraction))
	if keep < 1 {
		keep = 1
	}
	if keep > len(chunks) {
		keep = len(chunks)
	}

	return StrategyResult{
		Chunks:        chunks[:keep],
		ChunksRemoved: len(chunks) - keep,
	}, nil
}

// --- relevance-boosting ---

// BoostConfig tunes the boost/dampen thresholds.
type BoostConfig struct {
	Threshold    float64 // chunks at or above this are boosted
	BoostFactor  float64
	DampenFactor float64 // applied to chunks below half the threshold
	DropBelow    float64 // chunks under this after adjustment are removed
}

type relevanceBoosting struct {
	cfg BoostConfig
}

// NewRelevanceBoosting amplifies strong chunks, dampens weak ones, and
// drops anything that ends up below the floor.
func NewRelevanceBoosting(cfg BoostConfig) Strategy {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.7
	}
	if cfg.BoostFactor == 0 {
		cfg.BoostFactor = 1.2
	}
	if cfg.DampenFactor == 0 {
		cfg.DampenFactor = 0.8
	}
	if cfg.DropBelow == 0 {
		cfg.DropBelow = 0.3
	}
	return &relevanceBoosting{cfg: cfg}
}

func (s *relevanceBoosting) Name() string  { return "relevance-boosting" }
func (s *relevanceBoosting) Priority() int { return 30 }

func (s *relevanceBoosting) Apply(chunks []assembler.Chunk) (StrategyResult, error) {
	out := make([]assembler.Chunk, 0, len(chunks))
	for _, c := range chunks {
		switch {
		case c.Relevance >= s.cfg.Threshold:
			c.Relevance = math.Min(1.0, c.Relevance*s.cfg.BoostFactor)
		case c.Relevance < s.cfg.Threshold/2:
			c.Relevance *= s.cfg.DampenFactor
		}
		if c.Relevance < s.cfg.DropBelow {
			continue
		}
		out = append(out, c)
	}

	return StrategyResult{
		Chunks:        out,
		ChunksRemoved: len(chunks) - len(out),
	}, nil
}

// --- content-compression ---

// CompressionConfig tunes filler stripping.
type CompressionConfig struct {
	MinTokens           int     // only chunks above this size are compressed
	MaxCompressionRatio float64 // compressed/original must be at or below this
}

type contentCompression struct {
	cfg CompressionConfig
}

var (
	fillerPhrases = []string{
		"it is important to note that",
		"it should be noted that",
		"as a matter of fact",
		"at the end of the day",
		"in order to",
		"please note that",
		"basically",
		"essentially",
		"actually",
	}
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NewContentCompression strips filler phrases and collapses whitespace in
// oversized chunks. A compression is only accepted when it actually shrinks
// the chunk and stays within the configured ratio.
func NewContentCompression(cfg CompressionConfig) Strategy {
	if cfg.MinTokens == 0 {
		cfg.MinTokens = 100
	}
	if cfg.MaxCompressionRatio == 0 {
		cfg.MaxCompressionRatio = 0.9
	}
	return &contentCompression{cfg: cfg}
}

func (s *contentCompression) Name() string  { return "content-compression" }
func (s *contentCompression) Priority() int { return 40 }

func (s *contentCompression) Apply(chunks []assembler.Chunk) (StrategyResult, error) {
	compressed := 0
	for i := range chunks {
		if chunks[i].TokenCount <= s.cfg.MinTokens {
			continue
		}

		original := chunks[i].Content
		cleaned := original
		for _, phrase := range fillerPhrases {
			cleaned = removePhrase(cleaned, phrase)
		}
		cleaned = strings.TrimSpace(whitespaceRe.ReplaceAllString(cleaned, " "))

		if len(cleaned) >= len(original) {
			continue
		}
		ratio := float64(len(cleaned)) / float64(len(original))
		if ratio > s.cfg.MaxCompressionRatio {
			continue
		}

		chunks[i].Content = cleaned
		chunks[i].TokenCount = assembler.EstimateTokens(cleaned)
		// The metadata map may be shared with the caller's chunks.
		tagged := make(map[string]any, len(chunks[i].Metadata)+1)
		for k, v := range chunks[i].Metadata {
			tagged[k] = v
		}
		tagged["compressed"] = true
		chunks[i].Metadata = tagged
		compressed++
	}

	return StrategyResult{Chunks: chunks, ChunksCompressed: compressed}, nil
}

// removePhrase strips every case-insensitive occurrence of phrase.
func removePhrase(text, phrase string) string {
	lower := strings.ToLower(text)
	for {
		idx := strings.Index(lower, phrase)
		if idx < 0 {
			return text
		}
		text = text[:idx] + text[idx+len(phrase):]
		lower = lower[:idx] + lower[idx+len(phrase):]
	}
}

// --- semantic-deduplication ---

// DedupConfig tunes concept clustering.
type DedupConfig struct {
	Vocabulary []string
}

type semanticDeduplication struct {
	cfg DedupConfig
}

// defaultConceptVocabulary is the fixed concept list used to cluster chunks
// by their dominant keyword.
var defaultConceptVocabulary = []string{
	"booking", "payment", "hotel", "flight", "client", "itinerary",
	"refund", "cancellation", "availability", "invoice", "commission",
	"transfer", "visa", "insurance",
}

// NewSemanticDeduplication clusters chunks by their dominant concept and
// keeps only the best chunk per cluster. Chunks matching no concept pass
// through untouched.
func NewSemanticDeduplication(cfg DedupConfig) Strategy {
	if len(cfg.Vocabulary) == 0 {
		cfg.Vocabulary = defaultConceptVocabulary
	}
	return &semanticDeduplication{cfg: cfg}
}

func (s *semanticDeduplication) Name() string  { return "semantic-deduplication" }
func (s *semanticDeduplication) Priority() int { return 50 }

func (s *semanticDeduplication) Apply(chunks []assembler.Chunk) (StrategyResult, error) {
	best := make(map[string]assembler.Chunk)
	var unclustered []assembler.Chunk
	var conceptOrder []string

	for _, c := range chunks {
		concept := dominantConcept(c.Content, s.cfg.Vocabulary)
		if concept == "" {
			unclustered = append(unclustered, c)
			continue
		}
		current, seen := best[concept]
		if !seen {
			conceptOrder = append(conceptOrder, concept)
		}
		if !seen || c.Relevance > current.Relevance {
			best[concept] = c
		}
	}

	out := make([]assembler.Chunk, 0, len(best)+len(unclustered))
	for _, concept := range conceptOrder {
		out = append(out, best[concept])
	}
	out = append(out, unclustered...)
	sortChunksByRelevance(out)

	return StrategyResult{
		Chunks:        out,
		ChunksRemoved: len(chunks) - len(out),
	}, nil
}

// dominantConcept returns the vocabulary concept with the highest occurrence
// count in the text, or "" if none appears.
func dominantConcept(text string, vocabulary []string) string {
	lower := strings.ToLower(text)
	bestConcept := ""
	bestCount := 0
	for _, concept := range vocabulary {
		count := strings.Count(lower, concept)
		if count > bestCount {
			bestCount = count
			bestConcept = concept
		}
	}
	return bestConcept
}

// similarity is the word-set Jaccard overlap used by redundancy elimination.
func similarity(a, b string) float64 {
	aWords := wordSet(a)
	bWords := wordSet(b)
	if len(aWords) == 0 || len(bWords) == 0 {
		return 0
	}
	intersection := 0
	for w := range aWords {
		if bWords[w] {
			intersection++
		}
	}
	union := len(aWords) + len(bWords) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(w) >= 3 {
			set[w] = true
		}
	}
	return set
}

func sortChunksByRelevance(chunks []assembler.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Relevance != chunks[j].Relevance {
			return chunks[i].Relevance > chunks[j].Relevance
		}
		return chunks[i].ID < chunks[j].ID
	})
}
